package agent

// Notification types.
const (
	NoteState       = "state"
	NoteControls    = "controls"
	NoteTranscript  = "transcript"
	NoteTranslation = "translation"
	NoteError       = "error"
	NoteReset       = "reset"
	NoteResult      = "result"
)

// Controls says which user actions are currently meaningful.
type Controls struct {
	StartCustomerTranscription bool `json:"startCustomerTranscription"`
	StopCustomerTranscription  bool `json:"stopCustomerTranscription"`
	StartAgentTranscription    bool `json:"startAgentTranscription"`
	StopAgentTranscription     bool `json:"stopAgentTranscription"`
	StreamAudio                bool `json:"streamAudio"`
	AgentMuted                 bool `json:"agentMuted"`
}

// Notification is a message for the softphone page.
type Notification struct {
	Type      string    `json:"type"`
	Direction string    `json:"direction,omitempty"`
	Partial   bool      `json:"partial,omitempty"`
	Text      string    `json:"text,omitempty"`
	State     string    `json:"state,omitempty"`
	Error     string    `json:"error,omitempty"`
	Action    string    `json:"action,omitempty"`
	Controls  *Controls `json:"controls,omitempty"`
	Data      any       `json:"data,omitempty"`
}
