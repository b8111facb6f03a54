package agent

import (
	"strings"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/config"
)

const (
	// CustomerTranslationToCustomerVolume is the gain at which the customer
	// hears the synthesized translation of their own speech.
	CustomerTranslationToCustomerVolume = 0.3
	// AgentTranslationToAgentVolume is the gain at which the agent hears the
	// synthesized translation of their own speech.
	AgentTranslationToAgentVolume = 0.3
	// CustomerOriginalToAgentVolume is the gain at which the agent hears the
	// customer's untranslated voice while customer transcription runs.
	CustomerOriginalToAgentVolume = 0.3
)

// Settings are the agent's per-session choices.
type Settings struct {
	CustomerLanguage string `json:"customerLanguage"`
	AgentLanguage    string `json:"agentLanguage"`
	// CustomerVoiceID speaks the customer's words to the agent.
	CustomerVoiceID string `json:"customerVoiceId"`
	// AgentVoiceID speaks the agent's words to the customer.
	AgentVoiceID string `json:"agentVoiceId"`
	Engine       string `json:"engine"`

	CustomerEchoTranslation bool `json:"customerEchoTranslation"`
	AgentEchoTranslation    bool `json:"agentEchoTranslation"`
	FeedbackEnabled         bool `json:"feedbackEnabled"`
	AgentStreamMic          bool `json:"agentStreamMic"`
	CustomerStreamMic       bool `json:"customerStreamMic"`

	MicVolume    float64 `json:"micVolume"`
	MicDeviceID  string  `json:"micDeviceId"`
	FeedbackPath string  `json:"feedbackPath"`
	StreamFile   string  `json:"streamFile"`
}

func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		CustomerLanguage:  cfg.CustomerLanguage,
		AgentLanguage:     cfg.AgentLanguage,
		CustomerVoiceID:   cfg.CustomerVoiceID,
		AgentVoiceID:      cfg.AgentVoiceID,
		Engine:            cfg.PollyEngine,
		FeedbackEnabled:   true,
		CustomerStreamMic: cfg.CustomerStreamMic,
		MicVolume:         0.5,
		MicDeviceID:       cfg.MicDevice,
		FeedbackPath:      cfg.FeedbackAudioPath,
		StreamFile:        cfg.StreamFilePath,
	}
}

// merge overlays the non-zero text fields of o; flags and volume always
// come from o.
func (s Settings) merge(o Settings) Settings {
	pick := func(a, b string) string {
		if b != "" {
			return b
		}
		return a
	}
	s.CustomerLanguage = pick(s.CustomerLanguage, o.CustomerLanguage)
	s.AgentLanguage = pick(s.AgentLanguage, o.AgentLanguage)
	s.CustomerVoiceID = pick(s.CustomerVoiceID, o.CustomerVoiceID)
	s.AgentVoiceID = pick(s.AgentVoiceID, o.AgentVoiceID)
	s.Engine = pick(s.Engine, o.Engine)
	s.MicDeviceID = pick(s.MicDeviceID, o.MicDeviceID)
	s.FeedbackPath = pick(s.FeedbackPath, o.FeedbackPath)
	s.StreamFile = pick(s.StreamFile, o.StreamFile)
	s.CustomerEchoTranslation = o.CustomerEchoTranslation
	s.AgentEchoTranslation = o.AgentEchoTranslation
	s.FeedbackEnabled = o.FeedbackEnabled
	s.AgentStreamMic = o.AgentStreamMic
	s.CustomerStreamMic = o.CustomerStreamMic
	s.MicVolume = max(0, min(1, o.MicVolume))
	return s
}

// regional variants Amazon Translate distinguishes
var translateVariants = map[string]bool{
	"zh-TW": true, "fr-CA": true, "es-MX": true, "pt-PT": true,
}

// translateCode maps a transcription locale to a translation language code.
func translateCode(locale string) string {
	if translateVariants[locale] {
		return locale
	}
	lang, _, _ := strings.Cut(locale, "-")
	return lang
}
