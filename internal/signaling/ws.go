// Package signaling carries the softphone's WebSocket session: auth,
// offer/answer with trickle ICE, contact lifecycle events and agent commands.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/agent"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/logging"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/rtc"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/transcript"
)

// message is the signaling frame. Types: "auth", "offer", "answer",
// "candidate", "ice-complete", "bye", "error", "contact", "command".
type message struct {
	Type string `json:"type"`
	// auth
	Password string `json:"password,omitempty"`
	IDToken  string `json:"idToken,omitempty"`
	// offer/answer
	SDP string `json:"sdp,omitempty"`
	// candidate
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	// contact
	Event     string `json:"event,omitempty"`
	ContactID string `json:"contactId,omitempty"`
	// command
	Action       string          `json:"action,omitempty"`
	Text         string          `json:"text,omitempty"`
	Path         string          `json:"path,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty"`
	Volume       *float64        `json:"volume,omitempty"`
	LanguageCode string          `json:"languageCode,omitempty"`
	Settings     *agent.Settings `json:"settings,omitempty"`
	Error        string          `json:"error,omitempty"`
}

const commandQueueDepth = 64

var errCommandQueueFull = errors.New("signaling: too many pending commands")

// PeerFactory creates peer connections for offers.
type PeerFactory interface {
	NewPeerConnection() (*webrtc.PeerConnection, error)
}

// Handler serves one agent session per WebSocket.
type Handler struct {
	Password string
	Peers    PeerFactory
	// NewCoordinator builds the coordinator of a new session.
	NewCoordinator func(n agent.Notifier, log *zap.SugaredLogger) *agent.Coordinator
	// OnIDToken receives the agent's identity token after auth.
	OnIDToken func(token string)
	Log       *zap.SugaredLogger
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// AuthOK checks Authorization: Bearer, X-Auth-Token or ?password= against
// expected. An empty expected password accepts everything.
func AuthOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && q == expected {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == expected {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == expected {
		return true
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Or(h.Log).Warnw("ws upgrade", "error", err)
		return
	}
	s := h.newSession(conn)
	defer s.close()
	if !AuthOK(r, h.Password) && !s.awaitAuth() {
		return
	}
	s.run()
}

type session struct {
	h    *Handler
	id   string
	conn *websocket.Conn
	log  *zap.SugaredLogger

	wmu sync.Mutex

	coord *agent.Coordinator
	cmds  chan message

	mu     sync.Mutex
	pc     *webrtc.PeerConnection
	ctx    context.Context
	cancel context.CancelFunc
}

func (h *Handler) newSession(conn *websocket.Conn) *session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		h:      h,
		id:     id,
		conn:   conn,
		log:    logging.Or(h.Log).With("session", id),
		ctx:    ctx,
		cancel: cancel,
		cmds:   make(chan message, commandQueueDepth),
	}
	s.coord = h.NewCoordinator(agent.NotifierFunc(s.notify), s.log)
	go s.commands()
	return s
}

// commands runs queued commands one at a time, in arrival order, until the
// session closes.
func (s *session) commands() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case m := <-s.cmds:
			s.command(m)
		}
	}
}

func (s *session) write(v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *session) writeError(action string, err error) {
	_ = s.write(agent.Notification{Type: agent.NoteError, Action: action, Error: err.Error()})
}

func (s *session) notify(n agent.Notification) {
	if err := s.write(n); err != nil {
		s.log.Debugw("notify write", "type", n.Type, "error", err)
	}
}

func (s *session) read() (message, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return message{}, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			s.log.Debugw("ignoring malformed frame", "error", err)
			continue
		}
		m.Type = strings.ToLower(m.Type)
		return m, nil
	}
}

// awaitAuth requires the first frame to be a matching auth message.
func (s *session) awaitAuth() bool {
	m, err := s.read()
	if err != nil {
		return false
	}
	if m.Type != "auth" || m.Password != s.h.Password {
		s.writeError("auth", errors.New("unauthorized"))
		return false
	}
	s.auth(m)
	return true
}

func (s *session) auth(m message) {
	if m.IDToken != "" && s.h.OnIDToken != nil {
		s.h.OnIDToken(m.IDToken)
	}
	_ = s.write(message{Type: "auth", Text: "ok"})
}

func (s *session) run() {
	for {
		m, err := s.read()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugw("ws read", "error", err)
			}
			return
		}
		switch m.Type {
		case "auth":
			s.auth(m)
		case "offer":
			if err := s.offer(m.SDP); err != nil {
				s.log.Errorw("offer", "error", err)
				s.writeError("offer", err)
			}
		case "candidate":
			s.candidate(m)
		case "bye":
			s.coord.OnContactEnded("")
			s.closePeer()
		case "contact":
			s.contact(m)
		case "command":
			select {
			case s.cmds <- m:
			default:
				s.writeError(m.Action, errCommandQueueFull)
			}
		default:
			s.log.Debugw("unknown frame", "type", m.Type)
		}
	}
}

func (s *session) contact(m message) {
	switch m.Event {
	case "connecting":
		s.coord.OnContactConnecting(m.ContactID)
	case "connected":
		s.coord.OnContactConnected(m.ContactID)
	case "ended", "destroyed":
		s.coord.OnContactEnded(m.ContactID)
	default:
		s.log.Debugw("unknown contact event", "event", m.Event)
	}
}

// offer answers a (re)negotiation. The coordinator attaches its outbound
// track before the answer is created so the sender is negotiated.
func (s *session) offer(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("%w: empty offer", audio.ErrInvalidInput)
	}
	pc, err := s.h.Peers.NewPeerConnection()
	if err != nil {
		return err
	}
	connID := uuid.NewString()
	log := s.log.With("connection", connID)
	remote := rtc.NewRemoteAudio(audio.TranscribeSampleRate, log)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = s.write(message{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		_ = s.write(message{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Infow("peer connection state", "state", state.String())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if err := remote.Bind(track); err != nil {
			log.Warnw("bind remote track", "error", err)
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		_ = pc.Close()
		return err
	}
	media := agent.Media{
		ConnectionID:  connID,
		Peer:          rtc.WrapPeerConnection(pc),
		CustomerAudio: func() transcript.AudioSource { return remote.Subscribe() },
		CustomerTap:   remote.Tap,
		CustomerRate:  remote.SampleRate(),
	}
	if err := s.coord.OnLocalMediaStream(media); err != nil {
		_ = pc.Close()
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return err
	}
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return errors.New("no local description")
	}

	s.mu.Lock()
	prev := s.pc
	s.pc = pc
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return s.write(message{Type: "answer", SDP: local.SDP})
}

func (s *session) candidate(m message) {
	if m.Candidate == "" {
		return
	}
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return
	}
	if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex}); err != nil {
		s.log.Debugw("add ice candidate", "error", err)
	}
}

func (s *session) closePeer() {
	s.mu.Lock()
	pc := s.pc
	s.pc = nil
	s.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
}

func (s *session) close() {
	s.cancel()
	s.coord.Close()
	s.closePeer()
	_ = s.conn.Close()
}

func (s *session) command(m message) {
	ctx := s.ctx
	var (
		data any
		err  error
	)
	switch m.Action {
	case "start-customer-transcription":
		err = s.coord.StartCustomerTranscription(ctx)
	case "stop-customer-transcription":
		err = s.coord.StopCustomerTranscription()
	case "start-agent-transcription":
		err = s.coord.StartAgentTranscription(ctx)
	case "stop-agent-transcription":
		err = s.coord.StopAgentTranscription()
	case "stream-file":
		err = s.coord.StreamFile(ctx, m.Path)
	case "stream-mic":
		err = s.coord.StreamMicrophone()
	case "remove-audio":
		err = s.coord.RemoveAudioTrack()
	case "toggle-mute":
		data = s.coord.ToggleAgentMute()
	case "set-feedback":
		s.coord.SetFeedback(ctx, m.Enabled != nil && *m.Enabled)
	case "set-mic-volume":
		if m.Volume == nil {
			err = fmt.Errorf("%w: volume", audio.ErrInvalidInput)
			break
		}
		s.coord.SetMicVolume(*m.Volume)
	case "translate-text":
		data, err = s.coord.TranslateText(ctx, m.Text)
	case "speak-text":
		err = s.coord.SpeakText(ctx, m.Text)
	case "settings":
		if m.Settings == nil {
			data = s.coord.Settings()
			break
		}
		data = s.coord.UpdateSettings(*m.Settings)
	case "list-languages":
		data, err = s.coord.ListLanguages(ctx)
	case "list-voices":
		data, err = s.coord.ListVoices(ctx, m.LanguageCode)
	default:
		err = fmt.Errorf("unknown action %q", m.Action)
	}
	if err != nil {
		s.writeError(m.Action, err)
		return
	}
	s.notify(agent.Notification{Type: agent.NoteResult, Action: m.Action, Data: data})
}
