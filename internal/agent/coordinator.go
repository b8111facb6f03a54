// Package agent coordinates one agent's translated calls: contact lifecycle,
// per-call audio components, transcription and the translation pipelines.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/logging"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/storage"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/transcript"
)

var (
	// ErrNoCall is returned by actions that need negotiated call media.
	ErrNoCall = errors.New("agent: no active call media")
	// ErrNotConfigured is returned when a required service is missing.
	ErrNotConfigured = errors.New("agent: service not configured")
)

// State is the contact lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

// callMedia is one generation of per-call audio components.
type callMedia struct {
	connectionID  string
	customerAudio func() transcript.AudioSource
	toCustomer    Mixer
	toAgent       Mixer
	router        Router
	pipe          *pipeline
	untap         func()
}

// Coordinator owns the per-call components of one agent session.
type Coordinator struct {
	factory  Factory
	svc      Services
	notifier Notifier
	timeout  time.Duration
	log      *zap.SugaredLogger

	customerTx Transcriber
	agentTx    Transcriber

	// op serializes lifecycle events and user actions that touch components.
	op sync.Mutex

	mu         sync.Mutex
	state      State
	contactID  string
	callID     string
	startedAt  time.Time
	media      *callMedia
	settings   Settings
	agentMuted bool
	turns      []storage.Turn
}

// NewCoordinator returns an idle coordinator. timeout bounds every remote call.
func NewCoordinator(factory Factory, svc Services, settings Settings, notifier Notifier, timeout time.Duration, log *zap.SugaredLogger) *Coordinator {
	log = logging.Or(log)
	if notifier == nil {
		notifier = NotifierFunc(func(Notification) {})
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Coordinator{
		factory:    factory,
		svc:        svc,
		notifier:   notifier,
		timeout:    timeout,
		log:        log,
		settings:   settings,
		customerTx: factory.NewTranscriber(transcript.Customer, log),
		agentTx:    factory.NewTranscriber(transcript.Agent, log),
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

func (c *Coordinator) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

func (c *Coordinator) currentMedia() *callMedia {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media
}

// OnContactConnecting begins a new call.
func (c *Coordinator) OnContactConnecting(contactID string) {
	c.op.Lock()
	defer c.op.Unlock()
	c.mu.Lock()
	if c.state != StateIdle {
		c.log.Warnw("contact connecting while call in progress", "state", c.state.String(), "contact_id", contactID)
	}
	c.state = StateConnecting
	c.contactID = contactID
	c.callID = uuid.NewString()
	c.startedAt = time.Now()
	c.turns = nil
	callID := c.callID
	c.mu.Unlock()
	c.log.Infow("contact connecting", "contact_id", contactID, "call_id", callID)
	c.notifier.Notify(Notification{Type: NoteState, State: StateConnecting.String()})
}

// OnContactConnected marks the call active and enables the call controls.
func (c *Coordinator) OnContactConnected(contactID string) {
	c.op.Lock()
	defer c.op.Unlock()
	c.mu.Lock()
	if c.state == StateIdle {
		c.callID = uuid.NewString()
		c.startedAt = time.Now()
	}
	c.state = StateActive
	if contactID != "" {
		c.contactID = contactID
	}
	c.mu.Unlock()
	c.log.Infow("contact connected", "contact_id", contactID)
	c.notifier.Notify(Notification{Type: NoteState, State: StateActive.String()})
	c.notifyControls()
}

// OnContactEnded tears the call down and returns to idle.
func (c *Coordinator) OnContactEnded(contactID string) {
	c.op.Lock()
	defer c.op.Unlock()
	c.log.Infow("contact ended", "contact_id", contactID)
	c.teardownLocked()
}

// Close tears down any call in progress.
func (c *Coordinator) Close() {
	c.op.Lock()
	defer c.op.Unlock()
	c.teardownLocked()
}

// OnLocalMediaStream builds a fresh generation of mixers and router for newly
// negotiated media, disposing the previous generation first. The router
// starts on the silent track so the sender exists before the answer.
func (c *Coordinator) OnLocalMediaStream(m Media) error {
	c.op.Lock()
	defer c.op.Unlock()

	if old := c.detachMedia(); old != nil {
		c.log.Infow("renegotiating call media", "previous", old.connectionID, "connection", m.ConnectionID)
		c.disposeMedia(old)
	}

	toCustomer, err := c.factory.NewMixer(ToCustomer, c.log)
	if err != nil {
		return err
	}
	toAgent, err := c.factory.NewMixer(ToAgent, c.log)
	if err != nil {
		_ = toCustomer.Dispose()
		return err
	}
	router, err := c.factory.NewRouter(m.Peer, c.log)
	if err != nil {
		_ = toCustomer.Dispose()
		_ = toAgent.Dispose()
		return err
	}
	if err := router.UseSilence(); err != nil {
		c.log.Warnw("initial silent track", "error", err)
	}

	media := &callMedia{
		connectionID:  m.ConnectionID,
		customerAudio: m.CustomerAudio,
		toCustomer:    toCustomer,
		toAgent:       toAgent,
		router:        router,
	}
	media.pipe = c.startPipeline(media)
	if m.CustomerTap != nil {
		rate := m.CustomerRate
		if rate <= 0 {
			rate = audio.TranscribeSampleRate
		}
		media.untap = m.CustomerTap(func(samples []int16) { toAgent.WriteLineIn(samples, rate) })
	}
	c.applyCustomerPassthrough(media)

	c.mu.Lock()
	c.media = media
	c.mu.Unlock()
	c.log.Infow("call media ready", "connection", m.ConnectionID)
	return nil
}

func (c *Coordinator) detachMedia() *callMedia {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.media
	c.media = nil
	return m
}

// disposeMedia stops the customer tap and the pipelines, then the
// to-customer mixer, the to-agent mixer and the router, in that order.
func (c *Coordinator) disposeMedia(m *callMedia) {
	if m.untap != nil {
		m.untap()
	}
	m.pipe.stop()
	if err := m.toCustomer.Dispose(); err != nil {
		c.log.Warnw("dispose to-customer mixer", "error", err)
	}
	if err := m.toAgent.Dispose(); err != nil {
		c.log.Warnw("dispose to-agent mixer", "error", err)
	}
	if err := m.router.Dispose(); err != nil {
		c.log.Warnw("dispose track router", "error", err)
	}
}

func (c *Coordinator) teardownLocked() {
	if err := c.customerTx.Stop(); err != nil {
		c.log.Warnw("stop customer transcription", "error", err)
	}
	if err := c.agentTx.Stop(); err != nil {
		c.log.Warnw("stop agent transcription", "error", err)
	}
	if m := c.detachMedia(); m != nil {
		c.disposeMedia(m)
	}

	c.mu.Lock()
	started := c.callID != ""
	record := storage.Transcript{
		CallID:    c.callID,
		ContactID: c.contactID,
		StartedAt: c.startedAt,
		EndedAt:   time.Now(),
		Turns:     c.turns,
	}
	c.state = StateIdle
	c.contactID = ""
	c.callID = ""
	c.turns = nil
	c.agentMuted = false
	c.mu.Unlock()

	if started {
		c.finishCall(record)
	}
	c.notifier.Notify(Notification{Type: NoteReset, State: StateIdle.String()})
}

// finishCall logs the conversation and archives it in the background.
func (c *Coordinator) finishCall(t storage.Transcript) {
	log := c.log.With("call_id", t.CallID)
	log.Infow("call ended", "contact_id", t.ContactID, "duration", t.EndedAt.Sub(t.StartedAt).Round(time.Second).String())
	for i, turn := range t.Turns {
		log.Infow("turn", "n", i+1, "role", turn.Role, "text", turn.Text, "translation", turn.Translation)
	}
	if c.svc.Archive == nil || len(t.Turns) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.svc.Archive.Save(ctx, t); err != nil {
			log.Errorw("archive transcript", "error", err)
			return
		}
		log.Infow("transcript archived", "turns", len(t.Turns))
	}()
}

func (c *Coordinator) recordTurn(role, text, translation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, storage.Turn{Role: role, Text: text, Translation: translation, At: time.Now()})
}

func (c *Coordinator) controls() Controls {
	c.mu.Lock()
	active := c.state == StateActive && c.media != nil
	muted := c.agentMuted
	c.mu.Unlock()
	customer := c.customerTx.State() == transcript.StateStreaming
	agent := c.agentTx.State() == transcript.StateStreaming
	return Controls{
		StartCustomerTranscription: active && !customer,
		StopCustomerTranscription:  customer,
		StartAgentTranscription:    active && !agent,
		StopAgentTranscription:     agent,
		StreamAudio:                active,
		AgentMuted:                 muted,
	}
}

func (c *Coordinator) notifyControls() {
	ctl := c.controls()
	c.notifier.Notify(Notification{Type: NoteControls, Controls: &ctl})
}

func (c *Coordinator) notifyError(action string, err error) {
	c.log.Errorw(action, "error", err)
	c.notifier.Notify(Notification{Type: NoteError, Action: action, Error: err.Error()})
}
