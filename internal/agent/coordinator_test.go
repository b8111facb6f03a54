package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/mixer"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/rtc"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/storage"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/transcript"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/translate"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/tts"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) index(event string) int {
	for i, e := range r.snapshot() {
		if e == event {
			return i
		}
	}
	return -1
}

type play struct {
	data   string
	volume float64
}

type fakeMixer struct {
	name     string
	rec      *recorder
	mu       sync.Mutex
	disposed bool
	plays    []play
	feedback bool
	micVol   float64

	micStarts    int
	micStops     int
	lineVol      float64
	lineRates    []int
	loadDeadline bool
}

func (m *fakeMixer) check(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		m.rec.add("after-dispose:%s.%s", m.name, op)
	}
}

func (m *fakeMixer) Track() *rtc.Track { m.check("Track"); return nil }

func (m *fakeMixer) PlayAudioBuffer(data []byte, volume float64) <-chan error {
	m.check("PlayAudioBuffer")
	m.mu.Lock()
	m.plays = append(m.plays, play{data: string(data), volume: volume})
	m.mu.Unlock()
	done := make(chan error, 1)
	done <- nil
	return done
}

func (m *fakeMixer) EnableAudioFeedback(ctx context.Context, path string) {
	m.check("EnableAudioFeedback")
	_, bounded := ctx.Deadline()
	m.mu.Lock()
	m.feedback = true
	m.loadDeadline = bounded
	m.mu.Unlock()
}

func (m *fakeMixer) DisableAudioFeedback() {
	m.check("DisableAudioFeedback")
	m.mu.Lock()
	m.feedback = false
	m.mu.Unlock()
}

func (m *fakeMixer) StartMicrophone(string) error {
	m.check("StartMicrophone")
	m.mu.Lock()
	m.micStarts++
	m.mu.Unlock()
	return nil
}

func (m *fakeMixer) StopMicrophone() error {
	m.check("StopMicrophone")
	m.mu.Lock()
	m.micStops++
	m.mu.Unlock()
	return nil
}

func (m *fakeMixer) WriteLineIn(samples []int16, rate int) {
	m.check("WriteLineIn")
	m.mu.Lock()
	m.lineRates = append(m.lineRates, rate)
	m.mu.Unlock()
}

func (m *fakeMixer) SetLineInVolume(v float64) {
	m.check("SetLineInVolume")
	m.mu.Lock()
	m.lineVol = v
	m.mu.Unlock()
}

func (m *fakeMixer) mics() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micStarts, m.micStops
}

func (m *fakeMixer) lineVolume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lineVol
}

func (m *fakeMixer) feedbackState() (enabled, bounded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feedback, m.loadDeadline
}

func (m *fakeMixer) SetMicrophoneVolume(v float64) {
	m.check("SetMicrophoneVolume")
	m.mu.Lock()
	m.micVol = v
	m.mu.Unlock()
}

func (m *fakeMixer) State() mixer.State { m.check("State"); return mixer.State{} }

func (m *fakeMixer) Dispose() error {
	m.mu.Lock()
	m.disposed = true
	m.mu.Unlock()
	m.rec.add("dispose:%s", m.name)
	return nil
}

func (m *fakeMixer) playsSnapshot() []play {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]play(nil), m.plays...)
}

type fakeRouter struct {
	name     string
	rec      *recorder
	mu       sync.Mutex
	disposed bool
}

func (r *fakeRouter) check(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		r.rec.add("after-dispose:%s.%s", r.name, op)
	}
}

func (r *fakeRouter) ReplaceTrack(*rtc.Track) error { r.check("ReplaceTrack"); return nil }

func (r *fakeRouter) CreateFileTrack(ctx context.Context, path string) (*rtc.Track, error) {
	r.check("CreateFileTrack")
	r.rec.add("file:%s", path)
	return nil, nil
}

func (r *fakeRouter) UseMicrophone(string) error { r.check("UseMicrophone"); return nil }

func (r *fakeRouter) UseSilence() error {
	r.check("UseSilence")
	r.rec.add("silence:%s", r.name)
	return nil
}

func (r *fakeRouter) CurrentTrackInfo() (rtc.TrackInfo, bool) { return rtc.TrackInfo{}, false }

func (r *fakeRouter) Dispose() error {
	r.mu.Lock()
	r.disposed = true
	r.mu.Unlock()
	r.rec.add("dispose:%s", r.name)
	return nil
}

type fakeTranscriber struct {
	dir     transcript.Direction
	rec     *recorder
	mu      sync.Mutex
	state   transcript.State
	muted   bool
	lang    string
	onFinal transcript.Handler
}

func (t *fakeTranscriber) Start(ctx context.Context, src transcript.AudioSource, lang string, onFinal, onPartial transcript.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == transcript.StateStreaming {
		return transcript.ErrStreaming
	}
	t.state = transcript.StateStreaming
	t.lang = lang
	t.onFinal = onFinal
	t.rec.add("start:%s", t.dir)
	return nil
}

func (t *fakeTranscriber) Stop() error {
	t.mu.Lock()
	t.state = transcript.StateStopped
	t.mu.Unlock()
	t.rec.add("stop:%s", t.dir)
	return nil
}

func (t *fakeTranscriber) State() transcript.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTranscriber) SetMuted(m bool) {
	t.mu.Lock()
	t.muted = m
	t.mu.Unlock()
}

func (t *fakeTranscriber) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

func (t *fakeTranscriber) final() transcript.Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onFinal
}

type fakeFactory struct {
	rec      *recorder
	mu       sync.Mutex
	gen      int
	mixers   map[string]*fakeMixer
	routers  []*fakeRouter
	customer *fakeTranscriber
	agent    *fakeTranscriber
	micErr   error
}

func newFakeFactory(rec *recorder) *fakeFactory {
	return &fakeFactory{
		rec:      rec,
		mixers:   map[string]*fakeMixer{},
		customer: &fakeTranscriber{dir: transcript.Customer, rec: rec},
		agent:    &fakeTranscriber{dir: transcript.Agent, rec: rec},
	}
}

func (f *fakeFactory) NewMixer(kind MixerKind, _ *zap.SugaredLogger) (Mixer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == ToCustomer {
		f.gen++
	}
	name := fmt.Sprintf("%s#%d", kind, f.gen)
	m := &fakeMixer{name: name, rec: f.rec}
	f.mixers[name] = m
	f.rec.add("new:%s", name)
	return m, nil
}

func (f *fakeFactory) NewRouter(rtc.PeerConnection, *zap.SugaredLogger) (Router, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &fakeRouter{name: fmt.Sprintf("router#%d", f.gen), rec: f.rec}
	f.routers = append(f.routers, r)
	f.rec.add("new:%s", r.name)
	return r, nil
}

func (f *fakeFactory) NewTranscriber(dir transcript.Direction, _ *zap.SugaredLogger) Transcriber {
	if dir == transcript.Agent {
		return f.agent
	}
	return f.customer
}

func (f *fakeFactory) AgentAudio(string) (transcript.AudioSource, error) {
	if f.micErr != nil {
		return nil, f.micErr
	}
	return transcript.NewSilentSource(16000), nil
}

func (f *fakeFactory) mixer(name string) *fakeMixer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mixers[name]
}

type fakeTranslator struct {
	mu    sync.Mutex
	pairs []string
	err   error
}

func (t *fakeTranslator) TranslateText(ctx context.Context, from, to, text string) (string, error) {
	t.mu.Lock()
	t.pairs = append(t.pairs, from+">"+to)
	t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	return strings.ToUpper(text), nil
}

func (t *fakeTranslator) ListLanguages(context.Context) ([]translate.Language, error) {
	return []translate.Language{{Code: "en", Name: "English"}}, nil
}

type fakeSynth struct{}

func (fakeSynth) SynthesizeSpeech(ctx context.Context, req tts.Request) ([]byte, error) {
	return []byte(req.VoiceID + ":" + req.Text), nil
}

func (fakeSynth) DescribeVoices(ctx context.Context, lang, engine string) ([]tts.Voice, error) {
	return []tts.Voice{{ID: "Joanna", LanguageCode: lang}}, nil
}

type fakeArchive struct {
	saved chan storage.Transcript
}

func (a *fakeArchive) Save(ctx context.Context, t storage.Transcript) error {
	a.saved <- t
	return nil
}

type noteLog struct {
	rec   *recorder
	mu    sync.Mutex
	notes []Notification
}

func (n *noteLog) Notify(note Notification) {
	n.mu.Lock()
	n.notes = append(n.notes, note)
	n.mu.Unlock()
	if note.Type == NoteReset {
		n.rec.add("notify:reset")
	}
}

func (n *noteLog) count(typ string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, note := range n.notes {
		if note.Type == typ {
			c++
		}
	}
	return c
}

type harness struct {
	rec     *recorder
	factory *fakeFactory
	tr      *fakeTranslator
	notes   *noteLog
	archive *fakeArchive
	c       *Coordinator
}

func newHarness(t *testing.T, s Settings) *harness {
	t.Helper()
	rec := &recorder{}
	h := &harness{
		rec:     rec,
		factory: newFakeFactory(rec),
		tr:      &fakeTranslator{},
		notes:   &noteLog{rec: rec},
		archive: &fakeArchive{saved: make(chan storage.Transcript, 1)},
	}
	svc := Services{Translator: h.tr, Synthesizer: fakeSynth{}, Archive: h.archive}
	h.c = NewCoordinator(h.factory, svc, s, h.notes, time.Second, zap.NewNop().Sugar())
	return h
}

func testSettings() Settings {
	return Settings{
		CustomerLanguage: "es-US",
		AgentLanguage:    "en-US",
		CustomerVoiceID:  "Joanna",
		AgentVoiceID:     "Lupe",
		FeedbackEnabled:  true,
		MicVolume:        0.5,
	}
}

func customerMedia(id string) Media {
	return Media{
		ConnectionID:  id,
		CustomerAudio: func() transcript.AudioSource { return transcript.NewSilentSource(16000) },
	}
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.c.OnContactConnecting("contact-1")
	if err := h.c.OnLocalMediaStream(customerMedia("conn-1")); err != nil {
		t.Fatalf("OnLocalMediaStream: %v", err)
	}
	h.c.OnContactConnected("contact-1")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLifecycleStates(t *testing.T) {
	h := newHarness(t, testSettings())
	if got := h.c.State(); got != StateIdle {
		t.Fatalf("initial state = %v", got)
	}
	h.c.OnContactConnecting("contact-1")
	if got := h.c.State(); got != StateConnecting {
		t.Fatalf("after connecting = %v", got)
	}
	if h.c.CallID() == "" {
		t.Fatalf("expected call id once connecting")
	}
	h.c.OnContactConnected("contact-1")
	if got := h.c.State(); got != StateActive {
		t.Fatalf("after connected = %v", got)
	}
	h.c.OnContactEnded("contact-1")
	if got := h.c.State(); got != StateIdle {
		t.Fatalf("after ended = %v", got)
	}
	if h.c.CallID() != "" {
		t.Fatalf("call id not cleared")
	}
}

func TestLocalMediaStreamAttachesSilence(t *testing.T) {
	h := newHarness(t, testSettings())
	if err := h.c.OnLocalMediaStream(customerMedia("conn-1")); err != nil {
		t.Fatalf("OnLocalMediaStream: %v", err)
	}
	want := []string{"new:to-customer#1", "new:to-agent#1", "new:router#1", "silence:router#1"}
	got := h.rec.snapshot()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestContactEndedTeardownOrder(t *testing.T) {
	h := newHarness(t, testSettings())
	h.connect(t)
	ctx := context.Background()
	if err := h.c.StartCustomerTranscription(ctx); err != nil {
		t.Fatalf("StartCustomerTranscription: %v", err)
	}
	if err := h.c.StartAgentTranscription(ctx); err != nil {
		t.Fatalf("StartAgentTranscription: %v", err)
	}
	h.rec.reset()

	h.c.OnContactEnded("contact-1")

	want := []string{
		"stop:customer",
		"stop:agent",
		"dispose:to-customer#1",
		"dispose:to-agent#1",
		"dispose:router#1",
		"notify:reset",
	}
	got := h.rec.snapshot()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("teardown = %v, want %v", got, want)
	}
}

func TestRenegotiationDisposesPreviousGeneration(t *testing.T) {
	h := newHarness(t, testSettings())
	h.connect(t)
	if err := h.c.OnLocalMediaStream(customerMedia("conn-2")); err != nil {
		t.Fatalf("second OnLocalMediaStream: %v", err)
	}
	next := h.rec.index("new:to-customer#2")
	if next < 0 {
		t.Fatalf("second generation not created: %v", h.rec.snapshot())
	}
	for _, e := range []string{"dispose:to-customer#1", "dispose:to-agent#1", "dispose:router#1"} {
		i := h.rec.index(e)
		if i < 0 || i > next {
			t.Fatalf("%s at %d, second generation at %d: %v", e, i, next, h.rec.snapshot())
		}
	}
	if h.rec.index("dispose:to-customer#2") >= 0 {
		t.Fatalf("new generation disposed early")
	}

	// actions now land on the new generation only
	if err := h.c.RemoveAudioTrack(); err != nil {
		t.Fatalf("RemoveAudioTrack: %v", err)
	}
	if h.rec.index("silence:router#2") < 0 {
		t.Fatalf("expected silence on new router: %v", h.rec.snapshot())
	}
	for _, e := range h.rec.snapshot() {
		if strings.HasPrefix(e, "after-dispose") {
			t.Fatalf("operation on disposed component: %s", e)
		}
	}
}

func TestNoOperationsAfterTeardown(t *testing.T) {
	h := newHarness(t, testSettings())
	h.connect(t)
	ctx := context.Background()
	if err := h.c.StartCustomerTranscription(ctx); err != nil {
		t.Fatalf("StartCustomerTranscription: %v", err)
	}
	onFinal := h.factory.customer.final()
	h.c.OnContactEnded("contact-1")

	onFinal("late utterance")
	if err := h.c.StartCustomerTranscription(ctx); !errors.Is(err, ErrNoCall) {
		t.Fatalf("StartCustomerTranscription after end = %v, want ErrNoCall", err)
	}
	if err := h.c.StreamFile(ctx, "hold.wav"); !errors.Is(err, ErrNoCall) {
		t.Fatalf("StreamFile after end = %v, want ErrNoCall", err)
	}
	h.c.SetMicVolume(0.9)
	h.c.SetFeedback(ctx, false)
	if err := h.c.StopAgentTranscription(); err != nil {
		t.Fatalf("StopAgentTranscription: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	for _, e := range h.rec.snapshot() {
		if strings.HasPrefix(e, "after-dispose") {
			t.Fatalf("operation on disposed component: %s", e)
		}
	}
	if n := len(h.factory.mixer("to-agent#1").playsSnapshot()); n != 0 {
		t.Fatalf("late utterance played %d times", n)
	}
}

func TestCustomerUtteranceTranslatedToAgent(t *testing.T) {
	s := testSettings()
	s.CustomerEchoTranslation = true
	h := newHarness(t, s)
	h.connect(t)
	if err := h.c.StartCustomerTranscription(context.Background()); err != nil {
		t.Fatalf("StartCustomerTranscription: %v", err)
	}
	h.factory.customer.final()("hola")

	toAgent := h.factory.mixer("to-agent#1")
	toCustomer := h.factory.mixer("to-customer#1")
	waitFor(t, "agent playback", func() bool { return len(toAgent.playsSnapshot()) == 1 })
	waitFor(t, "customer echo", func() bool { return len(toCustomer.playsSnapshot()) == 1 })

	if got := toAgent.playsSnapshot()[0]; got.data != "Joanna:HOLA" || got.volume != 1 {
		t.Fatalf("agent play = %+v", got)
	}
	if got := toCustomer.playsSnapshot()[0]; got.volume != CustomerTranslationToCustomerVolume {
		t.Fatalf("echo volume = %v", got.volume)
	}
	h.tr.mu.Lock()
	pairs := append([]string(nil), h.tr.pairs...)
	h.tr.mu.Unlock()
	if len(pairs) != 1 || pairs[0] != "es>en" {
		t.Fatalf("translate pairs = %v", pairs)
	}
	if !toCustomer.feedback {
		t.Fatalf("feedback not enabled on customer mix")
	}
}

func TestAgentUtterancesPlayInOrder(t *testing.T) {
	h := newHarness(t, testSettings())
	h.connect(t)
	if err := h.c.StartAgentTranscription(context.Background()); err != nil {
		t.Fatalf("StartAgentTranscription: %v", err)
	}
	final := h.factory.agent.final()
	final("one")
	final("two")
	final("three")

	toCustomer := h.factory.mixer("to-customer#1")
	waitFor(t, "three clips", func() bool { return len(toCustomer.playsSnapshot()) == 3 })
	plays := toCustomer.playsSnapshot()
	for i, want := range []string{"Lupe:ONE", "Lupe:TWO", "Lupe:THREE"} {
		if plays[i].data != want {
			t.Fatalf("play %d = %q, want %q", i, plays[i].data, want)
		}
	}
	if n := len(h.factory.mixer("to-agent#1").playsSnapshot()); n != 0 {
		t.Fatalf("agent echo disabled but got %d plays", n)
	}
}

func TestTranslateFailureNotifiesAndSkipsPlayback(t *testing.T) {
	h := newHarness(t, testSettings())
	h.tr.err = errors.New("throttled")
	h.connect(t)
	if err := h.c.StartCustomerTranscription(context.Background()); err != nil {
		t.Fatalf("StartCustomerTranscription: %v", err)
	}
	h.factory.customer.final()("hola")
	waitFor(t, "error notification", func() bool { return h.notes.count(NoteError) == 1 })
	if n := len(h.factory.mixer("to-agent#1").playsSnapshot()); n != 0 {
		t.Fatalf("played %d clips after translate failure", n)
	}
}

func TestAgentMicrophoneUnavailable(t *testing.T) {
	h := newHarness(t, testSettings())
	h.factory.micErr = errors.New("no device")
	h.connect(t)
	if err := h.c.StartAgentTranscription(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if h.factory.agent.State() == transcript.StateStreaming {
		t.Fatalf("agent transcription should not be streaming")
	}
}

func TestToggleAgentMute(t *testing.T) {
	h := newHarness(t, testSettings())
	h.connect(t)
	if !h.c.ToggleAgentMute() || !h.factory.agent.Muted() {
		t.Fatalf("expected muted")
	}
	if err := h.c.StartAgentTranscription(context.Background()); err != nil {
		t.Fatalf("StartAgentTranscription: %v", err)
	}
	if !h.factory.agent.Muted() {
		t.Fatalf("mute not carried into new transcription")
	}
	if h.c.ToggleAgentMute() || h.factory.agent.Muted() {
		t.Fatalf("expected unmuted")
	}
	if starts, stops := h.factory.mixer("to-customer#1").mics(); starts != 0 || stops != 0 {
		t.Fatalf("microphone touched without agent stream mic: starts=%d stops=%d", starts, stops)
	}
}

func TestSetMicVolumeClamps(t *testing.T) {
	h := newHarness(t, testSettings())
	h.connect(t)
	h.c.SetMicVolume(3)
	if got := h.factory.mixer("to-customer#1").micVol; got != 1 {
		t.Fatalf("mic volume = %v, want 1", got)
	}
	if got := h.c.Settings().MicVolume; got != 1 {
		t.Fatalf("settings mic volume = %v", got)
	}
}

func TestStreamFileUsesConfiguredPath(t *testing.T) {
	s := testSettings()
	s.StreamFile = "assets/hold.mp3"
	h := newHarness(t, s)
	h.connect(t)
	if err := h.c.StreamFile(context.Background(), ""); err != nil {
		t.Fatalf("StreamFile: %v", err)
	}
	if h.rec.index("file:assets/hold.mp3") < 0 {
		t.Fatalf("file track not created: %v", h.rec.snapshot())
	}
}

func TestCallArchivedOnEnd(t *testing.T) {
	h := newHarness(t, testSettings())
	h.connect(t)
	if err := h.c.StartCustomerTranscription(context.Background()); err != nil {
		t.Fatalf("StartCustomerTranscription: %v", err)
	}
	h.factory.customer.final()("hola")
	waitFor(t, "playback", func() bool { return len(h.factory.mixer("to-agent#1").playsSnapshot()) == 1 })
	h.c.OnContactEnded("contact-1")

	select {
	case got := <-h.archive.saved:
		if got.ContactID != "contact-1" || len(got.Turns) != 1 {
			t.Fatalf("archived %+v", got)
		}
		if got.Turns[0].Text != "hola" || got.Turns[0].Translation != "HOLA" {
			t.Fatalf("turn = %+v", got.Turns[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("transcript not archived")
	}
}

func TestUpdateSettingsMerges(t *testing.T) {
	h := newHarness(t, testSettings())
	got := h.c.UpdateSettings(Settings{AgentLanguage: "fr-CA", AgentEchoTranslation: true, MicVolume: -1})
	if got.AgentLanguage != "fr-CA" || got.CustomerLanguage != "es-US" {
		t.Fatalf("languages = %s/%s", got.CustomerLanguage, got.AgentLanguage)
	}
	if !got.AgentEchoTranslation || got.FeedbackEnabled || got.MicVolume != 0 {
		t.Fatalf("flags = %+v", got)
	}
}

func TestTranslateCode(t *testing.T) {
	cases := map[string]string{"en-US": "en", "es-US": "es", "fr-CA": "fr-CA", "zh-TW": "zh-TW", "de": "de"}
	for in, want := range cases {
		if got := translateCode(in); got != want {
			t.Fatalf("translateCode(%q) = %q, want %q", in, got, want)
		}
	}
}

type endingStream struct {
	events chan transcript.Event
	once   sync.Once
}

func (s *endingStream) Send(context.Context, []byte) error { return nil }
func (s *endingStream) Events() <-chan transcript.Event    { return s.events }
func (s *endingStream) Err() error                         { return nil }

func (s *endingStream) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

// endingStreamer hands out streams the test can end from the service side.
type endingStreamer struct {
	mu      sync.Mutex
	streams []*endingStream
}

func (e *endingStreamer) StartStream(context.Context, transcript.StreamConfig) (transcript.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &endingStream{events: make(chan transcript.Event)}
	e.streams = append(e.streams, s)
	return s, nil
}

func (e *endingStreamer) opened() []*endingStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*endingStream(nil), e.streams...)
}

func TestCustomerTranscriptionRestartsAfterStreamEnds(t *testing.T) {
	h := newHarness(t, testSettings())
	st := &endingStreamer{}
	sess := transcript.NewSession(transcript.Customer, st, zap.NewNop().Sugar())
	h.c.customerTx = sess
	h.connect(t)
	ctx := context.Background()
	if err := h.c.StartCustomerTranscription(ctx); err != nil {
		t.Fatalf("StartCustomerTranscription: %v", err)
	}

	st.opened()[0].Close()
	waitFor(t, "stream end", func() bool { return sess.State() == transcript.StateStopped })
	if !h.c.controls().StartCustomerTranscription {
		t.Fatalf("start control disabled after the stream ended")
	}

	if err := h.c.StartCustomerTranscription(ctx); err != nil {
		t.Fatalf("restart after stream ended: %v", err)
	}
	if sess.State() != transcript.StateStreaming || len(st.opened()) != 2 {
		t.Fatalf("state = %v, streams = %d", sess.State(), len(st.opened()))
	}
	h.c.OnContactEnded("contact-1")
	if sess.State() != transcript.StateIdle {
		t.Fatalf("session not stopped on teardown: %v", sess.State())
	}
}

func TestToggleAgentMuteStopsAndRestartsMixedMicrophone(t *testing.T) {
	s := testSettings()
	s.AgentStreamMic = true
	h := newHarness(t, s)
	h.connect(t)
	if err := h.c.StartAgentTranscription(context.Background()); err != nil {
		t.Fatalf("StartAgentTranscription: %v", err)
	}
	toCustomer := h.factory.mixer("to-customer#1")
	if starts, stops := toCustomer.mics(); starts != 1 || stops != 0 {
		t.Fatalf("after start: starts=%d stops=%d", starts, stops)
	}

	if !h.c.ToggleAgentMute() {
		t.Fatalf("expected muted")
	}
	if starts, stops := toCustomer.mics(); starts != 1 || stops != 1 {
		t.Fatalf("after mute: starts=%d stops=%d", starts, stops)
	}

	toCustomer.SetMicrophoneVolume(0)
	if h.c.ToggleAgentMute() {
		t.Fatalf("expected unmuted")
	}
	if starts, stops := toCustomer.mics(); starts != 2 || stops != 1 {
		t.Fatalf("after unmute: starts=%d stops=%d", starts, stops)
	}
	if toCustomer.micVol != s.MicVolume {
		t.Fatalf("mic volume not restored: %v", toCustomer.micVol)
	}
}

func TestMutedAgentTranscriptionLeavesMicrophoneOff(t *testing.T) {
	s := testSettings()
	s.AgentStreamMic = true
	h := newHarness(t, s)
	h.connect(t)
	h.c.ToggleAgentMute()
	if err := h.c.StartAgentTranscription(context.Background()); err != nil {
		t.Fatalf("StartAgentTranscription: %v", err)
	}
	if starts, _ := h.factory.mixer("to-customer#1").mics(); starts != 0 {
		t.Fatalf("microphone started while muted")
	}
}

func TestTranslateTextSpeaksToCustomer(t *testing.T) {
	s := testSettings()
	s.AgentEchoTranslation = true
	h := newHarness(t, s)

	out, err := h.c.TranslateText(context.Background(), "hello")
	if err != nil || out != "HELLO" {
		t.Fatalf("without a call: %q, %v", out, err)
	}

	h.connect(t)
	out, err = h.c.TranslateText(context.Background(), "thanks")
	if err != nil || out != "THANKS" {
		t.Fatalf("TranslateText: %q, %v", out, err)
	}
	plays := h.factory.mixer("to-customer#1").playsSnapshot()
	if len(plays) != 1 || plays[0].data != "Lupe:THANKS" || plays[0].volume != 1 {
		t.Fatalf("customer plays = %+v", plays)
	}
	echo := h.factory.mixer("to-agent#1").playsSnapshot()
	if len(echo) != 1 || echo[0].volume != AgentTranslationToAgentVolume {
		t.Fatalf("agent echo = %+v", echo)
	}
	if n := h.notes.count(NoteTranslation); n != 2 {
		t.Fatalf("translation notifications = %d", n)
	}
}

func TestTranscriptionEnablesBoundedFeedback(t *testing.T) {
	h := newHarness(t, testSettings())
	h.connect(t)
	ctx := context.Background()
	if err := h.c.StartAgentTranscription(ctx); err != nil {
		t.Fatalf("StartAgentTranscription: %v", err)
	}
	if on, bounded := h.factory.mixer("to-agent#1").feedbackState(); !on || !bounded {
		t.Fatalf("agent feedback enabled=%v bounded=%v", on, bounded)
	}
	if on, _ := h.factory.mixer("to-customer#1").feedbackState(); on {
		t.Fatalf("customer feedback enabled by agent transcription")
	}
	if err := h.c.StartCustomerTranscription(ctx); err != nil {
		t.Fatalf("StartCustomerTranscription: %v", err)
	}
	if on, bounded := h.factory.mixer("to-customer#1").feedbackState(); !on || !bounded {
		t.Fatalf("customer feedback enabled=%v bounded=%v", on, bounded)
	}

	if err := h.c.StopAgentTranscription(); err != nil {
		t.Fatalf("StopAgentTranscription: %v", err)
	}
	if on, _ := h.factory.mixer("to-agent#1").feedbackState(); on {
		t.Fatalf("agent feedback left on after stop")
	}
}

func TestStartAgentTranscriptionWithoutFeedback(t *testing.T) {
	s := testSettings()
	s.FeedbackEnabled = false
	h := newHarness(t, s)
	h.connect(t)
	if err := h.c.StartAgentTranscription(context.Background()); err != nil {
		t.Fatalf("StartAgentTranscription: %v", err)
	}
	if on, _ := h.factory.mixer("to-agent#1").feedbackState(); on {
		t.Fatalf("feedback enabled while disabled in settings")
	}
}

type fakeTap struct {
	mu        sync.Mutex
	fn        func([]int16)
	cancelled bool
}

func (f *fakeTap) attach(fn func([]int16)) func() {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.cancelled = true
		f.mu.Unlock()
	}
}

func (f *fakeTap) push(samples []int16) {
	f.mu.Lock()
	fn, cancelled := f.fn, f.cancelled
	f.mu.Unlock()
	if fn != nil && !cancelled {
		fn(samples)
	}
}

func TestCustomerVoicePassthroughToAgent(t *testing.T) {
	h := newHarness(t, testSettings())
	tap := &fakeTap{}
	media := customerMedia("conn-1")
	media.CustomerTap = tap.attach
	media.CustomerRate = 8000
	h.c.OnContactConnecting("contact-1")
	if err := h.c.OnLocalMediaStream(media); err != nil {
		t.Fatalf("OnLocalMediaStream: %v", err)
	}
	h.c.OnContactConnected("contact-1")

	toAgent := h.factory.mixer("to-agent#1")
	if v := toAgent.lineVolume(); v != 1 {
		t.Fatalf("untranslated call: line-in volume = %v", v)
	}
	tap.push([]int16{1, 2, 3})
	toAgent.mu.Lock()
	rates := append([]int(nil), toAgent.lineRates...)
	toAgent.mu.Unlock()
	if len(rates) != 1 || rates[0] != 8000 {
		t.Fatalf("line-in writes = %v", rates)
	}

	ctx := context.Background()
	if err := h.c.StartCustomerTranscription(ctx); err != nil {
		t.Fatalf("StartCustomerTranscription: %v", err)
	}
	if v := toAgent.lineVolume(); v != 0 {
		t.Fatalf("translating without customer stream: volume = %v", v)
	}

	s := h.c.Settings()
	s.CustomerStreamMic = true
	h.c.UpdateSettings(s)
	if v := toAgent.lineVolume(); v != CustomerOriginalToAgentVolume {
		t.Fatalf("translating with customer stream: volume = %v", v)
	}

	if err := h.c.StopCustomerTranscription(); err != nil {
		t.Fatalf("StopCustomerTranscription: %v", err)
	}
	if v := toAgent.lineVolume(); v != 1 {
		t.Fatalf("after stop: volume = %v", v)
	}

	h.c.OnContactEnded("contact-1")
	tap.mu.Lock()
	cancelled := tap.cancelled
	tap.mu.Unlock()
	if !cancelled {
		t.Fatalf("customer tap left attached after teardown")
	}
	for _, e := range h.rec.snapshot() {
		if strings.HasPrefix(e, "after-dispose") {
			t.Fatalf("operation on disposed component: %s", e)
		}
	}
}
