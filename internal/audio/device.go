package audio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/logging"
)

// Capture is a running input device. Stop releases it.
type Capture interface {
	Stop() error
}

// Playback is a running output device fed with mono samples.
type Playback interface {
	Write(samples []int16)
	Close() error
}

// Devices opens the agent's local audio devices. An empty id selects the
// system default.
type Devices interface {
	OpenCapture(deviceID string, sampleRate int, onSamples func([]int16)) (Capture, error)
	OpenPlayback(deviceID string, sampleRate int) (Playback, error)
}

// Context is the process audio graph context backed by miniaudio.
type Context struct {
	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	closed bool
	log    *zap.SugaredLogger
}

// NewContext initializes the miniaudio backend.
func NewContext() (*Context, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init audio context: %v", ErrDeviceAccess, err)
	}
	return &Context{mctx: mctx, log: logging.L().Named("audio")}, nil
}

// Close releases the backend. Devices opened from it must be released first.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.mctx.Uninit(); err != nil {
		return err
	}
	c.mctx.Free()
	return nil
}

func (c *Context) findDevice(kind malgo.DeviceType, id string) (*malgo.DeviceID, error) {
	if id == "" || id == "default" {
		return nil, nil
	}
	infos, err := c.mctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", ErrDeviceAccess, err)
	}
	for i := range infos {
		if infos[i].ID.String() == id || strings.EqualFold(infos[i].Name(), id) {
			devID := infos[i].ID
			return &devID, nil
		}
	}
	return nil, fmt.Errorf("%w: device %q not found", ErrDeviceAccess, id)
}

// OpenCapture starts a mono 16-bit capture device and hands every period to
// onSamples from the device thread.
func (c *Context) OpenCapture(deviceID string, sampleRate int, onSamples func([]int16)) (Capture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrDisposed
	}
	id, err := c.findDevice(malgo.Capture, deviceID)
	if err != nil {
		return nil, err
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInMilliseconds = 20
	if id != nil {
		cfg.Capture.DeviceID = id.Pointer()
	}
	dev, err := malgo.InitDevice(c.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			if len(in) > 1 {
				onSamples(BytesToSamples(in))
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init capture: %v", ErrDeviceAccess, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("%w: start capture: %v", ErrDeviceAccess, err)
	}
	c.log.Infow("capture opened", "device", deviceID, "rate", sampleRate)
	return &malgoCapture{dev: dev}, nil
}

// OpenPlayback starts a mono 16-bit output device that drains written samples.
func (c *Context) OpenPlayback(deviceID string, sampleRate int) (Playback, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrDisposed
	}
	id, err := c.findDevice(malgo.Playback, deviceID)
	if err != nil {
		return nil, err
	}
	p := &malgoPlayback{limit: sampleRate * 2}
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	if id != nil {
		cfg.Playback.DeviceID = id.Pointer()
	}
	dev, err := malgo.InitDevice(c.mctx.Context, cfg, malgo.DeviceCallbacks{Data: p.fill})
	if err != nil {
		return nil, fmt.Errorf("%w: init playback: %v", ErrDeviceAccess, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("%w: start playback: %v", ErrDeviceAccess, err)
	}
	p.dev = dev
	c.log.Infow("playback opened", "device", deviceID, "rate", sampleRate)
	return p, nil
}

type malgoCapture struct {
	once sync.Once
	dev  *malgo.Device
}

func (m *malgoCapture) Stop() error {
	var err error
	m.once.Do(func() {
		err = m.dev.Stop()
		m.dev.Uninit()
	})
	return err
}

type malgoPlayback struct {
	mu     sync.Mutex
	dev    *malgo.Device
	buf    []byte
	limit  int
	closed bool
}

func (p *malgoPlayback) Write(samples []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.buf = append(p.buf, SamplesToBytes(samples)...)
	// keep latency bounded; drop the oldest audio
	if over := len(p.buf) - p.limit*2; over > 0 {
		p.buf = p.buf[over:]
	}
}

func (p *malgoPlayback) fill(out, _ []byte, _ uint32) {
	p.mu.Lock()
	n := copy(out, p.buf)
	p.buf = p.buf[n:]
	p.mu.Unlock()
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

func (p *malgoPlayback) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.buf = nil
	p.mu.Unlock()
	err := p.dev.Stop()
	p.dev.Uninit()
	return err
}

// NoDevices is used when the host has no audio backend; every open fails
// with ErrDeviceAccess.
type NoDevices struct{}

func (NoDevices) OpenCapture(string, int, func([]int16)) (Capture, error) {
	return nil, fmt.Errorf("%w: no audio backend", ErrDeviceAccess)
}

func (NoDevices) OpenPlayback(string, int) (Playback, error) {
	return nil, fmt.Errorf("%w: no audio backend", ErrDeviceAccess)
}
