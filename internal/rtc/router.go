package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/logging"
)

// ErrAttachment is recorded when the outbound sender refuses a track.
var ErrAttachment = errors.New("rtc: track attachment failed")

// AssetLoader fetches the bytes of an audio asset by path or URL.
type AssetLoader interface {
	Load(ctx context.Context, path string) ([]byte, error)
}

// TrackInfo describes the attached track.
type TrackInfo struct {
	Type    TrackType `json:"type"`
	ID      string    `json:"id"`
	Enabled bool      `json:"enabled"`
}

// TrackRouter owns the single outbound audio sender of a peer connection and
// decides which track feeds it.
type TrackRouter struct {
	mu          sync.Mutex
	pc          PeerConnection
	devices     audio.Devices
	assets      AssetLoader
	currentType TrackType
	current     *Track
	silent      *Track
	lastErr     error
	disposed    bool
	log         *zap.SugaredLogger
}

// NewTrackRouter prepares a router for pc. Nothing is attached until the
// first ReplaceTrack.
func NewTrackRouter(pc PeerConnection, devices audio.Devices, assets AssetLoader, log *zap.SugaredLogger) (*TrackRouter, error) {
	if devices == nil {
		devices = audio.NoDevices{}
	}
	r := &TrackRouter{pc: pc, devices: devices, assets: assets, log: logging.Or(log).Named("router")}
	silent, err := r.CreateSilentTrack()
	if err != nil {
		return nil, err
	}
	r.silent = silent
	return r, nil
}

// CreateFileTrack decodes the asset at path and plays it once through a
// paced encoder.
func (r *TrackRouter) CreateFileTrack(ctx context.Context, path string) (*Track, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty file path", audio.ErrInvalidInput)
	}
	if r.assets == nil {
		return nil, fmt.Errorf("%w: no asset loader", audio.ErrInvalidInput)
	}
	data, err := r.assets.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	samples, err := audio.Decode(data)
	if err != nil {
		return nil, err
	}
	local, err := NewLocalAudio("file")
	if err != nil {
		return nil, err
	}
	w, err := NewPacedWriter(local)
	if err != nil {
		return nil, err
	}
	go func() {
		w.WriteSamples(samples)
		w.FlushTail()
	}()
	return NewTrack(TrackFile, local, w, func() error {
		w.Close()
		return nil
	}), nil
}

// CreateMicTrack opens the capture device and streams it into a new track.
func (r *TrackRouter) CreateMicTrack(deviceID string) (*Track, error) {
	local, err := NewLocalAudio("mic")
	if err != nil {
		return nil, err
	}
	w, err := NewPacedWriter(local)
	if err != nil {
		return nil, err
	}
	capture, err := r.devices.OpenCapture(deviceID, audio.SampleRate, w.WriteSamples)
	if err != nil {
		w.Close()
		if !errors.Is(err, audio.ErrDeviceAccess) {
			err = fmt.Errorf("%w: %v", audio.ErrDeviceAccess, err)
		}
		return nil, err
	}
	return NewTrack(TrackMicrophone, local, w, func() error {
		err := capture.Stop()
		w.Close()
		return err
	}), nil
}

// CreateSilentTrack returns a track that never carries audio.
func (r *TrackRouter) CreateSilentTrack() (*Track, error) {
	local, err := NewLocalAudio("silent")
	if err != nil {
		return nil, err
	}
	return NewTrack(TrackSilent, local, nil, nil), nil
}

// ReplaceTrack makes track the single outbound audio source. A track of the
// type already attached is rejected as a no-op and stopped. Attachment
// failures fall back to silence; they are logged and kept in LastError.
func (r *TrackRouter) ReplaceTrack(track *Track) error {
	if track == nil {
		return fmt.Errorf("%w: nil track", audio.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		_ = track.Stop()
		return audio.ErrDisposed
	}
	if r.current != nil && track.Type() == r.currentType {
		if track != r.current {
			_ = track.Stop()
		}
		r.log.Debugw("replace ignored, type already active", "type", track.Type())
		return nil
	}

	r.releaseCurrentLocked()
	if err := r.attachLocked(track); err != nil {
		r.lastErr = err
		r.log.Warnw("attach failed, falling back to silence", "type", track.Type(), "error", err)
		if track != r.silent {
			_ = track.Stop()
		}
		r.current, r.currentType = r.silent, TrackSilent
		if err := r.attachLocked(r.silent); err != nil {
			r.log.Errorw("silent fallback attach failed", "error", err)
		}
		return nil
	}
	r.current, r.currentType = track, track.Type()
	r.log.Infow("track attached", "type", track.Type(), "id", track.ID())
	return nil
}

// UseMicrophone attaches a microphone track, or silence when the device
// cannot be opened. The device error is returned after the fallback.
func (r *TrackRouter) UseMicrophone(deviceID string) error {
	r.mu.Lock()
	active := r.current != nil && r.currentType == TrackMicrophone
	r.mu.Unlock()
	if active {
		return nil
	}
	track, err := r.CreateMicTrack(deviceID)
	if err != nil {
		r.log.Warnw("microphone unavailable", "device", deviceID, "error", err)
		if rerr := r.ReplaceTrack(r.silent); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return r.ReplaceTrack(track)
}

// UseSilence detaches any source by attaching the silent track.
func (r *TrackRouter) UseSilence() error {
	return r.ReplaceTrack(r.silent)
}

func (r *TrackRouter) releaseCurrentLocked() {
	if r.current == nil || r.current == r.silent {
		return
	}
	if err := r.current.Stop(); err != nil {
		r.log.Warnw("stop previous track", "type", r.currentType, "error", err)
	}
}

func (r *TrackRouter) attachLocked(track *Track) error {
	if r.pc == nil {
		return fmt.Errorf("%w: no peer connection", ErrAttachment)
	}
	for _, s := range r.pc.GetSenders() {
		cur := s.Track()
		if cur == nil || cur.Kind() != webrtc.RTPCodecTypeAudio {
			continue
		}
		if err := s.ReplaceTrack(track.Local()); err != nil {
			return fmt.Errorf("%w: replace: %v", ErrAttachment, err)
		}
		return nil
	}
	if _, err := r.pc.AddTrack(track.Local()); err != nil {
		return fmt.Errorf("%w: add: %v", ErrAttachment, err)
	}
	return nil
}

// CurrentTrackInfo reports the attached track, or false before the first
// attach.
func (r *TrackRouter) CurrentTrackInfo() (TrackInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return TrackInfo{}, false
	}
	return TrackInfo{Type: r.currentType, ID: r.current.ID(), Enabled: r.current.Enabled()}, true
}

// SetTrackEnabled mutes or unmutes the attached track.
func (r *TrackRouter) SetTrackEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.SetEnabled(enabled)
	}
}

// LastError returns the most recent attachment failure.
func (r *TrackRouter) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Dispose stops the attached track and the silent fallback. Later calls
// return ErrDisposed.
func (r *TrackRouter) Dispose() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return nil
	}
	r.disposed = true
	var errs []error
	if r.current != nil && r.current != r.silent {
		errs = append(errs, r.current.Stop())
	}
	errs = append(errs, r.silent.Stop())
	r.current, r.currentType = nil, ""
	r.log.Infow("router disposed")
	return errors.Join(errs...)
}
