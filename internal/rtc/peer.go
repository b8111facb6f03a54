package rtc

import (
	"encoding/json"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// Sender is the outbound half of a transceiver.
type Sender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(webrtc.TrackLocal) error
}

// PeerConnection is the part of a peer connection the router drives.
type PeerConnection interface {
	GetSenders() []Sender
	AddTrack(webrtc.TrackLocal) (Sender, error)
}

type peerAdapter struct{ pc *webrtc.PeerConnection }

// WrapPeerConnection adapts a pion peer connection to PeerConnection.
func WrapPeerConnection(pc *webrtc.PeerConnection) PeerConnection { return peerAdapter{pc: pc} }

func (p peerAdapter) GetSenders() []Sender {
	senders := p.pc.GetSenders()
	out := make([]Sender, 0, len(senders))
	for _, s := range senders {
		out = append(out, s)
	}
	return out
}

func (p peerAdapter) AddTrack(t webrtc.TrackLocal) (Sender, error) {
	s, err := p.pc.AddTrack(t)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// PeerFactory builds peer connections with the default codecs and
// interceptors and the configured ICE servers.
type PeerFactory struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
}

func NewPeerFactory(iceServersJSON string) (*PeerFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, err
	}
	return &PeerFactory{
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir)),
		iceServers: ParseICEServers(iceServersJSON),
	}, nil
}

func (f *PeerFactory) NewPeerConnection() (*webrtc.PeerConnection, error) {
	return f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
}

// ParseICEServers reads a JSON array of ICE servers, falling back to a
// public STUN server.
func ParseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}
