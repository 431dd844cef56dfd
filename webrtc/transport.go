package webrtc

import (
	"sync"

	pion "github.com/pion/webrtc/v3"
)

// EventKind tags an Event delivered on a transport's queue.
type EventKind int

const (
	// EventFrame carries one inbound data channel frame.
	EventFrame EventKind = iota
	// EventTrack carries the remote audio track.
	EventTrack
	// EventICEState carries an ICE connection state change.
	EventICEState
	// EventChannelOpen signals that the data channel reached the open state.
	EventChannelOpen
	// EventChannelClosed signals that the data channel closed. The transport
	// tears itself down right after.
	EventChannelClosed
)

func (k EventKind) String() string {
	switch k {
	case EventFrame:
		return "frame"
	case EventTrack:
		return "track"
	case EventICEState:
		return "ice_state"
	case EventChannelOpen:
		return "channel_open"
	case EventChannelClosed:
		return "channel_closed"
	default:
		return "unknown"
	}
}

// Event is one entry of the ordered queue a transport pushes to its owner.
type Event struct {
	Kind     EventKind
	Frame    []byte
	Track    *pion.TrackRemote
	ICEState pion.ICEConnectionState
}

// Transport is the negotiated media connection and its event channel.
// All handles are released together by Close.
type Transport interface {
	// Events delivers inbound frames and transport notifications in the
	// order the transport produced them. It is never closed; use Done.
	Events() <-chan Event
	// Done is closed once the transport has been torn down.
	Done() <-chan struct{}
	// Send writes one text frame on the event channel.
	Send(frame []byte) error
	// Ready reports whether the event channel is open.
	Ready() bool
	// Close tears down channel, local audio and peer connection. Idempotent.
	Close() error
}

// DefaultEventQueueSize bounds the event queue; producers block when it is
// full, which applies backpressure to the SCTP reader instead of dropping.
const DefaultEventQueueSize = 256

// PeerTransport is the pion-backed Transport returned by Negotiator.
type PeerTransport struct {
	pc    *pion.PeerConnection
	dc    *pion.DataChannel
	audio LocalAudio

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newPeerTransport(queueSize int) *PeerTransport {
	if queueSize <= 0 {
		queueSize = DefaultEventQueueSize
	}
	return &PeerTransport{
		events: make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
}

func (t *PeerTransport) push(ev Event) {
	select {
	case <-t.done:
		return
	default:
	}
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

// teardown closes the transport from a pion callback. Close waits on pion
// internals, so it runs in its own goroutine.
func (t *PeerTransport) teardown() {
	select {
	case <-t.done:
	default:
		go t.Close()
	}
}

// Events implements Transport.
func (t *PeerTransport) Events() <-chan Event { return t.events }

// Done implements Transport.
func (t *PeerTransport) Done() <-chan struct{} { return t.done }

// Send implements Transport.
func (t *PeerTransport) Send(frame []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	if t.dc == nil {
		return ErrTransportClosed
	}
	return t.dc.SendText(string(frame))
}

// Ready implements Transport.
func (t *PeerTransport) Ready() bool {
	select {
	case <-t.done:
		return false
	default:
	}
	return t.dc != nil && t.dc.ReadyState() == pion.DataChannelStateOpen
}

// Close implements Transport.
func (t *PeerTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		var errs []error
		if t.dc != nil {
			if err := t.dc.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if t.audio != nil {
			if err := t.audio.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if t.pc != nil {
			if err := t.pc.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			t.closeErr = errs[0]
		}
	})
	return t.closeErr
}
