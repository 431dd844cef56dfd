package webrtc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pion "github.com/pion/webrtc/v3"
)

const (
	// DefaultSignalingURL accepts the SDP offer of a realtime session.
	DefaultSignalingURL = "https://api.openai.com/v1/realtime"
	// DefaultSTUNServer is the only ICE server configured; there is no TURN fallback.
	DefaultSTUNServer = "stun:stun.l.google.com:19302"
	// EventChannelLabel names the data channel carrying protocol events.
	EventChannelLabel = "oai-events"
	// ProtocolVersion is sent in the OpenAI-Beta header on signaling requests.
	ProtocolVersion = "realtime=v1"

	// DefaultSettleDelay is waited between receiving the answer and applying it.
	// It works around peers that answer before their side is ready to accept
	// connectivity checks; its exact value is not significant.
	DefaultSettleDelay = 500 * time.Millisecond
)

// Negotiator builds a Transport through an SDP offer/answer exchange with the
// signaling endpoint.
type Negotiator struct {
	SignalingURL string
	Model        string
	// ICEServers defaults to DefaultSTUNServer when nil. An empty non-nil
	// slice disables STUN, which is only useful on loopback.
	ICEServers  []pion.ICEServer
	Audio       AudioSource
	Constraints AudioConstraints
	SettleDelay time.Duration
	// WaitForGathering sends the offer only after ICE gathering completed, so
	// that it carries every local candidate.
	WaitForGathering bool
	QueueSize        int
	HTTPClient       *http.Client
	Logf             func(format string, args ...any)
}

// NewNegotiator returns a negotiator with default endpoint, model, STUN server
// and settle delay.
func NewNegotiator(audio AudioSource) *Negotiator {
	return &Negotiator{
		SignalingURL:     DefaultSignalingURL,
		Model:            DefaultModel,
		Audio:            audio,
		Constraints:      DefaultAudioConstraints(),
		SettleDelay:      DefaultSettleDelay,
		WaitForGathering: true,
	}
}

// Negotiate captures local audio, opens a peer connection with the "oai-events"
// data channel and completes the offer/answer exchange using cred as bearer
// token. A non-empty systemPrompt travels as the "instructions" query parameter.
// On failure every partially created handle is released.
func (n *Negotiator) Negotiate(ctx context.Context, cred Credential, systemPrompt string) (Transport, error) {
	if n.Audio == nil {
		return nil, &MicrophoneAccessError{Source: "none", Cause: fmt.Errorf("no audio source configured")}
	}
	audio, err := n.Audio.Capture(ctx, n.Constraints)
	if err != nil {
		return nil, &MicrophoneAccessError{Source: fmt.Sprintf("%T", n.Audio), Cause: err}
	}

	t := newPeerTransport(n.QueueSize)
	t.audio = audio
	ok := false
	defer func() {
		if !ok {
			_ = t.Close()
		}
	}()

	pc, err := pion.NewPeerConnection(pion.Configuration{ICEServers: n.iceServers()})
	if err != nil {
		return nil, negotiationError("peer_connection", err)
	}
	t.pc = pc

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		t.push(Event{Kind: EventTrack, Track: track})
	})
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		n.logf("ice connection state: %s", state)
		if state == pion.ICEConnectionStateConnected {
			if s, ok := audio.(Starter); ok {
				s.Start()
			}
		}
		t.push(Event{Kind: EventICEState, ICEState: state})
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		// ICE failed and disconnected stay advisory; only a closed peer
		// connection ends the transport here.
		if state == pion.PeerConnectionStateClosed {
			t.teardown()
		}
	})

	tracks := audio.Tracks()
	for _, tr := range tracks {
		if _, err := pc.AddTrack(tr); err != nil {
			return nil, negotiationError("add_track", err)
		}
	}
	if len(tracks) == 0 {
		if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return nil, negotiationError("add_track", err)
		}
	}

	ordered := true
	dc, err := pc.CreateDataChannel(EventChannelLabel, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, negotiationError("data_channel", err)
	}
	t.dc = dc
	dc.OnOpen(func() { t.push(Event{Kind: EventChannelOpen}) })
	dc.OnClose(func() {
		go func() {
			t.push(Event{Kind: EventChannelClosed})
			_ = t.Close()
		}()
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		frame := make([]byte, len(msg.Data))
		copy(frame, msg.Data)
		t.push(Event{Kind: EventFrame, Frame: frame})
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, negotiationError("offer", err)
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, negotiationError("offer", err)
	}
	sdp := offer.SDP
	if n.WaitForGathering {
		select {
		case <-gathered:
		case <-ctx.Done():
			return nil, negotiationError("gathering", ctx.Err())
		}
		if ld := pc.LocalDescription(); ld != nil {
			sdp = ld.SDP
		}
	}

	answer, err := n.exchange(ctx, cred, systemPrompt, sdp)
	if err != nil {
		return nil, err
	}

	if n.SettleDelay > 0 {
		timer := time.NewTimer(n.SettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, negotiationError("answer", ctx.Err())
		}
	}

	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer}); err != nil {
		return nil, negotiationError("answer", err)
	}

	ok = true
	return t, nil
}

// SignalingRequestURL builds the signaling URL for model and optional instructions.
func SignalingRequestURL(base, model, instructions string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", model)
	if instructions != "" {
		q.Set("instructions", instructions)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (n *Negotiator) exchange(ctx context.Context, cred Credential, prompt, offer string) (string, error) {
	target, err := SignalingRequestURL(n.SignalingURL, n.Model, prompt)
	if err != nil {
		return "", negotiationError("signaling", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewBufferString(offer))
	if err != nil {
		return "", negotiationError("signaling", err)
	}
	Bearer(cred.Token).Apply(req.Header)
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("OpenAI-Beta", ProtocolVersion)

	resp, err := n.client().Do(req)
	if err != nil {
		return "", negotiationError("signaling", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", negotiationError("signaling", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", &TransportNegotiationError{
			Stage:  "signaling",
			Status: resp.StatusCode,
			Body:   truncate(strings.TrimSpace(string(b)), maxErrorBody),
		}
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return "", negotiationError("answer", fmt.Errorf("empty answer body"))
	}
	return string(b), nil
}

func (n *Negotiator) iceServers() []pion.ICEServer {
	if n.ICEServers == nil {
		return []pion.ICEServer{{URLs: []string{DefaultSTUNServer}}}
	}
	return n.ICEServers
}

func (n *Negotiator) client() *http.Client {
	if n.HTTPClient != nil {
		return n.HTTPClient
	}
	return &http.Client{Timeout: 20 * time.Second}
}

func (n *Negotiator) logf(format string, args ...any) {
	if n.Logf != nil {
		n.Logf(format, args...)
	}
}
