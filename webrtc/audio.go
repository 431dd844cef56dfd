package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
)

// Opus defaults used for local capture and remote recording.
const (
	OpusClockRate = 48000
	OpusChannels  = 2

	oggPageDuration = 20 * time.Millisecond
)

// AudioConstraints describes the local capture the negotiator asks for.
type AudioConstraints struct {
	MimeType  string
	ClockRate uint32
	Channels  uint16
	StreamID  string
}

// DefaultAudioConstraints returns Opus capture settings.
func DefaultAudioConstraints() AudioConstraints {
	return AudioConstraints{
		MimeType:  pion.MimeTypeOpus,
		ClockRate: OpusClockRate,
		Channels:  OpusChannels,
		StreamID:  "microphone",
	}
}

// LocalAudio is a captured local audio stream.
type LocalAudio interface {
	Tracks() []pion.TrackLocal
	// Stop ends capture. It must be safe to call more than once.
	Stop() error
}

// Starter is implemented by local audio that produces samples on its own.
// The negotiator calls Start once ICE first reports connected, so nothing is
// written before the track can carry media. Start must be idempotent.
type Starter interface {
	Start()
}

// AudioSource captures local audio. Failures are reported as *MicrophoneAccessError
// by the negotiator.
type AudioSource interface {
	Capture(ctx context.Context, c AudioConstraints) (LocalAudio, error)
}

// AudioSink receives the remote audio track once it arrives.
type AudioSink interface {
	Attach(track *pion.TrackRemote)
}

// TrackSource hands out caller-owned tracks as the captured audio.
type TrackSource struct {
	Local []pion.TrackLocal
}

// Capture implements AudioSource.
func (s TrackSource) Capture(_ context.Context, _ AudioConstraints) (LocalAudio, error) {
	if len(s.Local) == 0 {
		return nil, errors.New("no audio tracks available")
	}
	return staticAudio(s.Local), nil
}

// ListenOnly captures nothing; the offer then only receives audio.
type ListenOnly struct{}

// Capture implements AudioSource.
func (ListenOnly) Capture(context.Context, AudioConstraints) (LocalAudio, error) {
	return staticAudio(nil), nil
}

type staticAudio []pion.TrackLocal

func (a staticAudio) Tracks() []pion.TrackLocal { return a }
func (a staticAudio) Stop() error               { return nil }

// OggFileSource plays an Ogg/Opus file as if it were the microphone.
// Playback begins when the connection is up and loops until Stop when Loop
// is set.
type OggFileSource struct {
	Path string
	Loop bool
}

// Capture implements AudioSource.
func (s OggFileSource) Capture(_ context.Context, c AudioConstraints) (LocalAudio, error) {
	if _, err := os.Stat(s.Path); err != nil {
		return nil, err
	}
	track, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: c.MimeType, ClockRate: c.ClockRate, Channels: c.Channels},
		"audio", c.StreamID,
	)
	if err != nil {
		return nil, err
	}
	fa := newFileAudio(track)
	go fa.play(s.Path, s.Loop)
	return fa, nil
}

type fileAudio struct {
	track *pion.TrackLocalStaticSample
	write func(media.Sample) error

	start     chan struct{}
	startOnce sync.Once
	done      chan struct{}
	stopOnce  sync.Once
}

func newFileAudio(track *pion.TrackLocalStaticSample) *fileAudio {
	return &fileAudio{
		track: track,
		write: track.WriteSample,
		start: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (a *fileAudio) Tracks() []pion.TrackLocal { return []pion.TrackLocal{a.track} }

// Start implements Starter.
func (a *fileAudio) Start() {
	a.startOnce.Do(func() { close(a.start) })
}

func (a *fileAudio) Stop() error {
	a.stopOnce.Do(func() { close(a.done) })
	return nil
}

func (a *fileAudio) play(path string, loop bool) {
	select {
	case <-a.start:
	case <-a.done:
		return
	}
	for {
		if err := a.playOnce(path); err != nil || !loop {
			return
		}
		select {
		case <-a.done:
			return
		default:
		}
	}
}

func (a *fileAudio) playOnce(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}

	var lastGranule uint64
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return io.EOF
		case <-ticker.C:
		}
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration((float64(samples) / OpusClockRate) * float64(time.Second))
		if err := a.write(media.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}

// OggRecorder writes every attached remote track to an Ogg file under Dir.
type OggRecorder struct {
	Dir    string
	Prefix string
	Logf   func(format string, args ...any)

	mu    sync.Mutex
	files []string
}

// Attach implements AudioSink. It returns immediately; the track is drained in
// a goroutine until it ends.
func (r *OggRecorder) Attach(track *pion.TrackRemote) {
	name := fmt.Sprintf("%s/%s%s_%d.ogg", r.Dir, r.Prefix, track.ID(), time.Now().UnixNano())
	w, err := oggwriter.New(name, OpusClockRate, OpusChannels)
	if err != nil {
		r.logf("ogg recorder: create %s: %v", name, err)
		return
	}
	r.mu.Lock()
	r.files = append(r.files, name)
	r.mu.Unlock()

	go func() {
		defer w.Close()
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			if err := w.WriteRTP(pkt); err != nil {
				r.logf("ogg recorder: write %s: %v", name, err)
				return
			}
		}
	}()
}

// Files lists the recordings started so far.
func (r *OggRecorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func (r *OggRecorder) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}
