// Package sessiontest provides in-memory capture and encoder doubles that
// record the order of calls made on them.
package sessiontest

import (
	"context"
	"errors"
	"sync"

	"github.com/CodeShowOff/ScreenRecorder/internal/capture"
	"github.com/CodeShowOff/ScreenRecorder/internal/encoder"
	"github.com/CodeShowOff/ScreenRecorder/internal/policy"
	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

// Journal is a shared, ordered log of calls.
type Journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *Journal) Add(call string) {
	j.mu.Lock()
	j.calls = append(j.calls, call)
	j.mu.Unlock()
}

func (j *Journal) Calls() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

// Reset forgets everything recorded so far.
func (j *Journal) Reset() {
	j.mu.Lock()
	j.calls = nil
	j.mu.Unlock()
}

// Capture is a capture.Service. Token "denied" is refused.
type Capture struct {
	Journal    *Journal
	Device     policy.DeviceMetrics
	Mic        bool
	RequestErr error
	MirrorErr  error

	mu   sync.Mutex
	last *Projection
}

func NewCapture(j *Journal) *Capture {
	return &Capture{
		Journal: j,
		Device:  policy.DeviceMetrics{WidthPx: 1920, HeightPx: 1080, DensityDPI: 96},
		Mic:     true,
	}
}

func (c *Capture) RequestCapture(ctx context.Context, token string) (capture.Projection, error) {
	c.Journal.Add("capture.request")
	if token == "denied" {
		return nil, capture.ErrConsentDenied
	}
	if c.RequestErr != nil {
		return nil, c.RequestErr
	}
	p := &Projection{journal: c.Journal, mirrorErr: c.MirrorErr}
	c.mu.Lock()
	c.last = p
	c.mu.Unlock()
	return p, nil
}

func (c *Capture) Metrics() policy.DeviceMetrics { return c.Device }

func (c *Capture) MicrophoneGranted() bool { return c.Mic }

// Last returns the most recently granted projection.
func (c *Capture) Last() *Projection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

type Projection struct {
	journal   *Journal
	mirrorErr error

	mu      sync.Mutex
	onStop  func()
	stopped bool
}

func (p *Projection) CreateMirror(name string, width, height, densityDPI int, surface encoder.Surface) (capture.Display, error) {
	p.journal.Add("projection.mirror")
	if p.mirrorErr != nil {
		return nil, p.mirrorErr
	}
	if err := surface.Attach(encoder.CaptureInput{Width: width, Height: height, DensityDPI: densityDPI}); err != nil {
		return nil, err
	}
	return &Display{journal: p.journal, surface: surface}, nil
}

func (p *Projection) OnStopped(fn func()) {
	p.mu.Lock()
	p.onStop = fn
	p.mu.Unlock()
}

func (p *Projection) Stop() {
	p.journal.Add("projection.stop")
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

func (p *Projection) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Revoke simulates the system ending the projection.
func (p *Projection) Revoke() {
	p.mu.Lock()
	fn := p.onStop
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type Display struct {
	journal *Journal
	surface encoder.Surface
}

func (d *Display) Release() {
	d.journal.Add("display.release")
	d.surface.Detach()
}

// Encoder is an encoder.Encoder. Each *Err field makes that call fail.
type Encoder struct {
	Journal    *Journal
	PrepareErr error
	StartErr   error
	PauseErr   error
	ResumeErr  error
	StopErr    error

	mu       sync.Mutex
	onErr    func(error)
	onInfo   func(encoder.Info)
	Format   encoder.VideoFormat
	Output   string
	MaxSize  uint64
	Audio    policy.AudioSource
	attached bool
}

func NewEncoder(j *Journal) *Encoder { return &Encoder{Journal: j} }

func (e *Encoder) SetAudioSource(src policy.AudioSource) error {
	e.Journal.Add("encoder.audio")
	e.mu.Lock()
	e.Audio = src
	e.mu.Unlock()
	return nil
}

func (e *Encoder) SetVideoSource() error {
	e.Journal.Add("encoder.video")
	return nil
}

func (e *Encoder) SetOutputFile(path string) error {
	e.Journal.Add("encoder.output")
	e.mu.Lock()
	e.Output = path
	e.mu.Unlock()
	return nil
}

func (e *Encoder) SetVideoFormat(f encoder.VideoFormat) error {
	e.Journal.Add("encoder.format")
	e.mu.Lock()
	e.Format = f
	e.mu.Unlock()
	return nil
}

func (e *Encoder) SetMaxFileSize(bytes uint64) error {
	e.Journal.Add("encoder.maxsize")
	e.mu.Lock()
	e.MaxSize = bytes
	e.mu.Unlock()
	return nil
}

func (e *Encoder) Prepare() error {
	e.Journal.Add("encoder.prepare")
	return e.PrepareErr
}

func (e *Encoder) Surface() (encoder.Surface, error) { return surface{e}, nil }

func (e *Encoder) Start() error {
	e.Journal.Add("encoder.start")
	return e.StartErr
}

func (e *Encoder) Pause() error {
	e.Journal.Add("encoder.pause")
	return e.PauseErr
}

func (e *Encoder) Resume() error {
	e.Journal.Add("encoder.resume")
	return e.ResumeErr
}

func (e *Encoder) Stop() error {
	e.Journal.Add("encoder.stop")
	return e.StopErr
}

func (e *Encoder) Release() { e.Journal.Add("encoder.release") }

func (e *Encoder) OnError(fn func(error)) {
	e.mu.Lock()
	e.onErr = fn
	e.mu.Unlock()
}

func (e *Encoder) OnInfo(fn func(encoder.Info)) {
	e.mu.Lock()
	e.onInfo = fn
	e.mu.Unlock()
}

// Fail delivers err as an asynchronous encoder error.
func (e *Encoder) Fail(err error) {
	e.mu.Lock()
	fn := e.onErr
	e.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Inform delivers an informational event.
func (e *Encoder) Inform(info encoder.Info) {
	e.mu.Lock()
	fn := e.onInfo
	e.mu.Unlock()
	if fn != nil {
		fn(info)
	}
}

type surface struct{ e *Encoder }

func (s surface) Attach(encoder.CaptureInput) error {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if s.e.attached {
		return errors.New("surface already attached")
	}
	s.e.attached = true
	return nil
}

func (s surface) Detach() {
	s.e.mu.Lock()
	s.e.attached = false
	s.e.mu.Unlock()
}

// Factory hands out encoders and remembers the last one.
type Factory struct {
	Journal *Journal
	// Configure, if set, adjusts every new encoder.
	Configure func(*Encoder)

	mu   sync.Mutex
	last *Encoder
}

func (f *Factory) New() encoder.Encoder {
	e := NewEncoder(f.Journal)
	if f.Configure != nil {
		f.Configure(e)
	}
	f.mu.Lock()
	f.last = e
	f.mu.Unlock()
	return e
}

func (f *Factory) Last() *Encoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Foreground records foreground transitions.
type Foreground struct {
	Journal  *Journal
	StartErr error

	mu     sync.Mutex
	active bool
}

func (f *Foreground) StartForeground(ctx context.Context, n models.Notification) error {
	f.Journal.Add("foreground.start")
	if f.StartErr != nil {
		return f.StartErr
	}
	f.mu.Lock()
	f.active = true
	f.mu.Unlock()
	return nil
}

func (f *Foreground) StopForeground(ctx context.Context) {
	f.Journal.Add("foreground.stop")
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()
}

func (f *Foreground) IsForeground() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}
