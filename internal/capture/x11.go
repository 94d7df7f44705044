package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/CodeShowOff/ScreenRecorder/internal/encoder"
	"github.com/CodeShowOff/ScreenRecorder/internal/log"
	"github.com/CodeShowOff/ScreenRecorder/internal/policy"
)

// X11Config describes the display being captured.
type X11Config struct {
	Display           string
	Metrics           policy.DeviceMetrics
	MicrophoneGranted bool
}

// X11Service mirrors an X11 display.
type X11Service struct {
	cfg        X11Config
	consents   *Consents
	foreground func() bool
	logger     zerolog.Logger

	mu     sync.Mutex
	active *x11Projection
}

// NewX11Service needs a way to tell whether the recorder holds the foreground
// notification; capture without it revokes the grant.
func NewX11Service(cfg X11Config, consents *Consents, foreground func() bool) *X11Service {
	return &X11Service{
		cfg:        cfg,
		consents:   consents,
		foreground: foreground,
		logger:     log.WithComponent("capture"),
	}
}

func (s *X11Service) Metrics() policy.DeviceMetrics { return s.cfg.Metrics }

func (s *X11Service) MicrophoneGranted() bool { return s.cfg.MicrophoneGranted }

func (s *X11Service) RequestCapture(ctx context.Context, token string) (Projection, error) {
	if !s.consents.Consume(token) {
		return nil, ErrConsentDenied
	}
	if s.foreground != nil && !s.foreground() {
		return nil, ErrNotForeground
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, ErrBusy
	}
	p := &x11Projection{svc: s}
	s.active = p
	s.logger.Info().Str("display", s.cfg.Display).Msg("projection granted")
	return p, nil
}

// StopActive stops the live projection from outside the recorder, as if the
// user revoked it. It reports whether there was one.
func (s *X11Service) StopActive() bool {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()
	if p == nil {
		return false
	}
	p.externalStop()
	return true
}

func (s *X11Service) release(p *x11Projection) {
	s.mu.Lock()
	if s.active == p {
		s.active = nil
	}
	s.mu.Unlock()
}

type x11Projection struct {
	svc *X11Service

	mu        sync.Mutex
	onStopped func()
	stopped   bool
}

func (p *x11Projection) CreateMirror(name string, width, height, densityDPI int, surface encoder.Surface) (Display, error) {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return nil, fmt.Errorf("projection already stopped")
	}
	if surface == nil {
		return nil, fmt.Errorf("nil surface")
	}

	m := p.svc.cfg.Metrics
	in := encoder.CaptureInput{
		Display:    p.svc.cfg.Display,
		Width:      m.WidthPx,
		Height:     m.HeightPx,
		DensityDPI: densityDPI,
	}
	if err := surface.Attach(in); err != nil {
		return nil, fmt.Errorf("attach mirror %s: %w", name, err)
	}
	p.svc.logger.Debug().
		Str("mirror", name).
		Int(log.FieldWidth, width).
		Int(log.FieldHeight, height).
		Msg("virtual display created")
	return &x11Display{surface: surface}, nil
}

func (p *x11Projection) OnStopped(fn func()) {
	p.mu.Lock()
	p.onStopped = fn
	p.mu.Unlock()
}

// Stop ends the projection without invoking the stop callback.
func (p *x11Projection) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.onStopped = nil
	p.mu.Unlock()
	p.svc.release(p)
}

func (p *x11Projection) externalStop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	fn := p.onStopped
	p.mu.Unlock()
	p.svc.release(p)
	if fn != nil {
		fn()
	}
}

type x11Display struct {
	once    sync.Once
	surface encoder.Surface
}

func (d *x11Display) Release() {
	d.once.Do(d.surface.Detach)
}
