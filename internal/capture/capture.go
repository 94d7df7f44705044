// Package capture grants access to the screen and mirrors it into an encoder surface.
package capture

import (
	"context"
	"errors"

	"github.com/CodeShowOff/ScreenRecorder/internal/encoder"
	"github.com/CodeShowOff/ScreenRecorder/internal/policy"
)

// Result codes carried by a START command alongside the consent token.
const (
	ResultCanceled = 0
	ResultOK       = 1
)

var (
	// ErrConsentDenied means the token is unknown, expired or already used.
	ErrConsentDenied = errors.New("capture consent denied")
	// ErrNotForeground means capture was requested before the foreground
	// notification was up. The token is revoked.
	ErrNotForeground = errors.New("capture requested without foreground privilege")
	// ErrBusy means another projection is live.
	ErrBusy = errors.New("a projection is already active")
)

// Service hands out projections for granted consent tokens.
type Service interface {
	RequestCapture(ctx context.Context, token string) (Projection, error)
	Metrics() policy.DeviceMetrics
	MicrophoneGranted() bool
}

// Projection is a live capture grant.
type Projection interface {
	CreateMirror(name string, width, height, densityDPI int, surface encoder.Surface) (Display, error)
	// OnStopped registers fn for an external stop. nil unregisters.
	OnStopped(fn func())
	Stop()
}

// Display is the virtual display mirroring the screen into a surface.
type Display interface {
	Release()
}
