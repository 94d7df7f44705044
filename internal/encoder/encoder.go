// Package encoder defines the capture encoder contract and its ffmpeg implementation.
package encoder

import (
	"errors"

	"github.com/CodeShowOff/ScreenRecorder/internal/policy"
)

// ErrInvalidState is returned when a call arrives in the wrong order or
// the encoder cannot perform it in its current state.
var ErrInvalidState = errors.New("encoder: invalid state")

// ErrNoData is returned by Stop when nothing was written to the output.
var ErrNoData = errors.New("encoder: stopped before any data was written")

// VideoFormat is the codec configuration applied after the output file is set.
type VideoFormat struct {
	Width     int
	Height    int
	FrameRate int
	Bitrate   int
	Container string
	Profile   string
	Level     string
}

// Audio settings for microphone capture.
const (
	AudioBitrate    = 192_000
	AudioSampleRate = 44_100
	AudioChannels   = 1
)

// InfoKind names a non-error event from a running encoder.
type InfoKind string

const (
	InfoMaxFileSizeReached InfoKind = "max_filesize_reached"
)

type Info struct {
	Kind InfoKind
}

// CaptureInput is what a mirror hands the encoder surface: which screen
// region to read and at what size it is produced.
type CaptureInput struct {
	Display    string
	OffsetX    int
	OffsetY    int
	Width      int
	Height     int
	DensityDPI int
}

// Surface is the encoder's input. A virtual display attaches to it.
type Surface interface {
	Attach(in CaptureInput) error
	Detach()
}

// Encoder is configured by ordered setter calls, then Prepare, then Start.
// Out-of-order calls return ErrInvalidState.
type Encoder interface {
	SetAudioSource(src policy.AudioSource) error
	SetVideoSource() error
	SetOutputFile(path string) error
	SetVideoFormat(f VideoFormat) error
	SetMaxFileSize(bytes uint64) error
	Prepare() error
	Surface() (Surface, error)
	Start() error
	Pause() error
	Resume() error
	Stop() error
	Release()
	OnError(fn func(error))
	OnInfo(fn func(Info))
}

// Factory creates a fresh encoder for each session.
type Factory func() Encoder
