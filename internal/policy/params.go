package policy

import (
	"fmt"
	"strings"
)

// AudioSource selects what audio, if any, is recorded alongside the screen.
type AudioSource string

const (
	AudioNone       AudioSource = "none"
	AudioMicrophone AudioSource = "microphone"
)

// ParseAudioSource accepts the names above plus the legacy "0"/"1" tokens.
func ParseAudioSource(s string) (AudioSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "none":
		return AudioNone, nil
	case "1", "mic", "microphone":
		return AudioMicrophone, nil
	default:
		return "", fmt.Errorf("unknown audio source %q (use none or microphone)", s)
	}
}

// Preferences are the user-tunable recording settings.
type Preferences struct {
	Resolution  string // "native" or a preferred width in pixels
	FrameRate   int
	Bitrate     int // bps; values <= 1,000,000 mean "let the recorder decide"
	AudioSource AudioSource
	Orientation Orientation
	Container   string
	Rotations   RotationConvention
}

// RecordingParameters is the immutable snapshot used for one session.
type RecordingParameters struct {
	Width        int
	Height       int
	DensityDPI   int
	FrameRate    int
	VideoBitrate int
	AudioSource  AudioSource
	Orientation  Orientation
	Container    string
}

// Compute derives the session parameters. rot is the rotation reading taken
// when the session starts; it is not re-evaluated later.
func Compute(prefs Preferences, dev DeviceMetrics, rot Rotation) (RecordingParameters, error) {
	if prefs.FrameRate <= 0 {
		return RecordingParameters{}, fmt.Errorf("invalid frame rate %d", prefs.FrameRate)
	}
	conv := prefs.Rotations
	if len(conv.Rotated) == 0 {
		conv = DefaultRotationConvention
	}
	orientation := prefs.Orientation
	if orientation == "" {
		orientation = OrientationAuto
	}
	size, err := ResolveCaptureSize(dev, prefs.Resolution, orientation, rot, conv)
	if err != nil {
		return RecordingParameters{}, err
	}
	audio := prefs.AudioSource
	if audio == "" {
		audio = AudioNone
	}
	container := prefs.Container
	if container == "" {
		container = "mp4"
	}

	return RecordingParameters{
		Width:        size.Width,
		Height:       size.Height,
		DensityDPI:   size.DensityDPI,
		FrameRate:    prefs.FrameRate,
		VideoBitrate: EffectiveBitrate(prefs.Bitrate, size.Width, size.Height, prefs.FrameRate),
		AudioSource:  audio,
		Orientation:  orientation,
		Container:    container,
	}, nil
}
