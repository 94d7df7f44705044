// Package policy derives encoding parameters from device characteristics and
// user preferences. Everything here is pure and deterministic.
package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// NativeResolution is the preference token that records at the device's own size.
const NativeResolution = "native"

// sizeAlignment is the encoder hardware constraint on both dimensions.
const sizeAlignment = 16

// Orientation is the user's orientation preference.
type Orientation string

const (
	OrientationAuto      Orientation = "auto"
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

// ParseOrientation validates an orientation preference.
func ParseOrientation(s string) (Orientation, error) {
	switch o := Orientation(strings.ToLower(strings.TrimSpace(s))); o {
	case OrientationAuto, OrientationPortrait, OrientationLandscape:
		return o, nil
	case "":
		return OrientationAuto, nil
	default:
		return "", fmt.Errorf("unknown orientation %q (use auto, portrait or landscape)", s)
	}
}

// Rotation is the display rotation reading, in quarter turns (0..3).
type Rotation int

// RotationConvention says which rotation readings count as "rotated" for the
// auto orientation mode. The mapping depends on the display platform.
type RotationConvention struct {
	Rotated []Rotation
}

// DefaultRotationConvention treats quarter and three-quarter turns as rotated.
var DefaultRotationConvention = RotationConvention{Rotated: []Rotation{1, 3}}

// IsRotated reports whether r is in the rotated set.
func (c RotationConvention) IsRotated(r Rotation) bool {
	for _, v := range c.Rotated {
		if v == r {
			return true
		}
	}
	return false
}

// DeviceMetrics describes the physical display being captured.
type DeviceMetrics struct {
	WidthPx    int
	HeightPx   int
	DensityDPI int
}

// CaptureSize is the resolved capture geometry.
type CaptureSize struct {
	Width      int
	Height     int
	DensityDPI int
}

// ResolveCaptureSize computes the capture width/height for a device and user
// preference, then swaps them according to the orientation mode.
func ResolveCaptureSize(dev DeviceMetrics, pref string, mode Orientation, rot Rotation, conv RotationConvention) (CaptureSize, error) {
	if dev.WidthPx <= 0 || dev.HeightPx <= 0 {
		return CaptureSize{}, fmt.Errorf("invalid device size %dx%d", dev.WidthPx, dev.HeightPx)
	}

	var width, height int
	pref = strings.TrimSpace(pref)
	if pref == "" || strings.EqualFold(pref, NativeResolution) {
		width = alignDown(dev.WidthPx)
		height = alignDown(dev.HeightPx)
	} else {
		w, err := strconv.Atoi(pref)
		if err != nil || w <= 0 {
			return CaptureSize{}, fmt.Errorf("invalid resolution preference %q", pref)
		}
		width = alignDown(w)
		// Integer math keeps the result exact for common ratios (1280*1080/1920 == 720).
		height = alignDown(int(int64(width) * int64(dev.HeightPx) / int64(dev.WidthPx)))
	}
	if width < sizeAlignment || height < sizeAlignment {
		return CaptureSize{}, fmt.Errorf("resolution %q is too small for a %dx%d display", pref, dev.WidthPx, dev.HeightPx)
	}

	if shouldSwap(mode, rot, conv) {
		width, height = height, width
	}
	return CaptureSize{Width: width, Height: height, DensityDPI: dev.DensityDPI}, nil
}

func shouldSwap(mode Orientation, rot Rotation, conv RotationConvention) bool {
	switch mode {
	case OrientationPortrait:
		return false
	case OrientationLandscape:
		return true
	default:
		return conv.IsRotated(rot)
	}
}

func alignDown(v int) int {
	return (v / sizeAlignment) * sizeAlignment
}
