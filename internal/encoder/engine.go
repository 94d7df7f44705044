package encoder

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Hardware and software H.264 encoders known to ffmpeg.
const (
	CodecNVENC        = "h264_nvenc"
	CodecQSV          = "h264_qsv"
	CodecVAAPI        = "h264_vaapi"
	CodecVideoToolbox = "h264_videotoolbox"
	CodecV4L2M2M      = "h264_v4l2m2m"
	CodecSoftware     = "libx264"
)

// probeOrder is the preference order when several hardware encoders are listed.
var probeOrder = []string{CodecNVENC, CodecQSV, CodecVAAPI, CodecVideoToolbox, CodecV4L2M2M}

// Engine is the local ffmpeg installation and the best H.264 encoder it offers.
type Engine struct {
	FFmpegPath string
	HasHWAccel bool
	bestCodec  string
}

// NewEngine locates ffmpeg and, when allowed, probes for a hardware encoder.
func NewEngine(ctx context.Context, ffmpeg string, allowHW bool) (*Engine, error) {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	path, err := exec.LookPath(ffmpeg)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found: %w", err)
	}

	engine := &Engine{FFmpegPath: path, bestCodec: CodecSoftware}
	if allowHW {
		engine.ProbeCapabilities(ctx)
	}
	return engine, nil
}

// ProbeCapabilities asks ffmpeg which encoders it was built with.
// A failed probe leaves the software encoder selected.
func (e *Engine) ProbeCapabilities(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, e.FFmpegPath, "-hide_banner", "-encoders").CombinedOutput()
	if err != nil {
		e.HasHWAccel = false
		e.bestCodec = CodecSoftware
		return
	}
	e.bestCodec = pickCodec(string(out))
	e.HasHWAccel = e.bestCodec != CodecSoftware
}

func pickCodec(encoders string) string {
	for _, c := range probeOrder {
		if strings.Contains(encoders, c) {
			return c
		}
	}
	return CodecSoftware
}

// Codec is the encoder name passed to -c:v.
func (e *Engine) Codec() string {
	if e.bestCodec == "" {
		return CodecSoftware
	}
	return e.bestCodec
}
