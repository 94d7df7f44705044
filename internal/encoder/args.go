package encoder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/CodeShowOff/ScreenRecorder/internal/policy"
)

// muxers maps a container name to the ffmpeg muxer.
var muxers = map[string]string{
	"mp4": "mp4",
	"mov": "mov",
	"mkv": "matroska",
}

type argSpec struct {
	codec      string
	input      CaptureInput
	format     VideoFormat
	audio      policy.AudioSource
	audioInput []string
	maxSize    uint64
	output     string
}

// buildArgs assembles the single-pass capture command.
// Timestamps are regenerated from frame and sample counts so that time spent
// with the process group stopped does not show up as a gap.
func buildArgs(s argSpec) []string {
	f := s.format
	in := s.input

	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostats", "-y",
		"-f", "x11grab",
		"-framerate", strconv.Itoa(f.FrameRate),
		"-video_size", fmt.Sprintf("%dx%d", in.Width, in.Height),
		"-draw_mouse", "1",
		"-i", fmt.Sprintf("%s+%d,%d", in.Display, in.OffsetX, in.OffsetY),
	}
	if s.audio == policy.AudioMicrophone {
		args = append(args, s.audioInput...)
	}

	filters := []string{fmt.Sprintf("scale=%d:%d", f.Width, f.Height), "setpts=N/FRAME_RATE/TB"}
	if s.codec == CodecVAAPI {
		filters = append(filters, "format=nv12", "hwupload")
	} else {
		filters = append(filters, "format=yuv420p")
	}
	args = append(args, "-vf", strings.Join(filters, ","))

	bitrate := strconv.Itoa(f.Bitrate)
	args = append(args,
		"-c:v", s.codec,
		"-b:v", bitrate,
		"-maxrate", bitrate,
		"-bufsize", strconv.Itoa(f.Bitrate*2),
		"-r", strconv.Itoa(f.FrameRate),
		"-g", strconv.Itoa(f.FrameRate*2),
	)
	args = append(args, profileArgs(s.codec, f)...)

	if s.audio == policy.AudioMicrophone {
		args = append(args,
			"-af", "asetpts=N/SR/TB",
			"-c:a", "aac",
			"-b:a", strconv.Itoa(AudioBitrate),
			"-ac", strconv.Itoa(AudioChannels),
			"-ar", strconv.Itoa(AudioSampleRate),
		)
	} else {
		args = append(args, "-an")
	}

	if s.maxSize > 0 {
		args = append(args, "-fs", strconv.FormatUint(s.maxSize, 10))
	}

	muxer := muxers[f.Container]
	if muxer == "mp4" || muxer == "mov" {
		// Fragmented output stays playable if the process dies mid-recording.
		args = append(args, "-movflags", "+frag_keyframe+empty_moov+default_base_moof")
	}
	args = append(args, "-f", muxer, s.output)
	return args
}

// profileArgs applies H.264 profile and level where the encoder accepts them.
func profileArgs(codec string, f VideoFormat) []string {
	profile := f.Profile
	if profile == "" {
		profile = "high"
	}
	level := f.Level
	if level == "" {
		level = "4.1"
	}
	switch codec {
	case CodecSoftware:
		return []string{"-preset", "veryfast", "-tune", "zerolatency", "-profile:v", profile, "-level:v", level}
	case CodecNVENC, CodecQSV:
		return []string{"-profile:v", profile, "-level:v", level}
	case CodecVAAPI, CodecVideoToolbox:
		return []string{"-profile:v", profile}
	default:
		return nil
	}
}
