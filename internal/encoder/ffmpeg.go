package encoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/CodeShowOff/ScreenRecorder/internal/log"
	"github.com/CodeShowOff/ScreenRecorder/internal/policy"
	"github.com/CodeShowOff/ScreenRecorder/internal/procgroup"
)

type state int

const (
	stateInitial state = iota
	stateAudioSet
	stateVideoSet
	stateOutputSet
	stateFormatSet
	statePrepared
	stateRecording
	statePaused
	stateStopped
	stateReleased
)

func (s state) String() string {
	return [...]string{"initial", "audio_set", "video_set", "output_set", "format_set",
		"prepared", "recording", "paused", "stopped", "released"}[s]
}

// Options tune the ffmpeg encoder.
type Options struct {
	// AudioInput are the ffmpeg input arguments for the microphone,
	// e.g. -f pulse -i default.
	AudioInput []string
	// StopGrace bounds how long Stop waits for ffmpeg to finish the file.
	StopGrace time.Duration
}

// FFmpeg drives one ffmpeg process per session.
type FFmpeg struct {
	engine *Engine
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	state    state
	audio    policy.AudioSource
	output   string
	format   VideoFormat
	maxSize  uint64
	input    *CaptureInput
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stderr   *tailBuffer
	exited   chan struct{}
	exitErr  error
	crashErr error
	stopping bool
	onError  func(error)
	onInfo   func(Info)
}

// NewFFmpeg returns an encoder in its initial state.
func NewFFmpeg(engine *Engine, opts Options) *FFmpeg {
	if opts.StopGrace <= 0 {
		opts.StopGrace = 10 * time.Second
	}
	if len(opts.AudioInput) == 0 {
		opts.AudioInput = []string{"-f", "pulse", "-i", "default"}
	}
	return &FFmpeg{
		engine: engine,
		opts:   opts,
		logger: log.WithComponent("encoder"),
	}
}

// FFmpegFactory returns a Factory bound to engine and opts.
func FFmpegFactory(engine *Engine, opts Options) Factory {
	return func() Encoder { return NewFFmpeg(engine, opts) }
}

func (e *FFmpeg) invalid(op string) error {
	return fmt.Errorf("%s in state %s: %w", op, e.state, ErrInvalidState)
}

func (e *FFmpeg) SetAudioSource(src policy.AudioSource) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateInitial {
		return e.invalid("set audio source")
	}
	if src != policy.AudioNone && src != policy.AudioMicrophone {
		return fmt.Errorf("unsupported audio source %q", src)
	}
	e.audio = src
	e.state = stateAudioSet
	return nil
}

// SetVideoSource selects the surface input. Audio, if any, must be set first.
func (e *FFmpeg) SetVideoSource() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateInitial && e.state != stateAudioSet {
		return e.invalid("set video source")
	}
	if e.state == stateInitial {
		e.audio = policy.AudioNone
	}
	e.state = stateVideoSet
	return nil
}

func (e *FFmpeg) SetOutputFile(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateVideoSet {
		return e.invalid("set output file")
	}
	if path == "" {
		return errors.New("empty output path")
	}
	e.output = path
	e.state = stateOutputSet
	return nil
}

func (e *FFmpeg) SetVideoFormat(f VideoFormat) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateOutputSet {
		return e.invalid("set video format")
	}
	if f.Width <= 0 || f.Height <= 0 || f.Width%2 != 0 || f.Height%2 != 0 {
		return fmt.Errorf("unsupported video size %dx%d", f.Width, f.Height)
	}
	if f.FrameRate <= 0 || f.Bitrate <= 0 {
		return fmt.Errorf("frame rate and bitrate must be positive")
	}
	if f.Container == "" {
		f.Container = "mp4"
	}
	if _, ok := muxers[f.Container]; !ok {
		return fmt.Errorf("unsupported container %q", f.Container)
	}
	e.format = f
	e.state = stateFormatSet
	return nil
}

// SetMaxFileSize is optional; 0 means no limit.
func (e *FFmpeg) SetMaxFileSize(bytes uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateFormatSet {
		return e.invalid("set max file size")
	}
	e.maxSize = bytes
	return nil
}

// Prepare checks the output can be created.
func (e *FFmpeg) Prepare() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateFormatSet {
		return e.invalid("prepare")
	}
	dir := filepath.Dir(e.output)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return fmt.Errorf("output directory %s unavailable: %w", dir, err)
	}
	f, err := os.OpenFile(e.output, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	_ = f.Close()
	e.state = statePrepared
	return nil
}

// Surface is available once prepared.
func (e *FFmpeg) Surface() (Surface, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != statePrepared {
		return nil, e.invalid("surface")
	}
	return (*ffmpegSurface)(e), nil
}

type ffmpegSurface FFmpeg

func (s *ffmpegSurface) Attach(in CaptureInput) error {
	e := (*FFmpeg)(s)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != statePrepared {
		return e.invalid("attach surface")
	}
	if in.Width <= 0 || in.Height <= 0 {
		return fmt.Errorf("invalid capture region %dx%d", in.Width, in.Height)
	}
	e.input = &in
	return nil
}

func (s *ffmpegSurface) Detach() {
	e := (*FFmpeg)(s)
	e.mu.Lock()
	e.input = nil
	e.mu.Unlock()
}

func (e *FFmpeg) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != statePrepared || e.input == nil {
		return e.invalid("start")
	}

	args := buildArgs(argSpec{
		codec:      e.engine.Codec(),
		input:      *e.input,
		format:     e.format,
		audio:      e.audio,
		audioInput: e.opts.AudioInput,
		maxSize:    e.maxSize,
		output:     e.output,
	})
	cmd := exec.Command(e.engine.FFmpegPath, args...)
	procgroup.Set(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	e.stderr = newTailBuffer(4096)
	cmd.Stderr = e.stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	e.logger.Info().
		Int("pid", cmd.Process.Pid).
		Str(log.FieldEncoder, e.engine.Codec()).
		Int(log.FieldWidth, e.format.Width).
		Int(log.FieldHeight, e.format.Height).
		Int(log.FieldFPS, e.format.FrameRate).
		Int(log.FieldBitrate, e.format.Bitrate).
		Msg("ffmpeg started")

	e.cmd = cmd
	e.stdin = stdin
	e.exited = make(chan struct{})
	e.state = stateRecording
	go e.wait(cmd, e.exited)
	return nil
}

// wait reaps the process and reports exits nobody asked for.
func (e *FFmpeg) wait(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()

	e.mu.Lock()
	e.exitErr = err
	close(exited)
	unexpected := !e.stopping && (e.state == stateRecording || e.state == statePaused)
	onError, onInfo := e.onError, e.onInfo
	limited := e.maxSize > 0
	tail := ""
	if e.stderr != nil {
		tail = e.stderr.String()
	}
	if unexpected && (err != nil || !limited) {
		if err == nil {
			err = errors.New("ffmpeg exited unexpectedly")
		}
		err = fmt.Errorf("ffmpeg: %w: %s", err, tail)
		e.crashErr = err
	}
	e.mu.Unlock()

	if !unexpected {
		return
	}
	if err == nil {
		e.logger.Info().Msg("ffmpeg reached the max file size")
		if onInfo != nil {
			onInfo(Info{Kind: InfoMaxFileSizeReached})
		}
		return
	}
	e.logger.Error().Err(err).Msg("ffmpeg failed while recording")
	if onError != nil {
		onError(err)
	}
}

// Pause stops the process group; frames stop arriving until Resume.
func (e *FFmpeg) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateRecording {
		return e.invalid("pause")
	}
	if err := procgroup.Signal(e.cmd, syscall.SIGSTOP); err != nil {
		return fmt.Errorf("pause: %v: %w", err, ErrInvalidState)
	}
	e.state = statePaused
	return nil
}

func (e *FFmpeg) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != statePaused {
		return e.invalid("resume")
	}
	if err := procgroup.Signal(e.cmd, syscall.SIGCONT); err != nil {
		return fmt.Errorf("resume: %v: %w", err, ErrInvalidState)
	}
	e.state = stateRecording
	return nil
}

// Stop asks ffmpeg to finish the file and waits for it. ErrNoData is returned
// when the output is empty; the caller owns deleting it. A process that died
// on its own before Stop reports that failure.
func (e *FFmpeg) Stop() error {
	e.mu.Lock()
	if e.state != stateRecording && e.state != statePaused {
		defer e.mu.Unlock()
		return e.invalid("stop")
	}
	e.stopping = true
	cmd, stdin, exited := e.cmd, e.stdin, e.exited
	wasPaused := e.state == statePaused
	e.state = stateStopped
	grace := e.opts.StopGrace
	output := e.output
	e.mu.Unlock()

	if wasPaused {
		_ = procgroup.Signal(cmd, syscall.SIGCONT)
	}
	_, _ = io.WriteString(stdin, "q\n")
	_ = stdin.Close()

	var stopErr error
	select {
	case <-exited:
	case <-time.After(grace):
		e.logger.Warn().Dur("grace", grace).Msg("ffmpeg did not finish in time, terminating")
		if err := procgroup.Terminate(cmd, exited, 2*time.Second, 2*time.Second); err != nil {
			stopErr = err
		}
		stopErr = errors.Join(stopErr, errors.New("ffmpeg was terminated before finishing the file"))
	}

	e.mu.Lock()
	exitErr, crashErr := e.exitErr, e.crashErr
	e.mu.Unlock()

	if crashErr != nil {
		return crashErr
	}
	fi, err := os.Stat(output)
	if err != nil || fi.Size() == 0 {
		return ErrNoData
	}
	if stopErr != nil {
		return stopErr
	}
	var ee *exec.ExitError
	if exitErr != nil && !errors.As(exitErr, &ee) {
		return fmt.Errorf("ffmpeg wait: %w", exitErr)
	}
	return nil
}

// Release kills a process that is still running and drops callbacks.
func (e *FFmpeg) Release() {
	e.mu.Lock()
	if e.state == stateReleased {
		e.mu.Unlock()
		return
	}
	running := e.state == stateRecording || e.state == statePaused
	e.stopping = true
	cmd, exited := e.cmd, e.exited
	e.state = stateReleased
	e.onError, e.onInfo = nil, nil
	e.input = nil
	e.mu.Unlock()

	if running && cmd != nil {
		_ = procgroup.Terminate(cmd, exited, time.Second, time.Second)
	}
}

func (e *FFmpeg) OnError(fn func(error)) {
	e.mu.Lock()
	e.onError = fn
	e.mu.Unlock()
}

func (e *FFmpeg) OnInfo(fn func(Info)) {
	e.mu.Lock()
	e.onInfo = fn
	e.mu.Unlock()
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	n   int
	buf []byte
}

func newTailBuffer(n int) *tailBuffer { return &tailBuffer{n: n} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.n {
		t.buf = t.buf[len(t.buf)-t.n:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

var _ Encoder = (*FFmpeg)(nil)
