package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/CodeShowOff/ScreenRecorder/internal/policy"
)

// Config holds all the settings for the recorder daemon.
type Config struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	LogLevel     string `mapstructure:"log_level"`
	DataDir      string `mapstructure:"data_dir"`
	WorkDir      string `mapstructure:"work_dir"`
	HeartbeatSec int    `mapstructure:"heartbeat_seconds"`
	MinFreeBytes uint64 `mapstructure:"min_free_bytes"`

	Recording RecordingConfig `mapstructure:"recording"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Encoder   EncoderConfig   `mapstructure:"encoder"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Index     IndexConfig     `mapstructure:"index"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
}

// RecordingConfig are the user preferences read at every session start.
type RecordingConfig struct {
	Resolution     string `mapstructure:"resolution"`
	FPS            int    `mapstructure:"fps"`
	Bitrate        int    `mapstructure:"bitrate"`
	AudioSource    string `mapstructure:"audio_source"`
	Orientation    string `mapstructure:"orientation"`
	SaveDir        string `mapstructure:"save_dir"`
	FilenameFormat string `mapstructure:"filename_format"`
	FilenamePrefix string `mapstructure:"filename_prefix"`
	Container      string `mapstructure:"container"`
}

// CaptureConfig describes the display being mirrored.
type CaptureConfig struct {
	Display           string `mapstructure:"display"`
	WidthPx           int    `mapstructure:"width_px"`
	HeightPx          int    `mapstructure:"height_px"`
	DensityDPI        int    `mapstructure:"density_dpi"`
	RotatedValues     []int  `mapstructure:"rotated_values"`
	MicrophoneGranted bool   `mapstructure:"microphone_granted"`
}

// EncoderConfig configures the ffmpeg encoder.
type EncoderConfig struct {
	FFmpegPath    string   `mapstructure:"ffmpeg_path"`
	EnableHWAccel bool     `mapstructure:"enable_hw_accel"`
	AudioInput    []string `mapstructure:"audio_input"`
	StopGraceSec  int      `mapstructure:"stop_grace_seconds"`
}

// StorageConfig configures scoped destinations.
type StorageConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

// S3Config is used for s3:// scoped locations.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// IndexConfig points at a media library that should rescan new recordings.
type IndexConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// BroadcastConfig configures state fan-out beyond the in-process bus.
type BroadcastConfig struct {
	RedisAddr    string `mapstructure:"redis_addr"`
	RedisChannel string `mapstructure:"redis_channel"`
	WebhookURL   string `mapstructure:"webhook_url"`
}

// LoadConfig initializes Viper and merges all config sources.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine; env vars and defaults still apply.
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix("SCREENREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.DataDir = expandTilde(cfg.DataDir)
	cfg.WorkDir = expandTilde(cfg.WorkDir)
	cfg.Recording.SaveDir = expandTilde(cfg.Recording.SaveDir)
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(cfg.DataDir, "temp")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "127.0.0.1:7420")
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("work_dir", "")
	v.SetDefault("heartbeat_seconds", 1)
	v.SetDefault("min_free_bytes", 64<<20)

	v.SetDefault("recording.resolution", policy.NativeResolution)
	v.SetDefault("recording.fps", 30)
	v.SetDefault("recording.bitrate", 7130317)
	v.SetDefault("recording.audio_source", string(policy.AudioNone))
	v.SetDefault("recording.orientation", string(policy.OrientationAuto))
	v.SetDefault("recording.save_dir", defaultSaveDir())
	v.SetDefault("recording.filename_format", "20060102_150405")
	v.SetDefault("recording.filename_prefix", "recording")
	v.SetDefault("recording.container", "mp4")

	v.SetDefault("capture.display", ":0.0")
	v.SetDefault("capture.width_px", 1920)
	v.SetDefault("capture.height_px", 1080)
	v.SetDefault("capture.density_dpi", 96)
	v.SetDefault("capture.rotated_values", []int{1, 3})
	v.SetDefault("capture.microphone_granted", false)

	v.SetDefault("encoder.ffmpeg_path", "ffmpeg")
	v.SetDefault("encoder.enable_hw_accel", true)
	v.SetDefault("encoder.audio_input", []string{"-f", "pulse", "-i", "default"})
	v.SetDefault("encoder.stop_grace_seconds", 10)

	v.SetDefault("broadcast.redis_channel", "screenrec:state")
}

// Validate rejects settings the recorder cannot run with.
func (c *Config) Validate() error {
	if c.Recording.FPS <= 0 {
		return fmt.Errorf("recording.fps must be positive, got %d", c.Recording.FPS)
	}
	if _, err := policy.ParseOrientation(c.Recording.Orientation); err != nil {
		return fmt.Errorf("recording.orientation: %w", err)
	}
	if _, err := policy.ParseAudioSource(c.Recording.AudioSource); err != nil {
		return fmt.Errorf("recording.audio_source: %w", err)
	}
	if c.Capture.WidthPx <= 0 || c.Capture.HeightPx <= 0 {
		return fmt.Errorf("capture size must be positive, got %dx%d", c.Capture.WidthPx, c.Capture.HeightPx)
	}
	for _, r := range c.Capture.RotatedValues {
		if r < 0 || r > 3 {
			return fmt.Errorf("capture.rotated_values: %d is not a quarter-turn count", r)
		}
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	return nil
}

// Preferences converts the recording section into policy input.
func (c *Config) Preferences() policy.Preferences {
	orientation, _ := policy.ParseOrientation(c.Recording.Orientation)
	audio, _ := policy.ParseAudioSource(c.Recording.AudioSource)
	rotated := make([]policy.Rotation, 0, len(c.Capture.RotatedValues))
	for _, r := range c.Capture.RotatedValues {
		rotated = append(rotated, policy.Rotation(r))
	}
	return policy.Preferences{
		Resolution:  c.Recording.Resolution,
		FrameRate:   c.Recording.FPS,
		Bitrate:     c.Recording.Bitrate,
		AudioSource: audio,
		Orientation: orientation,
		Container:   c.Recording.Container,
		Rotations:   policy.RotationConvention{Rotated: rotated},
	}
}

// DeviceMetrics returns the configured display characteristics.
func (c *Config) DeviceMetrics() policy.DeviceMetrics {
	return policy.DeviceMetrics{
		WidthPx:    c.Capture.WidthPx,
		HeightPx:   c.Capture.HeightPx,
		DensityDPI: c.Capture.DensityDPI,
	}
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "screenrecd")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "screenrecd")
	}
	return filepath.Join(".", "screenrecd-data")
}

func defaultSaveDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Videos", "ScreenRecorder")
	}
	return filepath.Join(".", "ScreenRecorder")
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
