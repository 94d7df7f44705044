// Package app wires the daemon together and runs it until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CodeShowOff/ScreenRecorder/internal/bus"
	"github.com/CodeShowOff/ScreenRecorder/internal/capture"
	"github.com/CodeShowOff/ScreenRecorder/internal/catalog"
	"github.com/CodeShowOff/ScreenRecorder/internal/config"
	"github.com/CodeShowOff/ScreenRecorder/internal/encoder"
	"github.com/CodeShowOff/ScreenRecorder/internal/finalize"
	"github.com/CodeShowOff/ScreenRecorder/internal/heartbeat"
	"github.com/CodeShowOff/ScreenRecorder/internal/log"
	"github.com/CodeShowOff/ScreenRecorder/internal/monitor"
	"github.com/CodeShowOff/ScreenRecorder/internal/notify"
	"github.com/CodeShowOff/ScreenRecorder/internal/output"
	"github.com/CodeShowOff/ScreenRecorder/internal/prefs"
	"github.com/CodeShowOff/ScreenRecorder/internal/recorder"
	"github.com/CodeShowOff/ScreenRecorder/internal/server"
	"github.com/CodeShowOff/ScreenRecorder/internal/statesync"
	"github.com/CodeShowOff/ScreenRecorder/internal/storage"
	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

const consentTTL = 2 * time.Minute

// Run starts every daemon component and blocks until ctx is done or one of
// them fails.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := log.WithComponent("app")

	for _, dir := range []string{cfg.DataDir, cfg.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	store, err := prefs.Open(filepath.Join(cfg.DataDir, "prefs"))
	if err != nil {
		return err
	}
	defer store.Close()

	cat, err := catalog.Open(filepath.Join(cfg.DataDir, "recordings.db"))
	if err != nil {
		return err
	}
	defer cat.Close()

	// 1. Encoder engine: ffmpeg lookup and hardware probe.
	engine, err := encoder.NewEngine(ctx, cfg.Encoder.FFmpegPath, cfg.Encoder.EnableHWAccel)
	if err != nil {
		return fmt.Errorf("initialize encoder: %w", err)
	}
	newEncoder := encoder.FFmpegFactory(engine, encoder.Options{
		AudioInput: cfg.Encoder.AudioInput,
		StopGrace:  time.Duration(cfg.Encoder.StopGraceSec) * time.Second,
	})

	// 2. Storage backends.
	backends := []storage.Backend{storage.NewTreeBackend()}
	if s3cfg := cfg.Storage.S3; s3cfg.Region != "" || s3cfg.Endpoint != "" {
		client, err := storage.NewS3Client(ctx, storage.S3Config{
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("initialize s3: %w", err)
		}
		backends = append(backends, storage.NewS3Backend(client))
	}
	var indexer storage.Indexer
	if cfg.Index.WebhookURL != "" {
		indexer = storage.NewWebhookIndexer(cfg.Index.WebhookURL)
	}
	mgr := storage.NewManager(cfg.WorkDir, store, indexer, backends...)
	mon := monitor.NewSystemMonitor()

	// 3. State, notifications, capture.
	events := bus.NewMemoryBus()
	center := notify.NewCenter(events)
	consents := capture.NewConsents(consentTTL)
	captureSvc := capture.NewX11Service(capture.X11Config{
		Display:           cfg.Capture.Display,
		Metrics:           cfg.DeviceMetrics(),
		MicrophoneGranted: cfg.Capture.MicrophoneGranted,
	}, consents, center.IsForeground)
	syncer := statesync.New(store, events, center)

	rec := recorder.NewService(recorder.Deps{
		Capture:     captureSvc,
		NewEncoder:  newEncoder,
		Notes:       center,
		Sync:        syncer,
		Resolver:    output.NewResolver(store, mgr, mon, cfg.Recording.SaveDir),
		Finalizer:   finalize.New(mgr, store, center, cat),
		Prefs:       store,
		Preferences: cfg.Preferences,
		Namer:       output.Namer{Prefix: cfg.Recording.FilenamePrefix, Layout: cfg.Recording.FilenameFormat},
	})
	if err := rec.Recover(ctx); err != nil {
		return fmt.Errorf("recover previous session: %w", err)
	}

	hub := server.NewHub(func(ctx context.Context) []bus.Envelope {
		st, err := rec.Status(ctx)
		if err != nil {
			return nil
		}
		out := []bus.Envelope{{Topic: bus.TopicState, Data: models.StateEvent{State: st.State, SessionID: st.SessionID, At: time.Now()}}}
		if n, ok := center.Current(); ok {
			out = append(out, bus.Envelope{Topic: bus.TopicNotification, Data: n})
		}
		return out
	})
	srv := server.New(cfg.ListenAddr, server.Deps{
		Recorder:    rec,
		Consents:    consents,
		Projections: captureSvc,
		Prefs:       store,
		Storage:     mgr,
		Catalog:     cat,
		Hub:         hub,
		System:      systemInfo(engine, mon, cfg),
		DirectDir:   cfg.Recording.SaveDir,
	})
	hb := heartbeat.New(rec, mon, events, cfg.HeartbeatSec, cfg.MinFreeBytes)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rec.Run(gctx) })
	g.Go(func() error { return hb.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return bus.Forward(gctx, events, hub, bus.AllTopics...) })

	if cfg.Broadcast.RedisAddr != "" {
		client, err := bus.DialRedis(ctx, cfg.Broadcast.RedisAddr)
		if err != nil {
			logger.Warn().Err(err).Msg("redis broadcast disabled")
		} else {
			defer client.Close()
			sink := bus.NewRedisSink(client, cfg.Broadcast.RedisChannel)
			g.Go(func() error { return bus.Forward(gctx, events, sink, bus.TopicState, bus.TopicProgress) })
		}
	}
	if cfg.Broadcast.WebhookURL != "" {
		sink := bus.NewWebhookSink(cfg.Broadcast.WebhookURL)
		g.Go(func() error { return bus.Forward(gctx, events, sink, bus.TopicState) })
	}

	logger.Info().
		Str("listen", cfg.ListenAddr).
		Str(log.FieldEncoder, engine.Codec()).
		Msg("recorder daemon online")

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info().Msg("recorder daemon stopped")
	return err
}

func systemInfo(engine *encoder.Engine, mon *monitor.SystemMonitor, cfg *config.Config) server.SystemInfo {
	return func(ctx context.Context) models.SystemInfo {
		info := models.SystemInfo{
			Encoder:        engine.Codec(),
			HardwareAccel:  engine.HasHWAccel,
			DeviceWidthPx:  cfg.Capture.WidthPx,
			DeviceHeightPx: cfg.Capture.HeightPx,
		}
		if stats, err := mon.GetStats(ctx); err == nil {
			info.Host = stats
		}
		info.WorkFreeBytes, _ = mon.FreeBytes(ctx, cfg.WorkDir)
		info.SaveFreeBytes, _ = mon.FreeBytes(ctx, cfg.Recording.SaveDir)
		return info
	}
}
