// Package finalize turns a stopped session's working file into a saved
// recording: promotion, index refresh, user notification and a catalog record.
package finalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/CodeShowOff/ScreenRecorder/internal/catalog"
	"github.com/CodeShowOff/ScreenRecorder/internal/failure"
	"github.com/CodeShowOff/ScreenRecorder/internal/log"
	"github.com/CodeShowOff/ScreenRecorder/internal/metrics"
	"github.com/CodeShowOff/ScreenRecorder/internal/output"
	"github.com/CodeShowOff/ScreenRecorder/internal/prefs"
	"github.com/CodeShowOff/ScreenRecorder/internal/storage"
)

// CopyBufferSize is the chunk size used when promoting a working file.
const CopyBufferSize = 8 << 10

// Prefs is the slice of the preference store finalization writes.
type Prefs interface {
	PutString(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string, fn func(key string, val []byte) error) error
}

// Notifier shows the outcome to the user.
type Notifier interface {
	Failure(ctx context.Context, kind failure.Kind)
	Toast(ctx context.Context, kind, message string)
	Share(ctx context.Context, location string, direct bool)
}

// Catalog stores finalization records.
type Catalog interface {
	Insert(ctx context.Context, rec catalog.Record) error
}

// Job is one stopped session waiting to be finalized.
type Job struct {
	SessionID  string
	Resolution output.Resolution
	Elapsed    time.Duration
	EncoderErr error
	StoppedAt  time.Time
	// Superseded reports whether a newer session has started since this
	// one. last_video_location then belongs to the newer session.
	Superseded func() bool
}

func (j Job) superseded() bool {
	return j.Superseded != nil && j.Superseded()
}

type Finalizer struct {
	storage storage.Storage
	prefs   Prefs
	notes   Notifier
	catalog Catalog
	now     func() time.Time
	logger  zerolog.Logger
}

func New(s storage.Storage, p Prefs, notes Notifier, c Catalog) *Finalizer {
	return &Finalizer{
		storage: s,
		prefs:   p,
		notes:   notes,
		catalog: c,
		now:     time.Now,
		logger:  log.WithComponent("finalize"),
	}
}

// Run finalizes job and returns the record it stored.
func (f *Finalizer) Run(ctx context.Context, job Job) catalog.Record {
	res := job.Resolution
	logger := f.logger.With().
		Str(log.FieldSessionID, job.SessionID).
		Str(log.FieldWorkingPath, res.WorkingPath).
		Logger()

	rec := catalog.Record{
		SessionID:   job.SessionID,
		Kind:        catalog.TargetDirect,
		Location:    res.Final().String(),
		WorkingPath: res.WorkingPath,
		Elapsed:     job.Elapsed,
	}
	if res.PromotionPending() {
		rec.Kind = catalog.TargetScoped
	}
	rec.SizeBytes = fileSize(res.WorkingPath)

	if job.EncoderErr != nil {
		logger.Error().Err(job.EncoderErr).Msg("encoder did not finish the file, discarding it")
		if err := os.Remove(res.WorkingPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Msg("failed to delete working file")
		}
		if res.PromotionPending() {
			f.clearMarker(ctx, job.SessionID, logger)
		}
		f.notes.Failure(ctx, failure.RecordingFailed)
		rec.Outcome = catalog.OutcomeDiscarded
		rec.Error = job.EncoderErr.Error()
		return f.record(ctx, rec, job.StoppedAt, logger)
	}

	direct := true
	if res.PromotionPending() {
		direct = false
		dest := res.Promotion.Destination()
		n, err := f.promote(ctx, res.WorkingPath, dest)
		if err != nil {
			logger.Error().Err(err).Str(log.FieldHandle, dest.Handle).Msg("promotion failed, working file kept")
			f.clearMarker(ctx, job.SessionID, logger)
			f.notes.Failure(ctx, failure.FinalizationFailed)
			rec.Outcome = catalog.OutcomePromotionFailed
			rec.Location = res.WorkingPath
			rec.Error = err.Error()
			return f.record(ctx, rec, job.StoppedAt, logger)
		}
		metrics.PromotedBytesTotal.Add(float64(n))
		rec.SizeBytes = n

		if err := os.Remove(res.WorkingPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Msg("failed to delete promoted working file")
		}
		f.setLastLocation(ctx, job, dest.String(), logger)
		f.clearMarker(ctx, job.SessionID, logger)
		rec.Outcome = catalog.OutcomePromoted
	} else {
		f.setLastLocation(ctx, job, res.WorkingPath, logger)
		rec.Outcome = catalog.OutcomeSaved
	}
	rec.Success = true

	f.index(ctx, res.WorkingPath, logger)
	f.notes.Toast(ctx, "saved", "Recording saved to "+rec.Location)
	f.notes.Share(ctx, rec.Location, direct)
	return f.record(ctx, rec, job.StoppedAt, logger)
}

// promote copies src into dest in fixed-size chunks. The destination is
// committed only after every byte was written.
func (f *Finalizer) promote(ctx context.Context, src string, dest storage.Destination) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open working file: %w", err)
	}
	defer in.Close()

	out, err := f.storage.OpenOutputStream(ctx, dest)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", dest, err)
	}

	n, err := copyChunks(ctx, out, in)
	if err != nil {
		if aerr := out.Abort(); aerr != nil {
			f.logger.Warn().Err(aerr).Msg("abort destination stream")
		}
		return n, err
	}
	if err := out.Commit(); err != nil {
		_ = out.Abort()
		return n, fmt.Errorf("commit %s: %w", dest, err)
	}
	return n, nil
}

func copyChunks(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, CopyBufferSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			total += int64(nw)
			if werr != nil {
				return total, fmt.Errorf("write: %w", werr)
			}
			if nw != nr {
				return total, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, fmt.Errorf("read: %w", rerr)
		}
	}
}

// index waits for the media index refresh. A file that has been moved away
// is not indexed.
func (f *Finalizer) index(ctx context.Context, path string, logger zerolog.Logger) {
	if _, err := os.Stat(path); err != nil {
		logger.Debug().Msg("working file gone, index refresh skipped")
		return
	}
	done := make(chan struct{})
	f.storage.IndexFile(ctx, path, func(err error) { close(done) })
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (f *Finalizer) setLastLocation(ctx context.Context, job Job, location string, logger zerolog.Logger) {
	if job.superseded() {
		logger.Debug().Msg("newer session started, last video location left alone")
		return
	}
	if err := f.prefs.PutString(ctx, prefs.KeyLastVideoLocation, location); err != nil {
		logger.Warn().Err(err).Msg("failed to persist last video location")
	}
}

// clearMarker drops the marker of one session only; a newer session may
// have its own promotion pending.
func (f *Finalizer) clearMarker(ctx context.Context, sessionID string, logger zerolog.Logger) {
	if err := f.prefs.Delete(ctx, prefs.PendingPromotionKey(sessionID)); err != nil {
		logger.Warn().Err(err).Msg("failed to clear pending promotion marker")
	}
}

func (f *Finalizer) record(ctx context.Context, rec catalog.Record, stoppedAt time.Time, logger zerolog.Logger) catalog.Record {
	rec.FinishedAt = f.now()
	if f.catalog != nil {
		if err := f.catalog.Insert(ctx, rec); err != nil {
			logger.Error().Err(err).Msg("failed to store finalization record")
		}
	}
	metrics.FinalizationsTotal.WithLabelValues(string(rec.Outcome)).Inc()
	if !stoppedAt.IsZero() {
		metrics.FinalizationDuration.Observe(rec.FinishedAt.Sub(stoppedAt).Seconds())
	}
	logger.Info().
		Str("outcome", string(rec.Outcome)).
		Str(log.FieldPath, rec.Location).
		Int64("size_bytes", rec.SizeBytes).
		Msg("recording finalized")
	return rec
}

// Recover finishes every promotion interrupted by a crash and reports how
// many pending markers were found.
func (f *Finalizer) Recover(ctx context.Context) (int, error) {
	type pending struct {
		sessionID string
		marker    output.PendingPromotion
	}
	prefix := prefs.PendingPromotionKey("")
	var found []pending
	err := f.prefs.Scan(ctx, prefix, func(key string, val []byte) error {
		var m output.PendingPromotion
		if err := json.Unmarshal(val, &m); err != nil {
			f.logger.Warn().Err(err).Str("key", key).Msg("unreadable pending promotion marker, skipping")
			return nil
		}
		found = append(found, pending{sessionID: strings.TrimPrefix(key, prefix), marker: m})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read pending promotions: %w", err)
	}

	for _, p := range found {
		logger := f.logger.With().Str(log.FieldSessionID, p.sessionID).Logger()
		if _, err := os.Stat(p.marker.WorkingPath); err != nil {
			logger.Warn().Str(log.FieldWorkingPath, p.marker.WorkingPath).Msg("pending promotion has no working file, dropping it")
			f.clearMarker(ctx, p.sessionID, logger)
			continue
		}
		logger.Info().Str(log.FieldWorkingPath, p.marker.WorkingPath).Msg("resuming interrupted promotion")
		loc := p.marker.Location()
		f.Run(ctx, Job{
			SessionID:  p.sessionID,
			Resolution: output.Resolution{WorkingPath: p.marker.WorkingPath, Promotion: &loc},
		})
	}
	return len(found), nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
