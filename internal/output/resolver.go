package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/CodeShowOff/ScreenRecorder/internal/failure"
	"github.com/CodeShowOff/ScreenRecorder/internal/log"
	"github.com/CodeShowOff/ScreenRecorder/internal/prefs"
	"github.com/CodeShowOff/ScreenRecorder/internal/storage"
)

// Prefs is the part of the preference store the resolver touches.
type Prefs interface {
	GetString(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	PutJSON(ctx context.Context, key string, v any) error
}

// FreeSpace measures the filesystem holding a path.
type FreeSpace interface {
	FreeBytes(ctx context.Context, path string) (uint64, error)
}

// Resolver picks the working path and promotion target for a new session.
type Resolver struct {
	prefs     Prefs
	storage   storage.Storage
	space     FreeSpace
	directDir string
	logger    zerolog.Logger
}

func NewResolver(p Prefs, s storage.Storage, space FreeSpace, directDir string) *Resolver {
	return &Resolver{
		prefs:     p,
		storage:   s,
		space:     space,
		directDir: directDir,
		logger:    log.WithComponent("output"),
	}
}

// Resolve returns where the encoder should write name.ext.
// A scoped location preference whose grant is gone is cleared and the
// direct directory is used instead.
func (r *Resolver) Resolve(ctx context.Context, sessionID, name, ext string) (Resolution, error) {
	fileName := name
	if ext != "" {
		fileName = name + "." + strings.TrimPrefix(ext, ".")
	}

	handle, err := r.prefs.GetString(ctx, prefs.KeySaveLocationURI)
	if err != nil {
		return Resolution{}, failure.New(failure.StorageUnavailable, "resolve output", err)
	}

	if handle != "" {
		ok, err := r.storage.HasWritePermission(ctx, handle)
		if err != nil {
			return Resolution{}, failure.New(failure.StorageUnavailable, "resolve output", err)
		}
		if !ok {
			r.logger.Warn().Str(log.FieldHandle, handle).Msg("write grant for save location is gone, falling back to direct path")
			if err := r.prefs.Delete(ctx, prefs.KeySaveLocationURI); err != nil {
				r.logger.Error().Err(err).Msg("failed to clear stale save location")
			}
			handle = ""
		}
	}

	var res Resolution
	if handle == "" {
		path, err := r.directPath(fileName)
		if err != nil {
			return Resolution{}, failure.New(failure.StorageUnavailable, "resolve output", err)
		}
		res = Resolution{WorkingPath: path}
	} else {
		path, err := r.storage.CreateWorkingFile(fileName)
		if err != nil {
			return Resolution{}, failure.New(failure.StorageUnavailable, "create working file", err)
		}
		res = Resolution{
			WorkingPath: path,
			Promotion:   &ScopedLocation{Handle: handle, DisplayName: fileName},
		}
		marker := PendingPromotion{
			SessionID:   sessionID,
			WorkingPath: path,
			Handle:      handle,
			DisplayName: fileName,
		}
		if err := r.prefs.PutJSON(ctx, prefs.PendingPromotionKey(sessionID), marker); err != nil {
			_ = os.Remove(path)
			return Resolution{}, failure.New(failure.StorageUnavailable, "persist pending promotion", err)
		}
	}

	free, err := r.space.FreeBytes(ctx, res.WorkingPath)
	if err != nil {
		r.logger.Warn().Err(err).Str(log.FieldWorkingPath, res.WorkingPath).Msg("free space unknown, recording without a size ceiling")
	}
	res.FreeBytes = free

	r.logger.Debug().
		Str(log.FieldWorkingPath, res.WorkingPath).
		Bool("promotion_pending", res.PromotionPending()).
		Uint64("free_bytes", res.FreeBytes).
		Msg("output resolved")
	return res, nil
}

func (r *Resolver) directPath(fileName string) (string, error) {
	if r.directDir == "" {
		return "", fmt.Errorf("no save directory configured")
	}
	if err := os.MkdirAll(r.directDir, 0o755); err != nil {
		return "", fmt.Errorf("create save directory: %w", err)
	}
	if err := storage.ProbeWritable(r.directDir); err != nil {
		return "", fmt.Errorf("save directory not writable: %w", err)
	}
	return filepath.Join(r.directDir, fileName), nil
}
