package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/CodeShowOff/ScreenRecorder/internal/log"
)

// Destination names a file inside a scoped location.
type Destination struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
}

// String is the user-facing location of the destination file.
func (d Destination) String() string {
	return strings.TrimSuffix(d.Handle, "/") + "/" + d.DisplayName
}

// Stream writes one destination file. Nothing is visible at the destination
// until Commit succeeds; Abort discards whatever was written.
type Stream interface {
	io.Writer
	Commit() error
	Abort() error
}

// Storage is everything the recorder needs from the filesystem side.
type Storage interface {
	CreateWorkingFile(name string) (string, error)
	OpenOutputStream(ctx context.Context, dest Destination) (Stream, error)
	HasWritePermission(ctx context.Context, handle string) (bool, error)
	IndexFile(ctx context.Context, path string, onComplete func(error))
}

// Location is a parsed scoped handle.
type Location struct {
	Scheme string
	Bucket string
	Path   string
}

const (
	SchemeTree = "tree"
	SchemeS3   = "s3"
)

var ErrUnsupportedHandle = errors.New("unsupported location handle")

// ParseHandle accepts tree:///abs/dir and s3://bucket/prefix.
func ParseHandle(handle string) (Location, error) {
	u, err := url.Parse(handle)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %q: %v", ErrUnsupportedHandle, handle, err)
	}
	switch u.Scheme {
	case SchemeTree:
		if u.Host != "" || !filepath.IsAbs(u.Path) {
			return Location{}, fmt.Errorf("%w: tree handle needs an absolute path: %q", ErrUnsupportedHandle, handle)
		}
		return Location{Scheme: SchemeTree, Path: filepath.Clean(u.Path)}, nil
	case SchemeS3:
		if u.Host == "" {
			return Location{}, fmt.Errorf("%w: s3 handle needs a bucket: %q", ErrUnsupportedHandle, handle)
		}
		return Location{Scheme: SchemeS3, Bucket: u.Host, Path: strings.Trim(u.Path, "/")}, nil
	default:
		return Location{}, fmt.Errorf("%w: %q", ErrUnsupportedHandle, handle)
	}
}

// Backend serves one handle scheme.
type Backend interface {
	Scheme() string
	// Writable reports why the location can't take writes, or nil.
	Writable(ctx context.Context, loc Location) error
	Open(ctx context.Context, loc Location, name string) (Stream, error)
}

// GrantChecker is the live grant list.
type GrantChecker interface {
	HasWriteGrant(ctx context.Context, handle string) (bool, error)
}

// Indexer tells a media library about a new file.
type Indexer interface {
	Index(ctx context.Context, path string) error
}

// Manager is the daemon's Storage.
type Manager struct {
	workDir  string
	grants   GrantChecker
	backends map[string]Backend
	indexer  Indexer
	logger   zerolog.Logger
}

// NewManager wires the backends. indexer may be nil.
func NewManager(workDir string, grants GrantChecker, indexer Indexer, backends ...Backend) *Manager {
	m := &Manager{
		workDir:  workDir,
		grants:   grants,
		backends: make(map[string]Backend, len(backends)),
		indexer:  indexer,
		logger:   log.WithComponent("storage"),
	}
	for _, b := range backends {
		m.backends[b.Scheme()] = b
	}
	return m
}

// WorkDir is the app-private directory for working files.
func (m *Manager) WorkDir() string { return m.workDir }

// CreateWorkingFile creates an empty file in the work dir, truncating any leftover.
func (m *Manager) CreateWorkingFile(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid working file name %q", name)
	}
	if err := os.MkdirAll(m.workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	path := filepath.Join(m.workDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create working file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close working file: %w", err)
	}
	return path, nil
}

func (m *Manager) OpenOutputStream(ctx context.Context, dest Destination) (Stream, error) {
	if dest.DisplayName == "" || strings.ContainsAny(dest.DisplayName, `/\`) {
		return nil, fmt.Errorf("invalid display name %q", dest.DisplayName)
	}
	loc, b, err := m.resolve(dest.Handle)
	if err != nil {
		return nil, err
	}
	ok, err := m.grants.HasWriteGrant(ctx, dest.Handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no write grant for %s", dest.Handle)
	}
	return b.Open(ctx, loc, dest.DisplayName)
}

// HasWritePermission needs both a live write grant and a backend that accepts writes.
func (m *Manager) HasWritePermission(ctx context.Context, handle string) (bool, error) {
	ok, err := m.grants.HasWriteGrant(ctx, handle)
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	if !ok {
		return false, nil
	}
	loc, b, err := m.resolve(handle)
	if err != nil {
		m.logger.Warn().Err(err).Str(log.FieldHandle, handle).Msg("granted handle is not usable")
		return false, nil
	}
	if err := b.Writable(ctx, loc); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldHandle, handle).Msg("scoped location not writable")
		return false, nil
	}
	return true, nil
}

// IndexFile runs the indexer in the background. onComplete is called exactly once.
func (m *Manager) IndexFile(ctx context.Context, path string, onComplete func(error)) {
	if onComplete == nil {
		onComplete = func(error) {}
	}
	if m.indexer == nil {
		onComplete(nil)
		return
	}
	go func() {
		err := m.indexer.Index(ctx, path)
		if err != nil {
			m.logger.Warn().Err(err).Str(log.FieldPath, path).Msg("media index refresh failed")
		}
		onComplete(err)
	}()
}

func (m *Manager) resolve(handle string) (Location, Backend, error) {
	loc, err := ParseHandle(handle)
	if err != nil {
		return Location{}, nil, err
	}
	b, ok := m.backends[loc.Scheme]
	if !ok {
		return Location{}, nil, fmt.Errorf("%w: no backend for %s", ErrUnsupportedHandle, loc.Scheme)
	}
	return loc, b, nil
}

var _ Storage = (*Manager)(nil)
