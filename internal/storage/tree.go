package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// TreeBackend writes into a granted local directory tree.
type TreeBackend struct{}

func NewTreeBackend() *TreeBackend { return &TreeBackend{} }

func (TreeBackend) Scheme() string { return SchemeTree }

func (TreeBackend) Writable(ctx context.Context, loc Location) error {
	return ProbeWritable(loc.Path)
}

// ProbeWritable checks that dir exists and accepts a new file.
func ProbeWritable(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	probe, err := os.CreateTemp(dir, ".screenrec-probe-*")
	if err != nil {
		return fmt.Errorf("probe write: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// Open stages the file next to its destination; Commit fsyncs and renames it in.
func (TreeBackend) Open(ctx context.Context, loc Location, name string) (Stream, error) {
	pending, err := renameio.NewPendingFile(filepath.Join(loc.Path, name), renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("create pending file: %w", err)
	}
	return &treeStream{pending: pending}, nil
}

type treeStream struct {
	pending *renameio.PendingFile
}

func (s *treeStream) Write(p []byte) (int, error) { return s.pending.Write(p) }

func (s *treeStream) Commit() error {
	if err := s.pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace destination: %w", err)
	}
	return nil
}

func (s *treeStream) Abort() error { return s.pending.Cleanup() }
