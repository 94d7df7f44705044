// Package output decides where a recording is written and whether it must be
// promoted into a scoped location once the encoder is done with it.
package output

import (
	"github.com/CodeShowOff/ScreenRecorder/internal/storage"
)

// Target is either a DirectPath or a ScopedLocation.
type Target interface {
	isTarget()
	String() string
}

// DirectPath is a plain filesystem path the encoder writes to and the user keeps.
type DirectPath struct {
	Path string
}

func (DirectPath) isTarget()        {}
func (d DirectPath) String() string { return d.Path }

// ScopedLocation is a file inside a permission-scoped location handle.
type ScopedLocation struct {
	Handle      string
	DisplayName string
}

func (ScopedLocation) isTarget() {}

func (s ScopedLocation) String() string { return s.Destination().String() }

// Destination converts to the storage collaborator's addressing.
func (s ScopedLocation) Destination() storage.Destination {
	return storage.Destination{Handle: s.Handle, DisplayName: s.DisplayName}
}

// Resolution is the outcome of resolving an output for one session.
// The encoder always writes WorkingPath. A non-nil Promotion means the
// working file must be copied there after the encoder stops.
type Resolution struct {
	WorkingPath string
	Promotion   *ScopedLocation
	FreeBytes   uint64
}

func (r Resolution) PromotionPending() bool { return r.Promotion != nil }

// Final is where the recording is expected to end up.
func (r Resolution) Final() Target {
	if r.Promotion != nil {
		return *r.Promotion
	}
	return DirectPath{Path: r.WorkingPath}
}

// PendingPromotion is the persisted marker for a promotion that has not
// finished yet. It survives a crash so the daemon can finish the copy on restart.
type PendingPromotion struct {
	SessionID   string `json:"session_id,omitempty"`
	WorkingPath string `json:"working_path"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
}

func (p PendingPromotion) Location() ScopedLocation {
	return ScopedLocation{Handle: p.Handle, DisplayName: p.DisplayName}
}
