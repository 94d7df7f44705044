package output

import (
	"strings"
	"time"
)

// DefaultNameLayout is the timestamp part of a recording name.
const DefaultNameLayout = "20060102_150405"

// Namer builds "<prefix>_<timestamp>" file names.
type Namer struct {
	Prefix string
	Layout string
}

func (n Namer) Name(now time.Time) string {
	prefix := n.Prefix
	if prefix == "" {
		prefix = "recording"
	}
	layout := n.Layout
	if layout == "" {
		layout = DefaultNameLayout
	}
	stamp := strings.NewReplacer("/", "-", "\\", "-", ":", "-").Replace(now.Format(layout))
	return prefix + "_" + stamp
}
