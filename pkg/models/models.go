package models

import "time"

// Recording states as broadcast and persisted.
const (
	StateRecording = "RECORDING"
	StatePaused    = "PAUSED"
	StateStopped   = "STOPPED"
)

// --- Control API ---

// StartRequest is the body of [POST] /api/v1/recorder/start.
type StartRequest struct {
	Token      string `json:"token"`
	ResultCode int    `json:"result_code"`
	Rotation   int    `json:"rotation"` // quarter turns reported by the UI, 0-3
}

// CommandResponse acknowledges a queued command.
type CommandResponse struct {
	Command string `json:"command"`
	Queued  bool   `json:"queued"`
}

// ErrorResponse is returned with every 4xx/5xx.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// ConsentResponse is returned by [POST] /api/v1/capture/consent.
type ConsentResponse struct {
	Token      string    `json:"token"`
	ResultCode int       `json:"result_code"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// LocationRequest sets or clears the scoped save location.
type LocationRequest struct {
	Handle string `json:"handle"`
}

// GrantRequest grants access to a scoped location handle.
type GrantRequest struct {
	Handle string `json:"handle"`
	Write  bool   `json:"write"`
}

// Grant is a persisted permission as listed by the API.
type Grant struct {
	Handle    string    `json:"handle"`
	Write     bool      `json:"write"`
	GrantedAt time.Time `json:"granted_at"`
}

// LocationResponse reports the current save location preference.
type LocationResponse struct {
	Handle    string `json:"handle,omitempty"`
	DirectDir string `json:"direct_dir"`
	Writable  bool   `json:"writable"`
}

// --- State & events ---

// StateEvent is published on recording.state after the state is persisted.
type StateEvent struct {
	State     string    `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
}

// ProgressEvent is published on recording.progress while a session is live.
type ProgressEvent struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	ElapsedMS int64  `json:"elapsed_ms"`
	FreeBytes uint64 `json:"free_bytes"`
}

// Status is the reconciled view an attaching UI reads.
type Status struct {
	State        string      `json:"state"`
	SessionState string      `json:"session_state"`
	SessionID    string      `json:"session_id,omitempty"`
	ElapsedMS    int64       `json:"elapsed_ms"`
	WorkingPath  string      `json:"working_path,omitempty"`
	Destination  string      `json:"destination,omitempty"`
	Parameters   *Parameters `json:"parameters,omitempty"`
	Finalizing   int         `json:"finalizing"`
}

// Parameters mirrors the encoding parameters of the live session.
type Parameters struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	DensityDPI  int    `json:"density_dpi"`
	FrameRate   int    `json:"frame_rate"`
	Bitrate     int    `json:"bitrate"`
	AudioSource string `json:"audio_source"`
	Orientation string `json:"orientation"`
	Container   string `json:"container"`
}

// Action is a button on a notification.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
	ActionShare  Action = "share"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Notification is the foreground notification while a session is live.
// A Dismissed notification removes it.
type Notification struct {
	Title           string    `json:"title"`
	Text            string    `json:"text"`
	Actions         []Action  `json:"actions"`
	Chronometer     bool      `json:"chronometer"`
	ChronometerBase time.Time `json:"chronometer_base,omitempty"`
	Dismissed       bool      `json:"dismissed"`
}

// Toast is a short-lived user message.
type Toast struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ShareNotification offers the finished recording.
type ShareNotification struct {
	Location string   `json:"location"`
	Direct   bool     `json:"direct"`
	Actions  []Action `json:"actions"`
}

// --- Catalog & system ---

// Recording is one finalization record.
type Recording struct {
	SessionID   string    `json:"session_id"`
	TargetKind  string    `json:"target_kind"`
	Location    string    `json:"location"`
	WorkingPath string    `json:"working_path"`
	Success     bool      `json:"success"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	FinishedAt  time.Time `json:"finished_at"`
}

// HostStats is real-time host load gathered by gopsutil.
type HostStats struct {
	CPUPercent        float64 `json:"cpu_percent"`
	RAMPercent        float64 `json:"ram_percent"`
	RAMAvailableBytes uint64  `json:"ram_available_bytes"`
	// IsBusy flags a host too loaded to record smoothly (CPU > 80% or RAM > 90%).
	IsBusy bool `json:"is_busy"`
}

// SystemInfo is returned by [GET] /api/v1/system.
type SystemInfo struct {
	Encoder        string    `json:"encoder"`
	HardwareAccel  bool      `json:"hardware_accel"`
	Host           HostStats `json:"host"`
	WorkFreeBytes  uint64    `json:"work_free_bytes"`
	SaveFreeBytes  uint64    `json:"save_free_bytes"`
	DeviceWidthPx  int       `json:"device_width_px"`
	DeviceHeightPx int       `json:"device_height_px"`
}
