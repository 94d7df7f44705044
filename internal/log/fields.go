package log

// Canonical field name constants for structured logging.
const (
	FieldSessionID = "session_id"
	FieldComponent = "component"
	FieldCommand   = "command"
	FieldReason    = "reason"

	FieldOldState = "old_state"
	FieldNewState = "new_state"

	FieldPath        = "path"
	FieldHandle      = "handle"
	FieldWorkingPath = "working_path"

	FieldWidth   = "width"
	FieldHeight  = "height"
	FieldFPS     = "fps"
	FieldBitrate = "bitrate"
	FieldEncoder = "encoder"
)
