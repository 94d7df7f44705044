package recorder

import (
	"errors"

	"github.com/CodeShowOff/ScreenRecorder/internal/encoder"
)

// CommandKind names a recorder command.
type CommandKind string

const (
	CmdStart  CommandKind = "start"
	CmdPause  CommandKind = "pause"
	CmdResume CommandKind = "resume"
	CmdStop   CommandKind = "stop"

	// Collaborator callbacks, tagged with the session that raised them.
	cmdEncoderError      CommandKind = "encoder_error"
	cmdEncoderInfo       CommandKind = "encoder_info"
	cmdProjectionStopped CommandKind = "projection_stopped"
)

// Stop reasons.
const (
	ReasonUser       = "user"
	ReasonLowSpace   = "low_space"
	ReasonShutdown   = "shutdown"
	ReasonEncoder    = "encoder_error"
	ReasonMaxSize    = "max_file_size"
	ReasonProjection = "projection_stopped"
)

var (
	ErrQueueFull = errors.New("recorder: command queue is full")
	ErrStopped   = errors.New("recorder: not running")
)

// StartParams are the inputs of START.
type StartParams struct {
	Token      string
	ResultCode int
	Rotation   int
}

// Command is one unit of work for the recorder loop.
type Command struct {
	Kind   CommandKind
	Start  StartParams
	Reason string

	sessionID string
	err       error
	info      encoder.Info
}

func Start(p StartParams) Command { return Command{Kind: CmdStart, Start: p} }
func Pause() Command              { return Command{Kind: CmdPause} }
func Resume() Command             { return Command{Kind: CmdResume} }

func Stop(reason string) Command {
	if reason == "" {
		reason = ReasonUser
	}
	return Command{Kind: CmdStop, Reason: reason}
}

// StopSession stops sessionID only. It is ignored once that session has
// ended, so it never reaches a session started later.
func StopSession(sessionID, reason string) Command {
	cmd := Stop(reason)
	cmd.sessionID = sessionID
	return cmd
}

// SessionID is the session a command is bound to, empty for the live one.
func (c Command) SessionID() string { return c.sessionID }

// ParseKind accepts the four public command names.
func ParseKind(s string) (CommandKind, bool) {
	switch k := CommandKind(s); k {
	case CmdStart, CmdPause, CmdResume, CmdStop:
		return k, true
	}
	return "", false
}
