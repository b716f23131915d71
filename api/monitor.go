package api

import (
	"time"

	"github.com/warpfork/go-errcat"
)

/*
	Monitoring configuration structs, and message types used.
*/
type (
	/*
		Slot for the channel the caller wishes intermediate reports to be sent to.

		A nil channel disables all reporting.
		Senders never close the channel; its owner does.
	*/
	Monitor struct {
		Chan chan<- Event
	}

	/*
		A "union" type of all the kinds of event that may be generated.

		The "Result" message is never sent to Monitor.Chan --
		its values are converted into the function returns --
		but *is* seen in the serial form emitted by the command line.
	*/
	Event struct {
		Log    *Event_Log    `refmt:"log,omitempty"`
		Result *Event_Result `refmt:"result,omitempty"`
	}

	Event_Log struct {
		Time   time.Time   `refmt:"t"`
		Level  LogLevel    `refmt:"lvl"`
		Msg    string      `refmt:"msg"`
		Detail [][2]string `refmt:"detail,omitempty"`
	}

	Event_Result struct {
		Repository string       `refmt:"repository,omitempty"`
		CommitID   CommitID     `refmt:"commitID,omitempty"`
		History    []CommitInfo `refmt:"history,omitempty"`
		Files      []FileInfo   `refmt:"files,omitempty"`
		Error      *Error       `refmt:"error,omitempty"`
	}

	CommitInfo struct {
		CommitID  CommitID `refmt:"commitID"`
		Author    Identity `refmt:"author"`
		Committer Identity `refmt:"committer"`
		Message   string   `refmt:"message"`
	}

	FileInfo struct {
		Path string `refmt:"path"`
		Mode string `refmt:"mode"`
		Hash string `refmt:"hash"`
	}

	// Serializable form of a categorized error.
	Error struct {
		Category ErrorCategory     `refmt:"category"`
		Message  string            `refmt:"message"`
		Details  map[string]string `refmt:"details,omitempty"`
	}
)

type LogLevel int8

const (
	LogError = LogLevel(4)
	LogWarn  = LogLevel(3)
	LogInfo  = LogLevel(2)
	LogDebug = LogLevel(1)
)

func (x LogLevel) String() string {
	switch x {
	case LogError:
		return "error"
	case LogWarn:
		return "warn"
	case LogInfo:
		return "info"
	case LogDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// SetError fills the Error slot of the result, keeping the category and details of errcat errors.
func (r *Event_Result) SetError(err error) {
	if err == nil {
		r.Error = nil
		return
	}
	r.Error = &Error{Message: err.Error()}
	if cat, ok := errcat.Category(err).(ErrorCategory); ok {
		r.Error.Category = cat
	}
	if detailed, ok := err.(interface{ Details() map[string]string }); ok {
		r.Error.Details = detailed.Details()
	}
}
