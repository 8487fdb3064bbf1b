package batch

// EventKind identifies what an Event carries.
type EventKind int

const (
	EventProgress EventKind = iota + 1
	EventFileDone
	EventFileError
	EventComplete
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventFileDone:
		return "file-done"
	case EventFileError:
		return "file-error"
	case EventComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Event is delivered to the EventHandler of a run. File is set for
// EventFileDone (done or skipped) and EventFileError, Report for EventComplete.
type Event struct {
	Kind     EventKind
	Progress Progress
	File     FileReport
	Report   RunReport
}

// EventHandler receives run events. Calls are serialized, so handlers need no
// locking of their own, but they must not block on the Controller's Wait.
type EventHandler func(Event)
