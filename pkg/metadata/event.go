package metadata

import "time"

// EventKind names a structural change.
type EventKind string

const (
	EventCreated         EventKind = "created"
	EventRemoved         EventKind = "removed"
	EventRenamed         EventKind = "renamed"
	EventModified        EventKind = "modified"
	EventAttrChanged     EventKind = "attr-changed"
	EventXattrChanged    EventKind = "xattr-changed"
	EventSnapshotCreated EventKind = "snapshot-created"
	EventSnapshotDeleted EventKind = "snapshot-deleted"
	EventBranchCreated   EventKind = "branch-created"
	EventBranchDeleted   EventKind = "branch-deleted"
	EventProcessBound    EventKind = "process-bound"
	EventProcessUnbound  EventKind = "process-unbound"
)

// Event is a structural change notification.
//
// Path events carry the branch they happened on. Snapshot and branch
// events carry the affected identifiers. Binding events carry the PID.
type Event struct {
	Kind     EventKind
	Time     time.Time
	Branch   BranchID
	Snapshot SnapshotID
	Path     string
	NewPath  string
	Node     NodeID
	Type     FileType
	PID      uint32
	Name     string
}

// EventSink receives events. OnEvent is called synchronously after the
// operation that produced the event has released its locks; it must not
// block for long and may call back into the engine.
type EventSink interface {
	OnEvent(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) OnEvent(e Event) { f(e) }
