package pipeline

// EventType enumerates emitted upload events.
type EventType string

const (
	EventStart       EventType = "start"
	EventProgress    EventType = "progress"
	EventWarning     EventType = "warning"
	EventReconnected EventType = "reconnected"
	EventDone        EventType = "done"
)

// Event carries progress about a run. Path names the message concerned,
// Done/Total count processed candidates.
type Event struct {
	Type  EventType
	Path  string
	Total int
	Done  int
	Err   error
}
