package retry

import (
	"github.com/sirupsen/logrus"
)

type EventKind int

const (
	EventStarted EventKind = iota
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "Syncing products..."
	case EventCompleted:
		return "Sync completed"
	case EventFailed:
		return "Sync failed"
	default:
		return "unknown"
	}
}

// Event reports the progress of one drain attempt.
type Event struct {
	Kind    EventKind
	TaskID  string
	Attempt int
	Err     error
}

// Notifier displays drain progress, e.g. as a system notification.
type Notifier interface {
	Notify(Event)
}

// LogNotifier writes drain progress to the log.
type LogNotifier struct {
	Log *logrus.Entry
}

func (n LogNotifier) Notify(ev Event) {
	entry := n.Log.WithFields(logrus.Fields{
		"task":    ev.TaskID,
		"attempt": ev.Attempt,
	})
	if ev.Err != nil {
		entry.WithError(ev.Err).Warn(ev.Kind.String())
		return
	}
	entry.Info(ev.Kind.String())
}
