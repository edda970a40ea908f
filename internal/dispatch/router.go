package dispatch

import (
	"log"

	commands "planter-cloud/internal/commands/domain"
	"planter-cloud/internal/observability/metrics"
	"planter-cloud/internal/presence"
)

// Router decides push-vs-poll delivery for newly enqueued commands. It never
// mutates command state: a pushed command stays pending and remains visible
// to polling as a safety net. Only an explicit outcome report is terminal,
// and the device executes once keyed by command id.
type Router struct {
	tracker *presence.Tracker
	logger  *log.Logger
}

// NewRouter constructs a router.
func NewRouter(tracker *presence.Tracker, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	return &Router{tracker: tracker, logger: logger}
}

// CommandEnqueued pushes the command over the device's live persistent
// channel, if any. A failed or impossible push is not an error: the command
// is picked up on the next poll.
func (r *Router) CommandEnqueued(cmd commands.Command) {
	if r == nil || r.tracker == nil {
		return
	}
	handle := r.tracker.Handle(cmd.DeviceID)
	if handle == nil {
		return
	}
	if err := handle.Push(cmd); err != nil {
		metrics.IncPushAttempt(false)
		r.logger.Printf("dispatch: push command %s to %s: %v", cmd.ID, cmd.DeviceID, err)
		return
	}
	metrics.IncPushAttempt(true)
}
