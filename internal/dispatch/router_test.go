package dispatch

import (
	"context"
	"errors"
	"testing"

	commands "planter-cloud/internal/commands/domain"
	"planter-cloud/internal/presence"
)

type stubHandle struct {
	pushed []commands.Command
	err    error
}

func (h *stubHandle) Push(cmd commands.Command) error {
	if h.err != nil {
		return h.err
	}
	h.pushed = append(h.pushed, cmd)
	return nil
}

func TestCommandEnqueuedPushesWhenReachable(t *testing.T) {
	tracker := presence.NewTracker(nil, nil, nil)
	handle := &stubHandle{}
	tracker.MarkOnline(context.Background(), "dev-1", handle)

	router := NewRouter(tracker, nil)
	router.CommandEnqueued(commands.Command{ID: "c1", DeviceID: "dev-1"})

	if len(handle.pushed) != 1 || handle.pushed[0].ID != "c1" {
		t.Fatalf("expected one pushed command, got %v", handle.pushed)
	}
}

func TestCommandEnqueuedSkipsUnreachable(t *testing.T) {
	tracker := presence.NewTracker(nil, nil, nil)
	router := NewRouter(tracker, nil)

	// No connection at all: nothing to do, nothing to fail.
	router.CommandEnqueued(commands.Command{ID: "c1", DeviceID: "dev-1"})
}

func TestCommandEnqueuedSwallowsPushErrors(t *testing.T) {
	tracker := presence.NewTracker(nil, nil, nil)
	handle := &stubHandle{err: errors.New("buffer full")}
	tracker.MarkOnline(context.Background(), "dev-1", handle)

	router := NewRouter(tracker, nil)
	// A failed push is absorbed; polling remains the safety net.
	router.CommandEnqueued(commands.Command{ID: "c1", DeviceID: "dev-1"})
}
