package fanout

import (
	"sync"

	"planter-cloud/internal/observability/metrics"
)

const defaultBuffer = 16

// Subscriber receives events for the devices it was subscribed to. Events
// arrive on C until Unsubscribe closes it.
type Subscriber struct {
	C       <-chan Event
	ch      chan Event
	devices []string
	done    bool
}

// Hub broadcasts device events to all current subscribers of that device.
// Delivery is best-effort: a subscriber whose buffer is full misses the
// event. Per-device emission order is preserved because sends happen under
// the hub lock in publish order and sends never block.
type Hub struct {
	mu     sync.Mutex
	byDev  map[string]map[*Subscriber]struct{}
	buffer int
}

// NewHub constructs a hub. bufferSize <= 0 selects the default.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	return &Hub{byDev: make(map[string]map[*Subscriber]struct{}), buffer: bufferSize}
}

// Subscribe registers a subscriber for the given device ids.
func (h *Hub) Subscribe(deviceIDs ...string) *Subscriber {
	sub := &Subscriber{ch: make(chan Event, h.buffer), devices: append([]string(nil), deviceIDs...)}
	sub.C = sub.ch

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range sub.devices {
		set, ok := h.byDev[id]
		if !ok {
			set = make(map[*Subscriber]struct{})
			h.byDev[id] = set
		}
		set[sub] = struct{}{}
	}
	return sub
}

// Unsubscribe removes the subscriber from every device room and closes its
// channel. Repeated calls are no-ops.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.done {
		return
	}
	sub.done = true
	for _, id := range sub.devices {
		set, ok := h.byDev[id]
		if !ok {
			continue
		}
		delete(set, sub)
		if len(set) == 0 {
			delete(h.byDev, id)
		}
	}
	close(sub.ch)
}

// Publish delivers the event to every subscriber of its device.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	metrics.IncFanoutEvent(event.Kind)
	for sub := range h.byDev[event.DeviceID] {
		select {
		case sub.ch <- event:
		default:
			metrics.IncFanoutDropped()
		}
	}
}

// SubscriberCount returns the number of subscribers for a device.
func (h *Hub) SubscriberCount(deviceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byDev[deviceID])
}
