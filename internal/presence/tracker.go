package presence

import (
	"context"
	"log"
	"sync"
	"time"

	commands "planter-cloud/internal/commands/domain"
	"planter-cloud/internal/fanout"
)

// Handle is a live persistent-channel connection able to push a command to
// its device.
type Handle interface {
	Push(cmd commands.Command) error
}

// Sink persists online/last-seen so device metadata reads reflect presence.
// The in-memory record stays authoritative for routing decisions.
type Sink interface {
	SetPresence(ctx context.Context, deviceID string, online bool, lastSeen time.Time) error
	TouchLastSeen(ctx context.Context, deviceID string, lastSeen time.Time) error
}

// Publisher receives presence change events for fan-out.
type Publisher interface {
	Publish(event fanout.Event)
}

type record struct {
	mu       sync.Mutex
	online   bool
	lastSeen time.Time
	handle   Handle
	session  uint64
}

// Tracker holds per-device presence state. Each device has its own lock so
// a slow persistence write for one device never stalls another.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*record

	sessions uint64

	sink   Sink
	bus    Publisher
	logger *log.Logger
	now    func() time.Time
}

// NewTracker constructs a tracker. sink and bus may be nil in tests.
func NewTracker(sink Sink, bus Publisher, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		records: make(map[string]*record),
		sink:    sink,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

func (t *Tracker) get(deviceID string) *record {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[deviceID]
	if !ok {
		rec = &record{}
		t.records[deviceID] = rec
	}
	return rec
}

// lookup never creates a record. Reads and touches for ids that never
// connected must not grow the map; device endpoints are unauthenticated.
func (t *Tracker) lookup(deviceID string) *record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records[deviceID]
}

func (t *Tracker) nextSession() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions++
	return t.sessions
}

// MarkOnline records the device as online and, when handle is non-nil,
// stores it as the authoritative push channel. A new connection supersedes
// any previous handle. The returned session token must be presented to
// MarkOffline; a superseded connection's token no longer clears state.
func (t *Tracker) MarkOnline(ctx context.Context, deviceID string, handle Handle) uint64 {
	session := t.nextSession()
	now := t.now().UTC()

	rec := t.get(deviceID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	wasOnline := rec.online
	rec.online = true
	rec.lastSeen = now
	if handle != nil {
		rec.handle = handle
		rec.session = session
	}

	t.persist(ctx, deviceID, true, now)
	if !wasOnline {
		t.publish(fanout.PresenceChanged(deviceID, true, now))
	}
	return session
}

// MarkOffline records the device as offline. The handle is cleared only when
// session matches the one that registered it, so a late-closing stale
// connection cannot clobber a newer session.
func (t *Tracker) MarkOffline(ctx context.Context, deviceID string, session uint64) {
	rec := t.lookup(deviceID)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.session != session {
		return
	}
	rec.handle = nil
	if !rec.online {
		return
	}
	rec.online = false
	now := t.now().UTC()

	t.persist(ctx, deviceID, false, rec.lastSeen)
	t.publish(fanout.PresenceChanged(deviceID, false, now))
}

// Touch updates last-seen without changing online state. Used on every
// inbound poll or telemetry report so poll-only devices show activity.
func (t *Tracker) Touch(ctx context.Context, deviceID string) {
	now := t.now().UTC()

	if rec := t.lookup(deviceID); rec != nil {
		rec.mu.Lock()
		rec.lastSeen = now
		rec.mu.Unlock()
	}

	if t.sink == nil {
		return
	}
	if err := t.sink.TouchLastSeen(ctx, deviceID, now); err != nil {
		t.logger.Printf("presence: touch %s: %v", deviceID, err)
	}
}

// IsReachable reports whether the device has a live push channel.
func (t *Tracker) IsReachable(deviceID string) bool {
	rec := t.lookup(deviceID)
	if rec == nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.online && rec.handle != nil
}

// Handle returns the device's current push channel, or nil.
func (t *Tracker) Handle(deviceID string) Handle {
	rec := t.lookup(deviceID)
	if rec == nil {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.online {
		return nil
	}
	return rec.handle
}

// LastSeen returns the in-memory last-seen timestamp for a device.
func (t *Tracker) LastSeen(deviceID string) time.Time {
	rec := t.lookup(deviceID)
	if rec == nil {
		return time.Time{}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.lastSeen
}

func (t *Tracker) persist(ctx context.Context, deviceID string, online bool, lastSeen time.Time) {
	if t.sink == nil {
		return
	}
	if err := t.sink.SetPresence(ctx, deviceID, online, lastSeen); err != nil {
		t.logger.Printf("presence: persist %s online=%v: %v", deviceID, online, err)
	}
}

func (t *Tracker) publish(event fanout.Event) {
	if t.bus != nil {
		t.bus.Publish(event)
	}
}
