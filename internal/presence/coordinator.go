// Package presence tracks which users are connected to a report room,
// deduplicates multi-tab sessions per user, and pushes the aggregated
// roster to every session in the room. Room state is in-memory and
// ephemeral; broadcasts travel over a pub/sub bus so multiple API
// instances can share a room.
package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is what a client publishes about itself into a room.
type State struct {
	UserID        string `json:"userId,omitempty"`
	UserName      string `json:"userName,omitempty"`
	EditingGoalID string `json:"editingGoalId,omitempty"`
}

// Participant is one aggregated roster entry. Sessions resolving to the
// same identifier collapse into a single participant; TabCount says how
// many connections that participant holds.
type Participant struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	TabCount       int      `json:"tabCount"`
	EditingGoalIDs []string `json:"editingGoalIds,omitempty"`
}

type session struct {
	connID     string
	authUserID string
	resolvedID string
	identified bool
	state      State
	lastSeen   time.Time
	deliver    func(roster []Participant)
}

type room struct {
	mu       sync.Mutex
	reportID string
	sessions map[string]*session
	stop     func()
}

// Coordinator owns every room. Each room serializes its own events behind
// its mutex; different rooms never contend.
type Coordinator struct {
	mu    sync.Mutex
	rooms map[string]*room

	bus   Bus
	sweep time.Duration
	ttl   time.Duration
	now   func() time.Time
}

// NewCoordinator builds a coordinator broadcasting over bus. sweep is how
// often stale sessions are looked for; ttl is how long a session may go
// without publishing before it is reclaimed.
func NewCoordinator(bus Bus, sweep, ttl time.Duration) *Coordinator {
	return &Coordinator{
		rooms: make(map[string]*room),
		bus:   bus,
		sweep: sweep,
		ttl:   ttl,
		now:   time.Now,
	}
}

// NewConnectionID mints an identifier for one websocket connection.
func NewConnectionID() string {
	return uuid.New().String()
}

// Connect registers a session in the report's room and replays the
// current roster to it, so a client never depends on catching the next
// broadcast to learn who is already there. The session stays out of the
// roster until its first Publish.
func (c *Coordinator) Connect(reportID, connID, authUserID string, deliver func(roster []Participant)) {
	r := c.room(reportID, true)

	r.mu.Lock()
	r.sessions[connID] = &session{
		connID:     connID,
		authUserID: authUserID,
		lastSeen:   c.now(),
		deliver:    deliver,
	}
	roster := aggregate(r.sessions)
	r.mu.Unlock()

	deliver(roster)
	slog.Info("presence session connected", "reportID", reportID, "connID", connID)
}

// Publish stores the session's state, resolves its identity, and
// broadcasts the recomputed roster to the whole room.
func (c *Coordinator) Publish(ctx context.Context, reportID, connID string, state State) {
	r := c.room(reportID, false)
	if r == nil {
		return
	}

	r.mu.Lock()
	sess, ok := r.sessions[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	sess.state = state
	sess.resolvedID = resolveIdentity(state, sess.authUserID, connID)
	sess.identified = true
	sess.lastSeen = c.now()
	roster := aggregate(r.sessions)
	r.mu.Unlock()

	c.broadcast(ctx, reportID, roster)
}

// Disconnect removes the session, broadcasts the shrunk roster, and
// releases the room when the last session leaves.
func (c *Coordinator) Disconnect(ctx context.Context, reportID, connID string) {
	r := c.room(reportID, false)
	if r == nil {
		return
	}

	r.mu.Lock()
	if _, ok := r.sessions[connID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, connID)
	remaining := len(r.sessions)
	roster := aggregate(r.sessions)
	r.mu.Unlock()

	slog.Info("presence session disconnected", "reportID", reportID, "connID", connID, "remaining", remaining)
	if remaining == 0 {
		c.releaseIfEmpty(r)
		return
	}
	c.broadcast(ctx, reportID, roster)
}

// Roster returns the current aggregated participant list for a room.
// An unknown or empty room yields an empty roster.
func (c *Coordinator) Roster(reportID string) []Participant {
	r := c.room(reportID, false)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return aggregate(r.sessions)
}

// Run evicts sessions whose transport died without a clean disconnect.
// It blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evictStale(ctx)
		}
	}
}

func (c *Coordinator) evictStale(ctx context.Context) {
	c.mu.Lock()
	rooms := make([]*room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	deadline := c.now().Add(-c.ttl)
	for _, r := range rooms {
		r.mu.Lock()
		evicted := 0
		for connID, sess := range r.sessions {
			if sess.lastSeen.Before(deadline) {
				delete(r.sessions, connID)
				evicted++
			}
		}
		remaining := len(r.sessions)
		roster := aggregate(r.sessions)
		r.mu.Unlock()

		if evicted == 0 {
			continue
		}
		slog.Info("presence sessions evicted", "reportID", r.reportID, "evicted", evicted, "remaining", remaining)
		if remaining == 0 {
			c.releaseIfEmpty(r)
			continue
		}
		c.broadcast(ctx, r.reportID, roster)
	}
}

// room fetches a room, creating it (and its bus subscription) when create
// is set. Lock order is always coordinator before room, never the reverse.
func (c *Coordinator) room(reportID string, create bool) *room {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rooms[reportID]
	if ok || !create {
		return r
	}

	r = &room{reportID: reportID, sessions: make(map[string]*session)}
	ch, stop := c.bus.Subscribe(reportID)
	r.stop = stop
	go func() {
		for payload := range ch {
			var roster []Participant
			if err := json.Unmarshal(payload, &roster); err != nil {
				slog.Warn("presence payload rejected", "reportID", reportID, "error", err)
				continue
			}
			r.fanOut(roster)
		}
	}()

	c.rooms[reportID] = r
	return r
}

// releaseIfEmpty tears the room down unless a session connected in the
// window between the caller's check and this one.
func (c *Coordinator) releaseIfEmpty(r *room) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r.mu.Lock()
	empty := len(r.sessions) == 0
	r.mu.Unlock()
	if !empty {
		return
	}

	delete(c.rooms, r.reportID)
	if r.stop != nil {
		r.stop()
	}
	slog.Info("presence room released", "reportID", r.reportID)
}

func (c *Coordinator) broadcast(ctx context.Context, reportID string, roster []Participant) {
	payload, err := json.Marshal(roster)
	if err != nil {
		slog.Error("presence roster marshal failed", "reportID", reportID, "error", err)
		return
	}
	// A failed broadcast never rolls the room state back; members catch
	// up on the next successful delivery.
	if err := c.bus.Publish(ctx, reportID, payload); err != nil {
		slog.Warn("presence broadcast failed", "reportID", reportID, "error", err)
	}
}

func (r *room) fanOut(roster []Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.sessions {
		sess.deliver(roster)
	}
}

// aggregate collapses sessions into the roster, deduplicating by resolved
// identifier. Unidentified sessions (connected, never published) are not
// shown. Callers hold the room lock.
func aggregate(sessions map[string]*session) []Participant {
	byID := make(map[string]*Participant)
	for _, sess := range sessions {
		if !sess.identified {
			continue
		}
		p, ok := byID[sess.resolvedID]
		if !ok {
			p = &Participant{ID: sess.resolvedID}
			byID[sess.resolvedID] = p
		}
		p.TabCount++
		if sess.state.UserName != "" {
			p.Name = sess.state.UserName
		}
		if goalID := sess.state.EditingGoalID; goalID != "" && !contains(p.EditingGoalIDs, goalID) {
			p.EditingGoalIDs = append(p.EditingGoalIDs, goalID)
		}
	}

	roster := make([]Participant, 0, len(byID))
	for _, p := range byID {
		roster = append(roster, *p)
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })
	return roster
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
