package relay

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrInvalidGameID is returned when a connection does not carry a usable game ID.
	ErrInvalidGameID = errors.New("invalid game ID")
	// ErrRelayClosed is returned by Open once Shutdown has started.
	ErrRelayClosed = errors.New("relay is shutting down")
)

// Relay drives the participant lifecycle and fans messages out to every
// participant of the sender's game, the sender included.
type Relay struct {
	registry *Registry
	notifier EventNotifier
	now      func() time.Time

	// lifecycleMu orders Open against Shutdown: Open holds it shared across
	// its check and registration, Shutdown takes it exclusively to flip closing.
	lifecycleMu sync.RWMutex
	closing     bool
}

// NewRelay creates a relay over registry. notifier may be nil.
func NewRelay(registry *Registry, notifier EventNotifier) *Relay {
	return &Relay{
		registry: registry,
		notifier: notifier,
		now:      time.Now,
	}
}

// Open registers a freshly accepted participant and makes it eligible to
// send and receive. Lifecycle events are emitted under the game's registry
// lock so they reach observers in the order membership changed.
func (r *Relay) Open(p *Participant) error {
	if p.GameID() == "" {
		return ErrInvalidGameID
	}

	r.lifecycleMu.RLock()
	defer r.lifecycleMu.RUnlock()
	if r.closing {
		return ErrRelayClosed
	}
	if !p.markOpen() {
		return ErrParticipantClosed
	}

	size, _ := r.registry.RegisterFunc(p.GameID(), p, func(size int, created bool) {
		if created {
			r.notify(EventGameOpened, p, size)
		}
		r.notify(EventParticipantJoined, p, size)
	})
	slog.Info("Connection established for game", "gameID", p.GameID(), "participantID", p.ID(), "participants", size)
	return nil
}

// Receive broadcasts payload to every open participant of p's game. Targets
// that fail are skipped; the sender is never told how many peers got it.
func (r *Relay) Receive(p *Participant, payload []byte) {
	if p.State() != StateOpen {
		return
	}

	targets, ok := r.registry.Lookup(p.GameID())
	if !ok {
		// The game was torn down concurrently.
		slog.Debug("Dropping message for game without participants", "gameID", p.GameID())
		return
	}

	delivered := 0
	for _, target := range targets {
		if target.State() != StateOpen {
			continue
		}
		if err := target.Send(payload); err != nil {
			slog.Warn("Failed to relay message to participant", "gameID", p.GameID(), "participantID", target.ID(), "error", err)
			continue
		}
		delivered++
	}
	slog.Debug("Relayed message for game", "gameID", p.GameID(), "from", p.ID(), "payload", string(payload), "delivered", delivered)
}

// Close deregisters p. It is safe to call more than once.
func (r *Relay) Close(p *Participant) {
	if !p.markClosed() {
		return
	}

	remaining, _ := r.registry.DeregisterFunc(p.GameID(), p, func(remaining int, removed bool) {
		r.notify(EventParticipantLeft, p, remaining)
		if removed {
			r.notify(EventGameClosed, p, 0)
		}
	})
	slog.Info("Session closed for game", "gameID", p.GameID(), "participantID", p.ID(), "participants", remaining)
}

// Shutdown stops accepting participants, then disconnects and deregisters
// every participant already registered.
func (r *Relay) Shutdown() {
	r.lifecycleMu.Lock()
	r.closing = true
	r.lifecycleMu.Unlock()

	participants := r.registry.Participants()
	for _, p := range participants {
		p.Disconnect(websocket.CloseGoingAway, "server shutting down")
		r.Close(p)
	}
	slog.Info("Relay shut down", "disconnected", len(participants))
}

// notify must stay non-blocking; it runs under the registry shard lock.
func (r *Relay) notify(t EventType, p *Participant, size int) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(Event{
		Type:          t,
		GameID:        p.GameID(),
		ParticipantID: p.ID(),
		Participants:  size,
		OccurredAt:    r.now(),
	})
}
