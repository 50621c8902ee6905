package relay

import (
	"slices"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// group is the set of participants connected to one game. Members are replaced
// copy-on-write while the owning shard lock is held, so a loaded slice is an
// immutable snapshot that broadcasters can range over without locking.
type group struct {
	members atomic.Pointer[[]*Participant]
}

func newGroup() *group {
	g := &group{}
	g.members.Store(&[]*Participant{})
	return g
}

func (g *group) snapshot() []*Participant {
	return *g.members.Load()
}

func (g *group) add(p *Participant) int {
	current := g.snapshot()
	if slices.Contains(current, p) {
		return len(current)
	}
	next := make([]*Participant, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, p)
	g.members.Store(&next)
	return len(next)
}

func (g *group) remove(p *Participant) int {
	current := g.snapshot()
	i := slices.Index(current, p)
	if i < 0 {
		return len(current)
	}
	next := make([]*Participant, 0, len(current)-1)
	next = append(next, current[:i]...)
	next = append(next, current[i+1:]...)
	g.members.Store(&next)
	return len(next)
}

// Stats summarises the registry contents.
type Stats struct {
	Games        int `json:"games"`
	Participants int `json:"participants"`
}

// Registry maps a game ID to the participants currently connected to it.
// All membership changes for a key run under that key's shard lock, so an
// empty group is removed in the same step as its last member and never
// observed by a lookup.
type Registry struct {
	games cmap.ConcurrentMap[string, *group]
}

func NewRegistry() *Registry {
	return &Registry{games: cmap.New[*group]()}
}

// MembershipFunc is called with the group size after a membership change.
// It runs while the game's shard lock is held, so calls for one game are
// observed in the order the changes were applied. It must not block or
// touch the registry.
type MembershipFunc func(size int, transition bool)

// Register adds p to the game's group, creating the group when it is the
// first participant. It is idempotent for an already registered participant.
func (r *Registry) Register(gameID string, p *Participant) (size int, created bool) {
	return r.RegisterFunc(gameID, p, nil)
}

// RegisterFunc is Register with a hook; transition reports group creation.
func (r *Registry) RegisterFunc(gameID string, p *Participant, fn MembershipFunc) (size int, created bool) {
	r.games.Upsert(gameID, nil, func(exist bool, g *group, _ *group) *group {
		if !exist {
			g = newGroup()
			created = true
		}
		size = g.add(p)
		if fn != nil {
			fn(size, created)
		}
		return g
	})
	return size, created
}

// Deregister removes p from the game's group and drops the group once it is
// empty. Unknown games and participants are ignored.
func (r *Registry) Deregister(gameID string, p *Participant) (remaining int, removed bool) {
	return r.DeregisterFunc(gameID, p, nil)
}

// DeregisterFunc is Deregister with a hook; transition reports group removal.
// The hook is not called for unknown games.
func (r *Registry) DeregisterFunc(gameID string, p *Participant, fn MembershipFunc) (remaining int, removed bool) {
	r.games.RemoveCb(gameID, func(_ string, g *group, exists bool) bool {
		if !exists {
			return false
		}
		remaining = g.remove(p)
		removed = remaining == 0
		if fn != nil {
			fn(remaining, removed)
		}
		return removed
	})
	return remaining, removed
}

// Lookup returns a snapshot of the participants connected to the game.
func (r *Registry) Lookup(gameID string) ([]*Participant, bool) {
	g, ok := r.games.Get(gameID)
	if !ok {
		return nil, false
	}
	// The group may have been emptied and dropped after Get released the
	// shard lock; an empty snapshot is reported as absent.
	members := g.snapshot()
	if len(members) == 0 {
		return nil, false
	}
	return members, true
}

// Exists reports whether the game currently has any connected participant.
func (r *Registry) Exists(gameID string) bool {
	return r.games.Has(gameID)
}

func (r *Registry) Stats() Stats {
	var s Stats
	for item := range r.games.IterBuffered() {
		s.Games++
		s.Participants += len(item.Val.snapshot())
	}
	return s
}

// Participants returns every registered participant across all games.
func (r *Registry) Participants() []*Participant {
	var all []*Participant
	for item := range r.games.IterBuffered() {
		all = append(all, item.Val.snapshot()...)
	}
	return all
}
