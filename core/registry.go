package orchestration

import (
	"sync"

	"github.com/google/uuid"
)

// TurnRegistry tracks which turn currently owns the conversation. At most one
// turn is active at a time; beginning a turn supersedes the previous one.
// Events tagged with a superseded turn id fail the IsActive check and are
// dropped without reaching the client.
type TurnRegistry struct {
	mu       sync.Mutex
	activeID string
}

func NewTurnRegistry() *TurnRegistry {
	return &TurnRegistry{}
}

// BeginTurn activates a freshly minted turn id and returns it together with
// the id it superseded. The superseded id is empty for the first turn.
func (r *TurnRegistry) BeginTurn() (turnID string, supersededID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	supersededID = r.activeID
	r.activeID = uuid.NewString()
	return r.activeID, supersededID
}

// Supersede deactivates the current turn without beginning a new one and
// returns its id. Used to silence the conversation outright, without a
// replacement turn.
func (r *TurnRegistry) Supersede() (supersededID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	supersededID = r.activeID
	r.activeID = ""
	return supersededID
}

// IsActive reports whether the given turn id is the currently active one.
// An empty id is never active.
func (r *TurnRegistry) IsActive(turnID string) bool {
	if turnID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID == turnID
}

// ActiveTurn returns the currently active turn id, or empty if no turn has
// begun yet.
func (r *TurnRegistry) ActiveTurn() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}
