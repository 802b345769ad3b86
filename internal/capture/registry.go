package capture

import (
	"sync"
	"time"

	"github.com/audiolibrelab/spotcapture/internal/player"
)

// Registry tracks live capture processes in start order and the tracks that
// were captured long enough to count as recorded
type Registry struct {
	minimum time.Duration

	mu       sync.Mutex
	live     []*Process
	captured map[player.TrackID]string
}

// NewRegistry creates a registry; captures shorter than minimum are not
// remembered as captured
func NewRegistry(minimum time.Duration) *Registry {
	return &Registry{
		minimum:  minimum,
		captured: make(map[player.TrackID]string),
	}
}

// Add appends p to the live set. It reports false if p is already live.
func (r *Registry) Add(p *Process) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.live {
		if existing == p {
			return false
		}
	}
	r.live = append(r.live, p)
	return true
}

// Remove drops p from the live set and reports whether it was present
func (r *Registry) Remove(p *Process) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.live {
		if existing == p {
			r.live = append(r.live[:i:i], r.live[i+1:]...)
			return true
		}
	}
	return false
}

// Live returns a snapshot of the live set in start order
func (r *Registry) Live() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := make([]*Process, len(r.live))
	copy(live, r.live)
	return live
}

// MarkCaptured records id as captured when elapsed reaches the minimum
// duration. It reports whether the track was recorded.
func (r *Registry) MarkCaptured(id player.TrackID, title string, elapsed time.Duration) bool {
	if elapsed < r.minimum {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.captured[id] = title
	return true
}

// Contains reports whether id was captured
func (r *Registry) Contains(id player.TrackID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.captured[id]
	return ok
}

// Captured returns a copy of the captured tracks
func (r *Registry) Captured() map[player.TrackID]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[player.TrackID]string, len(r.captured))
	for id, title := range r.captured {
		out[id] = title
	}
	return out
}

// Minimum returns the minimum duration for a capture to count
func (r *Registry) Minimum() time.Duration {
	return r.minimum
}
