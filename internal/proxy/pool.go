// Package proxy manages the pool of proxy endpoints workers route their
// browsers through. Assignment and rotation are atomic: a worker reserves an
// index, uses it, and releases it on rotation or shutdown. When the pool is
// smaller than the worker count, reservation degrades to sharing rather than
// blocking.
package proxy

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"pgharvest/internal/config"
)

// Pool tracks reservation state over a fixed slice of proxy endpoints.
type Pool struct {
	specs []config.ProxySpec

	mu      sync.Mutex
	inUse   map[int]int // reservation counts; >1 means forced sharing
	initial map[int]bool
	rng     *rand.Rand
}

// NewPool builds a pool over the configured endpoints.
func NewPool(specs []config.ProxySpec, seed int64) *Pool {
	return &Pool{
		specs:   specs,
		inUse:   make(map[int]int),
		initial: make(map[int]bool),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Size returns the number of endpoints.
func (p *Pool) Size() int { return len(p.specs) }

// Spec returns the endpoint at idx.
func (p *Pool) Spec(idx int) config.ProxySpec { return p.specs[idx] }

// AssignInitial reserves a starting proxy for a worker. The preferred index
// is workerID modulo pool size; if that is busy or excluded, the first free
// non-excluded index is taken; if every index is busy, the preferred index is
// shared. The chosen index is remembered as an initial assignment.
func (p *Pool) AssignInitial(workerID int, exclude map[int]bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	preferred := workerID % len(p.specs)
	idx := -1
	if p.inUse[preferred] == 0 && !exclude[preferred] {
		idx = preferred
	} else {
		for i := range p.specs {
			if p.inUse[i] == 0 && !exclude[i] {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		idx = preferred
	}

	p.inUse[idx]++
	p.initial[idx] = true
	return idx
}

// Rotate releases current and reserves a different index, preferring free
// endpoints. When everything else is busy it falls back to sharing a busy
// endpoint, and keeps current only if the pool has a single entry.
func (p *Pool) Rotate(current int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var free, busy []int
	for i := range p.specs {
		if i == current {
			continue
		}
		if p.inUse[i] == 0 {
			free = append(free, i)
		} else {
			busy = append(busy, i)
		}
	}

	candidates := free
	if len(candidates) == 0 {
		candidates = busy
	}
	if len(candidates) == 0 {
		return current
	}

	next := candidates[p.rng.Intn(len(candidates))]
	if p.inUse[current] > 0 {
		p.inUse[current]--
	}
	p.inUse[next]++
	return next
}

// Release frees a reservation made by AssignInitial or Rotate.
func (p *Pool) Release(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse[idx] > 0 {
		p.inUse[idx]--
	}
}

// InitialIndices returns a copy of the set of indices that were handed out as
// initial assignments. A later phase can exclude these to start on fresh
// egress IPs.
func (p *Pool) InitialIndices() map[int]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int]bool, len(p.initial))
	for i := range p.initial {
		out[i] = true
	}
	return out
}

// Label returns a maskable display name for the endpoint at idx. Provider
// usernames often embed the egress IP after an "-ip-" token; when present the
// final octet is masked, otherwise a positional placeholder is used.
func (p *Pool) Label(idx int) string {
	if idx < 0 || idx >= len(p.specs) {
		return fmt.Sprintf("proxy_%d", idx)
	}
	username := p.specs[idx].Username
	if pos := strings.Index(username, "-ip-"); pos >= 0 {
		ip := username[pos+len("-ip-"):]
		if end := strings.IndexByte(ip, '-'); end >= 0 {
			ip = ip[:end]
		}
		parts := strings.Split(ip, ".")
		if len(parts) == 4 {
			parts[3] = "xxx"
			return strings.Join(parts, ".")
		}
	}
	return fmt.Sprintf("proxy_%d", idx)
}
