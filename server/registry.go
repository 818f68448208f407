//go:build linux

package server

import (
	"errors"

	terrr "github.com/touka-aoi/low-level-relay/core/errors"
	"github.com/touka-aoi/low-level-relay/server/peer"
)

var ErrAlreadyRegistered = errors.New("connection already registered")

// Registry owns the live connections. Order carries no meaning: removal moves
// the last entry into the freed slot, so positions must never be cached.
type Registry struct {
	peers    []*peer.Peer
	index    map[int32]int
	capacity int
	max      int
}

func NewRegistry(initialCapacity, maxEntries int) *Registry {
	if maxEntries <= 0 {
		maxEntries = maxConnections
	}
	if initialCapacity <= 0 || initialCapacity > maxEntries {
		initialCapacity = min(DefaultInitialCapacity, maxEntries)
	}
	return &Registry{
		peers:    make([]*peer.Peer, 0, initialCapacity),
		index:    make(map[int32]int, initialCapacity),
		capacity: initialCapacity,
		max:      maxEntries,
	}
}

func (r *Registry) Len() int {
	return len(r.peers)
}

func (r *Registry) Cap() int {
	return r.capacity
}

// Add registers p, doubling capacity first when full.
func (r *Registry) Add(p *peer.Peer) error {
	if _, ok := r.index[p.Fd()]; ok {
		return ErrAlreadyRegistered
	}
	if len(r.peers) == r.capacity {
		if err := r.grow(); err != nil {
			return err
		}
	}
	r.index[p.Fd()] = len(r.peers)
	r.peers = append(r.peers, p)
	return nil
}

func (r *Registry) grow() error {
	if r.capacity >= r.max {
		return terrr.ErrRegistryFull
	}
	newCapacity := min(r.capacity*2, r.max)
	grown := make([]*peer.Peer, len(r.peers), newCapacity)
	copy(grown, r.peers)
	r.peers = grown
	r.capacity = newCapacity
	return nil
}

// Remove swaps the entry for fd with the last one and shrinks the live count.
func (r *Registry) Remove(fd int32) bool {
	i, ok := r.index[fd]
	if !ok {
		return false
	}
	last := len(r.peers) - 1
	if i != last {
		r.peers[i] = r.peers[last]
		r.index[r.peers[i].Fd()] = i
	}
	r.peers[last] = nil
	r.peers = r.peers[:last]
	delete(r.index, fd)
	return true
}

func (r *Registry) IsRegistered(fd int32) bool {
	_, ok := r.index[fd]
	return ok
}

func (r *Registry) Get(fd int32) (*peer.Peer, bool) {
	i, ok := r.index[fd]
	if !ok {
		return nil, false
	}
	return r.peers[i], true
}

// ForEach calls fn for every live entry. When fn returns true the current
// entry is removed and the slot is visited again, since it now holds the
// entry that used to be last. fn must not remove any other entry.
func (r *Registry) ForEach(fn func(p *peer.Peer) (remove bool)) {
	for i := 0; i < len(r.peers); i++ {
		p := r.peers[i]
		if fn(p) {
			r.Remove(p.Fd())
		}
		if i >= len(r.peers) || r.peers[i] != p {
			i--
		}
	}
}

// Drain calls fn for every entry and empties the registry.
func (r *Registry) Drain(fn func(p *peer.Peer)) {
	for _, p := range r.peers {
		fn(p)
	}
	clear(r.peers)
	r.peers = r.peers[:0]
	clear(r.index)
}
