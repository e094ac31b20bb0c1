/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

type registryEntry struct {
	username string
	joinedAt time.Time
}

// Registry is the authoritative mapping of open connections to identity.
// It is the single piece of state shared between connection handlers, so
// every method holds the lock only long enough to touch the maps - never
// across any I/O. Connections appear here exactly as long as the socket
// is open; a username, once set, stays fixed for the connection's life.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	order   []string
}

func newRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
	}
}

// register adds an unauthenticated entry. A duplicate id is an invariant
// violation on the caller's side and is reported, not absorbed.
func (r *Registry) register(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return errDuplicateConnection
	}

	r.entries[id] = &registryEntry{}
	r.order = append(r.order, id)

	return nil
}

// setUsername validates and stores the display name for a connection.
// Duplicate display names across connections are allowed - routing is by
// id, never by name - but renaming a connection is not.
func (r *Registry) setUsername(id, username string) error {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > maxUsernameLength {
		return errUsernameInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[id]
	if !exists {
		return errUnknownConnection
	}
	if entry.username != "" {
		return errUsernameSet
	}

	entry.username = trimmed
	entry.joinedAt = time.Now()

	return nil
}

// username returns the display name for a connection, if one was set.
func (r *Registry) username(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[id]
	if !exists || entry.username == "" {
		return "", false
	}

	return entry.username, true
}

// unregister removes a connection and returns its username, if any, for
// the leave notification. Idempotent - unregistering an absent id is a
// no-op.
func (r *Registry) unregister(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[id]
	if !exists {
		return "", false
	}

	delete(r.entries, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	return entry.username, entry.username != ""
}

// list returns a snapshot of all open connection ids in join order,
// including connections that have not yet sent a join frame.
func (r *Registry) list() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]string, len(r.order))
	copy(snapshot, r.order)

	return snapshot
}

// listExcept returns the fan-out targets for a frame from the given
// sender: every other open connection, in join order.
func (r *Registry) listExcept(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]string, 0, len(r.order))
	for _, existing := range r.order {
		if existing != id {
			targets = append(targets, existing)
		}
	}

	return targets
}

// stats reports connection counts for the stats endpoint.
func (r *Registry) stats() (connections, joined int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		if entry.username != "" {
			joined++
		}
	}

	return len(r.entries), joined
}
