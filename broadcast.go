/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"sync"
	"sync/atomic"
)

// A peer accepts outbound frames without blocking. Enqueue reports false
// when the frame could not be queued (full queue or closing connection).
type peer interface {
	Enqueue(frame []byte) bool
}

// Broadcaster fans frames out to sets of connections. Delivery is
// best-effort and independent per target: each target drains its own
// bounded queue through its own writer, so one slow or broken peer never
// delays the rest. When a queue is full, the new frame is dropped and
// counted - frames already queued keep their order.
type Broadcaster struct {
	cfg *Config

	mu    sync.RWMutex
	peers map[string]peer

	dropped atomic.Uint64
}

func newBroadcaster(cfg *Config) *Broadcaster {
	return &Broadcaster{
		cfg:   cfg,
		peers: make(map[string]peer),
	}
}

func (b *Broadcaster) attach(id string, p peer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.peers[id] = p
}

func (b *Broadcaster) detach(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.peers, id)
}

// broadcast enqueues a frame for each target. Targets that have gone
// away since the snapshot was taken are skipped.
func (b *Broadcaster) broadcast(targets []string, frame []byte) {
	b.mu.RLock()
	recipients := make([]peer, 0, len(targets))
	ids := make([]string, 0, len(targets))
	for _, id := range targets {
		if p, exists := b.peers[id]; exists {
			recipients = append(recipients, p)
			ids = append(ids, id)
		}
	}
	b.mu.RUnlock()

	for i, p := range recipients {
		if !p.Enqueue(frame) {
			b.dropped.Add(1)
			logf(b.cfg, "RELAY: Dropped frame for %s (queue full)", ids[i])
		}
	}
}

// droppedFrames reports how many frames were discarded due to full
// outbound queues since startup.
func (b *Broadcaster) droppedFrames() uint64 {
	return b.dropped.Load()
}
