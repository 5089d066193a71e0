// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events carries session-wide signals between sessiongate components.
//
// The HTTP gateway and the credential watcher publish; the session state
// machine and the navigator subscribe. Nothing in the networking layer calls
// into navigation or session state directly.
package events

import (
	"sync"
)

// Event is any signal delivered on the Bus.
type Event interface {
	eventName() string
}

// Unauthorized is published when the server rejects a credential (HTTP 401)
// on a request that was not a credential exchange.
type Unauthorized struct {
	Method string
	Path   string
}

func (Unauthorized) eventName() string { return "unauthorized" }

// CredentialCleared is published when the persisted credential disappears
// outside this process (another terminal signed out).
type CredentialCleared struct {
	Source string
}

func (CredentialCleared) eventName() string { return "credential.cleared" }

// Name returns the wire name of an event, for logging.
func Name(e Event) string {
	if e == nil {
		return ""
	}
	return e.eventName()
}

// Handler receives published events.
type Handler func(Event)

// Bus is a synchronous publish/subscribe hub. Handlers run on the publisher's
// goroutine, in subscription order, so a subscriber has observed an event
// before Publish returns.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	order    []int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers e to every current subscriber. Handlers are snapshotted
// before delivery, so a handler may subscribe or unsubscribe without deadlock.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(e)
	}
}
