// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package nav tracks the current route and performs in-app and hard navigation.
package nav

import (
	"log/slog"
	"sync"

	"github.com/jeranaias/sessiongate/internal/events"
	"github.com/jeranaias/sessiongate/internal/logging"
)

// Route is an application path.
type Route string

const (
	RouteRoot      Route = "/"
	RouteLogin     Route = "/login"
	RouteDashboard Route = "/dashboard"
	RouteUpload    Route = "/upload"
)

// Protected reports whether r sits behind the route gate.
func (r Route) Protected() bool {
	return r == RouteDashboard || r == RouteUpload
}

// Change describes one route change.
type Change struct {
	From Route
	To   Route
	// Hard is set for redirects. A hard change discards mounted view state.
	Hard bool
	// Seq increases by one per change.
	Seq uint64
}

// changeBuffer bounds Changes(); when full the oldest change is dropped.
const changeBuffer = 16

// =============================================================================
// ROUTER
// =============================================================================

// Router holds the current route. It is safe for concurrent use.
type Router struct {
	mu      sync.Mutex
	current Route
	// collapsed is the target of the last hard redirect while no other change
	// has happened since; a repeat redirect to it is dropped.
	collapsed Route
	seq       uint64
	redirects int

	authenticated func() bool
	changes       chan Change
	log           *slog.Logger
}

// New creates a router at start. authenticated reports the current session
// state and may be nil (treated as signed out).
func New(start Route, authenticated func() bool, log *slog.Logger) *Router {
	if authenticated == nil {
		authenticated = func() bool { return false }
	}
	r := &Router{
		authenticated: authenticated,
		changes:       make(chan Change, changeBuffer),
		log:           logging.OrDiscard(log).With("component", "nav"),
	}
	r.current = r.resolve(start)
	return r
}

// Current returns the current route.
func (r *Router) Current() Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Position returns the current route and the sequence number of the change
// that produced it, read together.
func (r *Router) Position() (Route, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.seq
}

// Changes delivers route changes in order.
func (r *Router) Changes() <-chan Change {
	return r.changes
}

// Redirects returns how many hard redirects have been performed.
func (r *Router) Redirects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redirects
}

// Navigate performs an in-app change to route and returns where it landed.
// Navigating to the current route is a no-op.
func (r *Router) Navigate(route Route) Route {
	r.mu.Lock()
	defer r.mu.Unlock()

	to := r.resolve(route)
	if to == r.current {
		return to
	}
	r.collapsed = ""
	r.emitLocked(to, false)
	return to
}

// Redirect performs a hard change to route. A redirect to the route the
// previous redirect already landed on, with nothing in between, collapses
// into it. Reports whether a change was made.
func (r *Router) Redirect(route Route) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if route == RouteRoot {
		route = RouteDashboard
	}
	if r.collapsed == route && r.current == route {
		r.log.Debug("redirect collapsed", "to", string(route))
		return false
	}
	r.collapsed = route
	r.redirects++
	r.emitLocked(route, true)
	r.log.Info("redirect", "to", string(route))
	return true
}

// Attach redirects to the sign-in route on every unauthorized signal.
func (r *Router) Attach(bus *events.Bus) (detach func()) {
	return bus.Subscribe(func(e events.Event) {
		if _, ok := e.(events.Unauthorized); ok {
			r.Redirect(RouteLogin)
		}
	})
}

func (r *Router) resolve(route Route) Route {
	switch route {
	case RouteLogin:
		if r.authenticated() {
			return RouteDashboard
		}
		return RouteLogin
	case RouteDashboard, RouteUpload:
		return route
	default:
		return RouteDashboard
	}
}

func (r *Router) emitLocked(to Route, hard bool) {
	r.seq++
	c := Change{From: r.current, To: to, Hard: hard, Seq: r.seq}
	r.current = to

	for {
		select {
		case r.changes <- c:
			return
		default:
		}
		select {
		case <-r.changes:
		default:
		}
	}
}
