// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package nav

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sessiongate/internal/events"
)

func drain(r *Router) []Change {
	var out []Change
	for {
		select {
		case c := <-r.Changes():
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestNew_ResolvesStart(t *testing.T) {
	var authed atomic.Bool

	tests := []struct {
		name  string
		start Route
		auth  bool
		want  Route
	}{
		{"root", RouteRoot, false, RouteDashboard},
		{"login signed out", RouteLogin, false, RouteLogin},
		{"login signed in", RouteLogin, true, RouteDashboard},
		{"upload", RouteUpload, false, RouteUpload},
		{"unknown", Route("/nope"), false, RouteDashboard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authed.Store(tt.auth)
			r := New(tt.start, authed.Load, nil)
			if got := r.Current(); got != tt.want {
				t.Errorf("Current() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNavigate(t *testing.T) {
	var authed atomic.Bool
	r := New(RouteLogin, authed.Load, nil)

	assert.Equal(t, RouteUpload, r.Navigate(RouteUpload))
	assert.Equal(t, RouteUpload, r.Navigate(RouteUpload), "same route")

	authed.Store(true)
	assert.Equal(t, RouteDashboard, r.Navigate(RouteLogin), "login while authenticated")

	changes := drain(r)
	require.Len(t, changes, 2)
	assert.Equal(t, Change{From: RouteLogin, To: RouteUpload, Seq: 1}, changes[0])
	assert.Equal(t, Change{From: RouteUpload, To: RouteDashboard, Seq: 2}, changes[1])
}

func TestRedirect_CollapsesRepeats(t *testing.T) {
	r := New(RouteDashboard, nil, nil)

	assert.True(t, r.Redirect(RouteLogin))
	assert.False(t, r.Redirect(RouteLogin))
	assert.False(t, r.Redirect(RouteLogin))
	assert.Equal(t, 1, r.Redirects())

	changes := drain(r)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Hard)
	assert.Equal(t, RouteLogin, changes[0].To)

	// A navigation in between re-arms the redirect.
	r.Navigate(RouteDashboard)
	assert.True(t, r.Redirect(RouteLogin))
	assert.Equal(t, 2, r.Redirects())
}

func TestRedirect_SameRouteWithoutPriorRedirect(t *testing.T) {
	r := New(RouteLogin, nil, nil)
	assert.True(t, r.Redirect(RouteLogin), "first hard redirect still happens")
	assert.False(t, r.Redirect(RouteLogin))
}

func TestAttach_UnauthorizedRedirectsOnce(t *testing.T) {
	bus := events.NewBus()
	r := New(RouteDashboard, nil, nil)
	detach := r.Attach(bus)

	// A 401 from the unrelated call and the gate's own redirect land on the
	// same route; the user sees one redirect.
	bus.Publish(events.Unauthorized{Method: "GET", Path: "/api/dashboard/students"})
	r.Redirect(RouteLogin)

	assert.Equal(t, RouteLogin, r.Current())
	assert.Equal(t, 1, r.Redirects())

	detach()
	r.Navigate(RouteUpload)
	bus.Publish(events.Unauthorized{})
	assert.Equal(t, RouteUpload, r.Current(), "detached router ignores the bus")
}

func TestChanges_DropsOldestWhenFull(t *testing.T) {
	r := New(RouteDashboard, nil, nil)
	for i := 0; i < changeBuffer+5; i++ {
		if i%2 == 0 {
			r.Navigate(RouteUpload)
		} else {
			r.Navigate(RouteDashboard)
		}
	}

	changes := drain(r)
	require.Len(t, changes, changeBuffer)
	assert.Equal(t, uint64(changeBuffer+5), changes[len(changes)-1].Seq)
}

func TestRoute_Protected(t *testing.T) {
	assert.True(t, RouteDashboard.Protected())
	assert.True(t, RouteUpload.Protected())
	assert.False(t, RouteLogin.Protected())
}

func TestPosition(t *testing.T) {
	r := New(RouteLogin, nil, nil)
	route, seq := r.Position()
	assert.Equal(t, RouteLogin, route)
	assert.Zero(t, seq)

	r.Navigate(RouteUpload)
	r.Redirect(RouteLogin)
	route, seq = r.Position()
	assert.Equal(t, RouteLogin, route)
	assert.Equal(t, uint64(2), seq, "same route after a round trip still moves the sequence")
}
