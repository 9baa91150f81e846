package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_EdgeTriggered(t *testing.T) {
	m := NewMonitor(nil, time.Minute)

	var transitions []bool
	m.Subscribe(func(online bool) {
		transitions = append(transitions, online)
	})

	// Redundant level reports must not re-fire.
	m.SetOnline(false)
	m.SetOnline(false)
	assert.Empty(t, transitions)

	m.SetOnline(true)
	m.SetOnline(true)
	m.SetOnline(true)
	require.Len(t, transitions, 1, "three identical reports are one edge")
	assert.True(t, transitions[0])
	assert.True(t, m.IsOnline())

	m.SetOnline(false)
	require.Len(t, transitions, 2)
	assert.False(t, transitions[1])
	assert.False(t, m.IsOnline())
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(nil, time.Minute)

	var calls int
	unsubscribe := m.Subscribe(func(bool) { calls++ })

	m.SetOnline(true)
	assert.Equal(t, 1, calls)

	unsubscribe()
	m.SetOnline(false)
	assert.Equal(t, 1, calls, "unsubscribed callback must not fire")
}

func TestMonitor_MultipleSubscribers(t *testing.T) {
	m := NewMonitor(nil, time.Minute)

	var a, b int
	m.Subscribe(func(bool) { a++ })
	m.Subscribe(func(bool) { b++ })

	m.SetOnline(true)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestHTTPProbe_Check(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	assert.True(t, NewHTTPProbe(healthy.URL).Check(context.Background()))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	assert.False(t, NewHTTPProbe(broken.URL).Check(context.Background()))

	unreachable := NewHTTPProbe("http://127.0.0.1:1")
	assert.False(t, unreachable.Check(context.Background()))
}
