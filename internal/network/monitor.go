// Package network tracks connectivity and raises edge-triggered events on
// offline/online transitions.
package network

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Probe answers "are we online right now". Implementations must be safe for
// repeated calls.
type Probe interface {
	Check(ctx context.Context) bool
}

// HTTPProbe considers the network up when the target answers anything below
// 500. The target is typically the remote system's health endpoint.
type HTTPProbe struct {
	url    string
	client *http.Client
}

func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *HTTPProbe) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Monitor polls a Probe and notifies subscribers only when the state actually
// flips. Redundant reports of the same state never re-fire callbacks.
type Monitor struct {
	probe    Probe
	interval time.Duration

	mu     sync.Mutex
	online bool
	subs   map[int]func(online bool)
	nextID int
}

// NewMonitor starts in the offline state; the first successful probe is an
// offline -> online edge, which gives subscribers an initial resume signal.
func NewMonitor(probe Probe, interval time.Duration) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		subs:     make(map[int]func(online bool)),
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a transition callback and returns its unsubscribe
// handle.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// SetOnline feeds an observed connectivity state through edge detection.
// Platform connectivity events can report the same level many times; the
// callbacks fire once per transition.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// Start polls the probe until ctx is cancelled. The first check runs
// immediately.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		m.SetOnline(m.probe.Check(ctx))

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SetOnline(m.probe.Check(ctx))
			}
		}
	}()
}
