package liveness

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testPinger(url string, now *time.Time) (*Pinger, *atomic.Int64) {
	var hits atomic.Int64
	p := NewPinger(url)
	p.now = func() time.Time { return *now }
	return p, &hits
}

func countingServer(body string, hits *atomic.Int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(body))
	}))
}

func TestTickSchedule(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p, hits := testPinger("", &now)
	srv := countingServer("OK", hits)
	defer srv.Close()
	p.url = srv.URL

	// First tick fires immediately.
	p.Tick()
	assert.EqualValues(t, 1, hits.Load())

	// Within the interval nothing happens.
	now = now.Add(p.interval - time.Second)
	p.Tick()
	assert.EqualValues(t, 1, hits.Load())

	// Once the interval elapsed the next tick fires.
	now = now.Add(2 * time.Second)
	p.Tick()
	assert.EqualValues(t, 2, hits.Load())
}

func TestTickFiresWhenClockGoesBackwards(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p, hits := testPinger("", &now)
	srv := countingServer("OK", hits)
	defer srv.Close()
	p.url = srv.URL

	p.Tick()
	assert.EqualValues(t, 1, hits.Load())

	// Clock adjustment to before the last ping must not starve the schedule.
	now = now.Add(-time.Hour)
	p.Tick()
	assert.EqualValues(t, 2, hits.Load())
}

func TestPingWithoutSuccessMarkerDoesNotPropagate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p, hits := testPinger("", &now)
	srv := countingServer("internal error", hits)
	defer srv.Close()
	p.url = srv.URL

	// A body without the marker only logs a warning.
	assert.NotPanics(t, p.Tick)
	assert.EqualValues(t, 1, hits.Load())

	// The loop keeps pinging afterwards.
	now = now.Add(p.interval)
	p.Tick()
	assert.EqualValues(t, 2, hits.Load())
}

func TestPingTransportFailureIsSwallowed(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p, hits := testPinger("", &now)
	srv := countingServer("OK", hits)
	p.url = srv.URL
	srv.Close() // connection refused from here on

	assert.NotPanics(t, p.Tick)
	assert.EqualValues(t, 0, hits.Load())
}

func TestDisabledPingerNeverCalls(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p, hits := testPinger("", &now)

	p.Tick()
	now = now.Add(time.Hour)
	p.Tick()
	assert.EqualValues(t, 0, hits.Load())
}
