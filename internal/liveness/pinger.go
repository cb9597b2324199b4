package liveness

import (
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DMartelly/amridm2mqtt/internal/metrics"
)

const (
	// DefaultInterval is the wall-clock time between outbound pings.
	DefaultInterval = 300 * time.Second

	successMarker  = "OK"
	requestTimeout = 10 * time.Second
)

// Pinger performs a periodic outbound call proving the daemon is alive to
// an external monitor. It runs inline on the processing loop, a slow ping
// stalls line processing for at most requestTimeout.
type Pinger struct {
	url      string
	interval time.Duration
	client   *http.Client
	now      func() time.Time
	last     time.Time
}

// NewPinger returns a pinger for the given endpoint. An empty URL disables
// pinging entirely.
func NewPinger(url string) *Pinger {
	return &Pinger{
		url:      url,
		interval: DefaultInterval,
		client:   &http.Client{Timeout: requestTimeout},
		now:      time.Now,
	}
}

// Tick fires a ping when the interval has elapsed since the previous one.
// A clock that moved backwards counts as elapsed, otherwise a clock
// adjustment could starve the schedule indefinitely.
func (p *Pinger) Tick() {
	if p.url == "" {
		return
	}
	elapsed := p.now().Sub(p.last)
	if elapsed >= 0 && elapsed < p.interval {
		return
	}
	p.last = p.now()
	p.ping()
}

// ping never propagates a failure, the main loop must survive a dead
// monitoring endpoint.
func (p *Pinger) ping() {
	metrics.LivenessPings.Inc()

	resp, err := p.client.Get(p.url)
	if err != nil {
		zap.S().Errorf("Error sending liveness ping: %v", err)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		zap.S().Errorf("Error reading liveness ping response: %v", err)
		return
	}
	if strings.Contains(string(body), successMarker) {
		zap.S().Infof("Liveness ping acknowledged")
	} else {
		zap.S().Warnf("Liveness ping got unexpected response: %q", string(body))
	}
}
