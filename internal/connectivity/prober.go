package connectivity

import (
	"context"
	"io"
	"net/http"
	"time"

	"taller/internal/config"
	"taller/internal/logging"
	"taller/internal/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const initialOfflineProbe = time.Second

// Prober checks the remote health endpoint and feeds the result into a Monitor.
// While online it probes every interval; while offline it re-probes with an
// exponential backoff capped at maxBackoff so recovery is noticed quickly.
type Prober struct {
	monitor    *Monitor
	client     *http.Client
	url        string
	interval   time.Duration
	maxBackoff time.Duration
	logger     *zerolog.Logger
}

func NewProber(monitor *Monitor, cfg config.ConnectivityConfig, logger *zerolog.Logger) *Prober {
	l := logging.Component(logger, "prober")

	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = models.DefaultProbeTimeout * time.Second
	}
	interval := cfg.ProbeInterval
	if interval <= 0 {
		interval = models.DefaultProbeInterval * time.Second
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = models.DefaultMaxProbeBackoff * time.Second
	}

	return &Prober{
		monitor:    monitor,
		client:     &http.Client{Timeout: timeout},
		url:        cfg.ProbeURL,
		interval:   interval,
		maxBackoff: maxBackoff,
		logger:     l,
	}
}

// Enabled reports whether a probe url is configured.
func (p *Prober) Enabled() bool {
	return p.url != ""
}

// Probe issues one health request. Any answer below 500 counts as reachable.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		p.logger.Error().Err(err).Str("url", p.url).Msg("Invalid probe request")
		return false
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Str("url", p.url).Msg("Probe failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	p.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Probe completed")
	return resp.StatusCode < http.StatusInternalServerError
}

// Run probes until ctx is cancelled. Without a probe url it returns immediately and
// leaves the monitor untouched.
func (p *Prober) Run(ctx context.Context) {
	if !p.Enabled() {
		p.logger.Info().Msg("Connectivity probing disabled")
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = min(initialOfflineProbe, p.interval)
	bo.MaxInterval = p.maxBackoff

	p.logger.Info().Str("url", p.url).Dur("interval", p.interval).Msg("Connectivity prober started")

	for {
		online := p.Probe(ctx)
		if ctx.Err() != nil {
			return
		}
		p.monitor.SetOnline(online)

		wait := p.interval
		if online {
			bo.Reset()
		} else {
			wait = bo.NextBackOff()
			if wait == backoff.Stop {
				wait = p.maxBackoff
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
