// Package feeds wraps the three external data sources the alert engine
// consumes: the launch catalog, the sky-event calendar, and the solar
// activity summary. Each fetch goes through a circuit breaker and a
// read-through TTL cache with stale-read fallback.
package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"skywatch/internal/cache"
	"skywatch/internal/config"
)

const (
	cacheKeyLaunches  = "feeds:launches"
	cacheKeySkyEvents = "feeds:sky_events"
	cacheKeySolar     = "feeds:solar"

	// CachePrefix namespaces every feed cache key.
	CachePrefix = "feeds:"
)

// Launch is one upcoming launch from the catalog.
type Launch struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Net         string `json:"net"`
	WindowStart string `json:"window_start"`
	Provider    string `json:"provider,omitempty"`
	Pad         string `json:"pad,omitempty"`
}

// SkyEvent is one upcoming astronomical event.
type SkyEvent struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Type       string `json:"type"`
	Start      string `json:"start"`
	End        string `json:"end,omitempty"`
	Visibility string `json:"visibility,omitempty"`
}

// SolarSummary is the most recent solar-activity rollup, or absent when
// the feed has nothing to report.
type SolarSummary struct {
	StrongestClass string  `json:"strongest_class"`
	SeverityPct    float64 `json:"severity_pct"`
	FlareCount     int     `json:"flare_count,omitempty"`
	ObservedAt     string  `json:"observed_at,omitempty"`
}

// Source is the read surface the alert engine depends on.
type Source interface {
	UpcomingLaunches(ctx context.Context) ([]Launch, error)
	UpcomingSkyEvents(ctx context.Context) ([]SkyEvent, error)
	SolarActivity(ctx context.Context) (*SolarSummary, error)
}

// Client fetches from the configured feed endpoints.
type Client struct {
	cfg   *config.Config
	http  *http.Client
	cache *cache.Cache
	log   zerolog.Logger

	launchCB *gobreaker.CircuitBreaker[[]Launch]
	skyCB    *gobreaker.CircuitBreaker[[]SkyEvent]
	solarCB  *gobreaker.CircuitBreaker[*SolarSummary]
}

func NewClient(cfg *config.Config, c *cache.Cache, log zerolog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: 10 * time.Second},
		cache:    c,
		log:      log,
		launchCB: newBreaker[[]Launch]("launches"),
		skyCB:    newBreaker[[]SkyEvent]("sky_events"),
		solarCB:  newBreaker[*SolarSummary]("solar"),
	}
}

func newBreaker[T any](name string) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:    name,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// UpcomingLaunches returns the launch catalog, preferring a fresh cache
// entry, then the live feed, then a stale cache entry.
func (c *Client) UpcomingLaunches(ctx context.Context) ([]Launch, error) {
	var cached []Launch
	if c.cache.Lookup(ctx, cacheKeyLaunches, false, &cached) {
		return cached, nil
	}
	fresh, err := c.launchCB.Execute(func() ([]Launch, error) {
		var out struct {
			Results []Launch `json:"results"`
		}
		if err := c.getJSON(ctx, c.cfg.Feeds.Launches.URL, &out); err != nil {
			return nil, err
		}
		return out.Results, nil
	})
	if err != nil {
		if c.cache.Lookup(ctx, cacheKeyLaunches, true, &cached) {
			c.log.Warn().Err(err).Msg("launch feed unavailable, serving stale cache")
			return cached, nil
		}
		return nil, fmt.Errorf("fetch launches: %w", err)
	}
	c.cache.SetWithTTL(ctx, cacheKeyLaunches, fresh, c.cfg.Feeds.Launches.TTL.Std())
	return fresh, nil
}

// UpcomingSkyEvents returns the astronomical event calendar with the same
// cache discipline as UpcomingLaunches.
func (c *Client) UpcomingSkyEvents(ctx context.Context) ([]SkyEvent, error) {
	var cached []SkyEvent
	if c.cache.Lookup(ctx, cacheKeySkyEvents, false, &cached) {
		return cached, nil
	}
	fresh, err := c.skyCB.Execute(func() ([]SkyEvent, error) {
		var out []SkyEvent
		if err := c.getJSON(ctx, c.cfg.Feeds.SkyEvents.URL, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		if c.cache.Lookup(ctx, cacheKeySkyEvents, true, &cached) {
			c.log.Warn().Err(err).Msg("sky-event feed unavailable, serving stale cache")
			return cached, nil
		}
		return nil, fmt.Errorf("fetch sky events: %w", err)
	}
	c.cache.SetWithTTL(ctx, cacheKeySkyEvents, fresh, c.cfg.Feeds.SkyEvents.TTL.Std())
	return fresh, nil
}

// SolarActivity returns the latest solar summary, or nil when the feed has
// nothing to report.
func (c *Client) SolarActivity(ctx context.Context) (*SolarSummary, error) {
	var cached *SolarSummary
	if c.cache.Lookup(ctx, cacheKeySolar, false, &cached) {
		return cached, nil
	}
	fresh, err := c.solarCB.Execute(func() (*SolarSummary, error) {
		var out *SolarSummary
		if err := c.getJSON(ctx, c.cfg.Feeds.Solar.URL, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		if c.cache.Lookup(ctx, cacheKeySolar, true, &cached) {
			c.log.Warn().Err(err).Msg("solar feed unavailable, serving stale cache")
			return cached, nil
		}
		return nil, fmt.Errorf("fetch solar activity: %w", err)
	}
	c.cache.SetWithTTL(ctx, cacheKeySolar, fresh, c.cfg.Feeds.Solar.TTL.Std())
	return fresh, nil
}

// Refresh re-fetches all three feeds, bypassing fresh cache entries, and
// warms the cache with whatever succeeds.
func (c *Client) Refresh(ctx context.Context) error {
	c.cache.ClearPrefix(ctx, CachePrefix)
	var firstErr error
	if _, err := c.UpcomingLaunches(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if _, err := c.UpcomingSkyEvents(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if _, err := c.SolarActivity(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("feed %s: status %d", url, resp.StatusCode)
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
