// Package alerts merges the launch, sky-event and solar feeds into a
// single deterministically ordered alert list.
package alerts

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"skywatch/internal/config"
	"skywatch/internal/domain"
	"skywatch/internal/feeds"
)

type Engine struct {
	Feeds  feeds.Source
	Config *config.Config
	Log    zerolog.Logger
}

func New(src feeds.Source, cfg *config.Config, log zerolog.Logger) Engine {
	return Engine{Feeds: src, Config: cfg, Log: log}
}

// Sources carries caller-supplied feed collections. A nil Launches or
// SkyEvents slice means "not supplied, fetch it"; a non-nil empty slice is
// a supplied empty result. SolarSet distinguishes a supplied-absent solar
// summary from an omitted one.
type Sources struct {
	Launches  []feeds.Launch
	SkyEvents []feeds.SkyEvent
	Solar     *feeds.SolarSummary
	SolarSet  bool
}

// Generate builds the merged alert list. Omitted sources are fetched
// concurrently; a failed fetch degrades to an empty collection instead of
// aborting the aggregation. When the caller supplies all three sources no
// network access happens.
func (e Engine) Generate(ctx context.Context, in Sources) ([]domain.Alert, error) {
	g, gctx := errgroup.WithContext(ctx)
	if in.Launches == nil {
		g.Go(func() error {
			launches, err := e.Feeds.UpcomingLaunches(gctx)
			if err != nil {
				e.Log.Warn().Err(err).Msg("launch source failed, continuing without")
				launches = []feeds.Launch{}
			}
			in.Launches = launches
			return nil
		})
	}
	if in.SkyEvents == nil {
		g.Go(func() error {
			events, err := e.Feeds.UpcomingSkyEvents(gctx)
			if err != nil {
				e.Log.Warn().Err(err).Msg("sky-event source failed, continuing without")
				events = []feeds.SkyEvent{}
			}
			in.SkyEvents = events
			return nil
		})
	}
	if !in.SolarSet {
		g.Go(func() error {
			solar, err := e.Feeds.SolarActivity(gctx)
			if err != nil {
				e.Log.Warn().Err(err).Msg("solar source failed, continuing without")
				solar = nil
			}
			in.Solar = solar
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return e.build(in), nil
}

func (e Engine) build(in Sources) []domain.Alert {
	out := make([]domain.Alert, 0, len(in.Launches)+len(in.SkyEvents)+1)
	for _, l := range in.Launches {
		out = append(out, launchAlert(l))
	}
	for _, ev := range in.SkyEvents {
		out = append(out, skyEventAlert(ev))
	}
	if in.Solar != nil {
		out = append(out, e.solarAlert(*in.Solar))
	}
	sortAlerts(out)
	return out
}

func launchAlert(l feeds.Launch) domain.Alert {
	id := l.ID
	if id == "" {
		id = l.Name
	}
	start := firstNonEmpty(l.Net, l.WindowStart)
	return domain.Alert{
		ID:               fmt.Sprintf("launch:%s", id),
		Type:             domain.AlertLaunch,
		Title:            l.Name,
		Severity:         domain.SeverityMedium,
		Priority:         domain.SeverityMedium.Rank(),
		Source:           "launch-catalog",
		StartTime:        optionalTime(start),
		MissionAvailable: true,
		Payload: map[string]any{
			"launch_id":    l.ID,
			"window_start": firstNonEmpty(l.WindowStart, l.Net),
			"provider":     l.Provider,
		},
	}
}

func skyEventAlert(ev feeds.SkyEvent) domain.Alert {
	id := ev.ID
	if id == "" {
		id = ev.Title
	}
	severity := domain.SeverityInfo
	if isEclipse(ev.Type) {
		severity = domain.SeverityHigh
	}
	return domain.Alert{
		ID:               fmt.Sprintf("sky-event:%s", id),
		Type:             domain.AlertSkyEvent,
		Title:            ev.Title,
		Severity:         severity,
		Priority:         severity.Rank(),
		Source:           "sky-calendar",
		StartTime:        optionalTime(ev.Start),
		MissionAvailable: true,
		Payload: map[string]any{
			"event_id":   ev.ID,
			"start":      ev.Start,
			"end":        ev.End,
			"visibility": ev.Visibility,
			"category":   ev.Type,
		},
	}
}

func (e Engine) solarAlert(s feeds.SolarSummary) domain.Alert {
	threshold := 60
	if e.Config != nil && e.Config.Alerts.SolarHighPct > 0 {
		threshold = e.Config.Alerts.SolarHighPct
	}
	severity := domain.SeverityInfo
	if s.SeverityPct >= float64(threshold) {
		severity = domain.SeverityHigh
	}
	title := "Solar activity update"
	if s.StrongestClass != "" {
		title = fmt.Sprintf("Solar activity: strongest flare %s", s.StrongestClass)
	}
	return domain.Alert{
		ID:               "solar:summary",
		Type:             domain.AlertSolar,
		Title:            title,
		Severity:         severity,
		Priority:         severity.Rank(),
		Source:           "solar-weather",
		MissionAvailable: true,
		Payload: map[string]any{
			"strongest_class": s.StrongestClass,
			"severity_pct":    s.SeverityPct,
		},
	}
}

// sortAlerts orders by start time ascending with absent times last, then
// priority descending, then id ascending. The id tiebreak makes the order
// fully deterministic for fixed input.
func sortAlerts(list []domain.Alert) {
	starts := make(map[string]time.Time, len(list))
	for _, a := range list {
		if a.StartTime == nil {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, *a.StartTime); err == nil {
			starts[a.ID] = ts
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		ti, iok := starts[list[i].ID]
		tj, jok := starts[list[j].ID]
		switch {
		case iok && !jok:
			return true
		case !iok && jok:
			return false
		case iok && jok && !ti.Equal(tj):
			return ti.Before(tj)
		}
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].ID < list[j].ID
	})
}

// FilterByPreference drops alerts whose type is muted or whose severity
// ranks below min. The relative order of survivors is preserved.
func FilterByPreference(list []domain.Alert, mutedTypes []domain.AlertType, minSeverity domain.Severity) []domain.Alert {
	muted := make(map[domain.AlertType]bool, len(mutedTypes))
	for _, t := range mutedTypes {
		muted[t] = true
	}
	minRank := minSeverity.Rank()
	out := make([]domain.Alert, 0, len(list))
	for _, a := range list {
		if muted[a.Type] {
			continue
		}
		if a.Severity.Rank() < minRank {
			continue
		}
		out = append(out, a)
	}
	return out
}

func isEclipse(category string) bool {
	switch category {
	case "solar-eclipse", "lunar-eclipse", "eclipse":
		return true
	}
	return false
}

func optionalTime(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
