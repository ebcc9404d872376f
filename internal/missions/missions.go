// Package missions derives gamified missions from alerts and grades
// submitted answers.
package missions

import (
	"fmt"
	"time"

	"skywatch/internal/config"
	"skywatch/internal/domain"
)

type Engine struct {
	Config *config.Config
	Now    func() time.Time
}

func New(cfg *config.Config) Engine {
	return Engine{Config: cfg, Now: time.Now}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Convert maps one alert to a self-contained mission, or nil when the
// alert type has no mission. Missions are derived values; identity is
// session-scoped, not durable.
func (e Engine) Convert(alert domain.Alert) *domain.Mission {
	switch alert.Type {
	case domain.AlertLaunch:
		return e.launchMission(alert)
	case domain.AlertSkyEvent:
		return e.skyEventMission(alert)
	case domain.AlertSolar:
		return e.solarMission(alert)
	}
	return nil
}

func (e Engine) launchMission(alert domain.Alert) *domain.Mission {
	return &domain.Mission{
		ID:         e.missionID(domain.MissionMath),
		Title:      fmt.Sprintf("Launch window: %s", alert.Title),
		Difficulty: "medium",
		Type:       domain.MissionMath,
		Briefing: "A launch window is opening. Estimate the window timing and the " +
			"orbital parameters the vehicle needs to hit, then report your numbers.",
		RequiredData: map[string]string{
			"launchId":    payloadString(alert, "launch_id"),
			"windowStart": payloadString(alert, "window_start"),
		},
		TimeLimitSec: e.timeLimit(domain.MissionMath),
	}
}

func (e Engine) skyEventMission(alert domain.Alert) *domain.Mission {
	return &domain.Mission{
		ID:         e.missionID(domain.MissionScience),
		Title:      fmt.Sprintf("Sky watch: %s", alert.Title),
		Difficulty: "easy",
		Type:       domain.MissionScience,
		Briefing: "An astronomical event is coming up. Track its visibility window " +
			"for your location and log when it starts and ends.",
		RequiredData: map[string]string{
			"eventId":    payloadString(alert, "event_id"),
			"start":      payloadString(alert, "start"),
			"end":        payloadString(alert, "end"),
			"visibility": payloadString(alert, "visibility"),
		},
		TimeLimitSec: e.timeLimit(domain.MissionScience),
	}
}

func (e Engine) solarMission(alert domain.Alert) *domain.Mission {
	return &domain.Mission{
		ID:         e.missionID(domain.MissionCyber),
		Title:      "Solar storm watch",
		Difficulty: "hard",
		Type:       domain.MissionCyber,
		Briefing: "Solar activity is elevated. Monitor the flare classification and " +
			"work through the shielding checklist for exposed systems.",
		RequiredData: map[string]string{
			"strongestClass": payloadString(alert, "strongest_class"),
			"severityPct":    payloadString(alert, "severity_pct"),
		},
		TimeLimitSec: e.timeLimit(domain.MissionCyber),
	}
}

// missionID combines the mission type with the engine clock. Unique in
// practice for a single interactive session, not collision-proof under
// clock rollback.
func (e Engine) missionID(t domain.MissionType) string {
	return fmt.Sprintf("%s-%d", t, e.now().UnixMilli())
}

func (e Engine) timeLimit(t domain.MissionType) int {
	if e.Config != nil {
		switch t {
		case domain.MissionScience:
			if v := e.Config.Missions.SkyEventTimeLimitSec; v > 0 {
				return v
			}
		case domain.MissionCyber:
			if v := e.Config.Missions.SolarTimeLimitSec; v > 0 {
				return v
			}
		default:
			if v := e.Config.Missions.DefaultTimeLimitSec; v > 0 {
				return v
			}
		}
	}
	switch t {
	case domain.MissionScience:
		return 1800
	case domain.MissionCyber:
		return 1200
	}
	return 900
}

func payloadString(alert domain.Alert, key string) string {
	v, ok := alert.Payload[key]
	if !ok || v == nil {
		return ""
	}
	switch tv := v.(type) {
	case string:
		return tv
	case float64:
		return trimFloat(tv)
	}
	return fmt.Sprintf("%v", v)
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
