package domain

// AlertType identifies which external feed an alert came from.
type AlertType string

const (
	AlertLaunch   AlertType = "launch"
	AlertSkyEvent AlertType = "sky-event"
	AlertSolar    AlertType = "solar"
)

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank returns the ordering weight of a severity (info < medium < high).
// Unknown severities rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

type Alert struct {
	ID               string         `json:"id"`
	Type             AlertType      `json:"type" enum:"launch,sky-event,solar"`
	Title            string         `json:"title"`
	Severity         Severity       `json:"severity" enum:"info,medium,high"`
	Priority         int            `json:"priority"`
	Source           string         `json:"source"`
	StartTime        *string        `json:"start_time,omitempty" format:"date-time"`
	MissionAvailable bool           `json:"mission_available"`
	Payload          map[string]any `json:"payload,omitempty"`
}

// MissionType identifies the flavor of task a mission asks for.
type MissionType string

const (
	MissionMath    MissionType = "math"
	MissionCyber   MissionType = "cyber"
	MissionLinux   MissionType = "linux"
	MissionScience MissionType = "science"
)

// AnswerType identifies how an expected answer is checked.
type AnswerType string

const (
	AnswerNumber AnswerType = "number"
	AnswerChoice AnswerType = "choice"
	AnswerText   AnswerType = "text"
)

type ExpectedAnswer struct {
	Type      AnswerType `json:"type" enum:"number,choice,text"`
	Value     string     `json:"value"`
	Tolerance *float64   `json:"tolerance,omitempty"`
}

// GradingManual marks missions whose answers a human reviews.
const GradingManual = "manual"

type Mission struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Difficulty     string            `json:"difficulty"`
	Type           MissionType       `json:"type" enum:"math,cyber,linux,science"`
	Briefing       string            `json:"briefing"`
	RequiredData   map[string]string `json:"required_data"`
	TimeLimitSec   int               `json:"time_limit_sec"`
	ExpectedAnswer *ExpectedAnswer   `json:"expected_answer,omitempty"`
	Grading        string            `json:"grading,omitempty"`
}

type MissionAttempt struct {
	ID          string            `json:"id"`
	MissionID   string            `json:"mission_id"`
	ActorID     string            `json:"actor_id"`
	Answers     map[string]string `json:"answers"`
	SubmittedAt string            `json:"submitted_at" format:"date-time"`
	Result      string            `json:"result" enum:"pass,fail"`
	Feedback    string            `json:"feedback"`
}

// Verdict is the outcome of grading one submission. Grading never fails
// with an error; problems surface here as a fail with feedback.
type Verdict struct {
	Pass     bool   `json:"pass"`
	Feedback string `json:"feedback"`
}

// ActorMode distinguishes anonymous device actors from signed-in users.
type ActorMode string

const (
	ActorAnonymous ActorMode = "anonymous"
	ActorUser      ActorMode = "user"
)

type Actor struct {
	ActorID string    `json:"actor_id"`
	Mode    ActorMode `json:"mode" enum:"anonymous,user"`
	UserID  string    `json:"user_id,omitempty"`
}

type SavedItem struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	SavedAt string `json:"saved_at" format:"date-time"`
}
