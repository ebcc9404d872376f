package skywatchsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Skywatch HTTP API client. Set BearerToken to act as
// a signed-in user or DeviceID to act as a named anonymous device; with
// neither the server uses its own device identity.
type Client struct {
	BaseURL     string
	BearerToken string
	DeviceID    string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Alert represents one prioritized feed alert.
type Alert struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	Title            string         `json:"title"`
	Severity         string         `json:"severity"`
	Priority         int            `json:"priority"`
	Source           string         `json:"source"`
	StartTime        *string        `json:"start_time,omitempty"`
	MissionAvailable bool           `json:"mission_available"`
	Payload          map[string]any `json:"payload,omitempty"`
}

// Mission represents a derived training mission.
type Mission struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Difficulty   string            `json:"difficulty"`
	Type         string            `json:"type"`
	Briefing     string            `json:"briefing"`
	RequiredData map[string]string `json:"required_data"`
	TimeLimitSec int               `json:"time_limit_sec"`
	Grading      string            `json:"grading,omitempty"`
}

// Verdict is a grading outcome.
type Verdict struct {
	Pass     bool   `json:"pass"`
	Feedback string `json:"feedback"`
}

// Attempt is a recorded mission attempt.
type Attempt struct {
	ID          string            `json:"id"`
	MissionID   string            `json:"mission_id"`
	ActorID     string            `json:"actor_id"`
	Answers     map[string]string `json:"answers"`
	SubmittedAt string            `json:"submitted_at"`
	Result      string            `json:"result"`
	Feedback    string            `json:"feedback"`
}

// AttemptResult pairs a stored attempt with its verdict.
type AttemptResult struct {
	Attempt Attempt `json:"attempt"`
	Verdict Verdict `json:"verdict"`
}

// SavedItem is one saved entity in a category.
type SavedItem struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	SavedAt string `json:"saved_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Alerts returns the prioritized alert list.
func (c *Client) Alerts(ctx context.Context, minSeverity string, muted []string) ([]Alert, error) {
	endpoint := "v0/alerts"
	q := url.Values{}
	if minSeverity != "" {
		q.Set("min_severity", minSeverity)
	}
	if len(muted) > 0 {
		q.Set("muted", strings.Join(muted, ","))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Alert
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ConvertAlert derives the mission for an alert.
func (c *Client) ConvertAlert(ctx context.Context, alert Alert) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPost, "v0/missions/convert", map[string]any{"alert": alert}, &resp)
	return resp, err
}

// SubmitAttempt grades and records answers for a mission.
func (c *Client) SubmitAttempt(ctx context.Context, mission Mission, answers map[string]string) (AttemptResult, error) {
	body := map[string]any{
		"mission": mission,
		"answers": answers,
	}
	var resp AttemptResult
	err := c.do(ctx, http.MethodPost, "v0/attempts", body, &resp)
	return resp, err
}

// CompletedMissions lists completed mission ids for the acting identity.
func (c *Client) CompletedMissions(ctx context.Context) ([]string, error) {
	var resp struct {
		MissionIDs []string `json:"mission_ids"`
	}
	err := c.do(ctx, http.MethodGet, "v0/missions/completed", nil, &resp)
	return resp.MissionIDs, err
}

// SaveItem saves or updates an item in a category.
func (c *Client) SaveItem(ctx context.Context, category string, item SavedItem) (SavedItem, error) {
	endpoint := fmt.Sprintf("v0/saved/%s/%s", url.PathEscape(category), url.PathEscape(item.ID))
	body := map[string]any{"title": item.Title}
	if item.URL != "" {
		body["url"] = item.URL
	}
	var resp SavedItem
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// SavedItems lists a category.
func (c *Client) SavedItems(ctx context.Context, category string) ([]SavedItem, error) {
	endpoint := fmt.Sprintf("v0/saved/%s", url.PathEscape(category))
	var resp []SavedItem
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RemoveItem deletes a saved item.
func (c *Client) RemoveItem(ctx context.Context, category, itemID string) error {
	endpoint := fmt.Sprintf("v0/saved/%s/%s", url.PathEscape(category), url.PathEscape(itemID))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// SetPreference stores one preference.
func (c *Client) SetPreference(ctx context.Context, key, value string) error {
	endpoint := fmt.Sprintf("v0/preferences/%s", url.PathEscape(key))
	return c.do(ctx, http.MethodPut, endpoint, map[string]any{"value": value}, nil)
}

// Preferences lists all preferences.
func (c *Client) Preferences(ctx context.Context) (map[string]string, error) {
	var resp map[string]string
	err := c.do(ctx, http.MethodGet, "v0/preferences", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.DeviceID != "":
		req.Header.Set("X-Device-Id", c.DeviceID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
