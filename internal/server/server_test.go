package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"skywatch/internal/app"
	"skywatch/internal/domain"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	a, err := app.Open(app.Options{Workspace: t.TempDir(), Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	handler, err := New(Config{App: a, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func numberMission(id string, value string, tolerance float64) map[string]any {
	return map[string]any{
		"id":             id,
		"title":          "Launch window",
		"difficulty":     "medium",
		"type":           "math",
		"briefing":       "estimate the window",
		"required_data":  map[string]string{},
		"time_limit_sec": 900,
		"expected_answer": map[string]any{
			"type":      "number",
			"value":     value,
			"tolerance": tolerance,
		},
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body %s", res.StatusCode, data)
	}
}

func TestGradeEndpoint(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/missions/grade", map[string]any{
		"mission": numberMission("math-1", "5", 1),
		"answers": map[string]string{"main": "4"},
	}, map[string]string{"X-Device-Id": "dev-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body %s", res.StatusCode, data)
	}
	var verdict domain.Verdict
	if err := json.Unmarshal(data, &verdict); err != nil {
		t.Fatalf("decode: %v (%s)", err, data)
	}
	if !verdict.Pass {
		t.Fatalf("verdict = %+v, want pass", verdict)
	}
}

func TestSubmitAttemptRecordsCompletion(t *testing.T) {
	srv := newTestServer(t)
	headers := map[string]string{"X-Device-Id": "dev-42"}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/attempts", map[string]any{
		"mission": numberMission("math-777", "10", 0),
		"answers": map[string]string{"main": "10"},
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d body %s", res.StatusCode, data)
	}
	var result AttemptResponse
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode: %v (%s)", err, data)
	}
	if !result.Verdict.Pass || result.Attempt.Result != "pass" {
		t.Fatalf("result = %+v, want pass", result)
	}
	if result.Attempt.ActorID != "dev-42" {
		t.Fatalf("actor = %s, want dev-42", result.Attempt.ActorID)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/missions/completed", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("completed status = %d body %s", res.StatusCode, data)
	}
	var completed CompletedResponse
	if err := json.Unmarshal(data, &completed); err != nil {
		t.Fatalf("decode: %v (%s)", err, data)
	}
	if len(completed.MissionIDs) != 1 || completed.MissionIDs[0] != "math-777" {
		t.Fatalf("completed = %v, want [math-777]", completed.MissionIDs)
	}

	// A different device sees no completions.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/missions/completed", nil,
		map[string]string{"X-Device-Id": "dev-other"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("other device status = %d", res.StatusCode)
	}
	var other CompletedResponse
	if err := json.Unmarshal(data, &other); err != nil {
		t.Fatalf("decode: %v (%s)", err, data)
	}
	if len(other.MissionIDs) != 0 {
		t.Fatalf("other device completions = %v, want none", other.MissionIDs)
	}
}

func TestFailedAttemptIsNotCompleted(t *testing.T) {
	srv := newTestServer(t)
	headers := map[string]string{"X-Device-Id": "dev-f"}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/attempts", map[string]any{
		"mission": numberMission("math-9", "10", 0),
		"answers": map[string]string{"main": "99"},
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d body %s", res.StatusCode, data)
	}
	_, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/missions/completed", nil, headers)
	var completed CompletedResponse
	if err := json.Unmarshal(data, &completed); err != nil {
		t.Fatalf("decode: %v (%s)", err, data)
	}
	if len(completed.MissionIDs) != 0 {
		t.Fatalf("failed attempt marked completed: %v", completed.MissionIDs)
	}
}

func TestConvertAlertEndpoint(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/missions/convert", map[string]any{
		"alert": map[string]any{
			"id":       "launch:x",
			"type":     "launch",
			"title":    "Starship Flight",
			"severity": "medium",
			"payload":  map[string]any{"launch_id": "x", "window_start": "2026-09-10T13:00:00Z"},
		},
	}, map[string]string{"X-Device-Id": "dev-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body %s", res.StatusCode, data)
	}
	var m domain.Mission
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode: %v (%s)", err, data)
	}
	if m.Type != domain.MissionMath || m.RequiredData["launchId"] != "x" {
		t.Fatalf("mission = %+v", m)
	}
}

func TestSavedItemsAndPreferences(t *testing.T) {
	srv := newTestServer(t)
	headers := map[string]string{"X-Device-Id": "dev-s"}

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/saved/news/n1", map[string]any{
		"title": "Artemis update",
		"url":   "https://example.com/n1",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("save status = %d body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/saved/news", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", res.StatusCode)
	}
	var items []domain.SavedItem
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("decode: %v (%s)", err, data)
	}
	if len(items) != 1 || items[0].Title != "Artemis update" {
		t.Fatalf("items = %v", items)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/saved/news/n1", nil, headers)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/saved/news/n1", nil, headers)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d body %s", res.StatusCode, data)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/preferences/theme", map[string]any{"value": "dark"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set pref status = %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/preferences/theme", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get pref status = %d", res.StatusCode)
	}
	var pref PreferenceResponse
	if err := json.Unmarshal(data, &pref); err != nil {
		t.Fatalf("decode: %v (%s)", err, data)
	}
	if pref.Value != "dark" {
		t.Fatalf("pref = %+v", pref)
	}
}

func TestBearerTokenYieldsUserActor(t *testing.T) {
	srv := newTestServer(t)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-9",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil,
		map[string]string{"Authorization": "Bearer " + signed})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body %s", res.StatusCode, data)
	}
	var actor domain.Actor
	if err := json.Unmarshal(data, &actor); err != nil {
		t.Fatalf("decode: %v (%s)", err, data)
	}
	if actor.Mode != domain.ActorUser || actor.ActorID != "user-9" {
		t.Fatalf("actor = %+v, want user-9", actor)
	}
}

func TestInvalidBearerTokenRejected(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil,
		map[string]string{"Authorization": "Bearer garbage"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d body %s", res.StatusCode, data)
	}
}

func TestDeviceHeaderYieldsAnonymousActor(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil,
		map[string]string{"X-Device-Id": "dev-77"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body %s", res.StatusCode, data)
	}
	var actor domain.Actor
	if err := json.Unmarshal(data, &actor); err != nil {
		t.Fatalf("decode: %v (%s)", err, data)
	}
	if actor.Mode != domain.ActorAnonymous || actor.ActorID != "dev-77" {
		t.Fatalf("actor = %+v, want anonymous dev-77", actor)
	}
}
