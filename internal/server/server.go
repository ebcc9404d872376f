// Package server exposes the workspace over HTTP. Route registration,
// error envelope, and OpenAPI handling follow one pattern throughout:
// handlers resolve the acting identity from the request context, pick the
// repository set for it, and map failures through handleError.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"skywatch/internal/alerts"
	"skywatch/internal/app"
	"skywatch/internal/domain"
	"skywatch/internal/missions"
	"skywatch/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
	Now      func() time.Time
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"preference not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Skywatch API.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newActorMiddleware(basePath, cfg.Auth, cfg.App.Identity))
	hcfg := huma.DefaultConfig("Skywatch API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerAlerts(group, cfg.App)
	registerMissions(group, cfg.App)
	registerAttempts(group, cfg.App, now)
	registerSavedItems(group, cfg.App, now)
	registerPreferences(group, cfg.App)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func reposFor(ctx context.Context, a *app.App) (repo.Set, huma.StatusError) {
	actor, authErr := requireActor(ctx)
	if authErr != nil {
		return repo.Set{}, authErr
	}
	set, err := a.ReposFor(actor)
	if err != nil {
		return repo.Set{}, handleError(err)
	}
	return set, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Acting identity",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: actor}, nil
	})
}

func registerAlerts(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "List prioritized alerts",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		MinSeverity string `query:"min_severity" enum:",info,medium,high" doc:"Drop alerts below this severity"`
		Muted       string `query:"muted" doc:"Comma-separated alert types to drop"`
	}) (*struct {
		Body []domain.Alert `json:"body"`
	}, error) {
		list, err := a.Alerts.Generate(ctx, alerts.Sources{})
		if err != nil {
			return nil, handleError(err)
		}
		muted := make([]domain.AlertType, 0, len(a.Config.Alerts.MutedTypes))
		for _, t := range a.Config.Alerts.MutedTypes {
			muted = append(muted, domain.AlertType(t))
		}
		if input.Muted != "" {
			muted = muted[:0]
			for _, t := range strings.Split(input.Muted, ",") {
				if t = strings.TrimSpace(t); t != "" {
					muted = append(muted, domain.AlertType(t))
				}
			}
		}
		minSeverity := domain.Severity(a.Config.Alerts.MinSeverity)
		if input.MinSeverity != "" {
			minSeverity = domain.Severity(input.MinSeverity)
		}
		list = alerts.FilterByPreference(list, muted, minSeverity)
		return &struct {
			Body []domain.Alert `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-feeds",
		Method:      http.MethodPost,
		Path:        "/feeds/refresh",
		Summary:     "Invalidate feed caches and refetch",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := a.Feeds.Refresh(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "refreshed"}}, nil
	})
}

func registerMissions(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "convert-alert",
		Method:      http.MethodPost,
		Path:        "/missions/convert",
		Summary:     "Derive a mission from an alert",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body ConvertAlertRequest `json:"body"`
	}) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		if input.Body.Alert.Type == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "alert type is required", nil)
		}
		m := a.Missions.Convert(input.Body.Alert)
		if m == nil {
			return nil, newAPIError(http.StatusUnprocessableEntity, "no_mission",
				fmt.Sprintf("no mission for alert type %q", input.Body.Alert.Type), nil)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: *m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grade-mission",
		Method:      http.MethodPost,
		Path:        "/missions/grade",
		Summary:     "Grade answers without recording an attempt",
	}, func(ctx context.Context, input *struct {
		Body GradeRequest `json:"body"`
	}) (*struct {
		Body domain.Verdict `json:"body"`
	}, error) {
		v := missions.Grade(input.Body.Mission, input.Body.Answers)
		return &struct {
			Body domain.Verdict `json:"body"`
		}{Body: v}, nil
	})
}

func registerAttempts(api huma.API, a *app.App, now func() time.Time) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-attempt",
		Method:        http.MethodPost,
		Path:          "/attempts",
		Summary:       "Grade and record a mission attempt",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body SubmitAttemptRequest `json:"body"`
	}) (*struct {
		Body AttemptResponse `json:"body"`
	}, error) {
		if input.Body.Mission.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "mission id is required", nil)
		}
		set, authErr := reposFor(ctx, a)
		if authErr != nil {
			return nil, authErr
		}
		verdict := missions.Grade(input.Body.Mission, input.Body.Answers)
		result := "fail"
		if verdict.Pass {
			result = "pass"
		}
		attempt := domain.MissionAttempt{
			ID:          uuid.New().String(),
			MissionID:   input.Body.Mission.ID,
			ActorID:     set.Actor.ActorID,
			Answers:     input.Body.Answers,
			SubmittedAt: now().UTC().Format(time.RFC3339),
			Result:      result,
			Feedback:    verdict.Feedback,
		}
		if err := set.Missions.SaveAttempt(ctx, attempt); err != nil {
			return nil, handleError(err)
		}
		if verdict.Pass {
			if err := set.Missions.MarkCompleted(ctx, attempt.MissionID); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body AttemptResponse `json:"body"`
		}{Body: AttemptResponse{Attempt: attempt, Verdict: verdict}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-attempts",
		Method:      http.MethodGet,
		Path:        "/attempts",
		Summary:     "List recorded attempts, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" doc:"Maximum attempts to return, 0 for all"`
	}) (*struct {
		Body []domain.MissionAttempt `json:"body"`
	}, error) {
		set, authErr := reposFor(ctx, a)
		if authErr != nil {
			return nil, authErr
		}
		items, err := set.Missions.ListAttempts(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.MissionAttempt `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-completed",
		Method:      http.MethodGet,
		Path:        "/missions/completed",
		Summary:     "List completed mission ids",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CompletedResponse `json:"body"`
	}, error) {
		set, authErr := reposFor(ctx, a)
		if authErr != nil {
			return nil, authErr
		}
		ids, err := set.Missions.ListCompleted(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletedResponse `json:"body"`
		}{Body: CompletedResponse{MissionIDs: ids}}, nil
	})
}

func registerSavedItems(api huma.API, a *app.App, now func() time.Time) {
	huma.Register(api, huma.Operation{
		OperationID: "list-saved",
		Method:      http.MethodGet,
		Path:        "/saved/{category}",
		Summary:     "List saved items in a category",
	}, func(ctx context.Context, input *struct {
		Category string `path:"category"`
	}) (*struct {
		Body []domain.SavedItem `json:"body"`
	}, error) {
		set, authErr := reposFor(ctx, a)
		if authErr != nil {
			return nil, authErr
		}
		items, err := set.SavedItems.List(ctx, input.Category)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.SavedItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "save-item",
		Method:        http.MethodPut,
		Path:          "/saved/{category}/{item_id}",
		Summary:       "Save or update an item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Category string          `path:"category"`
		ItemID   string          `path:"item_id"`
		Body     SaveItemRequest `json:"body"`
	}) (*struct {
		Body domain.SavedItem `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		set, authErr := reposFor(ctx, a)
		if authErr != nil {
			return nil, authErr
		}
		item := domain.SavedItem{
			ID:      input.ItemID,
			Title:   input.Body.Title,
			SavedAt: now().UTC().Format(time.RFC3339),
		}
		if input.Body.URL != nil {
			item.URL = *input.Body.URL
		}
		if err := set.SavedItems.Save(ctx, input.Category, item); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SavedItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-item",
		Method:        http.MethodDelete,
		Path:          "/saved/{category}/{item_id}",
		Summary:       "Remove a saved item",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Category string `path:"category"`
		ItemID   string `path:"item_id"`
	}) (*struct{}, error) {
		set, authErr := reposFor(ctx, a)
		if authErr != nil {
			return nil, authErr
		}
		if err := set.SavedItems.Remove(ctx, input.Category, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerPreferences(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-preferences",
		Method:      http.MethodGet,
		Path:        "/preferences",
		Summary:     "List preferences",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		set, authErr := reposFor(ctx, a)
		if authErr != nil {
			return nil, authErr
		}
		prefs, err := set.Preferences.All(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: prefs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-preference",
		Method:      http.MethodGet,
		Path:        "/preferences/{key}",
		Summary:     "Get one preference",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct {
		Body PreferenceResponse `json:"body"`
	}, error) {
		set, authErr := reposFor(ctx, a)
		if authErr != nil {
			return nil, authErr
		}
		v, err := set.Preferences.Get(ctx, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PreferenceResponse `json:"body"`
		}{Body: PreferenceResponse{Key: input.Key, Value: v}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-preference",
		Method:      http.MethodPut,
		Path:        "/preferences/{key}",
		Summary:     "Set one preference",
	}, func(ctx context.Context, input *struct {
		Key  string               `path:"key"`
		Body SetPreferenceRequest `json:"body"`
	}) (*struct {
		Body PreferenceResponse `json:"body"`
	}, error) {
		set, authErr := reposFor(ctx, a)
		if authErr != nil {
			return nil, authErr
		}
		if err := set.Preferences.Set(ctx, input.Key, input.Body.Value); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PreferenceResponse `json:"body"`
		}{Body: PreferenceResponse{Key: input.Key, Value: input.Body.Value}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["deviceAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Device-Id",
	}
	// Anonymous access is always available, so both schemes are optional.
	security := []map[string][]string{
		{},
		{"bearerAuth": {}},
		{"deviceAuth": {}},
	}
	oas.Security = security
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Skywatch API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Device-Id.
    </p>
  </body>
</html>`, specURL)
}
