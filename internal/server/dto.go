package server

import (
	"skywatch/internal/domain"
)

// Request payloads

type ConvertAlertRequest struct {
	Alert domain.Alert `json:"alert"`
}

type GradeRequest struct {
	Mission domain.Mission    `json:"mission"`
	Answers map[string]string `json:"answers"`
}

type SubmitAttemptRequest struct {
	Mission domain.Mission    `json:"mission"`
	Answers map[string]string `json:"answers"`
}

type SaveItemRequest struct {
	Title string  `json:"title"`
	URL   *string `json:"url,omitempty"`
}

type SetPreferenceRequest struct {
	Value string `json:"value"`
}

// Response payloads

type AttemptResponse struct {
	Attempt domain.MissionAttempt `json:"attempt"`
	Verdict domain.Verdict        `json:"verdict"`
}

type CompletedResponse struct {
	MissionIDs []string `json:"mission_ids"`
}

type PreferenceResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
