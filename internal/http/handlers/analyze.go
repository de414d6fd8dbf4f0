package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"verifai/internal/domain"
	"verifai/internal/middleware"
	"verifai/internal/pipeline"
)

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	JobID       string `json:"job_id"`
	ImageURL    string `json:"image_url"`
	CallbackURL string `json:"callback_url"`
	ObjectKey   string `json:"object_key,omitempty"`
}

type acceptedResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// Analyze validates the request, hands the job to the background runner and
// acknowledges immediately. The report arrives later on the callback URL.
func (a *App) Analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes())

	var req AnalyzeRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return
		}
		a.error(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}

	job, err := req.toJob()
	if err != nil {
		a.error(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	job.RequestID = middleware.RequestIDFromContext(r.Context())

	if err := a.Jobs.Submit(r.Context(), job); err != nil {
		if errors.Is(err, pipeline.ErrShuttingDown) {
			a.error(w, http.StatusServiceUnavailable, "shutting_down", "service is shutting down")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("submit job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to accept job")
		return
	}

	a.Logger.Info().
		Str("job_id", job.ID).
		Str("request_id", job.RequestID).
		Msg("job accepted")
	a.json(w, http.StatusAccepted, acceptedResponse{Status: "accepted", JobID: job.ID})
}

func (a *App) maxBodyBytes() int64 {
	if a.MaxBodyBytes > 0 {
		return a.MaxBodyBytes
	}
	return BodyLimitForImage(0)
}

func (req AnalyzeRequest) toJob() (pipeline.Job, error) {
	job := pipeline.Job{
		ID:          strings.TrimSpace(req.JobID),
		ImageURL:    strings.TrimSpace(req.ImageURL),
		ObjectKey:   strings.TrimSpace(req.ObjectKey),
		CallbackURL: strings.TrimSpace(req.CallbackURL),
	}
	if job.ID == "" {
		return job, fmt.Errorf("%w: job_id is required", domain.ErrInvalidRequest)
	}
	if job.ImageURL == "" && job.ObjectKey == "" {
		return job, fmt.Errorf("%w: image_url or object_key is required", domain.ErrInvalidRequest)
	}
	if job.CallbackURL == "" {
		return job, fmt.Errorf("%w: callback_url is required", domain.ErrInvalidRequest)
	}
	u, err := url.Parse(job.CallbackURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return job, fmt.Errorf("%w: callback_url must be an absolute http(s) URL", domain.ErrInvalidRequest)
	}
	return job, nil
}
