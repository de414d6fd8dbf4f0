package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"verifai/internal/pipeline"
)

// requestOverheadBytes covers the JSON fields around an inline image.
const requestOverheadBytes = 64 << 10

// BodyLimitForImage is the analyze body size needed to carry an image of up
// to maxImageBytes inline as a base64 data URL.
func BodyLimitForImage(maxImageBytes int64) int64 {
	if maxImageBytes <= 0 {
		maxImageBytes = 20 << 20
	}
	return (maxImageBytes+2)/3*4 + requestOverheadBytes
}

// JobSubmitter accepts analysis jobs for background execution.
type JobSubmitter interface {
	Submit(ctx context.Context, job pipeline.Job) error
}

type App struct {
	Jobs         JobSubmitter
	Logger       zerolog.Logger
	MaxBodyBytes int64
}

func NewApp(jobs JobSubmitter, logger zerolog.Logger) *App {
	return &App{Jobs: jobs, Logger: logger, MaxBodyBytes: BodyLimitForImage(0)}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, errorBody{Error: errCode, Message: msg})
}
