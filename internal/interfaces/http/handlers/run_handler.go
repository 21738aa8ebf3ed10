package handlers

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/RegScan/internal/application/scan"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/internal/interfaces/ingest"
	"github.com/turtacn/RegScan/pkg/errors"
)

// RunExecutor executes one engine run. scan.Service satisfies it.
type RunExecutor interface {
	Run(ctx context.Context, facts []substance.SourceFact) (*scan.RunResult, error)
}

// RunReader loads stored runs; the id "latest" resolves the newest run.
// query.Service satisfies it.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*substance.Run, error)
	Invalidate()
}

// RunHandler submits fact batches and reads run summaries.
type RunHandler struct {
	decoder *ingest.Decoder
	runner  RunExecutor
	reader  RunReader
	logger  logging.Logger
	maxBody int64
}

// NewRunHandler creates a RunHandler. maxBody <= 0 leaves the body unbounded.
func NewRunHandler(decoder *ingest.Decoder, runner RunExecutor, reader RunReader, logger logging.Logger, maxBody int64) *RunHandler {
	if decoder == nil {
		decoder = ingest.NewDecoder()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RunHandler{decoder: decoder, runner: runner, reader: reader, logger: logger, maxBody: maxBody}
}

// RegisterRoutes mounts the run endpoints.
func (h *RunHandler) RegisterRoutes(r chi.Router) {
	r.Post("/runs", h.CreateRun)
	r.Get("/runs/latest", h.GetLatestRun)
	r.Get("/runs/{id}", h.GetRun)
}

// RunResponse is the reply to a submitted batch.
type RunResponse struct {
	ID         string               `json:"id"`
	Summary    substance.RunSummary `json:"summary"`
	Received   int                  `json:"received"`
	Accepted   int                  `json:"accepted"`
	Rejected   []ingest.Rejection   `json:"rejected,omitempty"`
	SinkErrors string               `json:"sink_errors,omitempty"`
}

// CreateRun handles POST /runs with a JSON array or JSON-lines body.
func (h *RunHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, errors.ErrCodeFeatureDisabled, "run submission is disabled on this instance")
		return
	}
	body := r.Body
	if h.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	decoded, err := h.decoder.Decode(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.ErrCodeFactInvalid, "request body too large")
			return
		}
		writeAppError(w, err)
		return
	}
	if decoded.Accepted == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, RunResponse{
			Received: decoded.Total,
			Rejected: decoded.Rejected,
		})
		return
	}

	res, err := h.runner.Run(r.Context(), decoded.Facts)
	if res == nil {
		writeAppError(w, err)
		return
	}
	if h.reader != nil {
		h.reader.Invalidate()
	}

	resp := RunResponse{
		ID:       res.Run.ID,
		Summary:  res.Run.Summary,
		Received: decoded.Total,
		Accepted: decoded.Accepted,
		Rejected: decoded.Rejected,
	}
	if err != nil {
		h.logger.Warn("run completed with sink errors",
			logging.String("run_id", res.Run.ID), logging.Err(err))
		resp.SinkErrors = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetRun handles GET /runs/{id}.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	h.writeRun(w, r, chi.URLParam(r, "id"))
}

// GetLatestRun handles GET /runs/latest.
func (h *RunHandler) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	h.writeRun(w, r, "latest")
}

func (h *RunHandler) writeRun(w http.ResponseWriter, r *http.Request, id string) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, errors.ErrCodeFeatureDisabled, "run storage is not configured")
		return
	}
	run, err := h.reader.GetRun(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
