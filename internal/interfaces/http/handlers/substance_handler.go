package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/RegScan/internal/application/query"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/pkg/errors"
)

// SubstanceReader is the read side used by SubstanceHandler.
// query.Service satisfies it.
type SubstanceReader interface {
	GetSubstance(ctx context.Context, runID string, key substance.CanonicalKey) (*query.SubstanceDetail, error)
	ListSubstances(ctx context.Context, req query.ListRequest) (*query.ListResponse, error)
}

// SubstanceHandler lists and fetches assessments of a run.
type SubstanceHandler struct {
	reader SubstanceReader
}

// NewSubstanceHandler creates a SubstanceHandler.
func NewSubstanceHandler(reader SubstanceReader) *SubstanceHandler {
	return &SubstanceHandler{reader: reader}
}

// RegisterRoutes mounts the substance endpoints.
func (h *SubstanceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/substances", h.ListSubstances)
	r.Get("/substances/{key}", h.GetSubstance)
}

// ListSubstances handles GET /substances.
//
// Query parameters: run_id, q, label, tier, atc, min_score, offset, limit.
func (h *SubstanceHandler) ListSubstances(w http.ResponseWriter, r *http.Request) {
	req, err := parseListRequest(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	resp, err := h.reader.ListSubstances(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSubstance handles GET /substances/{key}?run_id=.
func (h *SubstanceHandler) GetSubstance(w http.ResponseWriter, r *http.Request) {
	key := substance.CanonicalKey(strings.TrimSpace(chi.URLParam(r, "key")))
	detail, err := h.reader.GetSubstance(r.Context(), r.URL.Query().Get("run_id"), key)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func parseListRequest(r *http.Request) (query.ListRequest, error) {
	q := r.URL.Query()
	req := query.ListRequest{
		RunID: q.Get("run_id"),
		Text:  q.Get("q"),
		ATC:   q.Get("atc"),
	}
	req.Offset, req.Limit = parsePagination(r)

	if v := q.Get("label"); v != "" {
		label := substance.ImpactLabel(strings.ToLower(v))
		if !knownLabel(label) {
			return req, errors.Newf(errors.ErrCodeValidation, "unknown label %q", v)
		}
		req.Label = label
	}
	if v := q.Get("tier"); v != "" {
		tier := substance.Tier(strings.ToUpper(v))
		switch tier {
		case substance.TierHot, substance.TierHigh, substance.TierMid, substance.TierLow:
			req.Tier = tier
		default:
			return req, errors.Newf(errors.ErrCodeValidation, "unknown tier %q", v)
		}
	}
	if v := q.Get("min_score"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			return req, errors.Newf(errors.ErrCodeValidation, "min_score must be an integer in [0, 100], got %q", v)
		}
		req.MinScore = &n
	}
	return req, nil
}

func knownLabel(l substance.ImpactLabel) bool {
	for _, k := range substance.ImpactLabels() {
		if k == l {
			return true
		}
	}
	return false
}
