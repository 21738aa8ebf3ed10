package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/RegScan/internal/domain/bridge"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/pkg/errors"
)

// Normalizer maps raw names to canonical keys. *normalize.Normalizer satisfies it.
type Normalizer interface {
	Normalize(raw string) substance.CanonicalKey
}

// CodeBridge resolves local codes. *bridge.Bridge satisfies it.
type CodeBridge interface {
	ResolveCode(code string) (bridge.Match, bool)
	CodesForName(raw string) (substance.CanonicalKey, []string)
}

// Classifier resolves classification codes. *classification.Table satisfies it.
type Classifier interface {
	Classify(code string) (substance.ClassificationPath, bool)
}

// ReferenceHandler exposes the loaded reference tables.
type ReferenceHandler struct {
	normalizer Normalizer
	bridge     CodeBridge
	classes    Classifier
}

// NewReferenceHandler creates a ReferenceHandler.
func NewReferenceHandler(n Normalizer, b CodeBridge, c Classifier) *ReferenceHandler {
	return &ReferenceHandler{normalizer: n, bridge: b, classes: c}
}

// RegisterRoutes mounts the reference endpoints.
func (h *ReferenceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/normalize", h.Normalize)
	r.Get("/bridge/{code}", h.ResolveCode)
	r.Get("/bridge", h.CodesForName)
	r.Get("/classification/{code}", h.Classify)
}

// NormalizeResponse is the reply of GET /normalize.
type NormalizeResponse struct {
	Input string                 `json:"input"`
	Key   substance.CanonicalKey `json:"key"`
}

// Normalize handles GET /normalize?name=.
func (h *ReferenceHandler) Normalize(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		writeError(w, http.StatusBadRequest, errors.ErrCodeBadRequest, "name is required")
		return
	}
	writeJSON(w, http.StatusOK, NormalizeResponse{Input: name, Key: h.normalizer.Normalize(name)})
}

// ResolveCode handles GET /bridge/{code}.
func (h *ReferenceHandler) ResolveCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	m, ok := h.bridge.ResolveCode(code)
	if !ok {
		writeAppError(w, errors.Newf(errors.ErrCodeBridgeNotFound, "no bridge entry for code %q", code))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CodesResponse is the reply of GET /bridge?name=.
type CodesResponse struct {
	Key   substance.CanonicalKey `json:"key"`
	Codes []string               `json:"codes"`
}

// CodesForName handles GET /bridge?name=.
func (h *ReferenceHandler) CodesForName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		writeError(w, http.StatusBadRequest, errors.ErrCodeBadRequest, "name is required")
		return
	}
	key, codes := h.bridge.CodesForName(name)
	if codes == nil {
		codes = []string{}
	}
	writeJSON(w, http.StatusOK, CodesResponse{Key: key, Codes: codes})
}

// Classify handles GET /classification/{code}.
func (h *ReferenceHandler) Classify(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	path, ok := h.classes.Classify(code)
	if !ok {
		writeAppError(w, errors.Newf(errors.ErrCodeClassificationNotFound, "no classification branch for %q", code))
		return
	}
	writeJSON(w, http.StatusOK, path)
}
