package cohort

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/synaptica-ai/surgical-cohort/pkg/classifier"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
	"github.com/synaptica-ai/surgical-cohort/pkg/identity"
	"github.com/synaptica-ai/surgical-cohort/pkg/timeline"
)

type HTTPHandler struct {
	service *Service
	runner  *Runner
}

func NewHTTPHandler(service *Service, runner *Runner) *HTTPHandler {
	return &HTTPHandler{service: service, runner: runner}
}

func (h *HTTPHandler) Register(r *mux.Router) {
	r.HandleFunc("/timeline/normalize", h.handleNormalize).Methods(http.MethodPost)
	r.HandleFunc("/identity/one-to-one", h.handleOneToOne).Methods(http.MethodPost)
	r.HandleFunc("/cohort/classify", h.handleClassify).Methods(http.MethodPost)
	r.HandleFunc("/cohort/assemble", h.handleAssemble).Methods(http.MethodPost)
	r.HandleFunc("/cohort/runs", h.handleCreateRun).Methods(http.MethodPost)
	r.HandleFunc("/cohort/runs", h.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/cohort/runs/{id}", h.handleGetRun).Methods(http.MethodGet)
	r.HandleFunc("/cohort/runs/{id}/audits", h.handleListAudits).Methods(http.MethodGet)
	r.HandleFunc("/cohort/runs/{id}/episodes/{episode}", h.handleGetEpisode).Methods(http.MethodGet)
}

type normalizeRequest struct {
	Values []interface{} `json:"values"`
}

type normalizedValue struct {
	Input   interface{}        `json:"input"`
	Minutes timeline.Timestamp `json:"minutes"`
	Display string             `json:"display"`
}

func (h *HTTPHandler) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req normalizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	results := make([]normalizedValue, 0, len(req.Values))
	for i, value := range req.Values {
		ts, err := timeline.Normalize(value)
		if err != nil {
			h.writeError(w, fmt.Errorf("values[%d]: %w", i, err))
			return
		}
		results = append(results, normalizedValue{Input: value, Minutes: ts, Display: ts.String()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

type oneToOneRequest struct {
	A []interface{} `json:"a"`
	B []interface{} `json:"b"`
}

func (h *HTTPHandler) handleOneToOne(w http.ResponseWriter, r *http.Request) {
	var req oneToOneRequest
	if !h.decode(w, r, &req) {
		return
	}
	check := identity.CheckOneToOne(req.A, req.B)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"a_to_b":    check.AToB,
		"b_to_a":    check.BToA,
		"map_ab":    check.MapAB,
		"map_ba":    check.MapBA,
		"report_ab": identity.PartnerReport(check.MapAB, check.OrderAB),
		"report_ba": identity.PartnerReport(check.MapBA, check.OrderBA),
	})
}

type classifyRequest struct {
	EpisodeID string               `json:"record_id"`
	PatientID string               `json:"person_id"`
	DOS       string               `json:"dos"`
	VisitKind string               `json:"visit_kind"`
	Visits    []models.VisitRecord `json:"visits"`
}

type classifiedVisitView struct {
	VisitID    string             `json:"visit_occurrence_id"`
	Kind       string             `json:"visit_concept_id,omitempty"`
	Start      timeline.Timestamp `json:"visit_start"`
	End        timeline.Timestamp `json:"visit_end"`
	Classified bool               `json:"classified"`
	classifier.Classification
}

func (h *HTTPHandler) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	index, err := timeline.NormalizeString(req.DOS)
	if err != nil {
		h.writeError(w, fmt.Errorf("dos: %w", err))
		return
	}
	if index.IsUnknown() {
		http.Error(w, "dos is required", http.StatusBadRequest)
		return
	}
	visits, err := normalizeVisits(req.Visits)
	if err != nil {
		h.writeError(w, err)
		return
	}

	episode := classifier.Episode{ID: req.EpisodeID, PatientID: req.PatientID, Index: index}
	result := classifier.ClassifyEpisode(episode, visits, h.service.resolveKind(req.VisitKind))

	views := make([]classifiedVisitView, 0, len(result.Visits))
	for _, v := range result.Visits {
		views = append(views, classifiedVisitView{
			VisitID:        v.Record.VisitID,
			Kind:           v.Record.Kind,
			Start:          v.Span.Start,
			End:            v.Span.End,
			Classified:     v.Classified,
			Classification: v.Classification,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcome":    result.Outcome,
		"readmitted": result.Readmitted,
		"visits":     views,
		"rows":       result.Rows,
	})
}

type assembleRequest struct {
	models.Extracts
	VisitKind string `json:"visit_kind"`
}

func (h *HTTPHandler) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var req assembleRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Assemble(req.Extracts, req.VisitKind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"counts":     result.Counts,
		"rows":       result.Rows,
		"exclusions": result.Exclusions,
		"audits":     result.Audits,
		"durations":  SummarizeDurations(result.Rows),
	})
}

func (h *HTTPHandler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req models.CohortBuildRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RequestedBy == "" {
		req.RequestedBy = resolveActor(r)
	}
	run, err := h.runner.Enqueue(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"run": run})
}

func (h *HTTPHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.ListRuns(r.Context(), parseLimit(r, 50))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": runs})
}

func (h *HTTPHandler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}
	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": run})
}

func (h *HTTPHandler) handleListAudits(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}
	audits, err := h.service.ListAudits(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": audits})
}

func (h *HTTPHandler) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}
	episode, err := h.service.GetEpisode(r.Context(), id, mux.Vars(r)["episode"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"episode": episode})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timeline.ErrMalformed), errors.Is(err, ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrRunNotFound), errors.Is(err, ErrEpisodeNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.service.log.WithError(err).Error("cohort request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func resolveActor(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get("X-User-ID")); user != "" {
		return user
	}
	return "system"
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
