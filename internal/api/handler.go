package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/engine"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	orchestrator *engine.Orchestrator
	version      string
	ruleSetTTL   time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, orchestrator *engine.Orchestrator, version string, ruleSetTTL time.Duration) *Handler {
	if ruleSetTTL <= 0 {
		ruleSetTTL = time.Minute
	}
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		orchestrator: orchestrator,
		version:      version,
		ruleSetTTL:   ruleSetTTL,
	}
}

// Evaluate handles POST /evaluate: a synchronous applicant evaluation.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ApplicantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "applicantId is required",
		})
		return
	}
	if req.TraceID == "" {
		req.TraceID = GetTraceID(ctx)
	}

	result, err := h.orchestrator.Evaluate(ctx, tenantID, &req)
	if err != nil {
		writeEvaluateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Submit handles POST /submissions: queues an evaluation on the event bus.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	var req domain.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ApplicantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "applicantId is required",
		})
		return
	}
	if req.TraceID == "" {
		req.TraceID = GetTraceID(ctx)
	}

	payload, _ := json.Marshal(&req)
	if err := h.bus.Publish(ctx, tenantID, domain.TopicApplicantSubmitted, payload); err != nil {
		slog.Error("failed to publish submission", "applicant_id", req.ApplicantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue submission",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "queued",
		"traceId": req.TraceID,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetEvaluation retrieves an evaluation with its trace rows by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	evalID := chi.URLParam(r, "id")

	if evalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "evaluation id is required",
		})
		return
	}

	eval, err := h.repo.GetEvaluationHistory(ctx, tenantID, evalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "evaluation not found",
			})
			return
		}
		slog.Error("failed to get evaluation", "id", evalID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load evaluation",
		})
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// ListEvaluations lists evaluation summaries for an applicant, newest first.
func (h *Handler) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	applicantID := r.URL.Query().Get("applicantId")
	if applicantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "applicantId query parameter is required",
		})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	evals, err := h.repo.ListEvaluationHistory(ctx, tenantID, applicantID, limit)
	if err != nil {
		slog.Error("failed to list evaluations", "applicant_id", applicantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list evaluations",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"evaluations": evals,
		"count":       len(evals),
	})
}

// GetRuleSet returns the tenant's current configuration snapshot.
func (h *Handler) GetRuleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rs, err := h.repo.GetRuleSet(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTenant) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "tenant has no configuration",
			})
			return
		}
		slog.Error("failed to load rule set", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rule set",
		})
		return
	}

	writeJSON(w, http.StatusOK, rs)
}

// ReloadRuleSet re-reads the tenant configuration from the repository and
// refreshes the cached snapshot. This makes configuration changes visible
// without waiting for cache expiry.
func (h *Handler) ReloadRuleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rs, err := h.repo.GetRuleSet(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTenant) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "tenant has no configuration",
			})
			return
		}
		slog.Error("failed to reload rule set", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rule set",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.SetRuleSet(ctx, tenantID, rs, h.ruleSetTTL); err != nil {
			slog.Warn("failed to refresh cached rule set", "tenant_id", tenantID, "error", err)
		}
	}

	slog.Info("rule set reloaded",
		"tenant_id", tenantID,
		"products", len(rs.Products),
		"pcards", len(rs.Pcards),
		"ecards", len(rs.Ecards),
		"rules", len(rs.RuleMasters),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "rule set reloaded successfully",
		"products": len(rs.Products),
		"rules":    len(rs.RuleMasters),
	})
}

// SaveParameter handles POST /config/parameters.
func (h *Handler) SaveParameter(w http.ResponseWriter, r *http.Request) {
	var p domain.Parameter
	h.saveConfig(w, r, &p, func(r *http.Request) error {
		return h.repo.SaveParameter(r.Context(), GetTenantID(r.Context()), &p)
	})
}

// SaveFactor handles POST /config/factors.
func (h *Handler) SaveFactor(w http.ResponseWriter, r *http.Request) {
	var f domain.Factor
	h.saveConfig(w, r, &f, func(r *http.Request) error {
		return h.repo.SaveFactor(r.Context(), GetTenantID(r.Context()), &f)
	})
}

// SaveRuleMaster handles POST /config/rules.
func (h *Handler) SaveRuleMaster(w http.ResponseWriter, r *http.Request) {
	var m domain.EruleMaster
	h.saveConfig(w, r, &m, func(r *http.Request) error {
		return h.repo.SaveRuleMaster(r.Context(), GetTenantID(r.Context()), &m)
	})
}

// SaveEcard handles POST /config/ecards.
func (h *Handler) SaveEcard(w http.ResponseWriter, r *http.Request) {
	var c domain.Ecard
	h.saveConfig(w, r, &c, func(r *http.Request) error {
		return h.repo.SaveEcard(r.Context(), GetTenantID(r.Context()), &c)
	})
}

// SavePcard handles POST /config/pcards.
func (h *Handler) SavePcard(w http.ResponseWriter, r *http.Request) {
	var c domain.Pcard
	h.saveConfig(w, r, &c, func(r *http.Request) error {
		return h.repo.SavePcard(r.Context(), GetTenantID(r.Context()), &c)
	})
}

// SaveProduct handles POST /config/products.
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var p domain.Product
	h.saveConfig(w, r, &p, func(r *http.Request) error {
		return h.repo.SaveProduct(r.Context(), GetTenantID(r.Context()), &p)
	})
}

// SaveAmountEligibility handles POST /config/amount-bands.
func (h *Handler) SaveAmountEligibility(w http.ResponseWriter, r *http.Request) {
	var b domain.AmountEligibility
	h.saveConfig(w, r, &b, func(r *http.Request) error {
		return h.repo.SaveAmountEligibility(r.Context(), GetTenantID(r.Context()), &b)
	})
}

// SaveProductCap handles POST /config/caps.
func (h *Handler) SaveProductCap(w http.ResponseWriter, r *http.Request) {
	var c domain.ProductCap
	h.saveConfig(w, r, &c, func(r *http.Request) error {
		return h.repo.SaveProductCap(r.Context(), GetTenantID(r.Context()), &c)
	})
}

// SaveProductCapAmount handles POST /config/cap-amounts.
func (h *Handler) SaveProductCapAmount(w http.ResponseWriter, r *http.Request) {
	var c domain.ProductCapAmount
	h.saveConfig(w, r, &c, func(r *http.Request) error {
		return h.repo.SaveProductCapAmount(r.Context(), GetTenantID(r.Context()), &c)
	})
}

// SaveException handles POST /config/exceptions.
func (h *Handler) SaveException(w http.ResponseWriter, r *http.Request) {
	var e domain.ExceptionManagement
	h.saveConfig(w, r, &e, func(r *http.Request) error {
		return h.repo.SaveException(r.Context(), GetTenantID(r.Context()), &e)
	})
}

// saveConfig decodes one configuration entity and persists it. Changes only
// become visible to evaluations after the cached snapshot expires or
// POST /ruleset/reload is called.
func (h *Handler) saveConfig(w http.ResponseWriter, r *http.Request, entity interface{}, save func(r *http.Request) error) {
	if err := json.NewDecoder(r.Body).Decode(entity); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := save(r); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to save configuration entity", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save configuration",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "saved. Call POST /ruleset/reload to apply changes.",
	})
}

func writeEvaluateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrUnknownTenant):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		slog.Error("evaluation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "evaluation failed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
