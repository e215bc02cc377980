package quota

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/billsync/pkg/httputil"
	"github.com/platinummonkey/billsync/pkg/observability"
	"github.com/platinummonkey/billsync/pkg/plans"
	"github.com/platinummonkey/billsync/pkg/scope"
)

// ConsumeRequest is the body of POST /internal/usage/consume.
// Either Limit is given or UsePlan selects the plan's monthly AI call limit.
type ConsumeRequest struct {
	ScopeType string `json:"scope_type"`
	ScopeID   string `json:"scope_id"`
	Limit     *int64 `json:"limit,omitempty"`
	UsePlan   bool   `json:"use_plan,omitempty"`
	Count     int64  `json:"count,omitempty"`
}

// StorageCheckRequest is the body of POST /internal/usage/storage-check
type StorageCheckRequest struct {
	ScopeType  string `json:"scope_type"`
	ScopeID    string `json:"scope_id"`
	CurrentMB  int64  `json:"current_mb"`
	IncomingMB int64  `json:"incoming_mb"`
}

// DecisionResponse reports a quota decision. Faults report allowed=true.
type DecisionResponse struct {
	Allowed   bool   `json:"allowed"`
	Outcome   string `json:"outcome"`
	Calls     int64  `json:"calls"`
	Limit     *int64 `json:"limit"`
	Unlimited bool   `json:"unlimited"`
	Reason    string `json:"reason,omitempty"`
}

// UsageResponse is the body of GET /internal/usage/{scope_type}/{scope_id}
type UsageResponse struct {
	ScopeType string       `json:"scope_type"`
	ScopeID   string       `json:"scope_id"`
	Month     string       `json:"month"`
	Calls     int64        `json:"calls"`
	Limits    plans.Limits `json:"limits"`
}

// Handlers exposes the quota service to sibling services over HTTP
type Handlers struct {
	service *Service
	logger  logrus.FieldLogger
}

// NewHandlers creates quota HTTP handlers
func NewHandlers(service *Service, logger logrus.FieldLogger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// RegisterRoutes mounts the handlers on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/internal/usage/consume", h.Consume).Methods(http.MethodPost)
	router.HandleFunc("/internal/usage/storage-check", h.StorageCheck).Methods(http.MethodPost)
	router.HandleFunc("/internal/usage/{scope_type}/{scope_id}", h.Usage).Methods(http.MethodGet)
}

// Consume records usage and reports the decision. A rejection is a normal
// 200 response with allowed=false; callers translate it for their users.
func (h *Handlers) Consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sc, err := scope.New(req.ScopeType, req.ScopeID)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 0 {
		httputil.WriteBadRequest(w, "count must be positive")
		return
	}

	var res Result
	if req.UsePlan {
		res = h.service.ConsumeForPlan(r.Context(), sc, req.Count)
	} else {
		res = h.service.ConsumeUsage(r.Context(), sc, req.Limit, req.Count)
	}

	h.logDecision(r, sc, res)
	_ = httputil.WriteJSON(w, http.StatusOK, decision(res))
}

// StorageCheck reports whether an upload fits the plan's storage limit
func (h *Handlers) StorageCheck(w http.ResponseWriter, r *http.Request) {
	var req StorageCheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sc, err := scope.New(req.ScopeType, req.ScopeID)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.CurrentMB < 0 || req.IncomingMB < 0 {
		httputil.WriteBadRequest(w, "sizes must not be negative")
		return
	}

	res := h.service.CheckStorage(r.Context(), sc, req.CurrentMB, req.IncomingMB)
	h.logDecision(r, sc, res)
	_ = httputil.WriteJSON(w, http.StatusOK, decision(res))
}

// Usage reports the current month's counter and the plan limits of a scope
func (h *Handlers) Usage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sc, err := scope.New(vars["scope_type"], vars["scope_id"])
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	calls, err := h.service.Usage(r.Context(), sc)
	if err != nil {
		observability.FromContext(r.Context(), h.logger).WithError(err).
			WithField("scope", sc.String()).Error("Failed to read usage")
		httputil.WriteServiceUnavailable(w, "usage store unavailable")
		return
	}

	limits, err := h.service.PlanLimits(r.Context(), sc)
	if err != nil {
		observability.FromContext(r.Context(), h.logger).WithError(err).
			WithField("scope", sc.String()).Error("Failed to read plan limits")
		httputil.WriteServiceUnavailable(w, "subscription store unavailable")
		return
	}

	_ = httputil.WriteJSON(w, http.StatusOK, UsageResponse{
		ScopeType: string(sc.Type),
		ScopeID:   sc.ID,
		Month:     MonthStart(h.service.now()).Format("2006-01"),
		Calls:     calls,
		Limits:    limits,
	})
}

func (h *Handlers) logDecision(r *http.Request, sc scope.Scope, res Result) {
	if res.Outcome != OutcomeRejected {
		return
	}
	observability.FromContext(r.Context(), h.logger).WithFields(logrus.Fields{
		"scope":  sc.String(),
		"calls":  res.Calls,
		"reason": res.Reason,
	}).Info("Quota rejected")
}

func decision(res Result) DecisionResponse {
	return DecisionResponse{
		Allowed:   res.Permitted(),
		Outcome:   string(res.Outcome),
		Calls:     res.Calls,
		Limit:     res.Limit,
		Unlimited: res.Unlimited,
		Reason:    res.Reason,
	}
}
