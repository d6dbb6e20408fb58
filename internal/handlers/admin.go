package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/benvon/crm-ratelimit/internal/models"
	"github.com/benvon/crm-ratelimit/internal/ratelimit"
	"github.com/gorilla/mux"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"
)

// PolicyCatalog lists the policies in effect.
type PolicyCatalog interface {
	Lookup(name string) (ratelimit.Policy, bool)
	Policies() []ratelimit.Policy
}

// OverrideStore persists policy rate overrides.
type OverrideStore interface {
	List(ctx context.Context) ([]models.PolicyOverride, error)
	Set(ctx context.Context, o *models.PolicyOverride) error
	Delete(ctx context.Context, policyName string) error
}

// Resetter clears a rate limit window.
type Resetter interface {
	Reset(ctx context.Context, identifier, namespace string) error
}

// AdminHandler serves the rate limit admin API.
type AdminHandler struct {
	policies  PolicyCatalog
	limiter   Resetter
	overrides OverrideStore
	reload    func(ctx context.Context) error
	log       *zap.Logger
}

// NewAdminHandler creates an admin handler. overrides and reload may be nil,
// in which case the override routes answer 501.
func NewAdminHandler(policies PolicyCatalog, l Resetter, overrides OverrideStore, reload func(ctx context.Context) error, log *zap.Logger) *AdminHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminHandler{policies: policies, limiter: l, overrides: overrides, reload: reload, log: log}
}

// RegisterRoutes registers admin routes on the given router
// The router should already have the /admin/ratelimit prefix
func (h *AdminHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/policies", h.ListPolicies).Methods("GET")
	r.HandleFunc("/policies/{name}", h.GetPolicy).Methods("GET")
	r.HandleFunc("/reset", h.Reset).Methods("POST")
	r.HandleFunc("/overrides", h.ListOverrides).Methods("GET")
	r.HandleFunc("/overrides/{name}", h.SetOverride).Methods("PUT")
	r.HandleFunc("/overrides/{name}", h.DeleteOverride).Methods("DELETE")
}

// PolicyResponse is a policy as shown by the admin API.
type PolicyResponse struct {
	Name          string `json:"name"`
	Namespace     string `json:"namespace"`
	Limit         int    `json:"limit"`
	WindowSeconds int64  `json:"window_seconds"`
	Burst         int    `json:"burst,omitempty"`
}

func newPolicyResponse(p ratelimit.Policy) PolicyResponse {
	return PolicyResponse{
		Name:          p.Name,
		Namespace:     p.Namespace,
		Limit:         p.Limit,
		WindowSeconds: int64(p.Window.Seconds()),
		Burst:         p.Burst,
	}
}

// ListPolicies returns every policy in effect.
func (h *AdminHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies := h.policies.Policies()
	out := make([]PolicyResponse, 0, len(policies))
	for _, p := range policies {
		out = append(out, newPolicyResponse(p))
	}
	respondJSON(w, http.StatusOK, out)
}

// GetPolicy returns one policy.
func (h *AdminHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, ok := h.policies.Lookup(name)
	if !ok {
		respondJSONError(w, http.StatusNotFound, "Not Found", "Unknown policy "+name)
		return
	}
	respondJSON(w, http.StatusOK, newPolicyResponse(p))
}

// ResetRequest clears one window. Scope selects the combined-check key
// ("ip" or "org"); without it the plain identifier key is cleared.
type ResetRequest struct {
	Identifier string `json:"identifier" validate:"required,max=256,key_segment"`
	Namespace  string `json:"namespace" validate:"required,max=128,key_segment"`
	Scope      string `json:"scope,omitempty" validate:"omitempty,oneof=ip org"`
}

// Reset deletes a rate limit window.
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	identifier := req.Identifier
	if req.Scope != "" {
		identifier = req.Scope + ":" + identifier
	}
	if err := h.limiter.Reset(r.Context(), identifier, req.Namespace); err != nil {
		h.log.Error("admin_ratelimit_reset_failed", zap.String("namespace", req.Namespace), zap.Error(err))
		respondJSONError(w, http.StatusBadGateway, "Reset Failed", "The counter store did not accept the reset")
		return
	}
	h.log.Info("admin_ratelimit_reset",
		zap.String("namespace", req.Namespace),
		zap.String("scope", req.Scope),
	)
	respondJSON(w, http.StatusOK, map[string]string{
		"key": ratelimit.Key(req.Namespace, req.Scope, req.Identifier),
	})
}

// ListOverrides returns the stored rate overrides.
func (h *AdminHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	if h.overrides == nil {
		respondOverridesDisabled(w)
		return
	}
	list, err := h.overrides.List(r.Context())
	if err != nil {
		h.log.Error("failed_to_list_policy_overrides", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to list overrides")
		return
	}
	if list == nil {
		list = []models.PolicyOverride{}
	}
	respondJSON(w, http.StatusOK, list)
}

// SetOverrideRequest carries a ulule rate such as "100-M".
type SetOverrideRequest struct {
	Rate string `json:"rate" validate:"required,max=32"`
}

// SetOverride stores a rate override and reloads the policies.
func (h *AdminHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	if h.overrides == nil {
		respondOverridesDisabled(w)
		return
	}
	name := mux.Vars(r)["name"]
	if _, ok := h.policies.Lookup(name); !ok {
		respondJSONError(w, http.StatusNotFound, "Not Found", "Unknown policy "+name)
		return
	}
	var req SetOverrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	rate := strings.TrimSpace(req.Rate)
	if _, err := limiter.NewRateFromFormatted(rate); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Rate must look like 100-M")
		return
	}

	o := &models.PolicyOverride{PolicyName: name, Rate: rate}
	if err := h.overrides.Set(r.Context(), o); err != nil {
		h.log.Error("failed_to_set_policy_override", zap.String("policy", name), zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to store override")
		return
	}
	h.reloadPolicies(r.Context())
	h.log.Info("admin_policy_override_set", zap.String("policy", name), zap.String("rate", rate))
	respondJSON(w, http.StatusOK, o)
}

// DeleteOverride removes a rate override and reloads the policies.
func (h *AdminHandler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	if h.overrides == nil {
		respondOverridesDisabled(w)
		return
	}
	name := mux.Vars(r)["name"]
	if err := h.overrides.Delete(r.Context(), name); err != nil {
		h.log.Error("failed_to_delete_policy_override", zap.String("policy", name), zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to delete override")
		return
	}
	h.reloadPolicies(r.Context())
	h.log.Info("admin_policy_override_deleted", zap.String("policy", name))
	w.WriteHeader(http.StatusNoContent)
}

// reloadPolicies applies a change right away instead of on the next tick.
// A failure is logged; the periodic reload will retry.
func (h *AdminHandler) reloadPolicies(ctx context.Context) {
	if h.reload == nil {
		return
	}
	if err := h.reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
		h.log.Warn("policy_reload_after_admin_change_failed", zap.Error(err))
	}
}

func respondOverridesDisabled(w http.ResponseWriter) {
	respondJSONError(w, http.StatusNotImplemented, "Not Implemented", "Policy overrides need DATABASE_URL")
}
