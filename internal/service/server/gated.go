package server

import (
	"net/http"

	"voidnode/internal/utils/log"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// identityHeader carries the caller's ledger address on gated requests.
const identityHeader = "X-Identity-Address"

// gated wraps a handler with the token gate: 401 when no identity address is
// supplied, 403 when the resolved tier is insufficient. Denial is always
// explicit; it never degrades to allowed.
func (s *HttpServer) gated(feature string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.Header.Get(identityHeader)
		if address == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error":  "identity address required",
				"reason": "missing_identity",
			})
			return
		}

		decision, err := s.gate.CheckAccess(r.Context(), address, feature)
		if err != nil {
			writeError(w, err)
			return
		}
		if !decision.Allowed {
			log.Info("gated request denied",
				zap.String("feature", feature), zap.String("tier", string(decision.Tier)))
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":         "insufficient tier",
				"reason":        "tier_too_low",
				"required_tier": decision.RequiredTier,
				"tier":          decision.Tier,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HttpServer) CheckAccess() http.HandlerFunc {
	type request struct {
		Address string `json:"address"`
		Feature string `json:"feature"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !readJSON(w, r, &req) {
			return
		}
		if req.Address == "" || req.Feature == "" {
			http.Error(w, "address and feature are required", http.StatusBadRequest)
			return
		}
		decision, err := s.gate.CheckAccess(r.Context(), req.Address, req.Feature)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, decision)
	}
}

func (s *HttpServer) ClearGateCache() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := mux.Vars(r)["address"]
		if err := s.gate.ClearCache(r.Context(), address); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
	}
}
