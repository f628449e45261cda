package server

import (
	"net/http"

	"voidnode/internal/model"
)

func (s *HttpServer) HandleMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env model.SecureEnvelope
		if !readJSON(w, r, &env) {
			return
		}
		if env.FromServerID == "" || len(env.Ciphertext) == 0 || len(env.Signature) == 0 {
			http.Error(w, "from_server_id, ciphertext and signature are required", http.StatusBadRequest)
			return
		}

		reply, err := s.federation.HandleMessage(r.Context(), &env)
		if err != nil {
			writeError(w, err)
			return
		}
		if reply == nil {
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		sealed, err := s.federation.Seal(r.Context(), env.FromServerID, reply)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sealed)
	}
}

func (s *HttpServer) HandlePing() http.HandlerFunc {
	type request struct {
		FromServerID string `json:"from_server_id"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !readJSON(w, r, &req) {
			return
		}
		// A ping from a known peer counts as a successful contact.
		if req.FromServerID != "" {
			if p, err := s.federation.GetPeer(r.Context(), req.FromServerID); err == nil && p != nil {
				s.federation.RecordContact(r.Context(), req.FromServerID, true)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":        true,
			"server_id": s.federation.Manifest().ServerID,
		})
	}
}
