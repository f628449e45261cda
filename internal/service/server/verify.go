package server

import (
	"net/http"
)

func (s *HttpServer) CreateChallenge() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challenge, err := s.federation.CreateChallenge(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		manifest := s.federation.Manifest()
		writeJSON(w, http.StatusOK, map[string]any{
			"challenge":  challenge,
			"server_id":  manifest.ServerID,
			"public_key": manifest.PublicKey,
		})
	}
}

func (s *HttpServer) AnswerChallenge() http.HandlerFunc {
	type request struct {
		Challenge string `json:"challenge"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !readJSON(w, r, &req) {
			return
		}
		if req.Challenge == "" {
			http.Error(w, "challenge is required", http.StatusBadRequest)
			return
		}
		response, err := s.federation.AnswerChallenge(req.Challenge)
		if err != nil {
			writeError(w, err)
			return
		}
		manifest := s.federation.Manifest()
		writeJSON(w, http.StatusOK, map[string]any{
			"response":   response,
			"server_id":  manifest.ServerID,
			"public_key": manifest.PublicKey,
		})
	}
}

func (s *HttpServer) CompleteChallenge() http.HandlerFunc {
	type request struct {
		ServerID  string `json:"server_id"`
		Challenge string `json:"challenge"`
		Response  []byte `json:"response"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !readJSON(w, r, &req) {
			return
		}
		if req.ServerID == "" || req.Challenge == "" || len(req.Response) == 0 {
			http.Error(w, "server_id, challenge and response are required", http.StatusBadRequest)
			return
		}
		verified, err := s.federation.CompleteChallenge(r.Context(), req.ServerID, req.Challenge, req.Response)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"verified": verified})
	}
}
