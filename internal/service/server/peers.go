package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"voidnode/internal/model"
	"voidnode/internal/service/federation"
	"voidnode/internal/utils/log"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *HttpServer) AddPeer() http.HandlerFunc {
	type request struct {
		Endpoint string `json:"endpoint"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !readJSON(w, r, &req) {
			return
		}
		if req.Endpoint == "" {
			http.Error(w, "endpoint is required", http.StatusBadRequest)
			return
		}

		peer, err := s.federation.AddPeerByEndpoint(r.Context(), req.Endpoint)
		if err != nil {
			// Unreachable or malformed manifests are the caller's problem.
			if errors.Is(err, federation.ErrPeerUnreachable) {
				http.Error(w, "peer unreachable", http.StatusBadRequest)
				return
			}
			log.Error("add peer failed", zap.String("endpoint", req.Endpoint), zap.Error(err))
			http.Error(w, "could not register peer", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, peer)
	}
}

func (s *HttpServer) ListPeers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trust := model.TrustLevel(r.URL.Query().Get("trust"))
		if trust != "" && !trust.Valid() {
			http.Error(w, "invalid trust level", http.StatusBadRequest)
			return
		}
		peers, err := s.federation.ListPeers(r.Context(), trust)
		if err != nil {
			writeError(w, err)
			return
		}
		if peers == nil {
			peers = []model.PeerRecord{}
		}
		writeJSON(w, http.StatusOK, peers)
	}
}

func (s *HttpServer) GetPeer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID := mux.Vars(r)["serverId"]
		peer, err := s.federation.GetPeer(r.Context(), serverID)
		if err != nil {
			writeError(w, err)
			return
		}
		if peer == nil {
			http.Error(w, "unknown peer", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, peer)
	}
}

func (s *HttpServer) RemovePeer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID := mux.Vars(r)["serverId"]
		if err := s.federation.RemovePeer(r.Context(), serverID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
	}
}

func (s *HttpServer) SetTrustLevel() http.HandlerFunc {
	type request struct {
		TrustLevel model.TrustLevel `json:"trust_level"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		serverID := mux.Vars(r)["serverId"]
		var req request
		if !readJSON(w, r, &req) {
			return
		}
		if !req.TrustLevel.Valid() {
			http.Error(w, "invalid trust level", http.StatusBadRequest)
			return
		}
		if err := s.federation.SetTrustLevel(r.Context(), serverID, req.TrustLevel); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"trust_level": string(req.TrustLevel)})
	}
}

func (s *HttpServer) BlockPeer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID := mux.Vars(r)["serverId"]
		if err := s.federation.BlockPeer(r.Context(), serverID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"trust_level": string(model.TrustBlocked)})
	}
}

func (s *HttpServer) UnblockPeer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID := mux.Vars(r)["serverId"]
		if err := s.federation.UnblockPeer(r.Context(), serverID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"trust_level": string(model.TrustUnknown)})
	}
}

func (s *HttpServer) VerifyPeer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID := mux.Vars(r)["serverId"]
		verified, err := s.federation.VerifyPeer(r.Context(), serverID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"verified": verified})
	}
}

func (s *HttpServer) GetPeerStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.federation.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func (s *HttpServer) TriggerHealthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Detached: the sweep outlives the request.
		go s.federation.HealthSweep(context.Background())
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "sweep started"})
	}
}

func (s *HttpServer) AddTrustRelationship() http.HandlerFunc {
	type request struct {
		FromPeer string `json:"from_peer"`
		ToPeer   string `json:"to_peer"`
		Note     string `json:"note"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !readJSON(w, r, &req) {
			return
		}
		if req.FromPeer == "" || req.ToPeer == "" {
			http.Error(w, "from_peer and to_peer are required", http.StatusBadRequest)
			return
		}
		if err := s.federation.AddTrustRelationship(r.Context(), req.FromPeer, req.ToPeer, req.Note); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]bool{"created": true})
	}
}

func (s *HttpServer) GetTrustedBy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID := mux.Vars(r)["serverId"]
		edges, err := s.federation.TrustedBy(r.Context(), serverID)
		if err != nil {
			writeError(w, err)
			return
		}
		if edges == nil {
			edges = []model.TrustRelationship{}
		}
		writeJSON(w, http.StatusOK, edges)
	}
}

func (s *HttpServer) GetTrustGraph() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID := mux.Vars(r)["serverId"]
		depth := 2
		if v, err := strconv.Atoi(r.URL.Query().Get("depth")); err == nil && v > 0 {
			depth = v
		}
		reachable, err := s.federation.TrustGraph(r.Context(), serverID, depth)
		if err != nil {
			writeError(w, err)
			return
		}
		if reachable == nil {
			reachable = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"from":      serverID,
			"depth":     depth,
			"reachable": reachable,
		})
	}
}
