package server

import (
	"context"
	"encoding/json"
	"net/http"

	"voidnode/internal/dht"
)

func (s *HttpServer) GetDHTStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.router.Status())
	}
}

func (s *HttpServer) GetDHTNodes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes := s.router.Table().All()
		if nodes == nil {
			nodes = []dht.Node{}
		}
		writeJSON(w, http.StatusOK, nodes)
	}
}

func (s *HttpServer) TriggerBootstrap() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Detached: bootstrap outlives the request.
		go s.router.Bootstrap(context.Background())
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "bootstrap started"})
	}
}

func (s *HttpServer) HandleAnnounce() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dht.AnnounceRequest
		if !readJSON(w, r, &req) {
			return
		}
		if req.ServerID == "" || req.Endpoint == "" || len(req.PublicKey) == 0 {
			http.Error(w, "server_id, endpoint and public_key are required", http.StatusBadRequest)
			return
		}
		added := s.router.HandleAnnounce(req)
		writeJSON(w, http.StatusOK, dht.AnnounceResponse{Added: added})
	}
}

func (s *HttpServer) HandleFindNode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Decode by hand so a missing target_id is distinguishable from a
		// zero-valued one.
		var raw struct {
			Target *dht.NodeID     `json:"target_id"`
			From   json.RawMessage `json:"from"`
		}
		if !readJSON(w, r, &raw) {
			return
		}
		if raw.Target == nil {
			http.Error(w, "target_id is required", http.StatusBadRequest)
			return
		}

		req := dht.FindNodeRequest{Target: *raw.Target}
		if len(raw.From) > 0 {
			if err := json.Unmarshal(raw.From, &req.From); err != nil {
				http.Error(w, "malformed from node", http.StatusBadRequest)
				return
			}
		}
		nodes := s.router.HandleFindNode(req)
		if nodes == nil {
			nodes = []dht.Node{}
		}
		writeJSON(w, http.StatusOK, dht.FindNodeResponse{Nodes: nodes})
	}
}
