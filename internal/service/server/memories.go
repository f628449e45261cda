package server

import (
	"net/http"

	"voidnode/internal/model"

	"github.com/gorilla/mux"
)

func (s *HttpServer) ExportMemories() http.HandlerFunc {
	type request struct {
		Filters model.MemoryFilters `json:"filters"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !readJSON(w, r, &req) {
			return
		}
		export, err := s.engine.Export(r.Context(), req.Filters)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, export)
	}
}

func (s *HttpServer) ImportMemories() http.HandlerFunc {
	type request struct {
		Export         *model.MemoryExport `json:"export"`
		SkipDuplicates bool                `json:"skip_duplicates"`
		DryRun         bool                `json:"dry_run"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !readJSON(w, r, &req) {
			return
		}
		if req.Export == nil {
			http.Error(w, "export is required", http.StatusBadRequest)
			return
		}
		result, err := s.engine.Import(r.Context(), req.Export, model.ImportOptions{
			SkipDuplicates: req.SkipDuplicates,
			DryRun:         req.DryRun,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *HttpServer) GetSyncStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.engine.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func (s *HttpServer) GetSyncStates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states, err := s.engine.States(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if states == nil {
			states = []model.SyncState{}
		}
		writeJSON(w, http.StatusOK, states)
	}
}

func (s *HttpServer) DeltaSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID := mux.Vars(r)["peerId"]
		result, err := s.engine.DeltaSync(r.Context(), peerID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *HttpServer) PreviewImport() http.HandlerFunc {
	type request struct {
		Filters model.MemoryFilters `json:"filters"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		peerID := mux.Vars(r)["peerId"]
		var req request
		if !readJSON(w, r, &req) {
			return
		}
		result, err := s.engine.PreviewImport(r.Context(), peerID, req.Filters)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
