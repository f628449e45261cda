package server

import (
	"encoding/hex"
	"net/http"
	"time"
)

func (s *HttpServer) GetManifest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.federation.Manifest())
	}
}

// GetStatus aggregates identity, peer and routing state into one view for
// operators and the admin CLI.
func (s *HttpServer) GetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		manifest := s.federation.Manifest()

		stats, err := s.federation.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"server_id":      manifest.ServerID,
			"public_key":     hex.EncodeToString(manifest.PublicKey),
			"version":        manifest.Version,
			"capabilities":   manifest.Capabilities,
			"plugins":        manifest.Plugins,
			"peers":          stats,
			"dht":            s.router.Status(),
			"uptime_seconds": int64(s.federation.Uptime() / time.Second),
		})
	}
}

func (s *HttpServer) GetHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
