package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"voidnode/internal/dht"
	"voidnode/internal/identity"
	"voidnode/internal/service/federation"
	"voidnode/internal/service/gate"
	syncSvc "voidnode/internal/service/sync"
	"voidnode/internal/utils/log"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type (
	HttpServer struct {
		addr       string
		federation *federation.Service
		router     *dht.Router
		engine     *syncSvc.Engine
		gate       *gate.Gate

		srv *http.Server
	}
)

func NewHttpServer(addr string, fed *federation.Service, router *dht.Router, engine *syncSvc.Engine, g *gate.Gate) *HttpServer {
	return &HttpServer{
		addr:       addr,
		federation: fed,
		router:     router,
		engine:     engine,
		gate:       g,
	}
}

// Routes builds the full endpoint surface. Gated twins live under /gated and
// require a caller identity address.
func (s *HttpServer) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/manifest", s.GetManifest()).Methods(http.MethodGet)
	r.HandleFunc("/status", s.GetStatus()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.GetHealthz()).Methods(http.MethodGet)
	r.HandleFunc("/events", s.HandleEvents()).Methods(http.MethodGet)

	s.registerFederation(r)
	s.registerGated(r.PathPrefix("/gated").Subrouter())
	return r
}

func (s *HttpServer) registerFederation(r *mux.Router) {
	r.HandleFunc("/peers", s.AddPeer()).Methods(http.MethodPost)
	r.HandleFunc("/peers", s.ListPeers()).Methods(http.MethodGet)
	r.HandleFunc("/peers/stats", s.GetPeerStats()).Methods(http.MethodGet)
	r.HandleFunc("/peers/health-check", s.TriggerHealthCheck()).Methods(http.MethodPost)
	r.HandleFunc("/peers/{serverId}", s.GetPeer()).Methods(http.MethodGet)
	r.HandleFunc("/peers/{serverId}", s.RemovePeer()).Methods(http.MethodDelete)
	r.HandleFunc("/peers/{serverId}/trust", s.SetTrustLevel()).Methods(http.MethodPut)
	r.HandleFunc("/peers/{serverId}/block", s.BlockPeer()).Methods(http.MethodPost)
	r.HandleFunc("/peers/{serverId}/unblock", s.UnblockPeer()).Methods(http.MethodPost)
	r.HandleFunc("/peers/{serverId}/verify", s.VerifyPeer()).Methods(http.MethodPost)

	r.HandleFunc("/trust", s.AddTrustRelationship()).Methods(http.MethodPost)
	r.HandleFunc("/trust/{serverId}", s.GetTrustedBy()).Methods(http.MethodGet)
	r.HandleFunc("/trust/{serverId}/graph", s.GetTrustGraph()).Methods(http.MethodGet)

	r.HandleFunc("/verify/challenge", s.CreateChallenge()).Methods(http.MethodPost)
	r.HandleFunc("/verify/respond", s.AnswerChallenge()).Methods(http.MethodPost)
	r.HandleFunc("/verify/complete", s.CompleteChallenge()).Methods(http.MethodPost)

	r.HandleFunc("/message", s.HandleMessage()).Methods(http.MethodPost)
	r.HandleFunc("/ping", s.HandlePing()).Methods(http.MethodPost)

	r.HandleFunc("/dht/status", s.GetDHTStatus()).Methods(http.MethodGet)
	r.HandleFunc("/dht/nodes", s.GetDHTNodes()).Methods(http.MethodGet)
	r.HandleFunc("/dht/bootstrap", s.TriggerBootstrap()).Methods(http.MethodPost)
	r.HandleFunc("/dht/announce", s.HandleAnnounce()).Methods(http.MethodPost)
	r.HandleFunc("/dht/find-node", s.HandleFindNode()).Methods(http.MethodPost)

	r.HandleFunc("/memories/export", s.ExportMemories()).Methods(http.MethodPost)
	r.HandleFunc("/memories/import", s.ImportMemories()).Methods(http.MethodPost)
	r.HandleFunc("/memories/sync/stats", s.GetSyncStats()).Methods(http.MethodGet)
	r.HandleFunc("/memories/sync/states", s.GetSyncStates()).Methods(http.MethodGet)
	r.HandleFunc("/memories/sync/{peerId}", s.DeltaSync()).Methods(http.MethodPost)
	r.HandleFunc("/memories/sync/{peerId}/preview", s.PreviewImport()).Methods(http.MethodPost)

	r.HandleFunc("/gate/check", s.CheckAccess()).Methods(http.MethodPost)
	r.HandleFunc("/gate/cache/{address}", s.ClearGateCache()).Methods(http.MethodDelete)
}

// registerGated mounts token-gated twins of the sensitive operations.
func (s *HttpServer) registerGated(r *mux.Router) {
	r.Handle("/memories/export", s.gated("memory_export", s.ExportMemories())).Methods(http.MethodPost)
	r.Handle("/memories/import", s.gated("memory_import", s.ImportMemories())).Methods(http.MethodPost)
	r.Handle("/memories/sync/{peerId}", s.gated("delta_sync", s.DeltaSync())).Methods(http.MethodPost)
	r.Handle("/memories/sync/{peerId}/preview", s.gated("delta_sync", s.PreviewImport())).Methods(http.MethodPost)
	r.Handle("/message", s.gated("secure_message", s.HandleMessage())).Methods(http.MethodPost)
	r.Handle("/peers", s.gated("peer_admin", s.AddPeer())).Methods(http.MethodPost)
	r.Handle("/peers/{serverId}", s.gated("peer_admin", s.RemovePeer())).Methods(http.MethodDelete)
	r.Handle("/peers/{serverId}/trust", s.gated("peer_admin", s.SetTrustLevel())).Methods(http.MethodPut)
	r.Handle("/peers/{serverId}/block", s.gated("peer_admin", s.BlockPeer())).Methods(http.MethodPost)
	r.Handle("/peers/{serverId}/unblock", s.gated("peer_admin", s.UnblockPeer())).Methods(http.MethodPost)
}

func (s *HttpServer) Run() error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("http server listening", zap.String("addr", s.addr))
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *HttpServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Error("encode response failed", zap.Error(err))
		}
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps the error taxonomy onto status codes. Crypto failures are
// rejected without detail; nothing secret is echoed back.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, federation.ErrUnknownPeer):
		http.Error(w, "unknown peer", http.StatusNotFound)
	case errors.Is(err, federation.ErrBadSignature):
		http.Error(w, "signature verification failed", http.StatusUnauthorized)
	case errors.Is(err, identity.ErrDecryptionFailed):
		http.Error(w, "decryption failed", http.StatusBadRequest)
	case errors.Is(err, federation.ErrChallengeExpired):
		http.Error(w, "challenge expired or unknown", http.StatusBadRequest)
	case errors.Is(err, federation.ErrPeerBlocked):
		http.Error(w, "peer is blocked", http.StatusForbidden)
	case errors.Is(err, federation.ErrPeerUnreachable):
		http.Error(w, "peer unreachable", http.StatusBadGateway)
	case errors.Is(err, syncSvc.ErrBadManifest):
		http.Error(w, "export manifest signature invalid", http.StatusBadRequest)
	case errors.Is(err, gate.ErrUnknownFeature):
		http.Error(w, "unknown feature", http.StatusBadRequest)
	case errors.Is(err, gate.ErrOracleUnavailable):
		http.Error(w, "balance oracle unavailable", http.StatusBadGateway)
	default:
		log.Error("internal error", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
