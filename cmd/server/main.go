package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voidnode/internal/config"
	"voidnode/internal/dht"
	"voidnode/internal/identity"
	memoryRepo "voidnode/internal/repository/memory"
	peerRepo "voidnode/internal/repository/peer"
	syncStateRepo "voidnode/internal/repository/syncstate"
	"voidnode/internal/service/federation"
	"voidnode/internal/service/gate"
	redisSvc "voidnode/internal/service/redis"
	"voidnode/internal/service/server"
	syncSvc "voidnode/internal/service/sync"
	"voidnode/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Getenv("VOIDNODE_CONFIG"))
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatal("create data dir", zap.Error(err))
	}

	id, err := identity.LoadOrCreate(cfg.IdentityPath())
	if err != nil {
		log.Fatal("load identity", zap.Error(err))
	}
	log.Info("server identity ready", zap.String("server_id", id.ServerID))

	mongoDBClient, err := initMongo(cfg.MongoURI)
	if err != nil {
		log.Fatal("connect mongo", zap.Error(err))
	}
	db := mongoDBClient.Database(cfg.MongoDB)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: "", // no password by default
		DB:       0,  // use default DB
	})
	cache := redisSvc.NewRedis(rdb)

	peers := peerRepo.NewPeerRepo(db)
	memories := memoryRepo.NewMemoryRepo(db)
	states := syncStateRepo.NewSyncStateRepo(db)

	fed := federation.NewService(id, peers, cache, federation.Options{
		Version:        cfg.Version,
		Endpoint:       cfg.PublicURL,
		Capabilities:   cfg.Capabilities,
		RequestTimeout: cfg.RequestTimeout,
		ChallengeTTL:   cfg.ChallengeTTL,
		HealthWorkers:  cfg.HealthCheckWorkers,
	})

	engine := syncSvc.NewEngine(id, memories, states, fed, fed.Events(), cfg.RequestTimeout)
	fed.AttachMemory(memories, engine)

	g := gate.New(pickOracle(cfg), cache, cfg.Gate.CacheTTL, cfg.Gate.TierThresholds, cfg.Gate.FeatureTiers)

	self := dht.Node{
		ID:           dht.NodeIDFromPublicKey(id.PublicKey),
		ServerID:     id.ServerID,
		Endpoint:     cfg.PublicURL,
		PublicKey:    id.PublicKey,
		Capabilities: cfg.Capabilities,
	}
	router := dht.NewRouter(self, dht.NewClient(cfg.RequestTimeout), cfg.BootstrapNodes)
	router.OnObserve = func(n dht.Node) {
		fed.ObserveDHTNode(n.ServerID, n.Endpoint, n.PublicKey, n.Capabilities)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := fed.LoadPeers(ctx); err != nil {
		log.Warn("load peers", zap.Error(err))
	}

	go fed.HealthLoop(ctx, cfg.HealthCheckInterval)
	go router.RefreshLoop(ctx, cfg.DHTRefreshInterval)
	go announceLoop(ctx, router, cfg.AnnounceInterval)

	srv := server.NewHttpServer(cfg.ListenAddr, fed, router, engine, g)
	go func() {
		if err := srv.Run(); err != nil {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
	if err := mongoDBClient.Disconnect(shutdownCtx); err != nil {
		log.Error("mongo disconnect", zap.Error(err))
	}
}

// announceLoop joins the overlay once at startup, then re-announces on a
// timer so restarted bootstrap nodes re-learn us.
func announceLoop(ctx context.Context, router *dht.Router, interval time.Duration) {
	router.Bootstrap(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			router.Bootstrap(ctx)
		}
	}
}

func pickOracle(cfg *config.Config) gate.BalanceOracle {
	if cfg.Gate.OracleURL != "" {
		return gate.NewHTTPOracle(cfg.Gate.OracleURL, 10*time.Second)
	}
	log.Warn("no balance oracle configured, using static balances")
	return &gate.StaticOracle{Balances: cfg.Gate.StaticBalances}
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
