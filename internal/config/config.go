package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config holds everything the node needs to start. Values come from an
	// optional YAML file, with environment variables taking precedence.
	Config struct {
		ListenAddr string `yaml:"listen_addr"`
		PublicURL  string `yaml:"public_url"`
		DataDir    string `yaml:"data_dir"`
		NodeName   string `yaml:"node_name"`
		Version    string `yaml:"version"`

		MongoURI  string `yaml:"mongo_uri"`
		MongoDB   string `yaml:"mongo_db"`
		RedisAddr string `yaml:"redis_addr"`

		Capabilities   []string `yaml:"capabilities"`
		BootstrapNodes []string `yaml:"bootstrap_nodes"`

		RequestTimeout      time.Duration `yaml:"request_timeout"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
		HealthCheckWorkers  int           `yaml:"health_check_workers"`
		DHTRefreshInterval  time.Duration `yaml:"dht_refresh_interval"`
		AnnounceInterval    time.Duration `yaml:"announce_interval"`
		ChallengeTTL        time.Duration `yaml:"challenge_ttl"`

		Gate GateConfig `yaml:"gate"`
	}

	GateConfig struct {
		OracleURL      string            `yaml:"oracle_url"`
		CacheTTL       time.Duration     `yaml:"cache_ttl"`
		TierThresholds map[string]int64  `yaml:"tier_thresholds"`
		FeatureTiers   map[string]string `yaml:"feature_tiers"`
		StaticBalances map[string]int64  `yaml:"static_balances"`
	}
)

func defaults() *Config {
	return &Config{
		ListenAddr:          "127.0.0.1:9090",
		DataDir:             "data",
		NodeName:            "voidnode",
		Version:             "0.3.0",
		MongoURI:            "mongodb://localhost:27017",
		MongoDB:             "voidnode",
		RedisAddr:           "localhost:6379",
		Capabilities:        []string{"memory_sync", "secure_messaging", "dht"},
		RequestTimeout:      10 * time.Second,
		HealthCheckInterval: 60 * time.Second,
		HealthCheckWorkers:  4,
		DHTRefreshInterval:  5 * time.Minute,
		AnnounceInterval:    10 * time.Minute,
		ChallengeTTL:        2 * time.Minute,
		Gate: GateConfig{
			CacheTTL: 5 * time.Minute,
			TierThresholds: map[string]int64{
				"standard": 1_000,
				"premium":  10_000,
				"elite":    100_000,
			},
			FeatureTiers: map[string]string{
				"memory_export":  "standard",
				"memory_import":  "standard",
				"delta_sync":     "premium",
				"secure_message": "premium",
				"peer_admin":     "elite",
			},
		},
	}
}

// Load reads the YAML file at path (if it exists) over the defaults, then
// applies environment overrides. A missing file is not an error; a malformed
// one is.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://" + cfg.ListenAddr
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	if cfg.HealthCheckWorkers <= 0 {
		cfg.HealthCheckWorkers = 4
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "VOIDNODE_ADDR")
	setString(&c.PublicURL, "VOIDNODE_PUBLIC_URL")
	setString(&c.DataDir, "VOIDNODE_DATA_DIR")
	setString(&c.NodeName, "VOIDNODE_NAME")
	setString(&c.MongoURI, "VOIDNODE_MONGO_URI")
	setString(&c.MongoDB, "VOIDNODE_MONGO_DB")
	setString(&c.RedisAddr, "VOIDNODE_REDIS_ADDR")
	setString(&c.Gate.OracleURL, "VOIDNODE_ORACLE_URL")

	if v := os.Getenv("VOIDNODE_BOOTSTRAP"); v != "" {
		var nodes []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				nodes = append(nodes, p)
			}
		}
		c.BootstrapNodes = nodes
	}
	setDuration(&c.RequestTimeout, "VOIDNODE_REQUEST_TIMEOUT_SEC")
	setDuration(&c.HealthCheckInterval, "VOIDNODE_HEALTH_INTERVAL_SEC")
	setDuration(&c.DHTRefreshInterval, "VOIDNODE_DHT_REFRESH_SEC")
	setDuration(&c.AnnounceInterval, "VOIDNODE_ANNOUNCE_SEC")
	setDuration(&c.ChallengeTTL, "VOIDNODE_CHALLENGE_TTL_SEC")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		*dst = time.Duration(v) * time.Second
	}
}

// IdentityPath is where the server keypair lives under the data dir.
func (c *Config) IdentityPath() string {
	return c.DataDir + "/identity.json"
}
