package gate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redisSvc "voidnode/internal/service/redis"
	"voidnode/internal/utils/log"

	"go.uber.org/zap"
)

type Tier string

const (
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
	TierElite    Tier = "elite"
)

var tierRank = map[Tier]int{
	TierBasic:    0,
	TierStandard: 1,
	TierPremium:  2,
	TierElite:    3,
}

var (
	// ErrUnknownFeature rejects a gate check for a feature with no
	// configured tier. Failing closed beats guessing.
	ErrUnknownFeature = errors.New("gate: unknown feature")

	// ErrOracleUnavailable is a balance-lookup failure; gated calls surface
	// it rather than defaulting to allowed.
	ErrOracleUnavailable = errors.New("gate: balance oracle unavailable")
)

const balanceKeyPrefix = "balance:"

type (
	// BalanceOracle resolves an identity address to its token balance. The
	// real ledger client is an external collaborator; a static oracle serves
	// dev and tests.
	BalanceOracle interface {
		Balance(ctx context.Context, address string) (int64, error)
	}

	// Decision is the outcome of a gate check.
	Decision struct {
		Allowed      bool   `json:"allowed"`
		Feature      string `json:"feature"`
		RequiredTier Tier   `json:"required_tier"`
		Tier         Tier   `json:"tier"`
		Balance      int64  `json:"balance"`
	}

	// Gate maps token balances to tiers and tiers to feature access.
	// Balances are cached in redis because the ledger changes slowly
	// relative to request rate; ClearCache invalidates one address.
	Gate struct {
		oracle     BalanceOracle
		cache      *redisSvc.RedisService
		cacheTTL   time.Duration
		thresholds map[Tier]int64
		features   map[string]Tier
	}
)

func New(oracle BalanceOracle, cache *redisSvc.RedisService, cacheTTL time.Duration, thresholds map[string]int64, features map[string]string) *Gate {
	g := &Gate{
		oracle:     oracle,
		cache:      cache,
		cacheTTL:   cacheTTL,
		thresholds: make(map[Tier]int64),
		features:   make(map[string]Tier),
	}
	for tier, min := range thresholds {
		g.thresholds[Tier(tier)] = min
	}
	for feature, tier := range features {
		g.features[feature] = Tier(tier)
	}
	return g
}

// CheckAccess resolves the caller's tier from its balance and compares it to
// the feature's requirement.
func (g *Gate) CheckAccess(ctx context.Context, address, feature string) (*Decision, error) {
	required, ok := g.features[feature]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
	}

	balance, err := g.balance(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}

	tier := g.tierFor(balance)
	return &Decision{
		Allowed:      tierRank[tier] >= tierRank[required],
		Feature:      feature,
		RequiredTier: required,
		Tier:         tier,
		Balance:      balance,
	}, nil
}

// ClearCache drops the cached balance for one address, forcing the next
// check to hit the oracle.
func (g *Gate) ClearCache(ctx context.Context, address string) error {
	return g.cache.Del(ctx, balanceKeyPrefix+address)
}

func (g *Gate) balance(ctx context.Context, address string) (int64, error) {
	cached, err := g.cache.Get(ctx, balanceKeyPrefix+address)
	if err == nil {
		if v, perr := strconv.ParseInt(cached, 10, 64); perr == nil {
			return v, nil
		}
	} else if !redisSvc.IsNil(err) {
		log.Warn("balance cache read failed", zap.Error(err))
	}

	balance, err := g.oracle.Balance(ctx, address)
	if err != nil {
		return 0, err
	}
	if err := g.cache.Set(ctx, balanceKeyPrefix+address, strconv.FormatInt(balance, 10), g.cacheTTL); err != nil {
		log.Warn("balance cache write failed", zap.Error(err))
	}
	return balance, nil
}

func (g *Gate) tierFor(balance int64) Tier {
	tier := TierBasic
	for candidate, min := range g.thresholds {
		if balance >= min && tierRank[candidate] > tierRank[tier] {
			tier = candidate
		}
	}
	return tier
}
