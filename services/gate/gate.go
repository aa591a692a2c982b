// Package gate decides whether a wallet may enter a token-gated room.
package gate

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenrooms/backend/internal/chain"
	"github.com/tokenrooms/backend/internal/database"
	"github.com/tokenrooms/backend/internal/logging"
	"github.com/tokenrooms/backend/internal/metrics"
)

// decisionTTL bounds how long a cached gate decision is served before
// balances are re-read from chain.
const decisionTTL = 30 * time.Second

// Decision is the outcome of a gate check.
type Decision struct {
	Granted  bool    `json:"granted"`
	Gated    bool    `json:"gated"`
	Balance  float64 `json:"balance,omitempty"`
	Required float64 `json:"required,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

type cachedDecision struct {
	decision Decision
	expires  time.Time
}

// Checker evaluates room token gates against on-chain balances.
type Checker struct {
	registry *chain.Registry
	logger   *logging.Logger
	metrics  *metrics.Metrics

	mu    sync.RWMutex
	cache map[string]cachedDecision
}

// NewChecker creates a gate checker backed by the chain registry.
func NewChecker(registry *chain.Registry, logger *logging.Logger, m *metrics.Metrics) *Checker {
	return &Checker{
		registry: registry,
		logger:   logger,
		metrics:  m,
		cache:    make(map[string]cachedDecision),
	}
}

// CheckAccess decides whether wallet may enter room. A room is open when
// it has no token gate, when the required amount is not positive, or
// when no wallet is connected. Chain read failures deny access rather
// than letting a gated room fall open.
func (c *Checker) CheckAccess(ctx context.Context, room *database.Room, wallet string) (Decision, error) {
	if room.TokenAddress == nil || *room.TokenAddress == "" || room.RequiredTokens <= 0 {
		return c.record(Decision{Granted: true, Gated: false, Reason: "no token gate"}), nil
	}
	if wallet == "" {
		return c.record(Decision{Granted: true, Gated: true, Required: room.RequiredTokens, Reason: "no wallet connected"}), nil
	}

	key := cacheKey(room, wallet)
	if d, ok := c.lookup(key); ok {
		return d, nil
	}

	d, err := c.evaluate(ctx, room, wallet)
	if err != nil {
		c.metrics.RecordGateDecision(false)
		return Decision{Granted: false, Gated: true, Required: room.RequiredTokens, Reason: "balance check failed"}, err
	}

	// Only grants are cached. A denial re-reads the chain on the next
	// attempt so a freshly funded wallet gets in without waiting out
	// the TTL.
	if d.Granted {
		c.store(key, d)
	}
	return c.record(d), nil
}

func (c *Checker) evaluate(ctx context.Context, room *database.Room, wallet string) (Decision, error) {
	if room.TokenNetwork == nil {
		return Decision{}, fmt.Errorf("room %q has a token gate without a network", room.Name)
	}
	network, err := chain.ParseNetwork(*room.TokenNetwork)
	if err != nil {
		return Decision{}, err
	}
	client, err := c.registry.Client(network)
	if err != nil {
		return Decision{}, err
	}

	token := common.HexToAddress(*room.TokenAddress)
	holder := common.HexToAddress(wallet)

	balance, err := client.BalanceOf(ctx, token, holder)
	c.metrics.RecordChainCall(network.String(), "balanceOf", err)
	if err != nil {
		return Decision{}, fmt.Errorf("read balance of %s on %s: %w", wallet, network, err)
	}

	decimals, err := client.Decimals(ctx, token)
	c.metrics.RecordChainCall(network.String(), "decimals", err)
	if err != nil {
		return Decision{}, fmt.Errorf("read decimals of %s on %s: %w", *room.TokenAddress, network, err)
	}

	normalized := normalize(balance, decimals)
	granted := normalized >= room.RequiredTokens

	c.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"room":     room.Name,
		"wallet":   wallet,
		"network":  network,
		"balance":  normalized,
		"required": room.RequiredTokens,
		"granted":  granted,
	}).Debug("Gate decision")

	d := Decision{
		Granted:  granted,
		Gated:    true,
		Balance:  normalized,
		Required: room.RequiredTokens,
	}
	if !granted {
		d.Reason = "insufficient balance"
	}
	return d, nil
}

// normalize converts a raw token amount to whole-token units.
func normalize(raw *big.Int, decimals uint8) float64 {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), scale).Float64()
	return out
}

func cacheKey(room *database.Room, wallet string) string {
	return fmt.Sprintf("%s|%s|%s|%g|%s",
		room.Name, strings.ToLower(*room.TokenAddress), derefStr(room.TokenNetwork),
		room.RequiredTokens, strings.ToLower(wallet))
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (c *Checker) lookup(key string) (Decision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.cache[key]
	if !ok || time.Now().After(cached.expires) {
		return Decision{}, false
	}
	return cached.decision, true
}

func (c *Checker) store(key string, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cache) > 4096 {
		c.cache = make(map[string]cachedDecision)
	}
	c.cache[key] = cachedDecision{decision: d, expires: time.Now().Add(decisionTTL)}
}

func (c *Checker) record(d Decision) Decision {
	c.metrics.RecordGateDecision(d.Granted)
	return d
}
