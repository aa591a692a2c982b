// Package identity resolves Farcaster identities for wallet addresses
// through the Neynar API.
package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tokenrooms/backend/internal/logging"
)

const (
	defaultAPIURL = "https://api.neynar.com/v2/farcaster/user/bulk-by-address"
	cacheTTL      = 10 * time.Minute
)

// Profile is a resolved Farcaster identity.
type Profile struct {
	Username  string `json:"username"`
	AvatarURL string `json:"pfp_url"`
}

type cacheEntry struct {
	profile *Profile
	expires time.Time
}

// Resolver looks up Farcaster profiles by verified wallet address.
// Lookups are best-effort: a missing key, a failed request or an
// unknown address all resolve to nil without error.
type Resolver struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// Config configures a Resolver.
type Config struct {
	APIURL     string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewResolver creates a Neynar-backed identity resolver.
func NewResolver(cfg Config, logger *logging.Logger) *Resolver {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Resolver{
		apiURL:     apiURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
		cache:      make(map[string]cacheEntry),
	}
}

// Resolve returns the Farcaster profile verified for address, or nil
// when none is known.
func (r *Resolver) Resolve(ctx context.Context, address string) *Profile {
	if r.apiKey == "" || address == "" {
		return nil
	}
	address = strings.ToLower(address)

	if profile, ok := r.lookup(address); ok {
		return profile
	}

	profile, err := r.fetch(ctx, address)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"address": address,
		}).Warn("Farcaster lookup failed")
		return nil
	}

	r.store(address, profile)
	return profile
}

func (r *Resolver) fetch(ctx context.Context, address string) (*Profile, error) {
	q := url.Values{}
	q.Set("addresses", address)
	q.Set("address_types", "verified_address")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("api-key", r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call neynar: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read neynar response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("neynar returned status %d", resp.StatusCode)
	}

	// The response is keyed by the queried address; the first verified
	// user wins.
	user := gjson.GetBytes(body, fmt.Sprintf("%s.0", gjsonEscape(address)))
	if !user.Exists() {
		return nil, nil
	}

	profile := &Profile{
		Username:  user.Get("username").String(),
		AvatarURL: user.Get("pfp_url").String(),
	}
	if profile.Username == "" {
		return nil, nil
	}
	return profile, nil
}

// gjsonEscape escapes path separators in a JSON object key.
func gjsonEscape(key string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(key)
}

func (r *Resolver) lookup(address string) (*Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[address]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.profile, true
}

func (r *Resolver) store(address string, profile *Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache) > 4096 {
		r.cache = make(map[string]cacheEntry)
	}
	r.cache[address] = cacheEntry{profile: profile, expires: time.Now().Add(cacheTTL)}
}
