// Package settings loads and validates the Settings.toml configuration
// file. All validation happens at startup; a malformed file is fatal
// before the proxy binds its socket.
package settings

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/makselll/rate-limiter/backends"
	"github.com/makselll/rate-limiter/bucket"
	"github.com/makselll/rate-limiter/strategies"
)

// DefaultBodyLimitBytes is the ceiling above which request bodies bypass
// body-strategy extraction.
const DefaultBodyLimitBytes = 1 << 20 // 1 MiB

// Env holds the environment-level settings. Only the location of the
// settings file comes from the environment; everything else lives in the
// file itself.
type Env struct {
	SettingsPath string `envconfig:"settings_path" default:"./Settings.toml"`
}

type Settings struct {
	APIGateway  APIGatewaySettings  `toml:"api_gateway"`
	RateLimiter RateLimiterSettings `toml:"rate_limiter"`
}

type APIGatewaySettings struct {
	TargetURL       string   `toml:"target_url"`
	ProxyServerAddr string   `toml:"proxy_server_addr"`
	MetricsAddr     string   `toml:"metrics_addr"`
	TrustedProxies  []string `toml:"trusted_proxies"`
}

type RateLimiterSettings struct {
	Backend        string             `toml:"backend"`
	RedisAddr      string             `toml:"redis_addr"`
	PostgresConn   string             `toml:"postgres_conn"`
	IPWhitelist    []string           `toml:"ip_whitelist"`
	FailClosed     bool               `toml:"fail_closed"`
	BodyLimitBytes int64              `toml:"body_limit_bytes"`
	Limiter        []StrategySettings `toml:"limiter"`
}

type StrategySettings struct {
	Strategy        string                `toml:"strategy"`
	GlobalBucket    *BucketSettings       `toml:"global_bucket"`
	BucketsPerValue []ValueBucketSettings `toml:"buckets_per_value"`
}

type BucketSettings struct {
	TokensCount    int `toml:"tokens_count"`
	AddTokensEvery int `toml:"add_tokens_every"` // seconds per token
}

type ValueBucketSettings struct {
	Value          string `toml:"value"`
	TokensCount    int    `toml:"tokens_count"`
	AddTokensEvery int    `toml:"add_tokens_every"` // seconds per token
}

// Load reads the settings file named by RL_SETTINGS_PATH (default
// ./Settings.toml) and validates it.
func Load() (*Settings, error) {
	var env Env
	if err := envconfig.Process("rl", &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return LoadFile(env.SettingsPath)
}

// LoadFile reads and validates the settings file at the given path.
func LoadFile(path string) (*Settings, error) {
	var s Settings
	md, err := toml.DecodeFile(path, &s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("settings file %s has unrecognized key %q", path, undecoded[0].String())
	}

	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if s.RateLimiter.Backend == "" {
		s.RateLimiter.Backend = "redis"
	}
	if s.RateLimiter.BodyLimitBytes <= 0 {
		s.RateLimiter.BodyLimitBytes = DefaultBodyLimitBytes
	}
}

// Validate checks the settings the same way construction would, so all
// configuration errors surface before any socket is bound.
func (s *Settings) Validate() error {
	if s.APIGateway.TargetURL == "" {
		return fmt.Errorf("api_gateway.target_url is required")
	}
	if s.APIGateway.ProxyServerAddr == "" {
		return fmt.Errorf("api_gateway.proxy_server_addr is required")
	}
	for _, p := range s.APIGateway.TrustedProxies {
		if !isIPOrCIDR(p) {
			return fmt.Errorf("api_gateway.trusted_proxies has invalid entry %q", p)
		}
	}

	switch s.RateLimiter.Backend {
	case "redis":
		if s.RateLimiter.RedisAddr == "" {
			return fmt.Errorf("rate_limiter.redis_addr is required for the redis backend")
		}
	case "postgres":
		if s.RateLimiter.PostgresConn == "" {
			return fmt.Errorf("rate_limiter.postgres_conn is required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported backend type: %s", s.RateLimiter.Backend)
	}

	if len(s.RateLimiter.Limiter) == 0 {
		return fmt.Errorf("rate_limiter.limiter must configure at least one strategy")
	}

	if _, err := s.Whitelist(); err != nil {
		return err
	}
	if _, err := s.BuildStrategies(); err != nil {
		return err
	}
	return nil
}

func isIPOrCIDR(s string) bool {
	if _, err := netip.ParseAddr(s); err == nil {
		return true
	}
	_, err := netip.ParsePrefix(s)
	return err == nil
}

// Whitelist parses rate_limiter.ip_whitelist into addresses.
func (s *Settings) Whitelist() ([]netip.Addr, error) {
	addrs := make([]netip.Addr, 0, len(s.RateLimiter.IPWhitelist))
	for _, ip := range s.RateLimiter.IPWhitelist {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return nil, fmt.Errorf("rate_limiter.ip_whitelist has invalid IP %q: %w", ip, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// BuildStrategies binds the strategy blocks into evaluator strategies, in
// configuration order.
func (s *Settings) BuildStrategies() ([]*strategies.Strategy, error) {
	built := make([]*strategies.Strategy, 0, len(s.RateLimiter.Limiter))
	for i, block := range s.RateLimiter.Limiter {
		kind, err := strategies.ParseKind(block.Strategy)
		if err != nil {
			return nil, fmt.Errorf("rate_limiter.limiter[%d]: %w", i, err)
		}

		var global *bucket.Params
		if block.GlobalBucket != nil {
			global = &bucket.Params{
				Capacity:    block.GlobalBucket.TokensCount,
				RefillEvery: time.Duration(block.GlobalBucket.AddTokensEvery) * time.Second,
			}
		}

		perValue := make([]strategies.ValueBucket, 0, len(block.BucketsPerValue))
		for _, vb := range block.BucketsPerValue {
			perValue = append(perValue, strategies.ValueBucket{
				Value: vb.Value,
				Params: bucket.Params{
					Capacity:    vb.TokensCount,
					RefillEvery: time.Duration(vb.AddTokensEvery) * time.Second,
				},
			})
		}

		strategy, err := strategies.New(kind, global, perValue)
		if err != nil {
			return nil, fmt.Errorf("rate_limiter.limiter[%d]: %w", i, err)
		}
		built = append(built, strategy)
	}
	return built, nil
}

// NewBackend creates the configured bucket store backend via the registry.
// The backend subpackages must be blank-imported by the caller.
func (s *Settings) NewBackend() (backends.Backend, error) {
	switch s.RateLimiter.Backend {
	case "redis":
		return backends.Create("redis", backends.RedisConfig{
			Addr: s.RateLimiter.RedisAddr,
		})
	case "postgres":
		return backends.Create("postgres", backends.PostgresConfig{
			ConnString: s.RateLimiter.PostgresConn,
		})
	default:
		return backends.Create(s.RateLimiter.Backend, nil)
	}
}
