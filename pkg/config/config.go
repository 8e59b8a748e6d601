package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/snapetech/slskdn-mesh/pkg/descriptor"
	"github.com/snapetech/slskdn-mesh/pkg/pincache"
	"github.com/snapetech/slskdn-mesh/pkg/ratelimit"
	"github.com/snapetech/slskdn-mesh/pkg/replay"
	"github.com/snapetech/slskdn-mesh/pkg/utils"
	"github.com/snapetech/slskdn-mesh/pkg/wire"
)

type Config struct {
	DataDir    string           `json:"data_dir"`
	Descriptor DescriptorConfig `json:"descriptor,omitempty"`
	Wire       WireConfig       `json:"wire,omitempty"`
	Replay     ReplayConfig     `json:"replay,omitempty"`
	RateLimit  RateLimitConfig  `json:"rate_limit,omitempty"`
	PinCache   PinCacheConfig   `json:"pin_cache,omitempty"`
}

type DescriptorConfig struct {
	MaxEndpoints   int    `json:"max_endpoints"`
	MaxSigningKeys int    `json:"max_signing_keys"`
	MaxPins        int    `json:"max_pins"`
	MaxLifetime    string `json:"max_lifetime"`
	ClockSkew      string `json:"clock_skew"`
}

type WireConfig struct {
	MaxEnvelopeSize   string `json:"max_envelope_size"`
	MaxPayloadSize    string `json:"max_payload_size"`
	MaxDescriptorSize string `json:"max_descriptor_size"`
}

type ReplayConfig struct {
	MaxSkew   string `json:"max_skew"`
	Retention string `json:"retention"`
}

type RateLimitConfig struct {
	Window        string `json:"window"`
	PreAuthLimit  int    `json:"pre_auth_limit"`
	PostAuthLimit int    `json:"post_auth_limit"`
}

type PinCacheConfig struct {
	TTL string `json:"ttl"`
	// FirstContact is "tofu" or "require_anchor".
	FirstContact string `json:"first_contact"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

func LoadFromEnv() *Config {
	return &Config{
		DataDir: getEnv("MESH_DATA_DIR", "./data"),
		Descriptor: DescriptorConfig{
			MaxEndpoints:   getEnvInt("MESH_MAX_ENDPOINTS", 0),
			MaxSigningKeys: getEnvInt("MESH_MAX_SIGNING_KEYS", 0),
			MaxPins:        getEnvInt("MESH_MAX_PINS", 0),
			MaxLifetime:    getEnv("MESH_DESCRIPTOR_MAX_LIFETIME", ""),
			ClockSkew:      getEnv("MESH_CLOCK_SKEW", ""),
		},
		Wire: WireConfig{
			MaxEnvelopeSize:   getEnv("MESH_MAX_ENVELOPE_SIZE", ""),
			MaxPayloadSize:    getEnv("MESH_MAX_PAYLOAD_SIZE", ""),
			MaxDescriptorSize: getEnv("MESH_MAX_DESCRIPTOR_SIZE", ""),
		},
		Replay: ReplayConfig{
			MaxSkew:   getEnv("MESH_REPLAY_MAX_SKEW", ""),
			Retention: getEnv("MESH_REPLAY_RETENTION", ""),
		},
		RateLimit: RateLimitConfig{
			Window:        getEnv("MESH_RATE_WINDOW", ""),
			PreAuthLimit:  getEnvInt("MESH_RATE_PRE_AUTH", 0),
			PostAuthLimit: getEnvInt("MESH_RATE_POST_AUTH", 0),
		},
		PinCache: PinCacheConfig{
			TTL:          getEnv("MESH_PIN_CACHE_TTL", ""),
			FirstContact: getEnv("MESH_FIRST_CONTACT", ""),
		},
	}
}

// DescriptorLimits resolves the configured descriptor bounds, falling back to
// defaults for unset fields.
func (c *Config) DescriptorLimits() descriptor.Limits {
	limits := descriptor.DefaultLimits()
	if c.Descriptor.MaxEndpoints > 0 {
		limits.MaxEndpoints = c.Descriptor.MaxEndpoints
	}
	if c.Descriptor.MaxSigningKeys > 0 {
		limits.MaxSigningKeys = c.Descriptor.MaxSigningKeys
	}
	if c.Descriptor.MaxPins > 0 {
		limits.MaxPins = c.Descriptor.MaxPins
	}
	limits.MaxLifetime = parseDuration(c.Descriptor.MaxLifetime, limits.MaxLifetime)
	limits.ClockSkew = parseDuration(c.Descriptor.ClockSkew, limits.ClockSkew)
	return limits
}

// SizeLimits resolves the configured wire ceilings.
func (c *Config) SizeLimits() wire.SizeLimits {
	limits := wire.DefaultSizeLimits()
	limits.MaxEnvelopeBytes = int(utils.ParseDataSizeWithDefault(c.Wire.MaxEnvelopeSize, int64(limits.MaxEnvelopeBytes)))
	limits.MaxPayloadBytes = int(utils.ParseDataSizeWithDefault(c.Wire.MaxPayloadSize, int64(limits.MaxPayloadBytes)))
	limits.MaxDescriptorBytes = int(utils.ParseDataSizeWithDefault(c.Wire.MaxDescriptorSize, int64(limits.MaxDescriptorBytes)))
	return limits
}

// ReplayOptions resolves the configured replay windows.
func (c *Config) ReplayOptions() replay.Options {
	opts := replay.DefaultOptions()
	opts.MaxSkew = parseDuration(c.Replay.MaxSkew, opts.MaxSkew)
	opts.Retention = parseDuration(c.Replay.Retention, opts.Retention)
	return opts
}

// RateLimitOptions resolves the configured quotas.
func (c *Config) RateLimitOptions() ratelimit.Options {
	opts := ratelimit.DefaultOptions()
	opts.Window = parseDuration(c.RateLimit.Window, opts.Window)
	if c.RateLimit.PreAuthLimit > 0 {
		opts.PreAuthLimit = c.RateLimit.PreAuthLimit
	}
	if c.RateLimit.PostAuthLimit > 0 {
		opts.PostAuthLimit = c.RateLimit.PostAuthLimit
	}
	return opts
}

// PinCacheOptions resolves the configured cache TTL and first-contact policy.
func (c *Config) PinCacheOptions() pincache.Options {
	opts := pincache.DefaultOptions()
	opts.TTL = parseDuration(c.PinCache.TTL, opts.TTL)
	if c.PinCache.FirstContact == "require_anchor" {
		opts.Policy = pincache.RequireAnchor
	}
	return opts
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
