// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// TrackPair binds a simulated account to the reference portfolio it mirrors
// in direct-sync mode.
type TrackPair struct {
	AccountID int64
	Portfolio string
}

// FollowTarget is a reference portfolio tracked in follower mode. Exactly one
// of TotalAssets or InitialAssets is set; with InitialAssets the effective
// total is derived from the portfolio's net value at startup.
type FollowTarget struct {
	Portfolio     string
	TotalAssets   float64
	InitialAssets float64
}

// Config holds application configuration
type Config struct {
	DataDir  string
	Port     int
	DevMode  bool
	LogLevel string

	// Gateway
	Cookies      string // Session cookies for the remote service
	BaseURL      string // Main site base URL (reference portfolio endpoints)
	TradeBaseURL string // Simulated-account base URL (holdings, trades)

	// Direct-sync mode
	Track         []TrackPair
	TrackInterval int // Seconds between poll ticks

	// Follower mode
	Follow         []FollowTarget
	FollowInterval int // Seconds between rebalance-history polls

	// ExecutionAccount receives follower-mode trades. Defaults to the first
	// tracked account when unset.
	ExecutionAccount int64

	// Dispatcher
	ExpireSeconds int     // Instructions older than this are discarded (inclusive)
	Slippage      float64 // Fraction applied to the reference price, 0 disables
	AdjustSell    bool    // Cap sells to the sellable quantity reported by the adapter

	QuoteCacheTTL int // Seconds a cached quote stays fresh

	// Optional Kafka event sink
	KafkaBrokers []string
	KafkaTopic   string

	// Optional S3 backup. Access keys fall back to the SDK's default
	// credential chain when unset.
	BackupBucket    string
	BackupPrefix    string
	BackupEndpoint  string
	BackupRegion    string
	BackupAccessKey string
	BackupSecretKey string
	BackupSchedule  string // Cron expression
	BackupRetention int    // Days to keep cloud backups, 0 keeps forever
}

// Load reads configuration from environment variables. A .env file in the
// working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("MIRROR_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("MIRROR_PORT", 8010),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Cookies:      getEnv("MIRROR_COOKIES", ""),
		BaseURL:      getEnv("MIRROR_BASE_URL", "https://xueqiu.com"),
		TradeBaseURL: getEnv("MIRROR_TRADE_BASE_URL", "https://tc.xueqiu.com/tc/snowx/MONI"),

		TrackInterval:  getEnvAsInt("MIRROR_TRACK_INTERVAL", 60),
		FollowInterval: getEnvAsInt("MIRROR_FOLLOW_INTERVAL", 10),

		ExpireSeconds: getEnvAsInt("MIRROR_EXPIRE_SECONDS", 120),
		Slippage:      getEnvAsFloat("MIRROR_SLIPPAGE", 0.0),
		AdjustSell:    getEnvAsBool("MIRROR_ADJUST_SELL", false),

		QuoteCacheTTL: getEnvAsInt("MIRROR_QUOTE_CACHE_TTL", 60),

		KafkaTopic: getEnv("MIRROR_KAFKA_TOPIC", "mirrortrader.events"),

		BackupBucket:    getEnv("MIRROR_BACKUP_BUCKET", ""),
		BackupPrefix:    getEnv("MIRROR_BACKUP_PREFIX", "mirrortrader"),
		BackupEndpoint:  getEnv("MIRROR_BACKUP_ENDPOINT", ""),
		BackupRegion:    getEnv("MIRROR_BACKUP_REGION", "auto"),
		BackupAccessKey: getEnv("MIRROR_BACKUP_ACCESS_KEY", ""),
		BackupSecretKey: getEnv("MIRROR_BACKUP_SECRET_KEY", ""),
		BackupSchedule:  getEnv("MIRROR_BACKUP_SCHEDULE", "@daily"),
		BackupRetention: getEnvAsInt("MIRROR_BACKUP_RETENTION", 30),
	}

	if brokers := getEnv("MIRROR_KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	cfg.Track, err = parseTrackPairs(getEnv("MIRROR_TRACK", ""))
	if err != nil {
		return nil, err
	}
	cfg.Follow, err = parseFollowTargets(getEnv("MIRROR_FOLLOW", ""))
	if err != nil {
		return nil, err
	}

	// A daemon with nothing to track is a configuration error, not a valid
	// idle state. Refuse to start rather than degrade silently.
	if len(cfg.Track) == 0 && len(cfg.Follow) == 0 {
		return nil, fmt.Errorf("no trackable portfolios configured: set MIRROR_TRACK and/or MIRROR_FOLLOW")
	}

	if raw := getEnv("MIRROR_EXECUTION_ACCOUNT", ""); raw != "" {
		cfg.ExecutionAccount, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MIRROR_EXECUTION_ACCOUNT: %w", err)
		}
	}
	if cfg.ExecutionAccount == 0 && len(cfg.Track) > 0 {
		cfg.ExecutionAccount = cfg.Track[0].AccountID
	}
	if len(cfg.Follow) > 0 && cfg.ExecutionAccount == 0 {
		return nil, fmt.Errorf("follower mode needs an execution account: set MIRROR_EXECUTION_ACCOUNT or MIRROR_TRACK")
	}

	return cfg, nil
}

// parseTrackPairs parses "accountID:portfolioCode" pairs, comma separated.
// Example: "6522325211190960:ZH1783962,6522325211190961:ZH123456"
func parseTrackPairs(raw string) ([]TrackPair, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var pairs []TrackPair
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid MIRROR_TRACK entry %q: want accountID:portfolioCode", entry)
		}
		accountID, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid account id in MIRROR_TRACK entry %q: %w", entry, err)
		}
		portfolio := strings.TrimSpace(parts[1])
		if portfolio == "" {
			return nil, fmt.Errorf("empty portfolio code in MIRROR_TRACK entry %q", entry)
		}
		pairs = append(pairs, TrackPair{AccountID: accountID, Portfolio: portfolio})
	}
	return pairs, nil
}

// parseFollowTargets parses "portfolioCode=totalAssets" or
// "portfolioCode=initial~amount" entries, comma separated.
// Example: "ZH123456=100000,ZH654321=initial~50000"
func parseFollowTargets(raw string) ([]FollowTarget, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var targets []FollowTarget
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid MIRROR_FOLLOW entry %q: want portfolioCode=assets", entry)
		}
		target := FollowTarget{Portfolio: strings.TrimSpace(parts[0])}
		if target.Portfolio == "" {
			return nil, fmt.Errorf("empty portfolio code in MIRROR_FOLLOW entry %q", entry)
		}

		value := strings.TrimSpace(parts[1])
		if initial, ok := strings.CutPrefix(value, "initial~"); ok {
			assets, err := strconv.ParseFloat(initial, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid initial assets in MIRROR_FOLLOW entry %q: %w", entry, err)
			}
			target.InitialAssets = assets
		} else {
			assets, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid total assets in MIRROR_FOLLOW entry %q: %w", entry, err)
			}
			target.TotalAssets = assets
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
