// Package config provides application configuration loaded from environment
// variables. Use the package-level Get() function to obtain the singleton
// Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// StoreConfig holds the SQLite persistence settings (spec.md §4.1).
type StoreConfig struct {
	Path        string // filesystem path to the SQLite database file
	BusyTimeout time.Duration
}

// ChainConfig holds Quottery / Qubic chain RPC settings (spec.md §4.5/§6).
type ChainConfig struct {
	RPCEndpoints []string      // failover ring, in priority order
	CallTimeout  time.Duration // default 10s
	TxFeeQU      int64         // QUBIC_TX_FEE_QU — see DESIGN.md Open Question 2
}

// VaultConfig holds the key-vault master secret material (spec.md §4.8).
type VaultConfig struct {
	MasterSecret string // ESCROW_MASTER_KEY — required, process exits if absent
}

// AttestationConfig holds the oracle attestation HMAC secret (spec.md §3).
type AttestationConfig struct {
	SecretKey string // ATTESTATION_SECRET_KEY
}

// PlatformConfig holds the platform's own custodial identity (spec.md §6).
type PlatformConfig struct {
	Identity string // MASTER_IDENTITY — platform custodial address
	Seed     string // MASTER_SEED — its private material
}

// CronConfig holds the orchestrator cadences and timeout thresholds
// (spec.md §4.4/§4.2).
type CronConfig struct {
	FastCycle          time.Duration // ENGINE_FAST_CYCLE_MS, default 15s
	SlowCycle          time.Duration // ENGINE_SLOW_CYCLE_MS, default 6h
	LockTTL            time.Duration // default 30s
	ShutdownDrain      time.Duration // default 30s
	EscrowExpiry       time.Duration // ESCROW_EXPIRY_HOURS, default 2h
	JoinBetTimeoutTicks int          // JOINBET_TIMEOUT_TICKS, default 600
	SweepTimeoutTicks   int          // SWEEP_TIMEOUT_TICKS, default 300
	BackupEveryNCycles  int          // default 240 (every hour at 15s cadence)
}

// OracleConfig holds oracle-adapter tunables (spec.md §6).
type OracleConfig struct {
	MinSources int // MIN_ORACLE_SOURCES, default 2
}

// PriceConfig holds the crypto-price oracle's exchange settings, feeding
// internal/oracle's median-price adapter (spec.md §6).
type PriceConfig struct {
	BinanceURL   string
	BybitURL     string
	OKXURL       string
	FetchTimeout time.Duration
	CacheTTL     time.Duration
	BinanceWeight int
	BybitWeight   int
	OKXWeight     int
}

// BreakerConfig holds the circuit-breaker thresholds (spec.md §4.6).
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// ObservabilityConfig holds logging/alerting settings (spec.md §6).
type ObservabilityConfig struct {
	LogLevel        string
	AlertWebhookURL string
	AlertWebhookType string
	Env             string // "development" | "production"
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire engine.
type Config struct {
	Store        StoreConfig
	Chain        ChainConfig
	Vault        VaultConfig
	Attestation  AttestationConfig
	Platform     PlatformConfig
	Cron         CronConfig
	Oracle       OracleConfig
	Price        PriceConfig
	Breaker      BreakerConfig
	Observability ObservabilityConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool { return c.Observability.Env == "production" }

// Validate checks that all required configuration values are present and
// valid, aggregating every violation found (errors.Join) rather than
// stopping at the first one.
func (c *Config) Validate() error {
	var errs []error

	if c.Vault.MasterSecret == "" {
		errs = append(errs, errors.New("ESCROW_MASTER_KEY must be set"))
	}
	if len(c.Chain.RPCEndpoints) == 0 {
		errs = append(errs, errors.New("QUBIC_RPC_URL must list at least one endpoint"))
	}
	if c.Platform.Identity == "" || c.Platform.Seed == "" {
		errs = append(errs, errors.New("MASTER_IDENTITY and MASTER_SEED must both be set"))
	}
	if c.Oracle.MinSources < 1 {
		errs = append(errs, fmt.Errorf("MIN_ORACLE_SOURCES must be >= 1, got %d", c.Oracle.MinSources))
	}
	if c.Chain.TxFeeQU < 0 {
		errs = append(errs, fmt.Errorf("QUBIC_TX_FEE_QU must be >= 0, got %d", c.Chain.TxFeeQU))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment
// variables. Panics if loading fails — call this early in main() to catch
// misconfigurations at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot —
// matching spec.md §7's Fatal policy for a missing ESCROW_MASTER_KEY.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	cfg := &Config{}

	cfg.Store = StoreConfig{
		Path:        getEnv("SQLITE_PATH", "./qpredict.db"),
		BusyTimeout: getDuration("SQLITE_BUSY_TIMEOUT", 5*time.Second),
	}

	var endpoints []string
	if raw := os.Getenv("QUBIC_RPC_URL"); raw != "" {
		for _, e := range strings.Split(raw, ",") {
			if e = strings.TrimSpace(e); e != "" {
				endpoints = append(endpoints, e)
			}
		}
	}
	txFee, err := getInt64("QUBIC_TX_FEE_QU", 0)
	if err != nil {
		return nil, fmt.Errorf("QUBIC_TX_FEE_QU: %w", err)
	}
	cfg.Chain = ChainConfig{
		RPCEndpoints: endpoints,
		CallTimeout:  getDuration("QUBIC_RPC_TIMEOUT", 10*time.Second),
		TxFeeQU:      txFee,
	}

	cfg.Vault = VaultConfig{MasterSecret: getEnv("ESCROW_MASTER_KEY", "")}
	cfg.Attestation = AttestationConfig{SecretKey: getEnv("ATTESTATION_SECRET_KEY", "")}
	cfg.Platform = PlatformConfig{
		Identity: getEnv("MASTER_IDENTITY", ""),
		Seed:     getEnv("MASTER_SEED", ""),
	}

	joinTimeout, err := getInt("JOINBET_TIMEOUT_TICKS", 600)
	if err != nil {
		return nil, fmt.Errorf("JOINBET_TIMEOUT_TICKS: %w", err)
	}
	sweepTimeout, err := getInt("SWEEP_TIMEOUT_TICKS", 300)
	if err != nil {
		return nil, fmt.Errorf("SWEEP_TIMEOUT_TICKS: %w", err)
	}
	backupEvery, err := getInt("BACKUP_EVERY_N_CYCLES", 240)
	if err != nil {
		return nil, fmt.Errorf("BACKUP_EVERY_N_CYCLES: %w", err)
	}
	expiryHours, err := getInt("ESCROW_EXPIRY_HOURS", 2)
	if err != nil {
		return nil, fmt.Errorf("ESCROW_EXPIRY_HOURS: %w", err)
	}

	cfg.Cron = CronConfig{
		FastCycle:           getDuration("ENGINE_FAST_CYCLE_MS", 15*time.Second),
		SlowCycle:           getDuration("ENGINE_SLOW_CYCLE_MS", 6*time.Hour),
		LockTTL:             getDuration("CRON_LOCK_TTL", 30*time.Second),
		ShutdownDrain:       getDuration("CRON_SHUTDOWN_DRAIN", 30*time.Second),
		EscrowExpiry:        time.Duration(expiryHours) * time.Hour,
		JoinBetTimeoutTicks: joinTimeout,
		SweepTimeoutTicks:   sweepTimeout,
		BackupEveryNCycles:  backupEvery,
	}

	minSources, err := getInt("MIN_ORACLE_SOURCES", 2)
	if err != nil {
		return nil, fmt.Errorf("MIN_ORACLE_SOURCES: %w", err)
	}
	cfg.Oracle = OracleConfig{MinSources: minSources}

	cfg.Price = PriceConfig{
		BinanceURL:    getEnv("BINANCE_URL", "https://api.binance.com"),
		BybitURL:      getEnv("BYBIT_URL", "https://api.bybit.com"),
		OKXURL:        getEnv("OKX_URL", "https://www.okx.com"),
		FetchTimeout:  getDuration("PRICE_FETCH_TIMEOUT", 2*time.Second),
		CacheTTL:      getDuration("PRICE_CACHE_TTL", 1*time.Second),
		BinanceWeight: getIntOrDefault("BINANCE_WEIGHT", 50),
		BybitWeight:   getIntOrDefault("BYBIT_WEIGHT", 30),
		OKXWeight:     getIntOrDefault("OKX_WEIGHT", 20),
	}

	failThreshold, err := getInt("BREAKER_FAILURE_THRESHOLD", 5)
	if err != nil {
		return nil, fmt.Errorf("BREAKER_FAILURE_THRESHOLD: %w", err)
	}
	cfg.Breaker = BreakerConfig{
		FailureThreshold: failThreshold,
		ResetTimeout:     getDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
	}

	cfg.Observability = ObservabilityConfig{
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		AlertWebhookType: getEnv("ALERT_WEBHOOK_TYPE", "slack"),
		Env:              getEnv("ENVIRONMENT", "development"),
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

// getIntOrDefault parses an optional integer env var, silently falling
// back to defaultVal on a malformed value rather than failing startup —
// used only for the non-critical exchange-weight tunables.
func getIntOrDefault(key string, defaultVal int) int {
	n, err := getInt(key, defaultVal)
	if err != nil {
		return defaultVal
	}
	return n
}

func getInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

// getDuration parses an env var. If the value looks like a bare integer it
// is interpreted as milliseconds (matching the *_MS env var names in
// spec.md §6); otherwise it is parsed as a Go duration string (e.g. "2h").
// Falls back to defaultVal if unset or unparseable.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
