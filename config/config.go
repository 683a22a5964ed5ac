// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config is the full runtime configuration of the escrow service.
type Config struct {
	// Server
	ListenAddr string

	// Ledger
	RPCEndpoint      string
	CommitmentTarget string
	BalanceTTL       time.Duration
	StatusTTL        time.Duration
	SignaturesTTL    time.Duration
	ConfirmTimeout   time.Duration
	PollInterval     time.Duration
	MaxSendRetries   int

	// Store
	StoreDriver   string // memory or mongo
	MongoURI      string
	MongoDatabase string

	// Secrets
	EncryptionSecret string

	// Lifecycle
	FundingMinLamports uint64
	SignatureScanLimit int
	JoinTTL            time.Duration
	InviteTTL          time.Duration
}

// Load reads configuration from the environment. Missing optional values fall
// back to development defaults; hard requirements are checked in Validate.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		RPCEndpoint:      getEnv("SOLANA_RPC_ENDPOINT", "https://api.devnet.solana.com"),
		CommitmentTarget: getEnv("COMMITMENT_TARGET", "confirmed"),
		BalanceTTL:       getEnvDuration("BALANCE_CACHE_TTL", 2*time.Second),
		StatusTTL:        getEnvDuration("STATUS_CACHE_TTL", 2*time.Second),
		SignaturesTTL:    getEnvDuration("SIGNATURES_CACHE_TTL", 3*time.Second),
		ConfirmTimeout:   getEnvDuration("CONFIRM_TIMEOUT", 25*time.Second),
		PollInterval:     getEnvDuration("CONFIRM_POLL_INTERVAL", time.Second),
		MaxSendRetries:   getEnvInt("MAX_SEND_RETRIES", 1),

		StoreDriver:   getEnv("STORE_DRIVER", "memory"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "escrow"),

		EncryptionSecret: getEnv("ENCRYPTION_SECRET", ""),

		FundingMinLamports: getEnvUint64("FUNDING_MIN_LAMPORTS", 1),
		SignatureScanLimit: getEnvInt("SIGNATURE_SCAN_LIMIT", 10),
		JoinTTL:            getEnvDuration("JOIN_TOKEN_TTL", 7*24*time.Hour),
		InviteTTL:          getEnvDuration("INVITE_TOKEN_TTL", 24*time.Hour),
	}
}

// Validate logs misconfiguration and reports whether the service can start.
// Custodial secrets cannot be stored without an encryption secret.
func (c *Config) Validate(log *zap.Logger) bool {
	ok := true
	if c.EncryptionSecret == "" {
		log.Error("ENCRYPTION_SECRET is not set; custodial secrets cannot be sealed")
		ok = false
	}
	if c.StoreDriver != "memory" && c.StoreDriver != "mongo" {
		log.Error("STORE_DRIVER must be memory or mongo", zap.String("value", c.StoreDriver))
		ok = false
	}
	if c.StoreDriver == "mongo" && c.MongoURI == "" {
		log.Error("MONGO_URI is required for the mongo store driver")
		ok = false
	}
	if c.StoreDriver == "memory" {
		log.Warn("memory store driver selected; escrow state will not survive restarts")
	}
	return ok
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvUint64(key string, fallback uint64) uint64 {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return v
}
