package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config carries the runtime configuration and marketplace policy knobs.
// Policy values are configuration, not per-record data: fee math and
// deadline windows must be consistent across every transaction opened by
// the same deployment.
type Config struct {
	DatabaseURL string
	JWTSecret   string
	LogLevel    string
	ListenAddr  string

	// Offer policy.
	OfferWindowDays int

	// Escrow policy.
	ProtectionFixedFee   decimal.Decimal
	ProtectionRate       decimal.Decimal
	ShippingDeadlineDays int // business days
	DisputeWindowDays    int

	// Trade policy.
	TradeDeadlineDays int

	// Background workers.
	SweepInterval    time.Duration
	DispatchInterval time.Duration
}

// Load reads configuration from the environment, with a best-effort .env file.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	return Config{
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		ListenAddr:           getEnv("LISTEN_ADDR", ":8080"),
		OfferWindowDays:      getEnvAsInt("OFFER_WINDOW_DAYS", 7),
		ProtectionFixedFee:   getEnvAsDecimal("PROTECTION_FIXED_FEE", "1.00"),
		ProtectionRate:       getEnvAsDecimal("PROTECTION_RATE", "0.05"),
		ShippingDeadlineDays: getEnvAsInt("SHIPPING_DEADLINE_DAYS", 5),
		DisputeWindowDays:    getEnvAsInt("DISPUTE_WINDOW_DAYS", 2),
		TradeDeadlineDays:    getEnvAsInt("TRADE_DEADLINE_DAYS", 14),
		SweepInterval:        getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		DispatchInterval:     getEnvAsDuration("DISPATCH_INTERVAL", 5*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid int for %s: %v", key, err)
		return fallback
	}
	return n
}

func getEnvAsDecimal(key, fallback string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		log.Printf("config: invalid decimal for %s: %v", key, err)
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid duration for %s: %v", key, err)
		return fallback
	}
	return d
}
