// Package config loads the environment/config surface (spec §6).
//
// Grounded on adapter/oauth.go's LoadSaxoEnvironmentConfig: plain
// os.Getenv reads, zero-value-safe, oauth2.Config construction. `.env`
// loading itself is an out-of-scope thin wrapper per spec §1, so it is
// delegated entirely to github.com/joho/godotenv rather than hand-rolled.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
)

// LoadDotEnv loads a .env file if present. Missing file is not an error —
// matches godotenv's own convention for optional local overrides.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Config is the full environment/config surface from spec §6, plus the
// ambient-stack additions from SPEC_FULL.md §2.B.
type Config struct {
	AppKey       string
	AppSecret    string
	AuthEndpoint string
	TokenEndpoint string
	RedirectURL  string
	RefreshToken string // bootstrap; authoritative copy then lives in the State Store

	SaxoBaseURL string
	SaxoWSURL   string
	RedisURL    string

	DryRun         bool
	TradeQuantity  float64
	InitialUICsCSV string
	AccountCurrency    string
	InstrumentCurrency string
	StopLossPct        float64
	ExchangesCSV       string
	FallbackKeywordsCSV string
	ScanIntervalSeconds int

	VaultAddr  string
	VaultToken string

	TradeEventsAMQPURL string
	AdminListenAddr    string
}

// Load reads the Config from the environment. Secrets (AppSecret,
// RefreshToken) are read from Vault instead of plain env vars when
// VAULT_ADDR is set.
func Load() (*Config, error) {
	cfg := &Config{
		AppKey:          os.Getenv("APP_KEY"),
		AuthEndpoint:    os.Getenv("AUTH_ENDPOINT"),
		TokenEndpoint:   os.Getenv("TOKEN_ENDPOINT"),
		RedirectURL:     os.Getenv("REDIRECT_URL"),
		SaxoBaseURL:     orDefault(os.Getenv("SAXO_BASE_URL"), "https://gateway.saxobank.com/sim/openapi"),
		SaxoWSURL:       orDefault(os.Getenv("SAXO_WS_URL"), "wss://sim-streaming.saxobank.com/sim/oapi/streaming/ws"),
		RedisURL:        orDefault(os.Getenv("REDIS_URL"), "redis://localhost:6379/0"),
		InitialUICsCSV:  os.Getenv("INITIAL_WATCHLIST_UICS"),
		AccountCurrency:     orDefault(os.Getenv("ACCOUNT_CURRENCY"), "EUR"),
		InstrumentCurrency:  orDefault(os.Getenv("INSTRUMENT_CURRENCY"), "USD"),
		ExchangesCSV:        orDefault(os.Getenv("SCANNER_EXCHANGES"), "NYSE,NASDAQ"),
		FallbackKeywordsCSV: orDefault(os.Getenv("SCANNER_FALLBACK_KEYWORDS"), "Apple,Microsoft,Tesla,Amazon,Nvidia"),
		VaultAddr:       os.Getenv("VAULT_ADDR"),
		VaultToken:      os.Getenv("VAULT_TOKEN"),
		TradeEventsAMQPURL: os.Getenv("TRADE_EVENTS_AMQP_URL"),
		AdminListenAddr:    orDefault(os.Getenv("ADMIN_LISTEN_ADDR"), ":8090"),
	}

	dryRun, _ := strconv.ParseBool(orDefault(os.Getenv("DRY_RUN"), "true"))
	cfg.DryRun = dryRun

	qty, err := strconv.ParseFloat(orDefault(os.Getenv("TRADE_QUANTITY"), "10"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TRADE_QUANTITY: %w", err)
	}
	cfg.TradeQuantity = qty

	stopLossPct, err := strconv.ParseFloat(orDefault(os.Getenv("STOP_LOSS_PCT"), "0.01"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid STOP_LOSS_PCT: %w", err)
	}
	cfg.StopLossPct = stopLossPct

	scanInterval, err := strconv.Atoi(orDefault(os.Getenv("SCAN_INTERVAL_SECONDS"), "600"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCAN_INTERVAL_SECONDS: %w", err)
	}
	cfg.ScanIntervalSeconds = scanInterval

	appSecret, refreshToken, err := cfg.loadSecrets()
	if err != nil {
		return nil, err
	}
	cfg.AppSecret = appSecret
	cfg.RefreshToken = refreshToken

	if cfg.AppKey == "" {
		return nil, fmt.Errorf("APP_KEY not set")
	}
	if cfg.AppSecret == "" {
		return nil, fmt.Errorf("APP_SECRET not set")
	}

	return cfg, nil
}

// loadSecrets reads APP_SECRET and REFRESH_TOKEN from Vault when VAULT_ADDR
// is configured, else from plain environment variables.
func (c *Config) loadSecrets() (appSecret, refreshToken string, err error) {
	if c.VaultAddr == "" {
		return os.Getenv("APP_SECRET"), os.Getenv("REFRESH_TOKEN"), nil
	}

	vcfg := api.DefaultConfig()
	vcfg.Address = c.VaultAddr
	client, err := api.NewClient(vcfg)
	if err != nil {
		return "", "", fmt.Errorf("vault client: %w", err)
	}
	if c.VaultToken != "" {
		client.SetToken(c.VaultToken)
	}

	secret, err := client.Logical().Read("secret/data/saxotrader")
	if err != nil {
		return "", "", fmt.Errorf("vault read: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", "", fmt.Errorf("vault secret/data/saxotrader not found")
	}
	data, _ := secret.Data["data"].(map[string]interface{})
	appSecret, _ = data["app_secret"].(string)
	refreshToken, _ = data["refresh_token"].(string)
	return appSecret, refreshToken, nil
}

// OAuth2Config builds the oauth2.Config for the token-refresh exchange,
// following adapter/oauth.go's LoadSaxoEnvironmentConfig shape.
func (c *Config) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.AppKey,
		ClientSecret: c.AppSecret,
		Scopes:       []string{"openapi"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthEndpoint,
			TokenURL: c.TokenEndpoint,
		},
		RedirectURL: c.RedirectURL,
	}
}

// InitialUICs parses InitialUICsCSV ("123,456,789") into a slice.
func (c *Config) InitialUICs() []int64 {
	if strings.TrimSpace(c.InitialUICsCSV) == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(c.InitialUICsCSV, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var v int64
		if _, err := fmt.Sscanf(part, "%d", &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// Exchanges parses ExchangesCSV ("NYSE,NASDAQ") into a slice.
func (c *Config) Exchanges() []string {
	return splitCSV(c.ExchangesCSV)
}

// FallbackKeywords parses FallbackKeywordsCSV into a slice.
func (c *Config) FallbackKeywords() []string {
	return splitCSV(c.FallbackKeywordsCSV)
}

func splitCSV(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
