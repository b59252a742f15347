package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration
type Config struct {
	Listen   string `yaml:"listen" validate:"required,hostname_port"`
	LogLevel string `yaml:"log_level" validate:"required,oneof=debug info warn error"`
	LogJSON  bool   `yaml:"log_json"`

	// Providers whose credentials must be obtainable at boot.
	// A failure for any of them aborts startup.
	RequireAuthAtBoot []string `yaml:"require_auth_at_boot" validate:"dive,oneof=insee dgfip inpi entreprise"`

	Redis   RedisConfig   `yaml:"redis"`
	Store   StoreConfig   `yaml:"store"`
	Audit   AuditConfig   `yaml:"audit"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Cache   CacheConfig   `yaml:"cache"`
	Breaker BreakerConfig `yaml:"breaker"`

	Providers   ProvidersConfig   `yaml:"providers"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// RedisConfig locates the shared key-value store
type RedisConfig struct {
	URL      string `yaml:"url" validate:"required"`
	Password string `yaml:"password"`
}

// StoreConfig locates the analytic store
type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// AuditConfig controls the audit ledger
type AuditConfig struct {
	Dir                  string `yaml:"dir" validate:"required"`
	BufferSize           int    `yaml:"buffer_size" validate:"min=1"`
	FlushIntervalSeconds int    `yaml:"flush_interval_seconds" validate:"min=1"`
}

// IngestConfig controls bulk dataset ingestion
type IngestConfig struct {
	ScratchDir string `yaml:"scratch_dir" validate:"required"`
	Enabled    bool   `yaml:"enabled"`
}

// CacheConfig holds TTLs in seconds per cached namespace
type CacheConfig struct {
	SearchTTLSeconds   int `yaml:"search_ttl_seconds" validate:"min=1"`
	ProfileTTLSeconds  int `yaml:"profile_ttl_seconds" validate:"min=1"`
	DocumentTTLSeconds int `yaml:"document_ttl_seconds" validate:"min=1"`
}

// BreakerConfig holds the default circuit-breaker settings; providers
// may override per entry
type BreakerConfig struct {
	Threshold       int `yaml:"threshold" validate:"min=1"`
	RecoverySeconds int `yaml:"recovery_seconds" validate:"min=1"`
}

// ProviderConfig declares one upstream registry
type ProviderConfig struct {
	BaseURL          string `yaml:"base_url" validate:"required,url"`
	RateLimit        int    `yaml:"rate_limit" validate:"min=1"`
	WindowSeconds    int    `yaml:"window_seconds" validate:"min=1"`
	TimeoutSeconds   int    `yaml:"timeout_seconds" validate:"min=1"`
	BreakerThreshold int    `yaml:"breaker_threshold"`
	BreakerRecovery  int    `yaml:"breaker_recovery_seconds"`
}

// EntrepriseConfig adds the separate PDF budget of the documents provider
type EntrepriseConfig struct {
	ProviderConfig `yaml:",inline"`
	PDFRateLimit   int `yaml:"pdf_rate_limit" validate:"min=1"`
	PDFTimeout     int `yaml:"pdf_timeout_seconds" validate:"min=1"`
}

// ProvidersConfig declares all seven upstream registries
type ProvidersConfig struct {
	Recherche  ProviderConfig   `yaml:"recherche"`
	Sirene     ProviderConfig   `yaml:"sirene"`
	RNE        ProviderConfig   `yaml:"rne"`
	BODACC     ProviderConfig   `yaml:"bodacc"`
	RNA        ProviderConfig   `yaml:"rna"`
	RGE        ProviderConfig   `yaml:"rge"`
	Entreprise EntrepriseConfig `yaml:"entreprise"`
}

// ClientCredentials configures an OAuth2 client-credentials exchange
type ClientCredentials struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Scope        string `yaml:"scope"`
	TokenURL     string `yaml:"token_url"`
}

// LoginCredentials configures a username/password bearer login
type LoginCredentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	LoginURL string `yaml:"login_url"`
}

// StaticCredentials configures a long-lived bearer issued out of band
type StaticCredentials struct {
	Token       string `yaml:"token"`
	RecipientID string `yaml:"recipient_id"`
	Object      string `yaml:"object"`
	Context     string `yaml:"context"`
}

// CredentialsConfig holds per-service credentials
type CredentialsConfig struct {
	INSEE      ClientCredentials `yaml:"insee"`
	DGFIP      ClientCredentials `yaml:"dgfip"`
	INPI       LoginCredentials  `yaml:"inpi"`
	Entreprise StaticCredentials `yaml:"entreprise"`
}

// Default returns the configuration with all defaults applied
func Default() *Config {
	return &Config{
		Listen:   "localhost:8090",
		LogLevel: "info",
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Store: StoreConfig{
			Path: "guichet.db",
		},
		Audit: AuditConfig{
			Dir:                  "audit",
			BufferSize:           100,
			FlushIntervalSeconds: 60,
		},
		Ingest: IngestConfig{
			ScratchDir: "scratch",
			Enabled:    true,
		},
		Cache: CacheConfig{
			SearchTTLSeconds:   300,
			ProfileTTLSeconds:  3600,
			DocumentTTLSeconds: 86400,
		},
		Breaker: BreakerConfig{
			Threshold:       5,
			RecoverySeconds: 60,
		},
		Providers: ProvidersConfig{
			Recherche: ProviderConfig{
				BaseURL:        "https://recherche-entreprises.api.gouv.fr",
				RateLimit:      3000,
				WindowSeconds:  60,
				TimeoutSeconds: 30,
			},
			Sirene: ProviderConfig{
				BaseURL:          "https://portail-api.insee.fr/entreprises/sirene/V3.11",
				RateLimit:        30,
				WindowSeconds:    60,
				TimeoutSeconds:   30,
				BreakerThreshold: 3,
				BreakerRecovery:  120,
			},
			RNE: ProviderConfig{
				BaseURL:          "https://registre-national-entreprises.inpi.fr/api",
				RateLimit:        20,
				WindowSeconds:    60,
				TimeoutSeconds:   30,
				BreakerThreshold: 3,
				BreakerRecovery:  300,
			},
			BODACC: ProviderConfig{
				BaseURL:        "https://bodacc-datadila.opendatasoft.com/api/explore/v2.1",
				RateLimit:      600,
				WindowSeconds:  60,
				TimeoutSeconds: 30,
			},
			RNA: ProviderConfig{
				BaseURL:        "https://entreprise.data.gouv.fr/api/rna/v1",
				RateLimit:      10,
				WindowSeconds:  60,
				TimeoutSeconds: 30,
			},
			RGE: ProviderConfig{
				BaseURL:        "https://data.ademe.fr/data-fair/api/v1/datasets/liste-des-entreprises-rge-2",
				RateLimit:      600,
				WindowSeconds:  60,
				TimeoutSeconds: 30,
			},
			Entreprise: EntrepriseConfig{
				ProviderConfig: ProviderConfig{
					BaseURL:        "https://entreprise.api.gouv.fr/v3",
					RateLimit:      250,
					WindowSeconds:  60,
					TimeoutSeconds: 30,
				},
				PDFRateLimit: 50,
				PDFTimeout:   300,
			},
		},
		Credentials: CredentialsConfig{
			INSEE: ClientCredentials{
				TokenURL: "https://portail-api.insee.fr/token",
			},
			DGFIP: ClientCredentials{
				TokenURL: "https://api.dgfip.finances.gouv.fr/oauth/token",
			},
			INPI: LoginCredentials{
				LoginURL: "https://registre-national-entreprises.inpi.fr/api/sso/login",
			},
		},
	}
}

// Load reads the configuration file at path (optional), applies
// environment overrides and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setenv := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	setenv(&c.Listen, "GUICHET_LISTEN")
	setenv(&c.LogLevel, "GUICHET_LOG_LEVEL")
	setenv(&c.Redis.URL, "GUICHET_REDIS_URL")
	setenv(&c.Redis.Password, "GUICHET_REDIS_PASSWORD")
	setenv(&c.Store.Path, "GUICHET_STORE_PATH")
	setenv(&c.Audit.Dir, "GUICHET_AUDIT_DIR")
	setenv(&c.Ingest.ScratchDir, "GUICHET_SCRATCH_DIR")

	setenv(&c.Credentials.INSEE.ClientID, "GUICHET_INSEE_CLIENT_ID")
	setenv(&c.Credentials.INSEE.ClientSecret, "GUICHET_INSEE_CLIENT_SECRET")
	setenv(&c.Credentials.DGFIP.ClientID, "GUICHET_DGFIP_CLIENT_ID")
	setenv(&c.Credentials.DGFIP.ClientSecret, "GUICHET_DGFIP_CLIENT_SECRET")
	setenv(&c.Credentials.INPI.Username, "GUICHET_INPI_USERNAME")
	setenv(&c.Credentials.INPI.Password, "GUICHET_INPI_PASSWORD")
	setenv(&c.Credentials.Entreprise.Token, "GUICHET_ENTREPRISE_TOKEN")
	setenv(&c.Credentials.Entreprise.RecipientID, "GUICHET_ENTREPRISE_RECIPIENT_ID")
}
