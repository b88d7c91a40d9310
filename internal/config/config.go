// Package config loads runtime configuration from the environment (and an
// optional .env file) plus an optional YAML policy file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/rbac"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type OverpaymentPolicy string

const (
	OverpaymentFlag   OverpaymentPolicy = "flag"
	OverpaymentReject OverpaymentPolicy = "reject"
)

// Policy holds the business rules that are deliberately configurable.
type Policy struct {
	Overpayment        OverpaymentPolicy `yaml:"overpayment" validate:"oneof=flag reject"`
	EnforcePeriodOrder bool              `yaml:"enforcePeriodOrder"`
	MaxTxRetries       int               `yaml:"maxTxRetries" validate:"gte=0,lte=10"`
	LockTimeout        time.Duration     `yaml:"lockTimeout" validate:"gte=0"`
}

type Database struct {
	Host       string
	Port       uint
	Name       string
	SecretID   string
	Username   string
	Password   string
	SSLDisable bool
}

type Auth struct {
	PrivateKeyPath string
	KID            string
	Issuer         string
	Audience       string
}

type Audit struct {
	QueueSize      int           `yaml:"queueSize" validate:"gte=0"`
	EnqueueTimeout time.Duration `yaml:"enqueueTimeout" validate:"gte=0"`
	Retries        int           `yaml:"retries" validate:"gte=0"`
	WebhookURL     string        `yaml:"webhookUrl" validate:"omitempty,url"`
}

type Config struct {
	HTTPAddr    string      `validate:"required"`
	LogLevel    string      `validate:"oneof=debug info warn error"`
	CORSOrigins []string    `yaml:"corsOrigins"`
	Database    Database    `yaml:"-"`
	Auth        Auth        `yaml:"-"`
	Policy      Policy      `yaml:"policy"`
	Audit       Audit       `yaml:"audit"`
	RBAC        rbac.Config `yaml:"rbac"`
}

func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		Database: Database{Port: 5432},
		Policy: Policy{
			Overpayment:        OverpaymentFlag,
			EnforcePeriodOrder: true,
			MaxTxRetries:       3,
			LockTimeout:        5 * time.Second,
		},
		Audit: Audit{QueueSize: 1024, EnqueueTimeout: 250 * time.Millisecond, Retries: 3},
		RBAC:  rbac.DefaultConfig(),
	}
}

var validate = validator.New()

// Load reads .env (if present), then the YAML file named by POLICY_FILE (if
// set), then environment variables, and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()
	if path := os.Getenv("POLICY_FILE"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}

	setString(&cfg.Database.Host, "DB_HOST")
	setString(&cfg.Database.Name, "DB_NAME")
	setString(&cfg.Database.SecretID, "DB_SECRET_ID")
	setString(&cfg.Database.Username, "DB_USERNAME")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	cfg.Database.SSLDisable = os.Getenv("DB_SSL_MODE_DISABLE") == "true"
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("DB_PORT: %w", err)
		}
		cfg.Database.Port = uint(port)
	}

	setString(&cfg.Auth.PrivateKeyPath, "AUTH_RSA_PRIVATE_PATH")
	setString(&cfg.Auth.KID, "AUTH_KID")
	setString(&cfg.Auth.Issuer, "AUTH_ISSUER")
	setString(&cfg.Auth.Audience, "AUTH_AUDIENCE")

	setString(&cfg.Audit.WebhookURL, "AUDIT_WEBHOOK_URL")
	if v := os.Getenv("OVERPAYMENT_POLICY"); v != "" {
		cfg.Policy.Overpayment = OverpaymentPolicy(v)
	}
	if v := os.Getenv("ENFORCE_PERIOD_ORDER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENFORCE_PERIOD_ORDER: %w", err)
		}
		cfg.Policy.EnforcePeriodOrder = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
