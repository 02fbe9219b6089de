package util

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const Name = "fedi"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

// DefaultPermanentErrorCodes are the delivery failures treated as a dead peer.
var DefaultPermanentErrorCodes = []string{"ECONNREFUSED", "ENOTFOUND", "EHOSTUNREACH", "ENETUNREACH"}

type SmtpConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type AppConfig struct {
	Conf struct {
		Host      string
		SshPort   int    `yaml:"sshPort"`
		HttpPort  int    `yaml:"httpPort"`
		SslDomain string `yaml:"sslDomain"`
		WithAp    bool   `yaml:"withAp"`

		DatabasePath string `yaml:"databasePath"`
		LogLevel     string `yaml:"logLevel"`
		LogFormat    string `yaml:"logFormat"`

		QueueBackend     string `yaml:"queueBackend"`
		QueuePath        string `yaml:"queuePath"`
		QueueWorkers     int    `yaml:"queueWorkers"`
		QueueMaxAttempts int    `yaml:"queueMaxAttempts"`

		DeliveryTimeoutSeconds int      `yaml:"deliveryTimeoutSeconds"`
		DeliveryRetries        int      `yaml:"deliveryRetries"`
		PermanentErrorCodes    []string `yaml:"permanentErrorCodes"`

		ActorCacheTtlMinutes    int    `yaml:"actorCacheTtlMinutes"`
		SignatureMaxSkewMinutes int    `yaml:"signatureMaxSkewMinutes"`
		DeletionSweepCron       string `yaml:"deletionSweepCron"`
		PushToken               string `yaml:"pushToken"`

		Smtp SmtpConfig `yaml:"smtp"`
	}
}

// ReadConf loads .env, then the config file (local dir first, then the user
// config dir, falling back to the embedded defaults), then FEDI_* overrides.
func ReadConf() (*AppConfig, error) {
	_ = godotenv.Load(".env")

	configPath := ResolveFilePath(ConfigFileName)
	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Info("Config file not found, using embedded defaults", "path", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := filepath.Join(configDir, ConfigFileName)
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				log.Warn("Could not write default config", "path", userConfigPath, "err", writeErr)
			} else {
				log.Info("Created default config file", "path", userConfigPath)
			}
		}
	}
	return ParseConf(buf)
}

// ReadConfFrom loads an explicit config file.
func ReadConfFrom(path string) (*AppConfig, error) {
	_ = godotenv.Load(".env")

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConf(buf)
}

// ParseConf decodes yaml, applies environment overrides and fills defaults.
func ParseConf(buf []byte) (*AppConfig, error) {
	c := &AppConfig{}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return c, nil
}

func (c *AppConfig) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("FEDI_HOST", &c.Conf.Host)
	str("FEDI_SSLDOMAIN", &c.Conf.SslDomain)
	str("FEDI_DATABASE_PATH", &c.Conf.DatabasePath)
	str("FEDI_LOG_LEVEL", &c.Conf.LogLevel)
	str("FEDI_LOG_FORMAT", &c.Conf.LogFormat)
	str("FEDI_QUEUE_BACKEND", &c.Conf.QueueBackend)
	str("FEDI_QUEUE_PATH", &c.Conf.QueuePath)
	str("FEDI_DELETION_SWEEP_CRON", &c.Conf.DeletionSweepCron)
	str("FEDI_PUSH_TOKEN", &c.Conf.PushToken)
	str("FEDI_SMTP_HOST", &c.Conf.Smtp.Host)
	str("FEDI_SMTP_USERNAME", &c.Conf.Smtp.Username)
	str("FEDI_SMTP_PASSWORD", &c.Conf.Smtp.Password)
	str("FEDI_SMTP_FROM", &c.Conf.Smtp.From)

	for key, dst := range map[string]*int{
		"FEDI_SSHPORT":          &c.Conf.SshPort,
		"FEDI_HTTPPORT":         &c.Conf.HttpPort,
		"FEDI_QUEUE_WORKERS":    &c.Conf.QueueWorkers,
		"FEDI_DELIVERY_TIMEOUT": &c.Conf.DeliveryTimeoutSeconds,
		"FEDI_DELIVERY_RETRIES": &c.Conf.DeliveryRetries,
		"FEDI_SMTP_PORT":        &c.Conf.Smtp.Port,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v := os.Getenv("FEDI_WITH_AP"); v != "" {
		c.Conf.WithAp = v == "true"
	}
	if v := os.Getenv("FEDI_PERMANENT_ERROR_CODES"); v != "" {
		c.Conf.PermanentErrorCodes = splitList(v)
	}
	return nil
}

func (c *AppConfig) applyDefaults() {
	if c.Conf.DatabasePath == "" {
		c.Conf.DatabasePath = "database.db"
	}
	if c.Conf.LogLevel == "" {
		c.Conf.LogLevel = "info"
	}
	if c.Conf.QueueBackend == "" {
		c.Conf.QueueBackend = "sqlite"
	}
	if c.Conf.QueuePath == "" {
		c.Conf.QueuePath = "queue"
	}
	if c.Conf.QueueWorkers <= 0 {
		c.Conf.QueueWorkers = 4
	}
	if c.Conf.QueueMaxAttempts <= 0 {
		c.Conf.QueueMaxAttempts = 10
	}
	if c.Conf.DeliveryTimeoutSeconds <= 0 {
		c.Conf.DeliveryTimeoutSeconds = 30
	}
	if c.Conf.DeliveryRetries < 0 {
		c.Conf.DeliveryRetries = 0
	}
	if len(c.Conf.PermanentErrorCodes) == 0 {
		c.Conf.PermanentErrorCodes = append([]string(nil), DefaultPermanentErrorCodes...)
	}
	if c.Conf.ActorCacheTtlMinutes <= 0 {
		c.Conf.ActorCacheTtlMinutes = 10
	}
	if c.Conf.SignatureMaxSkewMinutes <= 0 {
		c.Conf.SignatureMaxSkewMinutes = 12 * 60
	}
	if c.Conf.DeletionSweepCron == "" {
		c.Conf.DeletionSweepCron = "*/5 * * * *"
	}
}

func (c *AppConfig) DeliveryTimeout() time.Duration {
	return time.Duration(c.Conf.DeliveryTimeoutSeconds) * time.Second
}

func (c *AppConfig) ActorCacheTTL() time.Duration {
	return time.Duration(c.Conf.ActorCacheTtlMinutes) * time.Minute
}

func (c *AppConfig) SignatureMaxSkew() time.Duration {
	return time.Duration(c.Conf.SignatureMaxSkewMinutes) * time.Minute
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
