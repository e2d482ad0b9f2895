package atm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Limits bounds deposit and withdrawal amounts, in minor units.
type Limits struct {
	MinAmount           int64
	MaxSingleDeposit    int64
	MaxSingleWithdrawal int64
	MaxDailyDeposit     int64
	MaxDailyWithdrawal  int64
}

func DefaultLimits() Limits {
	return Limits{
		MinAmount:           1,
		MaxSingleDeposit:    10000,
		MaxSingleWithdrawal: 5000,
		MaxDailyDeposit:     50000,
		MaxDailyWithdrawal:  10000,
	}
}

func (l Limits) Validate() error {
	var errs []error
	check := func(name string, v int64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive (got %d)", name, v))
		}
	}
	check("min amount", l.MinAmount)
	check("max single deposit", l.MaxSingleDeposit)
	check("max single withdrawal", l.MaxSingleWithdrawal)
	check("max daily deposit", l.MaxDailyDeposit)
	check("max daily withdrawal", l.MaxDailyWithdrawal)
	if l.MaxSingleDeposit < l.MinAmount || l.MaxSingleWithdrawal < l.MinAmount {
		errs = append(errs, fmt.Errorf("single transaction maxima must not be below min amount %d", l.MinAmount))
	}
	return errors.Join(errs...)
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	To       []string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && len(c.To) > 0
}

type HSMConfig struct {
	LibPath  string
	Slot     uint
	PIN      string
	KeyLabel string
}

// Config is a configuration for the ATM application
type Config struct {
	HTTPAddr    string
	ISO8583Addr string
	LogLevel    string

	// RepoBackend is "pg" or "mem". mem is refused unless AllowMemBackend is set.
	RepoBackend     string
	AllowMemBackend bool
	DBDSN           string

	// SessionBackend is "repo" (same store as the ledger) or "redis".
	SessionBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SessionTTL     time.Duration

	// TimeZone is an IANA name; daily limits reset at midnight in this zone.
	TimeZone string
	Limits   Limits

	// SessionTimeout is the age after which the reaper closes an open session.
	SessionTimeout time.Duration
	ReapSchedule   string

	// PINScheme is "bcrypt" or "softhsm" (requires the softhsm build tag).
	PINScheme     string
	PINBcryptCost int
	HSM           HSMConfig

	SMTP     SMTPConfig
	SeedData bool
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:       "localhost:8080",
		ISO8583Addr:    "localhost:8583",
		LogLevel:       "info",
		RepoBackend:    "pg",
		SessionBackend: "repo",
		RedisAddr:      "localhost:6379",
		SessionTTL:     24 * time.Hour,
		TimeZone:       "UTC",
		Limits:         DefaultLimits(),
		SessionTimeout: 5 * time.Minute,
		ReapSchedule:   "@every 1m",
		PINScheme:      "bcrypt",
		PINBcryptCost:  10,
		HSM:            HSMConfig{KeyLabel: "atm-pvk"},
		SMTP:           SMTPConfig{Port: "587"},
	}
}

// LoadConfig reads the configuration from the environment on top of DefaultConfig.
func LoadConfig() (*Config, error) {
	c := DefaultConfig()
	p := &envParser{}

	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	c.ISO8583Addr = getenv("ISO8583_ADDR", c.ISO8583Addr)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.RepoBackend = getenv("REPO_BACKEND", c.RepoBackend)
	c.AllowMemBackend = p.bool("ALLOW_MEM_BACKEND", c.AllowMemBackend)
	c.DBDSN = getenv("DB_DSN", c.DBDSN)
	c.SessionBackend = getenv("SESSION_BACKEND", c.SessionBackend)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getenv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = int(p.int("REDIS_DB", int64(c.RedisDB)))
	c.SessionTTL = p.duration("SESSION_TTL", c.SessionTTL)
	c.TimeZone = getenv("ATM_TZ", c.TimeZone)
	c.Limits.MinAmount = p.int("ATM_MIN_AMOUNT", c.Limits.MinAmount)
	c.Limits.MaxSingleDeposit = p.int("ATM_MAX_SINGLE_DEPOSIT", c.Limits.MaxSingleDeposit)
	c.Limits.MaxSingleWithdrawal = p.int("ATM_MAX_SINGLE_WITHDRAWAL", c.Limits.MaxSingleWithdrawal)
	c.Limits.MaxDailyDeposit = p.int("ATM_MAX_DAILY_DEPOSIT", c.Limits.MaxDailyDeposit)
	c.Limits.MaxDailyWithdrawal = p.int("ATM_MAX_DAILY_WITHDRAWAL", c.Limits.MaxDailyWithdrawal)
	c.SessionTimeout = p.duration("SESSION_TIMEOUT", c.SessionTimeout)
	c.ReapSchedule = getenv("SESSION_REAP_SCHEDULE", c.ReapSchedule)
	c.PINScheme = getenv("PIN_SCHEME", c.PINScheme)
	c.PINBcryptCost = int(p.int("PIN_BCRYPT_COST", int64(c.PINBcryptCost)))
	c.HSM.LibPath = getenv("HSM_LIB", c.HSM.LibPath)
	c.HSM.Slot = uint(p.int("HSM_SLOT", int64(c.HSM.Slot)))
	c.HSM.PIN = getenv("HSM_PIN", c.HSM.PIN)
	c.HSM.KeyLabel = getenv("HSM_KEY_LABEL", c.HSM.KeyLabel)
	c.SMTP.Host = getenv("SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getenv("SMTP_PORT", c.SMTP.Port)
	c.SMTP.Username = getenv("SMTP_USERNAME", c.SMTP.Username)
	c.SMTP.Password = getenv("SMTP_PASSWORD", c.SMTP.Password)
	c.SMTP.From = getenv("ALERT_FROM", c.SMTP.From)
	if to := getenv("ALERT_TO", ""); to != "" {
		c.SMTP.To = splitList(to)
	}
	c.SeedData = p.bool("SEED_DATA", c.SeedData)

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *Config) Validate() error {
	var errs []error
	switch c.RepoBackend {
	case "pg":
		if c.DBDSN == "" {
			errs = append(errs, fmt.Errorf("DB_DSN is required for pg backend"))
		}
	case "mem":
	default:
		errs = append(errs, fmt.Errorf("unsupported REPO_BACKEND=%s", c.RepoBackend))
	}
	switch c.SessionBackend {
	case "repo":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR is required for redis session backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported SESSION_BACKEND=%s", c.SessionBackend))
	}
	switch c.PINScheme {
	case "bcrypt", "softhsm":
	default:
		errs = append(errs, fmt.Errorf("unsupported PIN_SCHEME=%s", c.PINScheme))
	}
	if c.SessionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TIMEOUT must be positive"))
	}
	if err := c.Limits.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// envParser collects parse errors so LoadConfig reports all bad variables at once.
type envParser struct {
	errs []error
}

func (p *envParser) int(k string, def int64) int64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func (p *envParser) bool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return b
}

func (p *envParser) duration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
