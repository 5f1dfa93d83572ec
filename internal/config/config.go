package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"dmscheck/internal"
)

// Credentials is one region's DMS login pair.
type Credentials struct {
	Username string
	Password string
}

type Config struct {
	DBPath     string
	ReportPath string
	OpenReport bool

	DMSBaseURL string
	Headless   bool

	SourceSheets []string

	// Per-step timeouts, seconds. There is no whole-run timeout.
	LoginTimeoutSec  int
	SwitchTimeoutSec int
	SearchTimeoutSec int
	MaxStartAttempts int

	// The remote system is rate-sensitive; queries are spaced out.
	SearchRateLimitRPS int

	// Eligibility gate before any remote check. The exact predicate is
	// configuration-defined, not hard-coded.
	FilterRequireISANonZero bool
	FilterRequireSFAEmpty   bool

	LogLevel string

	credentials map[internal.Region]Credentials
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "dmscheck.db")),
		ReportPath: getEnv("REPORT_PATH", filepath.Join(cwd, "data", "report_of_checking_invoices.xlsx")),
		OpenReport: getEnvBool("OPEN_REPORT", true),

		DMSBaseURL: getEnv("DMS_BASE_URL", "https://goodfood.shop"),
		Headless:   getEnvBool("DMS_HEADLESS", false),

		SourceSheets: getEnvList("SOURCE_SHEETS", []string{"мой куб GC", "мой куб BF", "мой куб PU"}),

		LoginTimeoutSec:  getEnvInt("DMS_LOGIN_TIMEOUT_SEC", 60),
		SwitchTimeoutSec: getEnvInt("DMS_SWITCH_TIMEOUT_SEC", 10),
		SearchTimeoutSec: getEnvInt("DMS_SEARCH_TIMEOUT_SEC", 15),
		MaxStartAttempts: getEnvInt("DMS_MAX_START_ATTEMPTS", 2),

		SearchRateLimitRPS: getEnvInt("DMS_SEARCH_RATE_LIMIT_RPS", 1),

		FilterRequireISANonZero: getEnvBool("FILTER_REQUIRE_ISA_NONZERO", true),
		FilterRequireSFAEmpty:   getEnvBool("FILTER_REQUIRE_SFA_EMPTY", true),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		credentials: map[internal.Region]Credentials{
			internal.RegionSiberia: {
				Username: getEnv("DMS_USERNAME_SIB", ""),
				Password: getEnv("DMS_PASSWORD_SIB", ""),
			},
			internal.RegionUral: {
				Username: getEnv("DMS_USERNAME_URAL", ""),
				Password: getEnv("DMS_PASSWORD_URAL", ""),
			},
		},
	}

	return cfg, nil
}

// CredentialsFor resolves the login pair for a region. Missing credentials
// are an error: a region without secrets cannot be started at all.
func (c Config) CredentialsFor(region internal.Region) (Credentials, error) {
	creds, ok := c.credentials[region]
	if !ok {
		return Credentials{}, fmt.Errorf("no credentials configured for region %q", region)
	}
	if strings.TrimSpace(creds.Username) == "" || strings.TrimSpace(creds.Password) == "" {
		return Credentials{}, fmt.Errorf("incomplete credentials for region %q", region)
	}
	return creds, nil
}

// SetCredentials overrides a region's login pair (used by tests).
func (c *Config) SetCredentials(region internal.Region, creds Credentials) {
	if c.credentials == nil {
		c.credentials = map[internal.Region]Credentials{}
	}
	c.credentials[region] = creds
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := getEnv(key, "")
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
