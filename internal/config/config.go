package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Booking  BookingConfig
	Calendar CalendarConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// BookingConfig drives slot generation, quota limits, and the booking
// transaction's external-confirm behavior.
type BookingConfig struct {
	// TimeZone is the IANA zone the business-hours window is expressed in.
	TimeZone string

	// BusinessHoursStart/End are "HH:MM" wall-clock bounds of the bookable day.
	BusinessHoursStart string
	BusinessHoursEnd   string

	// SlotMinutes is the fixed candidate slot duration.
	SlotMinutes int

	// CallerMonthlyLimit / CalleeMonthlyLimit are plan-defined booking caps
	// per calendar month (UTC).
	CallerMonthlyLimit int
	CalleeMonthlyLimit int

	// ConfirmTimeout bounds the external calendar write after a reservation.
	// On expiry the reservation stands and the call is left sync-pending.
	ConfirmTimeout time.Duration

	// SyncRetryEvery is the schedule of the calendar sync retry worker.
	SyncRetryEvery time.Duration

	// AvailabilityCacheTTL bounds the display-only availability cache.
	// The booking path never reads this cache.
	AvailabilityCacheTTL time.Duration
}

// CalendarConfig configures the external free/busy provider.
type CalendarConfig struct {
	// Provider selects the adapter: "http" (JSON busy-intervals API) or "ics".
	Provider string

	// BaseURL is the busy-intervals API root (http provider).
	BaseURL string

	FetchTimeout time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.Booking.TimeZone = strings.TrimSpace(os.Getenv("BOOKING_TIMEZONE"))
	c.Booking.BusinessHoursStart = strings.TrimSpace(os.Getenv("BOOKING_HOURS_START"))
	c.Booking.BusinessHoursEnd = strings.TrimSpace(os.Getenv("BOOKING_HOURS_END"))
	c.Booking.SlotMinutes = optInt("BOOKING_SLOT_MINUTES")
	c.Booking.CallerMonthlyLimit = optInt("BOOKING_CALLER_MONTHLY_LIMIT")
	c.Booking.CalleeMonthlyLimit = optInt("BOOKING_CALLEE_MONTHLY_LIMIT")
	c.Booking.ConfirmTimeout = optDuration("BOOKING_CONFIRM_TIMEOUT")
	c.Booking.SyncRetryEvery = optDuration("BOOKING_SYNC_RETRY_EVERY")
	c.Booking.AvailabilityCacheTTL = optDuration("AVAILABILITY_CACHE_TTL")

	c.Calendar.Provider = strings.TrimSpace(os.Getenv("CALENDAR_PROVIDER"))
	c.Calendar.BaseURL = strings.TrimSpace(os.Getenv("CALENDAR_BASE_URL"))
	c.Calendar.FetchTimeout = optDuration("CALENDAR_FETCH_TIMEOUT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	// Booking defaults: the platform's standard bookable day is
	// 08:00-18:00 local time in 15-minute slots.
	if c.Booking.TimeZone == "" {
		c.Booking.TimeZone = "UTC"
	}
	if _, err := time.LoadLocation(c.Booking.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("BOOKING_TIMEZONE is not a valid IANA zone: %q", c.Booking.TimeZone))
	}
	if c.Booking.BusinessHoursStart == "" {
		c.Booking.BusinessHoursStart = "08:00"
	}
	if c.Booking.BusinessHoursEnd == "" {
		c.Booking.BusinessHoursEnd = "18:00"
	}
	if c.Booking.SlotMinutes <= 0 {
		c.Booking.SlotMinutes = 15
	}
	if c.Booking.CallerMonthlyLimit <= 0 {
		c.Booking.CallerMonthlyLimit = 20
	}
	if c.Booking.CalleeMonthlyLimit <= 0 {
		c.Booking.CalleeMonthlyLimit = 40
	}
	if c.Booking.ConfirmTimeout <= 0 {
		c.Booking.ConfirmTimeout = 10 * time.Second
	}
	if c.Booking.SyncRetryEvery <= 0 {
		c.Booking.SyncRetryEvery = 2 * time.Minute
	}
	if c.Booking.AvailabilityCacheTTL <= 0 {
		c.Booking.AvailabilityCacheTTL = 5 * time.Second
	}

	if c.Calendar.Provider == "" {
		c.Calendar.Provider = "http"
	}
	if c.Calendar.Provider != "http" && c.Calendar.Provider != "ics" {
		errs = append(errs, fmt.Errorf("CALENDAR_PROVIDER must be http or ics, got %q", c.Calendar.Provider))
	}
	if c.Calendar.Provider == "http" && c.Calendar.BaseURL == "" {
		errs = append(errs, errors.New("CALENDAR_BASE_URL is required for the http calendar provider"))
	}
	if c.Calendar.FetchTimeout <= 0 {
		c.Calendar.FetchTimeout = 5 * time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optInt reads an optional integer env var; zero means unset.
func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// optDuration reads an optional duration env var; zero means unset.
func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
