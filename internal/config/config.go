package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultEmergencyKeywords are matched against the latest patient message.
var DefaultEmergencyKeywords = []string{
	"chest pain",
	"can't breathe",
	"cannot breathe",
	"difficulty breathing",
	"heart attack",
	"stroke",
	"i fell",
	"fallen",
	"emergency",
	"call 911",
	"bleeding",
	"unconscious",
}

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port          string
	DatabaseURL   string
	SQLitePath    string
	LocalTimezone *time.Location
	LogLevel      string
	LogFormat     string

	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioWhatsAppNumber string
	TwilioSMSNumber      string
	TelegramBotToken     string
	WebhookTimeout       time.Duration

	OpenAIAPIKey string
	OpenAIModel  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Scheduler SchedulerConfig
	Alerts    AlertConfig

	VocabularyFile string
}

// SchedulerConfig tunes the reminder loop.
type SchedulerConfig struct {
	Interval            time.Duration
	MissedGracePeriod   time.Duration
	LockTTL             time.Duration
	CheckinsEnabled     bool
	WeeklyReportEnabled bool
}

// AlertConfig holds the alert rule thresholds.
type AlertConfig struct {
	AdherenceWindowDays int
	AdherenceThreshold  float64
	HighSeverityBelow   float64
	MoodWindow          int
	MoodThreshold       float64
	EmergencyKeywords   []string
}

// Load reads configuration values and prepares defaults where applicable.
func Load() *Config {
	_ = godotenv.Load()

	timezoneName := getenvDefault("LOCAL_TIMEZONE", "Local")
	location, err := time.LoadLocation(timezoneName)
	if err != nil {
		log.Printf("config: invalid LOCAL_TIMEZONE %q, defaulting to system local: %v", timezoneName, err)
		location = time.Local
	}

	return &Config{
		Port:          getenvDefault("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    getenvDefault("SQLITE_PATH", "carely.db"),
		LocalTimezone: location,
		LogLevel:      getenvDefault("LOG_LEVEL", "info"),
		LogFormat:     getenvDefault("LOG_FORMAT", "json"),

		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWhatsAppNumber: os.Getenv("TWILIO_WHATSAPP_NUMBER"),
		TwilioSMSNumber:      os.Getenv("TWILIO_SMS_NUMBER"),
		TelegramBotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		WebhookTimeout:       ParseDurationEnv("WEBHOOK_TIMEOUT", 10*time.Second),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  getenvDefault("OPENAI_MODEL", "gpt-4o-mini"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       ParseIntEnv("REDIS_DB", 0),

		Scheduler: SchedulerConfig{
			Interval:            ParseDurationEnv("SCHEDULER_INTERVAL", time.Minute),
			MissedGracePeriod:   ParseDurationEnv("MISSED_GRACE_PERIOD", 2*time.Hour),
			LockTTL:             ParseDurationEnv("LOCK_TTL", 2*time.Minute),
			CheckinsEnabled:     ParseBoolEnv("CHECKINS_ENABLED", true),
			WeeklyReportEnabled: ParseBoolEnv("WEEKLY_REPORT_ENABLED", true),
		},
		Alerts: AlertConfig{
			AdherenceWindowDays: ParseIntEnv("ADHERENCE_WINDOW_DAYS", 7),
			AdherenceThreshold:  ParseFloatEnv("ADHERENCE_ALERT_THRESHOLD", 80),
			HighSeverityBelow:   ParseFloatEnv("ADHERENCE_HIGH_SEVERITY_BELOW", 50),
			MoodWindow:          ParseIntEnv("MOOD_WINDOW", 5),
			MoodThreshold:       ParseFloatEnv("MOOD_ALERT_THRESHOLD", -0.3),
			EmergencyKeywords:   ParseListEnv("EMERGENCY_KEYWORDS", DefaultEmergencyKeywords),
		},

		VocabularyFile: os.Getenv("VOCABULARY_FILE"),
	}
}

func getenvDefault(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	return value
}

// ParseIntEnv returns the integer value for an environment variable or the provided default.
func ParseIntEnv(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as int: %v", key, value, err)
		return def
	}
	return parsed
}

// ParseFloatEnv returns the float value for an environment variable or the provided default.
func ParseFloatEnv(key string, def float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as float: %v", key, value, err)
		return def
	}
	return parsed
}

// ParseDurationEnv accepts Go durations ("90s", "2h") and bare seconds.
func ParseDurationEnv(key string, def time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		log.Printf("config: unable to parse %s=%q as duration: %v", key, value, err)
		return def
	}
	return parsed
}

// ParseBoolEnv returns the boolean value for an environment variable or the provided default.
func ParseBoolEnv(key string, def bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as bool: %v", key, value, err)
		return def
	}
	return parsed
}

// ParseListEnv splits a comma separated variable, dropping blanks.
func ParseListEnv(key string, def []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return def
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return def
	}
	return items
}
