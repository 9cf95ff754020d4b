// Package config provides configuration for the call engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Carrier selection values for VOICE_CARRIER.
const (
	CarrierTwilio = "twilio"
	CarrierTelnyx = "telnyx"
)

// Config holds the call engine configuration.
type Config struct {
	// Server settings
	HTTPPort      int
	PublicBaseURL string

	// Control plane
	ControlAPIToken string

	// Carrier selection
	VoiceCarrier string

	// Twilio credentials (voice carrier A + chat channel)
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioPhoneNumber    string
	TwilioWhatsAppNumber string
	ConversationsService string
	TwilioTemplateSID    string

	// Telnyx credentials (voice carrier B)
	TelnyxAPIKey       string
	TelnyxPublicKey    string
	TelnyxConnectionID string
	TelnyxPhoneNumber  string

	// Speech vendor selection
	SpeechProvider string

	// Optional path to a custom dial policy in Rego. Empty uses the
	// built-in default.
	PolicyPath string

	// Database
	DatabaseURL string

	// Rate limits
	GlobalPerMinute int
	PhonePerMinute  int
	ConvPerMinute   int
	PhoneBucketTTL  time.Duration

	// Session timing
	InactivityTimeout time.Duration
	ChatWindow        time.Duration
	ChatWarningBefore time.Duration
	ConnectTimeout    time.Duration
	CallAttempts      int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables. It returns an error
// listing every missing required secret; the process must refuse to start
// rather than run with a verification key absent.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:      getEnvInt("PORT", 8080),
		PublicBaseURL: strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", ""), "/"),

		ControlAPIToken: getEnv("CONTROL_API_TOKEN", ""),

		VoiceCarrier: getEnv("VOICE_CARRIER", CarrierTwilio),

		TwilioAccountSID:     getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:      getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber:    getEnv("TWILIO_PHONE_NUMBER", ""),
		TwilioWhatsAppNumber: getEnv("TWILIO_WHATSAPP_NUMBER", ""),
		ConversationsService: getEnv("TWILIO_CONVERSATIONS_SERVICE_SID", ""),
		TwilioTemplateSID:    getEnv("TWILIO_TEMPLATE_SID", ""),

		TelnyxAPIKey:       getEnv("TELNYX_API_KEY", ""),
		TelnyxPublicKey:    getEnv("TELNYX_PUBLIC_KEY", ""),
		TelnyxConnectionID: getEnv("TELNYX_CONNECTION_ID", ""),
		TelnyxPhoneNumber:  getEnv("TELNYX_PHONE_NUMBER", ""),

		SpeechProvider: getEnv("SPEECH_PROVIDER", "mock"),

		PolicyPath: getEnv("POLICY_PATH", ""),

		DatabaseURL: getEnv("DATABASE_URL", "file:callme.db?cache=shared&mode=rwc"),

		GlobalPerMinute: getEnvInt("RATE_GLOBAL_PER_MIN", 100),
		PhonePerMinute:  getEnvInt("RATE_PHONE_PER_MIN", 10),
		ConvPerMinute:   getEnvInt("RATE_CONV_PER_MIN", 20),
		PhoneBucketTTL:  getEnvDuration("PHONE_BUCKET_TTL", 5*time.Minute),

		InactivityTimeout: getEnvDuration("INACTIVITY_TIMEOUT", 7*time.Minute),
		ChatWindow:        getEnvDuration("CHAT_WINDOW", 24*time.Hour),
		ChatWarningBefore: getEnvDuration("CHAT_WARNING_BEFORE", time.Hour),
		ConnectTimeout:    getEnvDuration("CONNECT_TIMEOUT", 30*time.Second),
		CallAttempts:      getEnvInt("CALL_ATTEMPTS", 3),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate collects every missing required value into a single error so an
// operator sees the full list at once.
func (c *Config) validate() error {
	var missing []string

	if c.ControlAPIToken == "" {
		missing = append(missing, "CONTROL_API_TOKEN")
	}
	if c.PublicBaseURL == "" {
		missing = append(missing, "PUBLIC_BASE_URL")
	}
	if c.TwilioAccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if c.TwilioAuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if c.TwilioPhoneNumber == "" {
		missing = append(missing, "TWILIO_PHONE_NUMBER")
	}
	if c.TwilioWhatsAppNumber == "" {
		missing = append(missing, "TWILIO_WHATSAPP_NUMBER")
	}
	if c.ConversationsService == "" {
		missing = append(missing, "TWILIO_CONVERSATIONS_SERVICE_SID")
	}

	switch c.VoiceCarrier {
	case CarrierTwilio:
	case CarrierTelnyx:
		if c.TelnyxAPIKey == "" {
			missing = append(missing, "TELNYX_API_KEY")
		}
		if c.TelnyxPublicKey == "" {
			missing = append(missing, "TELNYX_PUBLIC_KEY")
		}
		if c.TelnyxConnectionID == "" {
			missing = append(missing, "TELNYX_CONNECTION_ID")
		}
		if c.TelnyxPhoneNumber == "" {
			missing = append(missing, "TELNYX_PHONE_NUMBER")
		}
	default:
		return fmt.Errorf("config: unknown VOICE_CARRIER %q", c.VoiceCarrier)
	}

	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
