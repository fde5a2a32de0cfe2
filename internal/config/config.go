package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	ProviderBaseURL string
	ProviderTimeout time.Duration

	AntiSpoofThreshold  float64
	ChallengeMaxActive  int
	ChallengeMaxPerHour int
	EnrollmentSamples   int

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SNSRegion    string

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users             string
	Phrases           string
	PhraseUsage       string
	Challenges        string
	Sessions          string
	Voiceprints       string
	VoiceprintHistory string
	Attempts          string
	AuditEvents       string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:             getEnv("DYNAMO_TABLE_USERS", "users"),
			Phrases:           getEnv("DYNAMO_TABLE_PHRASES", "phrases"),
			PhraseUsage:       getEnv("DYNAMO_TABLE_PHRASE_USAGE", "phrase_usage"),
			Challenges:        getEnv("DYNAMO_TABLE_CHALLENGES", "challenges"),
			Sessions:          getEnv("DYNAMO_TABLE_SESSIONS", "auth_sessions"),
			Voiceprints:       getEnv("DYNAMO_TABLE_VOICEPRINTS", "voiceprints"),
			VoiceprintHistory: getEnv("DYNAMO_TABLE_VOICEPRINT_HISTORY", "voiceprint_history"),
			Attempts:          getEnv("DYNAMO_TABLE_ATTEMPTS", "auth_attempts"),
			AuditEvents:       getEnv("DYNAMO_TABLE_AUDIT_EVENTS", "audit_events"),
		},
		S3BucketName: getEnv("S3_BUCKET_NAME", "voiceid-samples"),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,

		ProviderBaseURL: getEnv("EVIDENCE_PROVIDER_URL", "http://localhost:8500"),
		ProviderTimeout: time.Duration(getEnvInt("EVIDENCE_PROVIDER_TIMEOUT_SECONDS", 10)) * time.Second,

		AntiSpoofThreshold:  getEnvFloat("ANTI_SPOOF_THRESHOLD", 0.4),
		ChallengeMaxActive:  getEnvInt("CHALLENGE_MAX_ACTIVE", 3),
		ChallengeMaxPerHour: getEnvInt("CHALLENGE_MAX_PER_HOUR", 20),
		EnrollmentSamples:   getEnvInt("ENROLLMENT_SAMPLES", 3),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "security@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SNSRegion:    getEnv("SNS_REGION", "us-east-1"),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
