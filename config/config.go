package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Session (JWT carried in an HttpOnly cookie)
	JWTSecret         string
	JWTExpiresIn      time.Duration
	SessionCookieName string

	// AWS S3
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3BucketName       string

	// Server
	Port               string
	AppEnv             string
	CORSAllowedOrigins string

	// File Upload
	MaxFileSize       int64
	AllowedExtensions string

	// Logging
	LogLevel string
	LogFile  string

	// Payment gateway
	PaymentGateway     string // paystack, midtrans
	PaystackSecretKey  string
	PaystackBaseURL    string
	MidtransServerKey  string
	MidtransProduction bool
	GatewayTimeout     time.Duration

	// Registration workflow
	PendingApplicationTTL time.Duration
	PendingReaperSchedule string
	LogFlushSchedule      string
	LogArchiveSchedule    string
	LogRetentionDays      int
	CertificatePassMark   float64

	// LINE staff group notices
	LineChannelSecret string
	LineChannelToken  string
	LineStaffGroupID  string

	// Documents
	SchoolName    string
	SchoolAddress string

	// Feature Toggles
	SkipMigrate bool
}

func (c *Config) GetDSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?charset=utf8mb4&parseTime=True&loc=Local"
}

var AppConfig *Config

func LoadConfig() {
	useSSM := getEnv("USE_SSM", "false") == "true"

	var paramMap map[string]string

	// Stage & base path for SSM (allows multi-env without code changes)
	basePath := getEnv("SSM_BASE_PATH", "/schoolreg")
	stage := getEnv("STAGE", getEnv("APP_ENV", "production"))
	basePath = strings.TrimRight(basePath, "/")
	prefix := basePath + "/" + stage

	if useSSM {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(getEnv("AWS_REGION", "eu-west-1"))})
		if err != nil {
			log.Fatal("Failed to create AWS session:", err)
		}
		log.Printf("Using AWS SSM Parameter Store (prefix=%s)", prefix)
		paramMap = fetchSSMParameters(ssm.New(sess), prefix)
	} else {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: .env file not found, using environment variables")
		}
	}

	getVal := func(key, def string) string {
		if useSSM {
			if v, ok := paramMap[strings.ToUpper(key)]; ok && v != "" {
				return v
			}
		}
		return getEnv(strings.ToUpper(key), def)
	}

	jwtExpires, err := parseDuration(getVal("JWT_EXPIRES_IN", "24h"))
	if err != nil {
		log.Fatal("Invalid JWT_EXPIRES_IN format:", err)
	}
	pendingTTL, err := parseDuration(getVal("PENDING_APPLICATION_TTL", "72h"))
	if err != nil {
		log.Fatal("Invalid PENDING_APPLICATION_TTL format:", err)
	}
	gatewayTimeout, err := parseDuration(getVal("GATEWAY_TIMEOUT", "15s"))
	if err != nil {
		log.Fatal("Invalid GATEWAY_TIMEOUT format:", err)
	}

	maxFileSize, err := strconv.ParseInt(getVal("MAX_FILE_SIZE", "10485760"), 10, 64)
	if err != nil {
		log.Fatal("Invalid MAX_FILE_SIZE format:", err)
	}

	retentionDays, err := strconv.Atoi(getVal("LOG_RETENTION_DAYS", "30"))
	if err != nil {
		log.Fatal("Invalid LOG_RETENTION_DAYS format:", err)
	}

	passMark, err := strconv.ParseFloat(getVal("CERTIFICATE_PASS_MARK", "50"), 64)
	if err != nil {
		log.Fatal("Invalid CERTIFICATE_PASS_MARK format:", err)
	}

	AppConfig = &Config{
		DBHost:     getVal("DB_HOST", "localhost"),
		DBPort:     getVal("DB_PORT", "3306"),
		DBUser:     getVal("DB_USER", "root"),
		DBPassword: getVal("DB_PASSWORD", ""),
		DBName:     getVal("DB_NAME", "schoolreg"),

		RedisHost:     getVal("REDIS_HOST", "localhost"),
		RedisPort:     getVal("REDIS_PORT", "6379"),
		RedisPassword: getVal("REDIS_PASSWORD", ""),

		JWTSecret:         getVal("JWT_SECRET", "your_super_secret_jwt_key"),
		JWTExpiresIn:      jwtExpires,
		SessionCookieName: getVal("SESSION_COOKIE_NAME", "schoolreg_session"),

		AWSRegion:          getVal("AWS_REGION", "eu-west-1"),
		AWSAccessKeyID:     getVal("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getVal("AWS_SECRET_ACCESS_KEY", ""),
		S3BucketName:       getVal("S3_BUCKET_NAME", "schoolreg-documents"),

		Port:               getVal("PORT", "3000"),
		AppEnv:             getVal("APP_ENV", "development"),
		CORSAllowedOrigins: getVal("CORS_ALLOWED_ORIGINS", "*"),

		MaxFileSize:       maxFileSize,
		AllowedExtensions: getVal("ALLOWED_EXTENSIONS", "pdf,jpg,jpeg,png,doc,docx"),

		LogLevel: getVal("LOG_LEVEL", "info"),
		LogFile:  getVal("LOG_FILE", "logs/app.log"),

		PaymentGateway:     strings.ToLower(getVal("PAYMENT_GATEWAY", "paystack")),
		PaystackSecretKey:  getVal("PAYSTACK_SECRET_KEY", ""),
		PaystackBaseURL:    getVal("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		MidtransServerKey:  getVal("MIDTRANS_SERVER_KEY", ""),
		MidtransProduction: strings.ToLower(getVal("MIDTRANS_PRODUCTION", "false")) == "true",
		GatewayTimeout:     gatewayTimeout,

		PendingApplicationTTL: pendingTTL,
		PendingReaperSchedule: getVal("PENDING_REAPER_SCHEDULE", "*/30 * * * *"),
		LogFlushSchedule:      getVal("LOG_FLUSH_SCHEDULE", "@hourly"),
		LogArchiveSchedule:    getVal("LOG_ARCHIVE_SCHEDULE", "0 3 * * *"),
		LogRetentionDays:      retentionDays,
		CertificatePassMark:   passMark,

		LineChannelSecret: getVal("LINE_CHANNEL_SECRET", ""),
		LineChannelToken:  getVal("LINE_CHANNEL_ACCESS_TOKEN", ""),
		LineStaffGroupID:  getVal("LINE_STAFF_GROUP_ID", ""),

		SchoolName:    getVal("SCHOOL_NAME", "School of Professional Studies"),
		SchoolAddress: getVal("SCHOOL_ADDRESS", ""),

		SkipMigrate: strings.ToLower(getVal("SKIP_MIGRATE", "false")) == "true",
	}

	validateConfig(AppConfig, useSSM)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration accepts Go durations plus the "3d" / "2w" shorthand.
func parseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err == nil {
		return d, nil
	}
	s := strings.TrimSpace(strings.ToLower(raw))
	if len(s) > 1 {
		unit := s[len(s)-1]
		if n, err2 := strconv.Atoi(s[:len(s)-1]); err2 == nil {
			switch unit {
			case 'd':
				return time.Duration(n) * 24 * time.Hour, nil
			case 'w':
				return time.Duration(n*7) * 24 * time.Hour, nil
			}
		}
	}
	return 0, err
}

// fetchSSMParameters reads all parameters under prefix and returns map with UPPERCASE keys.
func fetchSSMParameters(client *ssm.SSM, prefix string) map[string]string {
	out := make(map[string]string)
	next := aws.String("")
	for {
		in := &ssm.GetParametersByPathInput{
			Path:           aws.String(prefix),
			WithDecryption: aws.Bool(true),
			Recursive:      aws.Bool(true),
		}
		if *next != "" {
			in.NextToken = next
		}
		resp, err := client.GetParametersByPath(in)
		if err != nil {
			log.Printf("Warning: unable to fetch SSM parameters for prefix %s: %v", prefix, err)
			break
		}
		for _, p := range resp.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			name := *p.Name
			key := name
			if idx := strings.LastIndex(name, "/"); idx >= 0 {
				key = name[idx+1:]
			}
			if key == "" {
				continue
			}
			out[strings.ToUpper(key)] = *p.Value
		}
		if resp.NextToken == nil || *resp.NextToken == "" {
			break
		}
		next = resp.NextToken
	}
	return out
}

func validateConfig(c *Config, usedSSM bool) {
	switch c.PaymentGateway {
	case "paystack", "midtrans":
	default:
		log.Fatalf("Unsupported PAYMENT_GATEWAY %q (use paystack or midtrans)", c.PaymentGateway)
	}

	// Only enforce stricter rules in production
	if strings.ToLower(c.AppEnv) != "production" {
		return
	}
	required := map[string]string{
		"DB_PASSWORD": c.DBPassword,
		"JWT_SECRET":  c.JWTSecret,
	}
	if c.PaymentGateway == "paystack" {
		required["PAYSTACK_SECRET_KEY"] = c.PaystackSecretKey
	} else {
		required["MIDTRANS_SERVER_KEY"] = c.MidtransServerKey
	}
	for k, v := range required {
		if strings.TrimSpace(v) == "" {
			log.Fatalf("Missing required secret %s in production (SSM=%v)", k, usedSSM)
		}
	}
	if len(c.JWTSecret) < 16 {
		log.Fatal("JWT_SECRET too short (min 16 chars)")
	}
}
