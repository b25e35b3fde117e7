package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Billing  BillingConfig
}

type ServerConfig struct {
	Port        string
	Environment string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int
}

type BillingConfig struct {
	StripeSecret    string
	WebhookSecret   string
	MonthlyPriceRef string
	YearlyPriceRef  string
	AppBaseURL      string
	DashboardPath   string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExp, _ := strconv.Atoi(getEnv("JWT_EXPIRATION", "3600"))

	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "askstan"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", ""),
			Expiration: jwtExp,
		},
		Billing: BillingConfig{
			StripeSecret:    getEnv("STRIPE_SECRET", ""),
			WebhookSecret:   getEnv("STRIPE_WEBHOOK_SECRET", ""),
			MonthlyPriceRef: getEnv("STRIPE_PRICE_MONTHLY", ""),
			YearlyPriceRef:  getEnv("STRIPE_PRICE_YEARLY", ""),
			AppBaseURL:      getEnv("APP_BASE_URL", "http://localhost:8080"),
			DashboardPath:   getEnv("DASHBOARD_PATH", "/dashboard"),
		},
	}
}

// PriceRefForPlan resolves the configured provider price for a plan type.
// Returns "" for plans that are not sold.
func (c *BillingConfig) PriceRefForPlan(plan string) string {
	switch plan {
	case "monthly":
		return c.MonthlyPriceRef
	case "yearly":
		return c.YearlyPriceRef
	}
	return ""
}

// PlanForPriceRef is the reverse mapping, used when only the provider price
// appears in a payload.
func (c *BillingConfig) PlanForPriceRef(priceRef string) string {
	switch priceRef {
	case c.MonthlyPriceRef:
		return "monthly"
	case c.YearlyPriceRef:
		return "yearly"
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
