package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Engine        string
	Host          string
	Port          int
	Name          string
	User          string
	Password      string
	AdminUser     string
	AdminPassword string
	DisableTLS    bool
}

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, strconv.Itoa(db.Port))
}

type BillingConfig struct {
	// MaxUpdateRetries is how many times a ledger mutation is retried after losing an optimistic-lock race.
	MaxUpdateRetries int
	// BatchWorkers bounds the number of ledgers processed concurrently by batch jobs.
	BatchWorkers int
	// FallbackDueDays is used when an assignment names a plan the definition does not have.
	FallbackDueDays int
	Currency        string
}

type Config struct {
	Debug        bool
	TestMode     bool
	Env          string
	Build        string
	AppName      string
	Host         string
	RollbarToken string
	Database     DatabaseConfig
	Billing      BillingConfig
}

// NewConfig reads the configuration from the environment (and the matching .env file if present).
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "FeeLedger")
	v.SetDefault("build", "develop")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("database_engine", "postgres")
	v.SetDefault("database_host", "localhost")
	v.SetDefault("database_port", 5432)
	v.SetDefault("database_name", "feeledger")
	v.SetDefault("database_user", "feeledger")
	v.SetDefault("database_password", "feeledger")
	v.SetDefault("database_adminUser", "postgres")
	v.SetDefault("database_adminPassword", "postgres")
	v.SetDefault("database_disableTLS", true)
	v.SetDefault("billing_maxUpdateRetries", 5)
	v.SetDefault("billing_batchWorkers", 8)
	v.SetDefault("billing_fallbackDueDays", 30)
	v.SetDefault("billing_currency", "KES")

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case strings.ToUpper("TEST"):
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	host, _ := os.Hostname()
	return &Config{
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		Env:          env,
		Build:        v.GetString("build"),
		AppName:      v.GetString("appName"),
		Host:         host,
		RollbarToken: v.GetString("rollbarToken"),
		Database: DatabaseConfig{
			Engine:        v.GetString("database_engine"),
			Host:          v.GetString("database_host"),
			Port:          v.GetInt("database_port"),
			Name:          v.GetString("database_name"),
			User:          v.GetString("database_user"),
			Password:      v.GetString("database_password"),
			AdminUser:     v.GetString("database_adminUser"),
			AdminPassword: v.GetString("database_adminPassword"),
			DisableTLS:    v.GetBool("database_disableTLS"),
		},
		Billing: BillingConfig{
			MaxUpdateRetries: v.GetInt("billing_maxUpdateRetries"),
			BatchWorkers:     v.GetInt("billing_batchWorkers"),
			FallbackDueDays:  v.GetInt("billing_fallbackDueDays"),
			Currency:         v.GetString("billing_currency"),
		},
	}
}
