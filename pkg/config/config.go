package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type APIConfig struct {
	Port          string `env:"PORT" envDefault:"8080"`
	DBDSN         string `env:"DB_DSN,notEmpty"`
	Timezone      string `env:"DISPATCH_TIMEZONE" envDefault:"Europe/Warsaw"`
	InitBuffer    int    `env:"INIT_BUFFER_SIZE" envDefault:"20"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	Migrate       bool   `env:"MIGRATE_ON_START" envDefault:"false"`
}

type DispatcherConfig struct {
	DBDSN           string        `env:"DB_DSN,notEmpty"`
	RMQURL          string        `env:"RMQ_URL,notEmpty"`
	Queue           string        `env:"QUEUE" envDefault:"send_jobs"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9100"`
	Timezone        string        `env:"DISPATCH_TIMEZONE" envDefault:"Europe/Warsaw"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"15s"`
	InitBuffer      int           `env:"INIT_BUFFER_SIZE" envDefault:"20"`
	CleanupSchedule string        `env:"CLEANUP_SCHEDULE" envDefault:"@every 1h"`
	MigrationsDir   string        `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	Migrate         bool          `env:"MIGRATE_ON_START" envDefault:"false"`
}

type WorkerConfig struct {
	DBDSN       string  `env:"DB_DSN,notEmpty"`
	RMQURL      string  `env:"RMQ_URL,notEmpty"`
	Queue       string  `env:"QUEUE" envDefault:"send_jobs"`
	MetricsAddr string  `env:"METRICS_ADDR" envDefault:":9101"`
	Timezone    string  `env:"DISPATCH_TIMEZONE" envDefault:"Europe/Warsaw"`
	Transport   string  `env:"SEND_TRANSPORT" envDefault:"simulated"`
	SimSuccess  float64 `env:"SIMULATED_SUCCESS_RATE" envDefault:"0.85"`
	SESRegion   string  `env:"SES_REGION" envDefault:"us-east-1"`
	SESKey      string  `env:"SES_ACCESS_KEY_ID"`
	SESSecret   string  `env:"SES_SECRET_ACCESS_KEY"`
	FromName    string  `env:"FROM_NAME"`
}

var (
	API        APIConfig
	Dispatcher DispatcherConfig
	Worker     WorkerConfig
)

func mustParse(v any) {
	if err := env.Parse(v); err != nil {
		log.Fatalf("config: %v", err)
	}
}

func MustLoadAPI() {
	var c APIConfig
	mustParse(&c)
	API = c
}

func MustLoadDispatcher() {
	var c DispatcherConfig
	mustParse(&c)
	Dispatcher = c
}

func MustLoadWorker() {
	var c WorkerConfig
	mustParse(&c)
	Worker = c
}

// Location resolves a configured timezone name, falling back to UTC.
func Location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("config: unknown timezone %q, using UTC", name)
		return time.UTC
	}
	return loc
}
