package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Bounds for the return-trip departure buffer.
const (
	MinReturnBufferSec = 0
	MaxReturnBufferSec = 3600
)

type Config struct {
	DatabaseURL       string
	NATSURL           string
	NATSSubjectPrefix string
	MetricsAddr       string
	Location          *time.Location
	LogNATSSubjects   bool

	AdvanceInterval   time.Duration
	SchedulerInterval time.Duration
	SyncInterval      time.Duration
	DueTripBatch      int

	AutoReturn      bool
	AutoStartReturn bool
	ReturnBuffer    time.Duration
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		if db == "" {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "fleet.trips")

	var err error
	cfg.AdvanceInterval, err = intervalSec("ADVANCE_INTERVAL_SEC", 15)
	if err != nil {
		return nil, err
	}
	cfg.SchedulerInterval, err = intervalSec("SCHEDULER_INTERVAL_SEC", 10)
	if err != nil {
		return nil, err
	}
	cfg.SyncInterval, err = intervalSec("SYNC_INTERVAL_SEC", 10)
	if err != nil {
		return nil, err
	}

	// Due-trip batch size per scheduler pass
	if v := os.Getenv("DUE_TRIP_BATCH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid DUE_TRIP_BATCH: %q", v)
		}
		cfg.DueTripBatch = n
	} else {
		cfg.DueTripBatch = 10
	}

	cfg.AutoReturn = parseBool(getenvDefault("AUTO_RETURN", "true"))
	cfg.AutoStartReturn = parseBool(getenvDefault("AUTO_START_RETURN", "true"))

	// Return-trip departure buffer, bounded
	if v := os.Getenv("RETURN_BUFFER_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec < MinReturnBufferSec || sec > MaxReturnBufferSec {
			return nil, fmt.Errorf("invalid RETURN_BUFFER_SEC: %q (must be %d-%d)", v, MinReturnBufferSec, MaxReturnBufferSec)
		}
		cfg.ReturnBuffer = time.Duration(sec) * time.Second
	} else {
		cfg.ReturnBuffer = 30 * time.Second
	}

	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func intervalSec(key string, def int) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Second, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
