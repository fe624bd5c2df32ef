package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	RedisURL    string
	DatabaseURL string

	HTTPAddr string
	WSAddr   string

	FrontendOrigin string

	GameTypesFile string

	MatchIntervalSec    int
	SweepIntervalSec    int
	QueueTimeoutSec     int
	DrawOfferTTLSec     int
	MatchBandInitial    int
	MatchBandIncrement  int
	MatchBandMax        int
	MatchBandWidenSec   int
	DefaultPlayerRating int
}

func Load() (*AppConfig, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &AppConfig{
		HTTPAddr:            ":8000",
		WSAddr:              ":8001",
		MatchIntervalSec:    5,
		SweepIntervalSec:    30,
		QueueTimeoutSec:     120,
		DrawOfferTTLSec:     60,
		MatchBandInitial:    100,
		MatchBandIncrement:  50,
		MatchBandMax:        400,
		MatchBandWidenSec:   10,
		DefaultPlayerRating: 1200,
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.FrontendOrigin = strings.TrimSpace(os.Getenv("FRONTEND_ORIGIN"))
	cfg.GameTypesFile = strings.TrimSpace(os.Getenv("GAME_TYPES_FILE"))

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("WS_ADDR")); v != "" {
		cfg.WSAddr = v
	}

	readInt(&cfg.MatchIntervalSec, "MATCH_INTERVAL_SEC")
	readInt(&cfg.SweepIntervalSec, "SWEEP_INTERVAL_SEC")
	readInt(&cfg.QueueTimeoutSec, "QUEUE_TIMEOUT_SEC")
	readInt(&cfg.DrawOfferTTLSec, "DRAW_OFFER_TTL_SEC")
	readInt(&cfg.MatchBandInitial, "MATCH_BAND_INITIAL")
	readInt(&cfg.MatchBandIncrement, "MATCH_BAND_INCREMENT")
	readInt(&cfg.MatchBandMax, "MATCH_BAND_MAX")
	readInt(&cfg.MatchBandWidenSec, "MATCH_BAND_WIDEN_SEC")
	readInt(&cfg.DefaultPlayerRating, "DEFAULT_PLAYER_RATING")

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

func readInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}
