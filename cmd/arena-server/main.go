package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	appcfg "github.com/park285/chess-arena/internal/config"
	"github.com/park285/chess-arena/internal/gametype"
	"github.com/park285/chess-arena/internal/gateway"
	"github.com/park285/chess-arena/internal/httpapi"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/session"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis url error", zap.Error(err))
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		logger.Fatal("redis connect error", zap.Error(err))
	}
	cancel()

	types, err := gametype.Load(cfg.GameTypesFile)
	if err != nil {
		logger.Fatal("game type catalog error", zap.Error(err))
	}

	store := session.NewStore(rdb)
	engine := rules.NewEngine()
	manager := session.NewManager(store, engine, types, time.Duration(cfg.DrawOfferTTLSec)*time.Second)

	var repo *session.Repository
	if cfg.DatabaseURL != "" {
		repo, err = session.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("repository init error", zap.Error(err))
		}
		manager.AttachArchiver(repo)
	} else {
		logger.Warn("archive disabled, DATABASE_URL not set")
	}

	queue := matchmaking.NewQueue(rdb, types, time.Duration(cfg.QueueTimeoutSec)*time.Second)
	gw := gateway.NewServer(manager, store, queue, cfg.FrontendOrigin, cfg.DefaultPlayerRating)

	processor := matchmaking.NewProcessor(queue, manager, types, matchmaking.ProcessorConfig{
		Interval:      time.Duration(cfg.MatchIntervalSec) * time.Second,
		QueueTimeout:  time.Duration(cfg.QueueTimeoutSec) * time.Second,
		InitialBand:   cfg.MatchBandInitial,
		BandIncrement: cfg.MatchBandIncrement,
		MaxBand:       cfg.MatchBandMax,
		WidenEvery:    time.Duration(cfg.MatchBandWidenSec) * time.Second,
	})
	processor.AttachNotifier(gw)

	sweeper := session.NewSweeper(manager, time.Duration(cfg.SweepIntervalSec)*time.Second)
	sweeper.AttachNotifier(gw)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	processor.Start(rootCtx)
	sweeper.Start(rootCtx)

	api := httpapi.NewServer(manager, store, types)
	httpSrv := &fasthttp.Server{
		Handler:      api.Handler,
		Name:         "chess-arena",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(cfg.HTTPAddr); err != nil {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	wsSrv := &http.Server{
		Addr:              cfg.WSAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("ws listening", zap.String("addr", cfg.WSAddr))
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("ws server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	rootCancel()
	processor.Stop()
	sweeper.Stop()
	gw.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = wsSrv.Shutdown(shutdownCtx)
	_ = httpSrv.ShutdownWithContext(shutdownCtx)
	if repo != nil {
		_ = repo.Close()
	}
	_ = rdb.Close()
}
