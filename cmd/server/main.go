package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"server-backend/armyengine"
	"server-backend/auth"
	"server-backend/buildingengine"
	"server-backend/cache"
	"server-backend/config"
	"server-backend/eventbus"
	"server-backend/gateway"
	"server-backend/goldengine"
	"server-backend/httpapi"
	"server-backend/marketengine"
	"server-backend/ratelimit"
	"server-backend/resourceengine"
	"server-backend/scheduler"
	"server-backend/store"
	"server-backend/trainingengine"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("error cargando configuración", zap.Error(err))
	}

	db, err := config.GetDBConnection()
	if err != nil {
		logger.Fatal("error conectando a la base de datos", zap.Error(err))
	}
	defer db.Close()
	logger.Info("conectado a la base de datos exitosamente")

	pg := store.NewPostgres(db, logger)
	bus := eventbus.New()

	rdb, err := cache.Connect(context.Background(), cache.Options{
		Host: cfg.Redis.Host, Port: cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize, MinIdleConns: cfg.Redis.MinIdleConns, MaxRetries: cfg.Redis.MaxRetries,
		DialTimeout: cfg.Redis.DialTimeout, ReadTimeout: cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout, PoolTimeout: cfg.Redis.PoolTimeout,
	}, logger)
	if err != nil {
		logger.Warn("redis no disponible, ejecutando sin cache de producción ni presencia", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
		logger.Info("conectado a redis exitosamente")
	}

	resources := resourceengine.New(pg, rdb, logger)
	buildings := buildingengine.New(pg, resources, bus, logger)
	training := trainingengine.New(pg, bus, logger)
	army := armyengine.New(pg, bus, logger)
	userWindow := time.Duration(cfg.RateLimit.UserWindow) * time.Second
	marketLimiter := ratelimit.New(cfg.RateLimit.UserLimit, userWindow)
	goldLimiter := ratelimit.New(cfg.RateLimit.UserLimit, userWindow)

	market := marketengine.New(pg, bus, marketLimiter, logger)
	gold := goldengine.New(pg, buildings, training, bus, goldLimiter, cfg.Payment.WebhookSecret, logger)

	jwtManager := auth.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.TokenDuration, "server-backend")
	gw := gateway.New(bus, jwtManager, rdb, logger)

	sched := scheduler.New(pg, buildings, resources, training, army, market, logger)
	ctx, cancelScheduler := context.WithCancel(context.Background())
	sched.Run(ctx)

	api := httpapi.New(pg, resources, buildings, training, army, market, gold, gw, jwtManager, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("iniciando servidor", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("error iniciando servidor", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("cerrando servidor...")

	cancelScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error cerrando servidor", zap.Error(err))
	}

	logger.Info("servidor cerrado exitosamente")
}
