package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/control/handler"
	"github.com/xela07ax/opencontrol/internal/control/server"
	"github.com/xela07ax/opencontrol/internal/control/service"
	"github.com/xela07ax/opencontrol/internal/infra"
	"github.com/xela07ax/opencontrol/internal/store"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Метрики
	reg := prometheus.NewRegistry()
	metrics := infra.NewMetrics(reg)

	// 3. Хранилище: один явный стор на процесс, сид для непустых read-эндпоинтов
	st := store.New(nil, logger)
	st.OnSweep(func(res store.SweepResult) {
		metrics.SweepObserved(res.AccessTokensReclaimed, res.SessionTokensReclaimed, res.SessionsTerminated)
	})
	st.Seed(cfg.Session.Lifetime())

	// 4. Сервисы ядра (Dependency Injection)
	registry := service.NewRegistry(st, logger)
	issuer := service.NewIssuer(st, cfg.Auth, cfg.BaseURL, logger, metrics)
	ledger := service.NewLedger(st, cfg.Session, cfg.Auth.SessionTokenTTL, issuer, cfg.BaseURL, logger, metrics)

	// Периодический свип — поверх обязательного ленивого
	maintenance := service.NewMaintenance(st, cfg.Maintenance.SweepInterval, logger)
	go maintenance.Run(appCtx)

	// 5. Boundary Adapter
	srv := server.New(
		logger,
		metrics,
		issuer,
		handler.NewAuthHandler(issuer, logger),
		handler.NewIdentityHandler(registry, logger),
		handler.NewSessionHandler(ledger, logger),
	)

	// Экспортируем метрики для Prometheus на отдельном listener'е
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("control plane started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждём сигнал
	logger.Info("control plane stopping...")
	cancel() // Останавливаем фоновый свип

	// Даём 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server shutdown failed", zap.Error(err))
	}
	logger.Info("control plane exited properly")
}
