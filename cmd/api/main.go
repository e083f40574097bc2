package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"marketflow/config"
	"marketflow/db"
	"marketflow/dispute"
	"marketflow/escrow"
	"marketflow/identity"
	"marketflow/ledger"
	"marketflow/notify"
	"marketflow/offer"
	"marketflow/product"
	"marketflow/sweep"
	"marketflow/trade"
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("bootstrap logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	productRepo := product.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	offerRepo := offer.NewRepository(pool)
	escrowRepo := escrow.NewRepository(pool)
	disputeRepo := dispute.NewRepository(pool)
	tradeRepo := trade.NewRepository(pool)
	identityRepo := identity.NewRepository(pool)

	policy := escrow.FeePolicy{
		ProtectionFixedFee:   cfg.ProtectionFixedFee,
		ProtectionRate:       cfg.ProtectionRate,
		ShippingDeadlineDays: cfg.ShippingDeadlineDays,
		DisputeWindowDays:    cfg.DisputeWindowDays,
	}

	identitySvc := identity.NewService(identityRepo, cfg.JWTSecret)
	offerSvc := offer.NewService(pool, offerRepo, productRepo, cfg.OfferWindowDays)
	escrowSvc := escrow.NewService(pool, escrowRepo, productRepo, ledgerRepo, offerRepo, policy)
	disputeSvc := dispute.NewService(pool, disputeRepo, escrowRepo, ledgerRepo, productRepo)
	tradeSvc := trade.NewService(pool, tradeRepo, cfg.TradeDeadlineDays)

	dispatcher := notify.NewDispatcher(pool, notify.NewLogSender(logger), logger, cfg.DispatchInterval)
	sweeper := sweep.NewSweeper(pool, offerRepo, escrowRepo, escrowSvc, tradeSvc, logger, cfg.SweepInterval)

	server := NewServer(identitySvc, offerSvc, escrowSvc, disputeSvc, tradeSvc, logger)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := dispatcher.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := sweeper.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("service exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
