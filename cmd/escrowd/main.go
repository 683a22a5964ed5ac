package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/secureshuttle/escrow/config"
	"github.com/secureshuttle/escrow/httpapi"
	"github.com/secureshuttle/escrow/ledger"
	"github.com/secureshuttle/escrow/lifecycle"
	"github.com/secureshuttle/escrow/settlement"
	"github.com/secureshuttle/escrow/store"
	"github.com/secureshuttle/escrow/vault"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if !cfg.Validate(log) {
		log.Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v, err := vault.New(cfg.EncryptionSecret)
	if err != nil {
		log.Fatal("failed to initialize secret vault", zap.Error(err))
	}

	var st store.Store
	switch cfg.StoreDriver {
	case "mongo":
		mongoStore, err := store.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Fatal("failed to connect to mongo", zap.Error(err))
		}
		defer mongoStore.Close(context.Background())
		st = mongoStore
	default:
		st = store.NewMemory()
	}

	client := ledger.New(ledger.Config{
		Endpoint:         cfg.RPCEndpoint,
		BalanceTTL:       cfg.BalanceTTL,
		StatusTTL:        cfg.StatusTTL,
		SignaturesTTL:    cfg.SignaturesTTL,
		CommitmentTarget: ledger.NormalizeCommitment(cfg.CommitmentTarget),
		ConfirmTimeout:   cfg.ConfirmTimeout,
		PollInterval:     cfg.PollInterval,
		MaxSendRetries:   cfg.MaxSendRetries,
	}, log)

	engine := settlement.New(st, client, v, log)
	mgr := lifecycle.New(st, client, engine, v, lifecycle.Config{
		FundingMinLamports: cfg.FundingMinLamports,
		SignatureScanLimit: cfg.SignatureScanLimit,
		JoinTTL:            cfg.JoinTTL,
		InviteTTL:          cfg.InviteTTL,
	}, log)

	router := httpapi.NewRouter(httpapi.NewHandler(mgr, log), log)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}
}
