package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-ledger/internal/assets"
	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/ariefcatur/go-order-ledger/internal/config"
	"github.com/ariefcatur/go-order-ledger/internal/httpx"
	"github.com/ariefcatur/go-order-ledger/internal/identity"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-ledger/internal/kafka"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/notify"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
	"github.com/ariefcatur/go-order-ledger/internal/postgres"
	"github.com/ariefcatur/go-order-ledger/internal/redisx"
	"github.com/ariefcatur/go-order-ledger/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// DB
	var db *pgxpool.Pool
	if cfg.StoreBackend == "postgres" || cfg.LedgerBackend == "postgres" {
		db, err = postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	// Redis: required by the redis ledger, optional otherwise
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		if err := redisx.Ping(ctx, rdb); err != nil {
			if cfg.LedgerBackend == "redis" {
				return err
			}
			log.Warn("redis unavailable, idempotency and cache disabled", zap.Error(err))
			_ = rdb.Close()
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	ledger, err := buildLedger(cfg, db, rdb)
	if err != nil {
		return err
	}

	var (
		products catalog.Repository
		members  identity.Members
		store    orders.Store
	)
	if cfg.StoreBackend == "postgres" {
		products = &catalog.PGRepository{DB: db}
		members = &identity.PGMembers{DB: db}
		store = &orders.PGStore{DB: db}
	} else {
		mm := identity.NewMemoryMembers()
		mm.Add(cfg.AdminEmail, identity.RoleAdmin)
		for _, email := range cfg.SeedMembers {
			mm.Add(email, identity.RoleUser)
		}
		products = catalog.NewMemoryRepository()
		members = mm
		store = orders.NewMemoryStore()
	}

	var images assets.Store
	if cfg.S3Bucket != "" {
		s3, err := assets.NewS3Store(ctx, cfg.S3Bucket)
		if err != nil {
			return err
		}
		images = s3
	}

	// Notifications: local SSE listeners, plus Kafka for notifier processes
	hub := notify.NewHub(cfg.NotifyBuffer, log)
	publishers := notify.Fanout{hub}
	var prod *kafkax.Producer
	if cfg.KafkaEnabled {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, log)
		prod.Start()
		publishers = append(publishers, &notify.KafkaPublisher{Producer: prod, Service: cfg.ServiceName})
	}

	cat := catalog.NewService(products, ledger, images, log)
	svc := orders.NewService(store, ledger, members, cat, publishers, orders.Options{
		AdminTarget:   cfg.AdminEmail,
		NotifyTimeout: cfg.NotifyTimeout,
		Logger:        log,
	})

	oh := &httpx.OrdersHandler{Orders: svc, Log: log}
	if rdb != nil {
		oh.Redis = rdb
	}
	router := httpx.NewRouter(log)
	httpx.Mount(router, identity.NewJWTResolver(cfg.JWTSecret),
		oh,
		&httpx.ProductsHandler{Catalog: cat, Log: log},
		&httpx.EventsHandler{Hub: hub, Log: log},
	)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	srv.RegisterOnShutdown(hub.Close) // ends open event streams
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.StoreBackend), zap.String("ledger", cfg.LedgerBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	svc.Wait() // in-flight notifications
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
	return nil
}

// buildLedger picks the stock ledger. A memory ledger starts empty, so it
// only pairs with the memory store; durable products need a durable ledger.
func buildLedger(cfg config.Config, db *pgxpool.Pool, rdb *redis.Client) (inventory.Ledger, error) {
	switch cfg.LedgerBackend {
	case "memory":
		if cfg.StoreBackend != "memory" {
			return nil, fmt.Errorf("LEDGER_BACKEND=memory needs STORE_BACKEND=memory, got %q; use LEDGER_BACKEND=postgres or redis", cfg.StoreBackend)
		}
		return inventory.NewMemoryLedger(), nil
	case "postgres":
		if db == nil || cfg.StoreBackend != "postgres" {
			return nil, errors.New("LEDGER_BACKEND=postgres needs STORE_BACKEND=postgres")
		}
		return &inventory.PGLedger{DB: db}, nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("LEDGER_BACKEND=redis needs REDIS_ADDR")
		}
		return &inventory.RedisLedger{Redis: rdb}, nil
	default:
		return nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
	}
}
