package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/emberlight/realtime-backend/internal/auth"
	"github.com/emberlight/realtime-backend/internal/httpapi"
	"github.com/emberlight/realtime-backend/internal/hub"
	"github.com/emberlight/realtime-backend/internal/storage"
)

type config struct {
	addr              string
	adminToken        string
	postgresDSN       string
	heartbeatInterval time.Duration
	devAuth           bool
	authTokens        string // "token=user:name[:admin]" pairs, comma separated
}

func loadConfig() config {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := config{
		addr:              envOr("ADDR", ":8080"),
		adminToken:        os.Getenv("ADMIN_TOKEN"),
		postgresDSN:       os.Getenv("POSTGRES_DSN"),
		heartbeatInterval: 15 * time.Second,
		devAuth:           os.Getenv("DEV_AUTH") == "1",
		authTokens:        os.Getenv("AUTH_TOKENS"),
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.heartbeatInterval = d
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	var bans auth.BanStore
	if cfg.postgresDSN != "" {
		pg, err := storage.OpenPostgres(cfg.postgresDSN, log)
		if err != nil {
			log.Fatal("postgres open failed", zap.Error(err))
		}
		gormBans, err := auth.NewGormBanStore(pg.DB())
		if err != nil {
			log.Fatal("ban store init failed", zap.Error(err))
		}
		store, bans = pg, gormBans
		log.Info("using postgres storage")
	} else {
		store, bans = storage.NewMemory(), auth.NewMemoryBanStore()
		log.Warn("POSTGRES_DSN unset, using in-memory storage; state is lost on restart")
	}

	verifier, err := buildVerifier(cfg)
	if err != nil {
		log.Fatal("auth config invalid", zap.Error(err))
	}

	h := hub.New(ctx, hub.Config{HeartbeatInterval: cfg.heartbeatInterval}, store, bans, log)
	defer h.Shutdown()

	srv := &http.Server{
		Addr:              cfg.addr,
		Handler:           httpapi.SetupRoutes(h, verifier, bans, cfg.adminToken, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// buildVerifier picks the token verifier: a static table from AUTH_TOKENS,
// or the parse-anything dev verifier when DEV_AUTH=1.
func buildVerifier(cfg config) (auth.Verifier, error) {
	if cfg.authTokens != "" {
		tokens := make(map[string]auth.Identity)
		for _, pair := range strings.Split(cfg.authTokens, ",") {
			token, spec, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				return nil, errors.New("AUTH_TOKENS entries must look like token=user:name[:admin]")
			}
			id, err := auth.DevVerifier{}.Verify(spec)
			if err != nil {
				return nil, err
			}
			tokens[token] = id
		}
		return auth.NewStaticVerifier(tokens), nil
	}
	if cfg.devAuth {
		return auth.DevVerifier{}, nil
	}
	return nil, errors.New("no auth configured: set AUTH_TOKENS or DEV_AUTH=1")
}
