package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/linkdeck/linkdeck/cmd/linkdeck/cli"
	"github.com/linkdeck/linkdeck/internal/access"
	"github.com/linkdeck/linkdeck/internal/app"
	"github.com/linkdeck/linkdeck/internal/auth"
	"github.com/linkdeck/linkdeck/internal/impersonation"
	"github.com/linkdeck/linkdeck/internal/observability"
	"github.com/linkdeck/linkdeck/internal/platform/cache"
	"github.com/linkdeck/linkdeck/internal/platform/db"
	"github.com/linkdeck/linkdeck/internal/rbac"
	"github.com/linkdeck/linkdeck/internal/roles"
	"github.com/linkdeck/linkdeck/internal/shared"
	"github.com/linkdeck/linkdeck/internal/tenants"
	"github.com/linkdeck/linkdeck/internal/users"
	"github.com/linkdeck/linkdeck/jobs"
)

const usage = `usage: linkdeck <command> [flags]

commands:
  serve               run the HTTP server (default)
  permissions sync    reconcile the permission catalogue [--json] [names...]
  jobs trigger NAME   enqueue a background job
  jobs stats          print default queue statistics
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "permissions":
		os.Exit(runPermissions(ctx, cfg, logger, args))
	case "jobs":
		os.Exit(runJobs(ctx, cfg, args))
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func connect(ctx context.Context, cfg *app.Config) (*pgxpool.Pool, *redis.Client, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, nil, err
	}
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, redisClient, nil
}

func newCatalogue(pool *pgxpool.Pool, redisClient *redis.Client, cfg *app.Config, audit shared.AuditRecorder, logger *slog.Logger) (*rbac.Registry, *rbac.Syncer, *rbac.VersionedCache, error) {
	permCache, err := rbac.NewVersionedCache(redisClient, cfg.PermissionCacheSize, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	rbacRepo := rbac.NewRepository(pool)
	return rbac.NewRegistry(rbacRepo, permCache, logger), rbac.NewSyncer(rbacRepo, permCache, audit, logger), permCache, nil
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, redisClient, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(pool)
	metrics := observability.NewMetrics()

	registry, syncer, permCache, err := newCatalogue(pool, redisClient, cfg, auditLogger, logger)
	if err != nil {
		return err
	}
	if err := permCache.Listen(ctx); err != nil {
		logger.Warn("permission cache listen", slog.Any("error", err))
	}

	usersService := users.NewService(users.NewRepository(pool))
	tenantsRepo := tenants.NewRepository(pool)

	guard := access.NewGuard(registry, tenantsRepo, metrics, logger)
	gate := access.Middleware{Guard: guard, Logger: logger}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	tenantsService := tenants.NewService(tenantsRepo, usersService, tenants.Options{
		Cache:  registry,
		Mailer: jobs.NewInvitationMailer(jobClient, cfg.AppBaseURL),
		Audit:  auditLogger,
		Quotas: cfg.PlanQuotas(),
		Logger: logger,
	})
	resolver := tenants.NewResolver(tenantsRepo, tenantsRepo, logger)

	authService := auth.NewService(auth.NewRepository(pool), usersService, tenantsService, logger)
	impersonationService := impersonation.NewService(usersService, guard, auditLogger, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		AuthService:        authService,
		AuthHandler:        auth.NewHandler(logger, authService, impersonationService, sessionManager, csrfManager),
		RolesHandler:       roles.NewHandler(logger, roles.NewService(registry, syncer), gate),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, registry, syncer, gate),
		UsersHandler:       users.NewHandler(logger, usersService, gate),
		TenantsHandler:     tenants.NewHandler(logger, tenantsService, resolver, gate),
		TenantResolver:     resolver,
		TenantGate:         gate.RequireTenantForIdentity(),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Health: func(r *http.Request) error {
			if err := pool.Ping(r.Context()); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			return redisClient.Ping(r.Context()).Err()
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runPermissions(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 || args[0] != "sync" {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	flags := pflag.NewFlagSet("permissions sync", pflag.ContinueOnError)
	jsonOutput := flags.Bool("json", false, "print the result as JSON")
	if err := flags.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	pool, redisClient, err := connect(ctx, cfg)
	if err != nil {
		logger.Error("connect", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	defer func() { _ = redisClient.Close() }()

	_, syncer, _, err := newCatalogue(pool, redisClient, cfg, shared.NewAuditLogger(pool), logger)
	if err != nil {
		logger.Error("init catalogue", slog.Any("error", err))
		return 1
	}
	return cli.NewPermissionsCLI(syncer).SyncCommand(ctx, cli.SyncOptions{
		Names:      flags.Args(),
		JSONOutput: *jsonOutput,
	})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) != 2 {
			fmt.Fprint(os.Stderr, usage)
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	return 0
}
