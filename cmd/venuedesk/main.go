package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/venuedesk/venuedesk/cmd/venuedesk/cli"
	"github.com/venuedesk/venuedesk/internal/app"
	"github.com/venuedesk/venuedesk/internal/audit"
	audithttp "github.com/venuedesk/venuedesk/internal/audit/http"
	"github.com/venuedesk/venuedesk/internal/auth"
	"github.com/venuedesk/venuedesk/internal/dashboard"
	"github.com/venuedesk/venuedesk/internal/observability"
	"github.com/venuedesk/venuedesk/internal/platform/cache"
	"github.com/venuedesk/venuedesk/internal/platform/db"
	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/receipts"
	"github.com/venuedesk/venuedesk/internal/roles"
	"github.com/venuedesk/venuedesk/internal/shared"
	"github.com/venuedesk/venuedesk/internal/shortlinks"
	"github.com/venuedesk/venuedesk/internal/users"
	"github.com/venuedesk/venuedesk/internal/view"
	"github.com/venuedesk/venuedesk/jobs"
)

const usage = `usage: venuedesk [command]

commands:
  serve                              run the web server (default)
  import [-apply] [-json] [-actor id] <statement.csv>
                                     preview or import a bank statement
  jobs trigger <task> [args...]      enqueue dashboard:invalidate or receipts:rule_backfill <rule-id> [pending|all]
  jobs stats                         show default queue counts
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	cmd := "serve"
	var args []string
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "import":
		os.Exit(runImport(ctx, cfg, logger, args))
	case "jobs":
		err = runJobs(ctx, cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

// services holds the domain services shared by the server and the CLI.
type services struct {
	auth       *auth.Service
	rbac       *rbac.Service
	dashboard  *dashboard.Service
	receipts   *receipts.Service
	shortLinks *shortlinks.Service
	roles      *roles.Service
	users      *users.Service
}

func newTagCache(ctx context.Context, cfg *app.Config, client *redis.Client, logger *slog.Logger) cache.TagCache {
	remote := cache.NewRedisTagCache(client)
	if cfg.CacheBackend != app.CacheBackendMemory {
		return remote
	}
	local := cache.NewBroadcastTagCache(cache.NewMemoryTagCache(0, cfg.DashboardCacheTTL), remote)
	if err := local.Listen(ctx); err != nil {
		logger.Warn("subscribe cache invalidation", slog.Any("error", err))
	}
	return local
}

func buildServices(ctx context.Context, cfg *app.Config, pool *pgxpool.Pool, redisClient *redis.Client, backfill receipts.Backfiller, metrics *observability.Metrics, logger *slog.Logger) services {
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	authService := auth.NewService(auth.NewRepository(pool))
	rbacService := rbac.NewService(rbac.NewPGStore(pool))

	dashboardService := dashboard.NewService(
		dashboard.NewRepository(pool),
		authService,
		rbacService,
		newTagCache(ctx, cfg, redisClient, logger),
		logger,
	).WithTTL(cfg.DashboardCacheTTL)
	if metrics != nil {
		dashboardService = dashboardService.WithMetrics(metrics)
	}

	receiptsRepo := receipts.NewRepository(pool)
	receiptsService := receipts.NewService(receiptsRepo, receipts.Options{
		Suggester:   receipts.NewHistorySuggester(receiptsRepo),
		Invalidator: dashboardService,
		Backfiller:  backfill,
		Audit:       auditLogger,
		Keys:        idempotency,
		ChunkSize:   cfg.ReceiptsRetroChunk,
		Logger:      logger,
	})

	shortLinkService := shortlinks.NewService(
		shortlinks.NewRepository(pool),
		cfg.PublicBaseURL,
		logger,
		shortlinks.WithInvalidator(dashboardService),
		shortlinks.WithAudit(auditLogger),
	)

	return services{
		auth:       authService,
		rbac:       rbacService,
		dashboard:  dashboardService,
		receipts:   receiptsService,
		shortLinks: shortLinkService,
		roles:      roles.NewService(rbacService, dashboardService, auditLogger, logger),
		users:      users.NewService(users.NewRepository(pool), rbacService, dashboardService, auditLogger, logger),
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts, err := jobs.RedisOpt(cfg.RedisAddr)
	if err != nil {
		return err
	}
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

	metrics := observability.NewMetrics()
	svc := buildServices(ctx, cfg, pool, redisClient, jobClient, metrics, logger)

	sessionManager := shared.NewSessionManager(redisClient, "venuedesk_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}
	rbacMiddleware := rbac.Middleware{Service: svc.rbac, Logger: logger}

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Templates:         templates,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		Permissions:       svc.rbac,
		Metrics:           metrics,
		AuthHandler:       auth.NewHandler(logger, svc.auth, templates, sessionManager, csrfManager),
		DashboardHandler:  dashboard.NewHandler(logger, svc.dashboard, templates, csrfManager),
		ReceiptsHandler:   receipts.NewHandler(logger, svc.receipts, templates, csrfManager, rbacMiddleware, jobClient),
		ShortLinksHandler: shortlinks.NewHandler(logger, svc.shortLinks, templates, csrfManager, rbacMiddleware),
		RolesHandler:      roles.NewHandler(logger, svc.roles, templates, csrfManager, rbacMiddleware),
		UsersHandler:      users.NewHandler(logger, svc.users, templates, csrfManager, rbacMiddleware),
		ActivityHandler:   audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(pool)), templates, csrfManager, rbacMiddleware),
		JobHandler:        jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runImport(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	apply := fs.Bool("apply", false, "persist rows after confirmation")
	asJSON := fs.Bool("json", false, "print the summary as JSON")
	actorRaw := fs.String("actor", "", "user id recorded in the audit log")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	actor := uuid.Nil
	if *actorRaw != "" {
		id, err := uuid.Parse(*actorRaw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "import: invalid -actor: %v\n", err)
			return 2
		}
		actor = id
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		return 1
	}
	defer redisClient.Close()

	svc := buildServices(ctx, cfg, pool, redisClient, nil, nil, logger)
	receiptsCLI, err := cli.NewReceiptsCLI(svc.receipts)
	if err != nil {
		logger.Error("init receipts cli", slog.Any("error", err))
		return 1
	}
	mode := cli.ImportModeDry
	if *apply {
		mode = cli.ImportModeApply
	}
	return receiptsCLI.ImportCommand(ctx, cli.ImportOptions{
		Path:       fs.Arg(0),
		Actor:      actor,
		Mode:       mode,
		JSONOutput: *asJSON,
	})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("jobs: missing subcommand")
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("jobs trigger: task name required")
		}
		info, err := jobsCLI.Trigger(ctx, args[1], args[2:]...)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue %s: pending %d, active %d, scheduled %d, retry %d, archived %d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		scheduled, err := jobsCLI.ListScheduled(ctx, 10)
		if err != nil {
			return err
		}
		for _, task := range scheduled {
			fmt.Printf("  scheduled %s at %s\n", task.Type, task.NextProcessAt.Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", args[0])
	}
	return nil
}
