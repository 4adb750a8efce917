package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/letterbox/internal/auth"
	"github.com/hitoshi/letterbox/internal/config"
	"github.com/hitoshi/letterbox/internal/database"
	"github.com/hitoshi/letterbox/internal/email"
	"github.com/hitoshi/letterbox/internal/handler"
	"github.com/hitoshi/letterbox/internal/logger"
	"github.com/hitoshi/letterbox/internal/metrics"
	"github.com/hitoshi/letterbox/internal/middleware"
	"github.com/hitoshi/letterbox/internal/model"
	"github.com/hitoshi/letterbox/internal/repository"
	"github.com/hitoshi/letterbox/internal/security"
	"github.com/hitoshi/letterbox/internal/session"
	"github.com/hitoshi/letterbox/internal/subscription"
	"github.com/hitoshi/letterbox/internal/telemetry"
	"github.com/hitoshi/letterbox/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_backend", cfg.SessionBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCreateUser:
		return runCreateUser(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// sessionBackend はSESSION_BACKENDに応じて構築したセッションストア。
type sessionBackend struct {
	store  repository.SessionRepository
	checks map[string]handler.HealthCheck
	close  func() error
}

// openSessionBackend はセッションストアを構築する。
// Redisの場合は疎通を確認し、ヘルスチェックに登録する。
func openSessionBackend(ctx context.Context, cfg *config.Config, db *sql.DB) (*sessionBackend, error) {
	if cfg.SessionBackend == config.SessionBackendPostgres {
		return &sessionBackend{
			store:  repository.NewPostgresSessionRepo(db, cfg.SessionTTL()),
			checks: map[string]handler.HealthCheck{},
			close:  func() error { return nil },
		}, nil
	}

	store, err := session.NewRedisStoreWithURL(cfg.RedisURL, cfg.SessionTTL())
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established")
	return &sessionBackend{
		store:  store,
		checks: map[string]handler.HealthCheck{"redis": store.Ping},
		close:  store.Close,
	}, nil
}

// runServe はHTTPサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. トレーシング
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	// 2. DB・セッションストア
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := openSessionBackend(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer sessions.close()

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. セキュリティ
	signer, err := security.NewRedirectSigner([]byte(cfg.HMACSecret))
	if err != nil {
		return fmt.Errorf("failed to create redirect signer: %w", err)
	}
	sanitizer := security.NewMessageSanitizer()

	// 5. ドメインサービス
	mailer := email.NewClient(cfg.EmailBaseURL, cfg.EmailSender, cfg.EmailAuthToken, cfg.EmailTimeout, slog.Default())
	subService := subscription.NewService(
		repository.NewPostgresSubscriberRepo(db),
		mailer,
		sanitizer,
		collector,
		subscription.Config{BaseURL: cfg.BaseURL, TokenTTL: cfg.TokenTTL},
	)
	authService := auth.NewService(repository.NewPostgresUserRepo(db), sessions.store)

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitLogin, cfg.RateLimitSubscribe))
	defer rateLimiter.Stop()

	healthChecks := map[string]handler.HealthCheck{"database": db.PingContext}
	for name, check := range sessions.checks {
		healthChecks[name] = check
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:        slog.Default(),
		SessionFinder: sessions.store,
		RateLimiter:   rateLimiter,
		Cookie: middleware.CookieConfig{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			MaxAge: cfg.SessionTTL(),
		},
		Metrics:             collector,
		MetricsGatherer:     registry,
		HealthChecks:        healthChecks,
		AuthService:         authService,
		Signer:              signer,
		Sanitizer:           sanitizer,
		SubscriptionService: subService,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れの未確認購読者を定期的に削除する。
// PostgreSQLセッションを使用している場合は期限切れセッションも削除する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var sessionPurger cleanup.SessionPurger
	if cfg.SessionBackend == config.SessionBackendPostgres {
		sessionPurger = repository.NewPostgresSessionRepo(db, cfg.SessionTTL())
	}

	job := cleanup.NewCleanupJob(
		repository.NewPostgresSubscriberRepo(db),
		sessionPurger,
		cfg.TokenTTL,
		nil,
		slog.Default(),
	)

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("token_ttl", cfg.TokenTTL),
	)

	// ctxがキャンセルされるまでブロックする
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runCreateUser はADMIN_USERNAME/ADMIN_PASSWORDから管理ユーザーを作成する。
func runCreateUser(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// セッションは使用しないため、ストアはPostgreSQL実装で足りる
	service := auth.NewService(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresSessionRepo(db, cfg.SessionTTL()),
	)
	return createUser(ctx, service, os.Getenv("ADMIN_USERNAME"), os.Getenv("ADMIN_PASSWORD"))
}

// userCreator は管理ユーザーの作成を抽象化する。
type userCreator interface {
	CreateUser(ctx context.Context, username, password string) (*model.User, error)
}

// createUser は環境変数から読み込んだ認証情報でユーザーを作成する。
func createUser(ctx context.Context, creator userCreator, username, password string) error {
	if username == "" || password == "" {
		return errors.New("ADMIN_USERNAME and ADMIN_PASSWORD must be set")
	}

	user, err := creator.CreateUser(ctx, username, password)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("admin user created",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
