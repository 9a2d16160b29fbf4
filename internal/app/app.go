package app

import (
	"context"
	"database/sql"
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

	"github.com/hitoshi/storefront/internal/auth"
	"github.com/hitoshi/storefront/internal/config"
	"github.com/hitoshi/storefront/internal/database"
	"github.com/hitoshi/storefront/internal/handler"
	"github.com/hitoshi/storefront/internal/logger"
	"github.com/hitoshi/storefront/internal/mail"
	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/password"
	"github.com/hitoshi/storefront/internal/repository"
	"github.com/hitoshi/storefront/internal/security"
	"github.com/hitoshi/storefront/internal/token"
	"github.com/hitoshi/storefront/internal/worker/cleanup"
)

// siteName はメールの件名・本文に使うサービス名。
const siteName = "Storefront"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		opts, err := ParseMigrateArgs(args[1:])
		if err != nil {
			return err
		}
		return runMigrate(cfg, opts)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// newMailSender はSMTPが設定されていればSMTPSender、なければLogSenderを返す。
func newMailSender(cfg *config.Config) mail.Sender {
	if !cfg.MailEnabled() {
		slog.Warn("SMTP_HOST is not set; outgoing mail will only be logged")
		return mail.NewLogSender(slog.Default())
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

// newRegistry はアプリケーションメトリクスとランタイムメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// buildAuthService は認証サービスとその依存をワイヤリングする。
func buildAuthService(cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector) (*auth.Service, error) {
	codec, err := token.NewCodec([]byte(cfg.JWTSecret), cfg.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("failed to create session codec: %w", err)
	}

	hasher := password.NewHasher(password.Config{
		Cost:    cfg.BcryptCost,
		Workers: cfg.HashWorkers,
	}, collector)

	return auth.NewService(auth.Dependencies{
		Users:     repository.NewPostgresUserRepo(db),
		Hasher:    hasher,
		Codec:     codec,
		Sender:    newMailSender(cfg),
		Composer:  mail.NewComposer(cfg.BaseURL, siteName, cfg.FlowTokenTTL),
		Sanitizer: security.NewInputSanitizer(),
		Metrics:   collector,
	}, auth.Config{
		FlowTokenTTL:                 cfg.FlowTokenTTL,
		ForgotPasswordRevealsUnknown: cfg.ForgotPasswordRevealsUnknown,
	}), nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクス
	reg, collector := newRegistry()

	// 3. ドメインサービスの初期化
	authService, err := buildAuthService(cfg, db, collector)
	if err != nil {
		return err
	}

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitAuth, cfg.RateLimitGeneral),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Gate:              authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:          rateLimiter,
		RequireEmailVerified: cfg.RequireEmailVerified,
		HSTS:                 cfg.CookieSecure,
		Logger:               slog.Default(),
		StatusRecorder:       collector,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
			CookieMaxAge: cfg.JWTCookieExpiresIn,
		},
		UserService: authService,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れの使い捨てトークンを定期的に掃除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// ワーカーはスクレイプされないため、メトリクスはプロセス内の記録のみ
	_, collector := newRegistry()
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, opts MigrateOptions) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("direction", string(opts.Direction)),
	)

	var err error
	if opts.Direction == MigrateDown {
		err = database.RollbackMigrations(cfg.DatabaseURL, opts.Steps)
	} else {
		err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
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
