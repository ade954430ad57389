package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/storyapi/internal/auth"
	"github.com/hitoshi/storyapi/internal/config"
	"github.com/hitoshi/storyapi/internal/database"
	"github.com/hitoshi/storyapi/internal/figure"
	"github.com/hitoshi/storyapi/internal/handler"
	"github.com/hitoshi/storyapi/internal/logger"
	"github.com/hitoshi/storyapi/internal/mail"
	"github.com/hitoshi/storyapi/internal/media"
	"github.com/hitoshi/storyapi/internal/metrics"
	"github.com/hitoshi/storyapi/internal/middleware"
	"github.com/hitoshi/storyapi/internal/repository"
	"github.com/hitoshi/storyapi/internal/security"
	"github.com/hitoshi/storyapi/internal/story"
	"github.com/hitoshi/storyapi/internal/user"
	"github.com/hitoshi/storyapi/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 設定を読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .env・設定ファイル・環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再構成する
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
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// application はserveモードで組み立てた依存関係一式。
type application struct {
	handler http.Handler
	store   repository.Store
	limiter *middleware.RateLimiter
	closers []func()
}

// Close は確保したリソースを逆順に解放する。
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApplication はストア接続から全依存関係をワイヤリングし、ルーターを構築する。
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{}

	// 1. ストア接続
	store, err := database.Open(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, err
	}
	app.store = store
	app.closers = append(app.closers, func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close store", slog.String("error", err.Error()))
		}
	})
	slog.Info("store connection established",
		slog.String("uri", redactURI(cfg.MongoURI)),
		slog.String("database", cfg.MongoDB),
	)

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 3. メディア（ストレージ・ロック・リモート取得）
	mediaSvc, closeMedia, err := newMediaService(ctx, cfg, collector)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.closers = append(app.closers, closeMedia)

	// 4. 認証とメール
	issuer := auth.NewIssuer(auth.TokenConfig{
		Secret: []byte(cfg.SecretKey),
		Issuer: cfg.BaseURL,
		TTL:    cfg.TokenTTL,
	})
	notifier, err := newNotifier(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	// 5. ドメインサービス
	sanitizer := security.NewTextSanitizer()
	userService := user.NewService(store.Users(), issuer, auth.NewPasswordHasher(cfg.BcryptCost), notifier)
	figureService := figure.NewService(store.Figures(), mediaSvc, sanitizer)
	storyService := story.NewService(store.Stories(), store.Figures(), mediaSvc, sanitizer)

	// 6. ルーター（レート制限の設定はreq/min）
	app.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	app.closers = append(app.closers, app.limiter.Stop)

	app.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		TokenVerifier:     issuer,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       app.limiter,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(registry),
		HealthChecker:     store,
		UserService:       userService,
		FigureService:     figureService,
		StoryService:      storyService,
		MediaStager:       mediaSvc,
	})

	return app, nil
}

// newMediaService はMEDIA_BACKENDとREDIS_URLに応じてメディアサービスを組み立てる。
// 戻り値の関数でRedis接続などを閉じる。
func newMediaService(ctx context.Context, cfg *config.Config, observer media.UploadObserver) (*media.Service, func(), error) {
	var (
		store media.Store
		err   error
	)
	switch cfg.MediaBackend {
	case config.MediaBackendMinIO:
		store, err = media.NewMinIOStore(ctx, media.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
	default:
		store, err = media.NewFSStore(cfg.MediaRoot)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open media store: %w", err)
	}

	var locker media.Locker = media.NewLocalLocker()
	closeFn := func() {}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = media.NewRedisLocker(client, 30*time.Second)
		closeFn = func() {
			if err := client.Close(); err != nil {
				slog.Warn("failed to close redis client", slog.String("error", err.Error()))
			}
		}
		slog.Info("redis lock enabled", slog.String("addr", opts.Addr))
	}

	svc := media.NewService(store, locker, security.NewURLGuard(cfg.MediaFetchTimeout), observer, media.Config{
		MaxSize: cfg.UploadMaxSize,
		MinSize: cfg.UploadMinSize,
	})
	slog.Info("media store ready",
		slog.String("backend", cfg.MediaBackend),
		slog.Int64("max_size", cfg.UploadMaxSize),
	)
	return svc, closeFn, nil
}

// newNotifier はSENDGRID_API_KEYがあればSendGrid、なければログ出力でメールを送るNotifierを返す。
func newNotifier(cfg *config.Config) (*mail.Notifier, error) {
	templates, err := mail.LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load mail templates: %w", err)
	}

	var sender mail.Sender
	if cfg.SendGridAPIKey != "" {
		sender = mail.NewSendGridSender(cfg.SendGridAPIKey)
	} else {
		slog.Warn("SENDGRID_API_KEY is not set; emails are written to the log")
		sender = mail.NewLogSender(slog.Default())
	}

	return mail.NewNotifier(sender, templates, mail.NotifierConfig{
		From:           mail.Address{Name: cfg.MailFromName, Email: cfg.MailFromEmail},
		Title:          cfg.MailTitle,
		AppURL:         cfg.AppURL,
		AllowedOrigins: cfg.AppAllowedOrigins,
	}), nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 確定されなかったステージング画像をCLEANUP_INTERVALごとに削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mediaSvc, closeMedia, err := newMediaService(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer closeMedia()

	job := cleanup.NewCleanupJob(mediaSvc, slog.Default())
	job.Retention = cfg.StagingTTL

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("staging_ttl", cfg.StagingTTL),
	)

	// キャンセルされるまでブロックする
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はMongoDBのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if database.IsMemoryURI(cfg.MongoURI) {
		slog.Info("in-memory store has no migrations; skipping")
		return nil
	}

	migrationURL, err := database.MigrationURL(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("running database migrations",
		slog.String("database_url", redactURI(migrationURL)),
	)

	if err := database.RunMigrations(migrationURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// redactURI は接続URIのパスワードを伏せる。解析できない場合は全体を伏せる。
func redactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
