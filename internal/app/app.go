package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/kizuna/internal/config"
	"github.com/hitoshi/kizuna/internal/database"
	"github.com/hitoshi/kizuna/internal/handler"
	"github.com/hitoshi/kizuna/internal/helprequest"
	"github.com/hitoshi/kizuna/internal/identity"
	"github.com/hitoshi/kizuna/internal/logger"
	"github.com/hitoshi/kizuna/internal/metrics"
	"github.com/hitoshi/kizuna/internal/middleware"
	"github.com/hitoshi/kizuna/internal/post"
	"github.com/hitoshi/kizuna/internal/reference"
	"github.com/hitoshi/kizuna/internal/repository"
	"github.com/hitoshi/kizuna/internal/security"
	"github.com/hitoshi/kizuna/internal/user"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// defaultServerPort はhealthcheckサブコマンドがSERVER_PORT未設定時に使うポート。
const defaultServerPort = "4002"

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

	// 3. 設定のログレベルで再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = defaultServerPort
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
		slog.String("ref_store", cfg.RefStoreBackend),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// refStore は参照ストアと、その後始末をまとめたもの。
type refStore struct {
	repository.UserRefRepository
	close func() error
}

// openRefStore は設定されたバックエンドの参照ストアを開く。
func openRefStore(cfg *config.Config, db *sql.DB) (*refStore, error) {
	switch cfg.RefStoreBackend {
	case config.StoreBackendRedis:
		repo, err := repository.NewRedisUserRefRepo(cfg.RedisURL, cfg.RedisKeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis reference store: %w", err)
		}
		return &refStore{UserRefRepository: repo, close: repo.Close}, nil
	case config.StoreBackendMemory:
		return &refStore{UserRefRepository: repository.NewMemoryUserRefRepo(), close: func() error { return nil }}, nil
	case config.StoreBackendPostgres, "":
		return &refStore{UserRefRepository: repository.NewPostgresUserRefRepo(db), close: func() error { return nil }}, nil
	default:
		return nil, fmt.Errorf("unknown reference store backend: %q", cfg.RefStoreBackend)
	}
}

// serverDeps はHTTPサーバーの構築結果。
type serverDeps struct {
	router      http.Handler
	rateLimiter *middleware.RateLimiter
}

// buildServer は参照解決器・サービス・ルーターをワイヤリングする。
func buildServer(cfg *config.Config, db *sql.DB, store repository.UserRefRepository, reg *prometheus.Registry) *serverDeps {
	collector := metrics.NewCollector(reg)
	log := slog.Default()

	// 1. 外部IDサービスクライアント
	identityClient := identity.NewClient(
		&http.Client{},
		log,
		cfg.IdentityURL,
		identity.WithTimeout(cfg.IdentityTimeout),
		identity.WithRateLimit(cfg.IdentityRateLimit),
		identity.WithMetrics(collector),
	)

	// 2. 参照解決と読み出し時補修
	resolver := reference.NewResolver(store, identityClient, log,
		reference.WithStoreTimeout(cfg.StoreTimeout),
		reference.WithSingleFlight(cfg.ResolveSingleFlight),
		reference.WithMetrics(collector),
	)
	repairer := reference.NewRepairer(resolver, collector)

	// 3. ドメインサービス
	sanitizer := security.NewContentSanitizer()
	postService := post.NewService(repository.NewPostgresPostRepo(db), resolver, repairer, sanitizer)
	helpService := helprequest.NewService(repository.NewPostgresHelpRequestRepo(db), resolver, repairer, sanitizer)
	userService := user.NewService(identityClient, store)

	// 4. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral))
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             log,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		CredentialSecret:   []byte(cfg.JWTSecret),
		RateLimiter:        rateLimiter,
		HealthChecker:      db,
		MetricsHandler:     metrics.Handler(reg),
		UserService:        userService,
		PostService:        postService,
		HelpRequestService: helpService,
	})

	return &serverDeps{router: router, rateLimiter: rateLimiter}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. 参照ストア
	store, err := openRefStore(cfg, db)
	if err != nil {
		return err
	}
	defer store.close()

	// 3. ワイヤリング
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps := buildServer(cfg, db, store, reg)
	defer deps.rateLimiter.Stop()

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      deps.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
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

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのユーザー情報とクエリを伏せる。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("xxxxx")
	}
	u.RawQuery = ""
	return u.String()
}
