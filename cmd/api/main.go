// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/mealplanner/internal/auth"
	"github.com/yourusername/mealplanner/internal/config"
	"github.com/yourusername/mealplanner/internal/jobs"
	"github.com/yourusername/mealplanner/internal/pages"
	"github.com/yourusername/mealplanner/internal/storage"
)

// 静的ファイルのキャッシュ期間
const staticMaxAge = 24 * time.Hour

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	repo, err := storage.OpenLocal(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer repo.Close()

	// Redis が設定されている場合のみ確認メールのキューを起動する
	var jobManager *jobs.Manager
	if cfg.MailEnabled() {
		jobManager, err = setupJobs(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize jobs: %v", err)
		}
		jobManager.StartWorkers()
	} else {
		log.Printf("REDIS_URL is empty; verification mail is disabled")
	}

	router := newRouter(cfg, repo, jobManager)

	// サーバーの起動
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Starting API server on %s (mode: %s)", srv.Addr, cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	if jobManager != nil {
		if err := jobManager.Shutdown(shutdownCtx); err != nil {
			log.Printf("Jobs shutdown: %v", err)
		}
	}
}

// newRouter はミドルウェアとルートを設定したルーターを返します。
// jobManager が nil の場合、確認メール関連の API は登録しません。
func newRouter(cfg *config.Config, repo storage.Repository, jobManager *jobs.Manager) *gin.Engine {
	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-Requested-With",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, cfg, repo, jobManager)
	return router
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "mealplanner-api",
		"version": "0.1.0",
	})
}

// noStore は動的なレスポンスをキャッシュさせないミドルウェアです。
func noStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "private, no-store")
		c.Next()
	}
}

// staticExpires は静的ファイルに Expires ヘッダーを付けます。
func staticExpires() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Expires", time.Now().Add(staticMaxAge).UTC().Format(http.TimeFormat))
		c.Header("Cache-Control", "public, max-age=86400")
		c.Next()
	}
}

// setupRoutes は API・ページ・静的ファイルの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, repo storage.Repository, jobManager *jobs.Manager) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	// wasm_exec.js と mealplanner.wasm
	scripts := router.Group("/scripts", staticExpires())
	scripts.Static("/", filepath.Join(cfg.PublicDir, "scripts"))

	opts := []auth.Option{auth.WithLogger(log.Default())}
	if jobManager != nil {
		opts = append(opts, auth.WithVerification(jobManager))
	}
	authManager := auth.NewManager(cfg, repo, opts...)

	dynamic := router.Group("", noStore())

	api := dynamic.Group("/api")
	{
		// ログイン・登録時はセッション未生成なので CSRF 検証は不要
		api.POST("/login", authManager.Login)
		api.POST("/register", authManager.Register)
		// ログアウトはセッションが切れていても成功させる
		api.POST("/logout", authManager.Logout)

		protected := api.Group("")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			protected.GET("/families", authManager.ListFamilies)
			protected.GET("/families/:family_id", authManager.RequireFamily(), authManager.GetFamily)
			protected.PUT("/families/:family_id", authManager.RequireFamily(), authManager.UpdateFamily)

			users := protected.Group("/users/:id", authManager.RequireSelf())
			users.GET("", authManager.GetUser)
			users.PUT("", authManager.UpdateUser)
			users.PUT("/password", authManager.UpdateUserPassword)
			if jobManager != nil {
				users.POST("/verification", resendVerificationHandler(repo, jobManager))
				users.GET("/verification", verificationStatusHandler(jobManager))
			}
		}
	}

	pages.NewHandler(repo, authManager, log.Default()).Register(dynamic)
}
