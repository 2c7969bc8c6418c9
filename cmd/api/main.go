package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nemonet1337/daichoGoFramework/internal/config"
	"github.com/nemonet1337/daichoGoFramework/pkg/ledger"
	"github.com/nemonet1337/daichoGoFramework/pkg/ledger/storage"
)

func main() {
	// ログ設定
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("設定読み込みに失敗しました", zap.Error(err))
	}

	// データベース接続
	store, err := storage.NewPostgreSQLStore(cfg.DSN(), logger)
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer store.Close()

	// 台帳コンポーネント初期化
	ledgerConfig := &ledger.Config{
		AdjustmentSeries:     cfg.Ledger.AdjustmentSeries,
		CorrectionSeries:     cfg.Ledger.CorrectionSeries,
		NumberLength:         cfg.Ledger.NumberLength,
		ReconciliationReason: cfg.Ledger.ReconciliationReason,
		MaxLines:             cfg.Ledger.MaxLines,
		ReplayPageSize:       cfg.Ledger.ReplayPageSize,
	}

	builder := ledger.NewAdjustmentBuilder(store, store, store, store, nil, logger, ledgerConfig)
	reconciler := ledger.NewReconciler(store, builder, logger, ledgerConfig)
	kardex := ledger.NewKardexService(store, logger)

	// HTTPハンドラー設定
	handlers := NewHandlers(builder, reconciler, kardex, store, logger)
	router := setupRouter(handlers, cfg)

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	// グレースフルシャットダウン設定
	go func() {
		logger.Info("在庫移動台帳APIサーバーを開始します", zap.Int("port", cfg.API.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー開始に失敗しました", zap.Error(err))
		}
	}()

	// シャットダウンシグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	// グレースフルシャットダウン
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("サーバーシャットダウンに失敗しました", zap.Error(err))
	}

	logger.Info("サーバーが正常に停止しました")
}

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, cfg *config.Config) *mux.Router {
	router := mux.NewRouter()

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if cfg.API.EnableMetrics {
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()

	// 調整記帳
	api.HandleFunc("/adjustments", handlers.PostAdjustment).Methods("POST")
	api.HandleFunc("/adjustments/next-number", handlers.PeekAdjustmentNumber).Methods("GET")

	// カーデックス照会
	api.HandleFunc("/kardex/{itemId}", handlers.GetKardex).Methods("GET")
	api.HandleFunc("/kardex/{itemId}/by-warehouse", handlers.GetKardexByWarehouse).Methods("GET")

	// 残高照会
	api.HandleFunc("/balances/{itemId}", handlers.GetBalances).Methods("GET")

	// 照合
	api.HandleFunc("/reconciliation/{itemId}", handlers.GetReconciliation).Methods("GET")
	api.HandleFunc("/reconciliation/{itemId}/correct", handlers.PostCorrection).Methods("POST")

	// CORS設定（開発用）
	if cfg.API.EnableCORS {
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Access-Control-Allow-Origin", "*")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

				if r.Method == "OPTIONS" {
					w.WriteHeader(http.StatusOK)
					return
				}

				next.ServeHTTP(w, r)
			})
		})
	}

	// ログ機能
	router.Use(loggingMiddleware(handlers.logger))

	return router
}

// loggingMiddleware logs HTTP requests
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// リクエスト処理
			next.ServeHTTP(w, r)

			// ログ出力
			logger.Info("HTTPリクエスト",
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
