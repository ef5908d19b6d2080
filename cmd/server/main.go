package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/koopa0/neonchat/internal"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 解析命令行參數
	var (
		port      = flag.Int("port", 3001, "服務器端口")
		logLevel  = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
		logFormat = flag.String("log-format", "text", "日誌格式 (text, json)")
		staticDir = flag.String("static", "./dist", "靜態資源目錄（空字串停用）")
	)
	flag.Parse()

	// 設置日誌
	logger := setupLogger(*logLevel, *logFormat)

	// 創建各註冊表與協調元件
	registry := internal.NewRegistry(logger)
	match := internal.NewMatchmaker(logger)
	rooms := internal.NewRoomService(logger)
	bcast := internal.NewBroadcaster(registry, rooms, logger)
	dispatcher := internal.NewDispatcher(registry, match, rooms, bcast, logger)

	// 傳輸層與 HTTP 層
	hub := internal.NewHub(dispatcher, registry, logger)
	handler := internal.NewHandler(registry, match, rooms, *staticDir, logger)

	// 設置路由
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.Handle("/", handler.Routes())

	// WebSocket 是長連接，服務器層不設讀寫超時，心跳由傳輸層負責
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", *port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	// 啟動服務器
	go func() {
		logger.Info("NeonChat 服務器啟動",
			"port", *port,
			"static", *staticDir,
			"log_level", *logLevel,
			"log_format", *logFormat)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 優雅關閉：停止接受新連接，再關閉所有 WebSocket 連接
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return server.Shutdown(ctx)
			},
			"websocket-hub": func(ctx context.Context) error {
				hub.Stop()
				return nil
			},
		},
	)

	exitCode := <-wait
	logger.Info("服務器已關閉", "exit_code", exitCode)
	os.Exit(exitCode)
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
