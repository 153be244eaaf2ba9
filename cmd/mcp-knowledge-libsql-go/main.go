package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/logging"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/server"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/pkg/knowledge"
)

var (
	libsqlURL   = flag.String("libsql-url", "", "libSQL database URL (default: file:./knowledge.db)")
	authToken   = flag.String("auth-token", "", "Authentication token for remote databases")
	projectsDir = flag.String("projects-dir", "", "Base directory for projects. Enables multi-project mode.")
	transport   = flag.String("transport", "stdio", "Transport to use: stdio or sse")
	addr        = flag.String("addr", ":8080", "Address to listen on when using SSE transport")
	sseEndpoint = flag.String("sse-endpoint", "/sse", "SSE endpoint path when using SSE transport")
)

func main() {
	flag.Parse()

	logger := logging.New()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal, closing server")
		cancel()
	}()

	dbConfig, err := database.NewConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	// Initialize metrics (noop if disabled)
	metrics.InitFromEnv()

	// Override with command line flags if provided
	if *libsqlURL != "" {
		dbConfig.URL = *libsqlURL
	}
	if *authToken != "" {
		dbConfig.AuthToken = *authToken
	}
	if *projectsDir != "" {
		dbConfig.ProjectsDir = *projectsDir
		dbConfig.MultiProjectMode = true
	}

	svc, err := knowledge.NewService(&knowledge.Config{
		URL:                dbConfig.URL,
		AuthToken:          dbConfig.AuthToken,
		ProjectsDir:        dbConfig.ProjectsDir,
		MultiProjectMode:   dbConfig.MultiProjectMode,
		EmbeddingDims:      dbConfig.EmbeddingDims,
		MaxOpenConns:       dbConfig.MaxOpenConns,
		MaxIdleConns:       dbConfig.MaxIdleConns,
		ConnMaxIdleSec:     dbConfig.ConnMaxIdleSec,
		ConnMaxLifeSec:     dbConfig.ConnMaxLifeSec,
		EmbeddingsProvider: dbConfig.EmbeddingsProvider,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create knowledge service", zap.Error(err))
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("error closing service", zap.Error(err))
		}
	}()

	mcpServer := server.NewMCPServer(svc)

	logger.Info("starting MCP knowledge server",
		zap.String("transport", *transport),
		zap.Bool("multiProject", dbConfig.MultiProjectMode))
	switch *transport {
	case "stdio":
		go func() {
			if err := mcpServer.Run(ctx); err != nil {
				logger.Error("server error", zap.Error(err))
			}
			cancel()
		}()
	case "sse":
		go func() {
			if err := mcpServer.RunSSE(ctx, *addr, *sseEndpoint); err != nil {
				logger.Error("sse server error", zap.Error(err))
			}
			cancel()
		}()
	default:
		logger.Fatal("unknown transport (expected stdio or sse)", zap.String("transport", *transport))
	}

	<-ctx.Done()

	logger.Info("server stopped")
}
