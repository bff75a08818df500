package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"polyagent/internal/config"
	"polyagent/internal/cryptotools"
	"polyagent/internal/logger"
	"polyagent/internal/pkg/retry"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		baseURL    string
	)
	cmd := &cobra.Command{
		Use:          "toolserver",
		Short:        "MCP tool server (SSE) exposing CoinGecko crypto price tools",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				log.Printf("读取配置失败: %v", err)
				return err
			}
			logger.SetLevel(cfg.App.LogLevel)
			if addr == "" {
				addr = cfg.ToolServer.Addr
			}
			if baseURL == "" {
				baseURL = defaultBaseURL(addr)
			}
			pol := retry.DefaultPolicy(3)
			pol.MaxDelay = 10 * time.Second
			client, err := cryptotools.NewClient(cfg.ToolServer.CoinGeckoURL, cfg.ToolServer.CoinGeckoAPIKey, 15*time.Second, pol)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cryptotools.NewServer(client), addr, baseURL)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("POLYAGENT_CONFIG"), "config file (toolserver section)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default toolserver.addr)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "public base URL advertised to clients")
	return cmd
}

func serve(ctx context.Context, mcpServer *server.MCPServer, addr, baseURL string) error {
	sse := server.NewSSEServer(mcpServer, server.WithBaseURL(baseURL))
	errCh := make(chan error, 1)
	go func() {
		if err := sse.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[toolserver] %s listening on %s (sse endpoint %s/sse)", cryptotools.ServerName, addr, baseURL)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return sse.Shutdown(shCtx)
	case err := <-errCh:
		return err
	}
}

func defaultBaseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return fmt.Sprintf("http://localhost%s", addr)
	}
	return "http://" + addr
}
