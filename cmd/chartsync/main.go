package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careops/chartsync/internal/config"
	syncpkg "github.com/careops/chartsync/internal/domain/sync"
	"github.com/careops/chartsync/internal/engine"
	"github.com/careops/chartsync/internal/platform/middleware"
	"github.com/careops/chartsync/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chartsync",
		Short: "Offline-first clinical record sync engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(drainCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(resetCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine and its local status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine()
		},
	}
}

func runEngine() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Engine
	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start engine")
	}

	// Telemetry
	tp := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "chartsync",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Env,
	})
	defer tp.Shutdown(context.Background())

	eng.Orchestrator.OnStatusChange(func(info syncpkg.StatusInfo) {
		tp.SyncOperationCounter("status", string(info.Status))
		tp.SetQueueDepth(int64(eng.Queue.Status().Length))
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(tp.MetricsMiddleware())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	metricsHandler := tp.PrometheusHandler()
	e.GET("/metrics", func(c echo.Context) error {
		// Refresh engine gauges at scrape time.
		tp.SetQueueDepth(int64(eng.Queue.Status().Length))
		tp.SetOnline(eng.Monitor.IsOnline())
		return metricsHandler(c)
	})

	reset := func(c echo.Context) error {
		return eng.Reset(c.Request().Context())
	}
	handler := syncpkg.NewHandler(eng.Orchestrator, eng.Queue, eng.Monitor, eng.Tokens, reset)

	api := e.Group("/api/v1")
	api.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodPost && strings.HasSuffix(c.Request().URL.Path, "/drain") {
				start := time.Now()
				err := next(c)
				tp.ObserveDrainDuration(time.Since(start))
				return err
			}
			return next(c)
		}
	})
	handler.RegisterRoutes(api)

	// Start server
	go func() {
		addr := "127.0.0.1:" + cfg.Port
		logger.Info().Str("addr", addr).Msg("status API listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	eng.Stop()
	return nil
}

// apiURL resolves the running engine's status API address from config.
func apiURL(path string) (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return "http://127.0.0.1:" + cfg.Port + path, nil
}

func postToEngine(path string) ([]byte, int, error) {
	url, err := apiURL(path)
	if err != nil {
		return nil, 0, err
	}
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return nil, 0, fmt.Errorf("is the engine running? %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return body, resp.StatusCode, err
}

// decodeDrainResponse interprets the drain endpoint's two success shapes: a
// bare Result on 200, or {"result":..., "error":...} when the drain stopped
// early. The returned string is the early-stop reason, empty on a clean drain.
func decodeDrainResponse(status int, body []byte) (syncpkg.Result, string, error) {
	if status == http.StatusBadGateway {
		var partial struct {
			Result syncpkg.Result `json:"result"`
			Error  string         `json:"error"`
		}
		if err := json.Unmarshal(body, &partial); err != nil {
			return syncpkg.Result{}, "", fmt.Errorf("unexpected response: %s", body)
		}
		return partial.Result, partial.Error, nil
	}

	var result syncpkg.Result
	if err := json.Unmarshal(body, &result); err != nil {
		return syncpkg.Result{}, "", fmt.Errorf("unexpected response: %s", body)
	}
	return result, "", nil
}

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Flush the pending upload queue now",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, status, err := postToEngine("/api/v1/drain")
			if err != nil {
				return err
			}
			if status == http.StatusConflict {
				fmt.Println("A drain is already in progress.")
				return nil
			}

			result, drainErr, err := decodeDrainResponse(status, body)
			if err != nil {
				return err
			}
			if drainErr != "" {
				fmt.Printf("Drain stopped early: %s\n", drainErr)
			}
			fmt.Printf("Drained: %d succeeded, %d permanently failed, %d total\n",
				result.Succeeded, result.Failed, result.Total)
			if result.Failed > 0 {
				return fmt.Errorf("%d save(s) were lost after exhausting retries", result.Failed)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine status and pending queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := apiURL("/api/v1/status")
			if err != nil {
				return err
			}
			resp, err := http.Get(url)
			if err != nil {
				return fmt.Errorf("is the engine running? %w", err)
			}
			defer resp.Body.Close()

			var status struct {
				Status          string    `json:"status"`
				LastError       string    `json:"last_error"`
				IsOnline        bool      `json:"is_online"`
				IsAuthenticated bool      `json:"is_authenticated"`
				QueueLength     int       `json:"queue_length"`
				OldestEnqueued  time.Time `json:"oldest_enqueued_at"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}

			fmt.Printf("Status:        %s\n", status.Status)
			fmt.Printf("Online:        %v\n", status.IsOnline)
			fmt.Printf("Authenticated: %v\n", status.IsAuthenticated)
			fmt.Printf("Pending:       %d\n", status.QueueLength)
			if status.QueueLength > 0 && !status.OldestEnqueued.IsZero() {
				fmt.Printf("Oldest:        %s\n", status.OldestEnqueued.Format(time.RFC3339))
			}
			if status.LastError != "" {
				fmt.Printf("Last error:    %s\n", status.LastError)
			}
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe all local engine state (logout)",
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return fmt.Errorf("reset deletes the local snapshot and any un-synced saves; re-run with --yes to confirm")
			}

			_, status, err := postToEngine("/api/v1/reset")
			if err != nil {
				return err
			}
			if status != http.StatusNoContent {
				return fmt.Errorf("reset failed with status %d", status)
			}
			fmt.Println("Local state cleared.")
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "Confirm destructive reset")
	return cmd
}
