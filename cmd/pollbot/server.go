package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ArhamBafna/discord-poll-bot/internal/api"
	"github.com/ArhamBafna/discord-poll-bot/internal/config"
	"github.com/ArhamBafna/discord-poll-bot/internal/converse"
	"github.com/ArhamBafna/discord-poll-bot/internal/deferq"
	"github.com/ArhamBafna/discord-poll-bot/internal/discord"
	"github.com/ArhamBafna/discord-poll-bot/internal/genai"
	"github.com/ArhamBafna/discord-poll-bot/internal/poll"
	"github.com/ArhamBafna/discord-poll-bot/internal/resilience"
	"github.com/ArhamBafna/discord-poll-bot/internal/schedule"
	"github.com/ArhamBafna/discord-poll-bot/internal/storage"
	"github.com/ArhamBafna/discord-poll-bot/internal/trivia"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pollbot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running pollbot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pollbot system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "pollbot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevelFromConfig(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "pollbot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevelFromConfig(cfg.Log.Level),
	})))

	adminToken := cfg.Server.AdminToken
	if adminToken == "" {
		adminToken = uuid.NewString()
		printWarning("POLLBOT_ADMIN_TOKEN not set; generated ephemeral token %s", adminToken)
	}

	// Refuse to start twice: probe the health endpoint before claiming
	// the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStep("opening storage at %s", cfg.Storage.DataDir)
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	var aiClient *genai.Client
	if cfg.AI.BaseURL != "" {
		aiClient = genai.NewWithBaseURL(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL)
	} else {
		aiClient = genai.New(cfg.AI.APIKey, cfg.AI.Model)
	}

	breakers := resilience.NewBreakers(cfg.AI.BreakerThreshold, cfg.AI.BreakerWindow, cfg.AI.BreakerCooldown)
	caller := resilience.NewCaller(breakers)
	callOpts := resilience.Options{
		MaxAttempts:  cfg.AI.MaxAttempts,
		InitialDelay: cfg.AI.InitialDelay,
		MaxDelay:     cfg.AI.MaxDelay,
		Timeout:      cfg.AI.CallTimeout,
	}

	generator := trivia.NewGenerator(aiClient, caller, callOpts)
	platformClient := discord.New(cfg.Discord.Token)
	pollSvc := poll.NewService(store, platformClient, generator, nil)

	queue := deferq.New(cfg.Queue.PerKeyCap, cfg.Queue.TTL)
	chat := converse.NewHandler(aiClient, caller, callOpts, store, queue, platformClient)
	worker := deferq.NewWorker(queue, chat, cfg.Queue.DrainInterval)

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}
	weeklyDay, err := config.ParseWeekday(cfg.Schedule.WeeklyDay)
	if err != nil {
		return err
	}

	channels := make(map[string]string, len(cfg.Communities))
	communities := make([]schedule.Community, 0, len(cfg.Communities))
	for _, c := range cfg.Communities {
		channels[c.GuildID] = c.ChannelID
		communities = append(communities, schedule.Community{ID: c.GuildID, ChannelID: c.ChannelID})
	}
	if len(communities) == 0 {
		printWarning("no communities configured; set POLLBOT_COMMUNITIES to enable scheduled polls")
	}

	scheduler := schedule.New(pollSvc, store, communities, schedule.Options{
		Location:     loc,
		DailyHour:    cfg.Schedule.DailyHour,
		DailyMinute:  cfg.Schedule.DailyMinute,
		WeeklyDay:    weeklyDay,
		WeeklyHour:   cfg.Schedule.WeeklyHour,
		WeeklyMinute: cfg.Schedule.WeeklyMinute,
		SettleDelay:  cfg.Schedule.SettleDelay,
	})

	handler := api.NewHandler(api.Deps{
		Polls:    pollSvc,
		Converse: chat,
		Store:    store,
		Token:    adminToken,
		Channels: channels,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("pollbot listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		worker.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := scheduler.CatchUp(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("startup catch-up failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("pollbot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop pollbot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to pollbot (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	var aiClient *genai.Client
	if cfg.AI.BaseURL != "" {
		aiClient = genai.NewWithBaseURL(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL)
	} else {
		aiClient = genai.New(cfg.AI.APIKey, cfg.AI.Model)
	}
	if aiClient.Ping(context.Background(), 3*time.Second) {
		printStatus("AI service", "reachable (model %s)", cfg.AI.Model)
	} else {
		printStatus("AI service", "unreachable")
	}

	printStatus("Communities", "%d configured", len(cfg.Communities))
	printStatus("Timezone", "%s", cfg.Schedule.Timezone)
	printStatus("Daily slot", "%02d:%02d", cfg.Schedule.DailyHour, cfg.Schedule.DailyMinute)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
