package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pathakanu/carely/internal/adherence"
	"github.com/pathakanu/carely/internal/alert"
	"github.com/pathakanu/carely/internal/api"
	"github.com/pathakanu/carely/internal/bot"
	"github.com/pathakanu/carely/internal/companion"
	"github.com/pathakanu/carely/internal/config"
	"github.com/pathakanu/carely/internal/database"
	"github.com/pathakanu/carely/internal/lock"
	"github.com/pathakanu/carely/internal/logger"
	"github.com/pathakanu/carely/internal/memory"
	"github.com/pathakanu/carely/internal/notify"
	myopenai "github.com/pathakanu/carely/internal/openai"
	"github.com/pathakanu/carely/internal/report"
	"github.com/pathakanu/carely/internal/scheduler"
	"github.com/pathakanu/carely/internal/store"
	"github.com/pathakanu/carely/internal/twilio"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const schedulerLockKey = "carely:scheduler:leader"

var rootCmd = &cobra.Command{
	Use:           "carely",
	Short:         "carely - elder care companion service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API, the Twilio webhook and the reminder scheduler",
	RunE:  runServe,
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler tick and print the result",
	RunE:  runTick,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo patients, caregivers and medications",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(serveCmd, tickCmd, migrateCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds every wired component. Commands use the parts they need.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *store.Store
	scheduler *scheduler.Scheduler
	bot       *bot.Bot
	api       *api.Server
	redis     *redis.Client
}

func newApp() (*app, error) {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "carely")
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	db, err := database.New(cfg.DatabaseURL, cfg.SQLitePath, log)
	if err != nil {
		return nil, fmt.Errorf("database init: %w", err)
	}
	st := store.New(db)

	router := notify.NewRouter(log)
	twilioClient := twilio.New(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppNumber, cfg.TwilioSMSNumber, log)
	router.Register("whatsapp", twilioClient.WhatsApp())
	router.Register("sms", twilioClient.SMS())
	if cfg.TelegramBotToken != "" {
		router.Register("telegram", notify.NewTelegram(cfg.TelegramBotToken))
	}
	router.Register("webhook", notify.NewWebhook(cfg.WebhookTimeout))

	openAIClient := myopenai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	if !openAIClient.Enabled() {
		log.Info("OPENAI_API_KEY not set, using rule-based sentiment and fallback replies")
	}

	vocab, err := memory.LoadVocabulary(cfg.VocabularyFile)
	if err != nil {
		return nil, fmt.Errorf("vocabulary: %w", err)
	}

	calc := adherence.NewCalculator(st)
	generator := alert.NewGenerator(st, calc, router, cfg.Alerts, log)
	summarizer := memory.NewSummarizer(st, vocab, cfg.LocalTimezone)
	comp := companion.New(st, openAIClient, generator, log)
	reports := report.NewBuilder(st, cfg.LocalTimezone)

	a := &app{cfg: cfg, logger: log, store: st}

	var locker lock.Locker = lock.Local{}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		locker = lock.NewRedis(a.redis, schedulerLockKey, cfg.Scheduler.LockTTL)
	}

	a.scheduler = scheduler.New(st, generator, router, cfg.Scheduler, cfg.LocalTimezone, log, scheduler.Options{
		Reporter: reports,
		Locker:   locker,
	})
	a.bot = bot.New(st, comp, cfg.LocalTimezone, log)
	a.api = api.New(api.Options{
		Store:      st,
		Adherence:  calc,
		Alerts:     generator,
		Summarizer: summarizer,
		Companion:  comp,
		Reports:    reports,
		Webhook:    a.bot.Handler(),
		Logger:     log,
	})
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.scheduler.Start(context.Background()); err != nil {
		return fmt.Errorf("scheduler start: %w", err)
	}

	server := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("server starting", zap.String("port", a.cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()

	waitForShutdown(server, a.scheduler, a.logger)
	return nil
}

func waitForShutdown(server *http.Server, sched *scheduler.Scheduler, logger *zap.Logger) {
	stopCtx := make(chan os.Signal, 1)
	signal.Notify(stopCtx, syscall.SIGINT, syscall.SIGTERM)
	<-stopCtx
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	sched.Stop()
}

func runTick(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	result := a.scheduler.Tick(cmd.Context())
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return result.Err()
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "carely")
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// database.New migrates before returning.
	if _, err := database.New(cfg.DatabaseURL, cfg.SQLitePath, log); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("schema up to date")
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	created, err := seed(cmd.Context(), a.store, time.Now())
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if !created {
		fmt.Fprintln(cmd.OutOrStdout(), "sample data already exists, skipping")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "sample data created")
	return nil
}
