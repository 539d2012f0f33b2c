// cmd/leadpilot/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"leadpilot/internal/common/aws"
	"leadpilot/internal/common/config"
	"leadpilot/internal/common/database"
	"leadpilot/internal/common/logger"
	"leadpilot/internal/common/observability"
	"leadpilot/internal/contact"
	"leadpilot/internal/coordinator"
	"leadpilot/internal/cyclelog"
	"leadpilot/internal/history"
	"leadpilot/internal/notify"
	"leadpilot/internal/registry"
	"leadpilot/internal/rules"
	"leadpilot/internal/scheduler"
	"leadpilot/internal/source"
	"leadpilot/internal/suspend"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting leadpilot engine...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("leadpilot")
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init Redis with retry ---
	var redisClient *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch (optional) with retry ---
	var esClient *database.ElasticsearchClient
	if cfg.Database.Elasticsearch.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Init AWS notification clients (optional) ---
	var notifier *notify.Notifier
	{
		var sesClient notify.EmailSender
		var snsClient notify.TopicPublisher
		region := cfg.Notifications.AWS.Region
		if cfg.Notifications.AWS.SES.Enabled {
			c, err := aws.NewSESClient(ctx, region)
			if err != nil {
				zapLog.Warn("SES client init failed, email notifications disabled", zap.Error(err))
			} else {
				sesClient = c
			}
		}
		if cfg.Notifications.AWS.SNS.Enabled {
			c, err := aws.NewSNSClient(ctx, region)
			if err != nil {
				zapLog.Warn("SNS client init failed, SMS notifications disabled", zap.Error(err))
			} else {
				snsClient = c
			}
		}
		notifier = notify.New(cfg.Notifications, sesClient, snsClient, log)
	}

	// --- Assemble the engine ---
	holder := rules.NewHolder()
	holder.Swap(rules.FromConfig(cfg.Rules))

	dedup := registry.NewDedup()
	skip := registry.NewSkip(redisClient.Client)

	historyStore := history.NewStore(pg.DB, log)

	logStore := cyclelog.NewStore(redisClient.Client, log,
		cfg.Scheduler.SummaryCapacity, cfg.Scheduler.DetailCapacity)
	if esClient != nil {
		logStore = logStore.WithAuditIndexer(esClient, cfg.Database.Elasticsearch.AuditIndex)
	}

	bridge := contact.NewBridge(redisClient.Client,
		config.GetDuration(cfg.Contact.ConfirmTimeout), log)
	executor := contact.NewExecutor(bridge, skip, historyStore, contact.Config{
		ConfirmTimeout: config.GetDuration(cfg.Contact.ConfirmTimeout),
		PollInterval:   config.GetDuration(cfg.Contact.PollInterval),
		SubmitRetries:  cfg.Contact.SubmitRetries,
	}, log)

	leadSource := source.NewRedisSource(redisClient.Client, source.Config{
		PollInterval: config.GetDuration(cfg.Scheduler.PollInterval),
	}, log)

	suspendCtl := suspend.NewController(redisClient.Client, log)

	coord := coordinator.New(redisClient.Client, suspendCtl, notifier, holder,
		coordinator.HeartbeatConfig{
			Interval:          config.GetDuration(cfg.Heartbeat.Interval),
			InactiveThreshold: config.GetDuration(cfg.Heartbeat.InactiveThreshold),
		}, log)

	sched := scheduler.New(scheduler.Config{
		RefreshGap:     config.GetDuration(cfg.Scheduler.RefreshGap),
		FlushTick:      config.GetDuration(cfg.Scheduler.FlushTick),
		PollInterval:   config.GetDuration(cfg.Scheduler.PollInterval),
		MinLeadsOnPage: cfg.Scheduler.MinLeadsOnPage,
	}, leadSource, holder, dedup, skip, executor, logStore, coord, log)

	executor.SetContinueCheck(sched.ShouldContinue)
	sched.SetCycleRecorder(obs)
	coord.Attach(sched)

	if err := coord.Start(ctx); err != nil {
		zapLog.Fatal("coordinator start failed", zap.Error(err))
	}
	zapLog.Info("Automation engine started")

	// --- Health, Metrics & Command Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(coord.Status())
		})
		http.HandleFunc("/rules", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPut && r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if err := coord.UpdateRules(body); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnprocessableEntity)
				json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		http.HandleFunc("/commands", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			var cmd struct {
				Type    string `json:"type"`
				Enabled bool   `json:"enabled"`
			}
			if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			switch cmd.Type {
			case "request-cycle":
				coord.RequestCycle()
			case "auto-contact":
				coord.SetAutoContact(cmd.Enabled)
			case "stop":
				coord.Stop()
			default:
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening on :8080")
		if err := http.ListenAndServe(":8080", nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping engine...")
	coord.Stop()
	cancel()

	zapLog.Info("Leadpilot stopped gracefully")
}
