package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/relaytext/campaign-engine/internal/carrier"
	"github.com/relaytext/campaign-engine/internal/config"
	"github.com/relaytext/campaign-engine/internal/jobs"
	"github.com/relaytext/campaign-engine/internal/queue"
	"github.com/relaytext/campaign-engine/internal/repository"
	"github.com/relaytext/campaign-engine/internal/services"
	"github.com/relaytext/campaign-engine/internal/storage"
	"github.com/relaytext/campaign-engine/internal/warehouse"
	"github.com/relaytext/campaign-engine/pkg/logger"
	"github.com/relaytext/campaign-engine/pkg/pg"
	"github.com/relaytext/campaign-engine/pkg/prom"
	"github.com/relaytext/campaign-engine/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	// Publisher handle for fragment continuations.
	publishQ, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName + "-publisher",
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating queue publisher", "error", err)
		return
	}

	// Notifications ride their own stream; on the jobs stream the
	// dispatcher would decode them as envelopes with no kind and park
	// them in the DLQ.
	notifyQ, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:          config.Get().NotificationsStreamName,
		ConsumerGroup: config.Get().QueueConsumerGroup,
		ConsumerName:  config.Get().QueueConsumerName + "-notifier",
		MaxLen:        config.Get().QueueMaxLen,
	})
	if err != nil {
		logger.Error("failed creating notifications queue", "error", err)
		return
	}

	var wh *warehouse.Client
	if dsn := config.Get().WarehouseDSN; dsn != "" {
		wh, err = warehouse.Open(dsn)
		if err != nil {
			logger.Error("failed connecting to warehouse", "error", err)
			return
		}
	} else {
		logger.Warn("WAREHOUSE_DSN not set, warehouse imports will fail")
	}

	directClient := carrier.NewHTTPClient(carrier.HTTPClientConfig{
		BaseURL:    config.Get().CarrierDirectUrl,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	})
	relayClient := carrier.NewHTTPClient(carrier.HTTPClientConfig{
		BaseURL:    config.Get().CarrierRelayUrl,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	})

	// Registration order matters: the first adapter is the outbound
	// default.
	var adapters []carrier.Adapter
	if config.Get().CarrierDefault == "relay" {
		adapters = []carrier.Adapter{carrier.NewRelayAdapter(relayClient), carrier.NewDirectAdapter(directClient)}
	} else {
		adapters = []carrier.Adapter{carrier.NewDirectAdapter(directClient), carrier.NewRelayAdapter(relayClient)}
	}
	registry := carrier.NewRegistry(adapters...)

	jobRepo := repository.NewJobRepository(db)
	contactRepo := repository.NewContactRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	identityRepo := repository.NewIdentityRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	partRepo := repository.NewPartRepository(db)

	notifier := services.NewQueueNotifier(notifyQ)
	router := services.NewRouterService(identityRepo)
	uploader := storage.NewHTTPUploader(config.Get().ExportStorageUrl, 30*time.Second)

	importService := services.NewImportService(jobRepo, contactRepo, wh, publishQ)
	reconcilerService := services.NewReconcilerService(campaignRepo, assignmentRepo, contactRepo, notifier)
	senderService := services.NewSenderService(messageRepo, contactRepo, campaignRepo, router, registry)
	reassemblerService := services.NewReassemblerService(partRepo, messageRepo, contactRepo, registry)
	exportService := services.NewExportService(jobRepo, campaignRepo, contactRepo, messageRepo, uploader, notifier)

	idempotency := jobs.NewIdempotency(redisAdap, jobs.DefaultIdempotencyConfig())
	dispatcher := jobs.NewDispatcher(jobRepo, importService, reconcilerService, senderService, reassemblerService, exportService, idempotency, config.Get().JobRetention)

	runner := jobs.NewRunner(redisAdap, dispatcher)

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	go func() {
		if err := runner.Start(); err != nil {
			logger.Error("failed to start job runner", "error", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	runner.Stop()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
