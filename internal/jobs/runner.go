package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaytext/campaign-engine/internal/config"
	"github.com/relaytext/campaign-engine/internal/queue"
	"github.com/relaytext/campaign-engine/pkg/logger"
	"github.com/relaytext/campaign-engine/pkg/prom"
	"github.com/relaytext/campaign-engine/pkg/redis"
	"github.com/relaytext/campaign-engine/pkg/worker"
)

// Imports and exports hold the claim for minutes, not seconds; the
// visibility timeout on the stream must stay above this.
const HandleTimeout = 5 * time.Minute
const HealthInterval = 30 * time.Second
const ShutdownTimeout = time.Minute

const consumerInstances = 4
const workerQueueDepth = 10_000
const workerCount = 32

// Processor is the unit the runner drives: the dispatcher in
// production, a fake in tests.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
}

// Runner owns the jobs stream consumers and the worker pool they feed.
// Each consumer blocks on its delivery until a pool worker reports the
// outcome, so acks always reflect handler results.
type Runner struct {
	adapter   redis.RedisAdapter
	queues    []*queue.Queue
	processor Processor
	metrics   *RunnerMetrics
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	worker    *worker.WorkerManager
}

func NewRunner(redisAdapter redis.RedisAdapter, processor Processor) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		adapter:   redisAdapter,
		queues:    make([]*queue.Queue, 0, consumerInstances),
		processor: processor,
		metrics:   NewRunnerMetrics(),
		ctx:       ctx,
		cancel:    cancel,
		worker:    worker.NewWorkerManager(workerQueueDepth, workerCount, nil),
	}
}

func (r *Runner) Metrics() *RunnerMetrics { return r.metrics }

func (r *Runner) Start() error {
	logger.Info("starting job runner")

	r.worker.SetWorker(r.workerHandler)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.worker.Start(); err != nil {
			logger.Error("worker manager stopped", "error", err)
		}
	}()

	for i := 0; i < consumerInstances; i++ {
		queueConfig := queue.QueueConfig{
			Name:              config.Get().QueueName,
			ConsumerGroup:     config.Get().QueueConsumerGroup,
			ConsumerName:      fmt.Sprintf("%s-instance-%d", config.Get().QueueConsumerName, i),
			MaxRetries:        config.Get().QueueMaxRetries,
			VisibilityTimeout: config.Get().QueueVisibilityTimeout,
			PollInterval:      config.Get().QueuePollInterval,
			BatchSize:         config.Get().QueueBatchSize,
			MaxLen:            config.Get().QueueMaxLen,
			EnableDLQ:         config.Get().QueueEnableDLQ,
		}

		q, err := queue.NewQueue(r.adapter, queueConfig)
		if err != nil {
			return fmt.Errorf("create consumer %d: %w", i, err)
		}
		if err := q.Consume(r.deliveryHandler); err != nil {
			return fmt.Errorf("start consumer %d: %w", i, err)
		}
		r.queues = append(r.queues, q)
	}

	r.wg.Add(2)
	go r.metricsReporter()
	go r.healthChecker()

	logger.Info("job runner started", "consumers", len(r.queues), "workers", workerCount)
	return nil
}

func (r *Runner) metricsReporter() {
	defer r.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reportMetrics()
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Runner) reportMetrics() {
	stats := r.metrics.Stats()
	logger.Info("job runner metrics",
		"total_processed", stats["total_processed"],
		"total_failed", stats["total_failed"],
		"rate_per_second", stats["rate_per_second"],
		"avg_duration_ms", stats["avg_duration_ms"],
		"by_kind", stats["by_kind"])

	for i, q := range r.queues {
		if qStats, err := q.GetStats(); err == nil {
			logger.Info("jobs stream stats", "consumer", i, "total", qStats.TotalMessages, "pending", qStats.PendingMessages)
		}
	}
}

func (r *Runner) healthChecker() {
	defer r.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.checkHealth()
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Runner) checkHealth() {
	if err := r.adapter.Client().Ping(context.Background()).Err(); err != nil {
		logger.Error("health check failed: redis unreachable", "error", err)
		return
	}
	for i, q := range r.queues {
		stats, err := q.GetStats()
		if err != nil {
			logger.Warn("health check: stream stats unavailable", "consumer", i, "error", err)
			continue
		}
		if stats.PendingMessages > 10000 {
			logger.Warn("health check: jobs stream lag is high", "consumer", i, "pending", stats.PendingMessages)
		}
	}
}

// Stop drains consumers first so no delivery is claimed after the pool
// starts winding down.
func (r *Runner) Stop() {
	logger.Info("stopping job runner")

	r.cancel()

	stopChan := make(chan bool, len(r.queues))
	for i, q := range r.queues {
		go func(index int, q *queue.Queue) {
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("error stopping consumer", "consumer", index, "error", err)
			}
			stopChan <- true
		}(i, q)
	}
	for range r.queues {
		select {
		case <-stopChan:
		case <-time.After(ShutdownTimeout + 5*time.Second):
			logger.Warn("timed out waiting for consumers to stop")
		}
	}

	r.worker.Exit()
	r.wg.Wait()
	r.reportMetrics()

	logger.Info("job runner stopped")
}

type delivery struct {
	msg        *queue.Message
	resultChan chan error
	ctx        context.Context
}

// deliveryHandler hands the stream entry to the pool and blocks for the
// outcome, translating it into ack or nack.
func (r *Runner) deliveryHandler(ctx context.Context, msg *queue.Message) error {
	resultChan := make(chan error, 1)

	msgCtx, cancel := context.WithTimeout(ctx, HandleTimeout+time.Second)
	defer cancel()

	r.worker.Enqueue(&delivery{
		msg:        msg,
		resultChan: resultChan,
		ctx:        msgCtx,
	})

	select {
	case err := <-resultChan:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timed out waiting for job handler: %w", msgCtx.Err())
	}
}

func (r *Runner) workerHandler(workerIndex int, item interface{}) {
	del, ok := item.(*delivery)
	if !ok {
		logger.Error("invalid item type in worker pool", "worker", workerIndex)
		return
	}

	select {
	case <-del.ctx.Done():
		logger.Warn("delivery cancelled before handling started", "worker", workerIndex)
		return
	default:
	}

	start := time.Now()
	kind := del.msg.Metadata["kind"]
	var resultErr error
	if r.processor == nil {
		logger.Error("no processor registered", "worker", workerIndex)
		resultErr = nil
	} else if err := r.processor.Process(del.ctx, del.msg); err != nil {
		r.metrics.RecordFailure(kind)
		prom.IncJobOutcome(kind, "failure")
		logger.Error("job handling failed", "worker", workerIndex, "message_id", del.msg.ID, "error", err)
		resultErr = err
	} else {
		r.metrics.RecordSuccess(kind, time.Since(start))
		prom.IncJobOutcome(kind, "success")
		prom.ObserveJobDuration(kind, time.Since(start).Seconds())
	}

	select {
	case del.resultChan <- resultErr:
	case <-del.ctx.Done():
		logger.Warn("delivery handler timed out before result was sent", "worker", workerIndex)
	}
}
