package bootstrap

import (
	"context"
	"os"
	"sync"
	"time"

	"claims_server/adapter/in/worker"
	"claims_server/adapter/out/messaging"
	"claims_server/config"
	"claims_server/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker is the extraction and submission runtime: a consumer group reading
// the claim streams, feeding a bounded pool of processors.
type Worker struct {
	pool     *worker.Pool
	consumer *messaging.Consumer
	deps     *Dependencies
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	zlog     zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	extractionProcessor := worker.NewExtractionProcessor(
		deps.JobRepo,
		deps.IntakeStore,
		deps.EmailAdapter,
		deps.OCREngine,
		deps.OCRAdapter,
		deps.FusionEngine,
		deps.Router,
		deps.StateMachine,
		deps.Producer,
		deps.AuditLog,
	)
	submissionProcessor := worker.NewSubmissionProcessor(
		deps.JobRepo,
		deps.Gateway,
		deps.StateMachine,
		deps.Archive,
		deps.AuditLog,
	)

	handler := worker.NewHandler(extractionProcessor, submissionProcessor)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerMax > 0 {
		poolConfig.MaxWorkers = cfg.WorkerMax
	}
	poolConfig.JobTimeoutByType[worker.JobClaimsExtract] = 3 * cfg.ExtractionTimeout()

	pool := worker.NewPool(poolConfig, handler, zlog)

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
		Group:         "claims-workers",
		Consumer:      cfg.WorkerID,
		Streams:       []string{messaging.StreamExtract, messaging.StreamSubmit},
		Handler:       worker.NewStreamBridge(pool),
		Logger:        zlog,
		BatchSize:     int64(cfg.ConsumerBatchSize),
		BlockTime:     time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
		LeaseIdleTime: cfg.LeaseIdleTime(),
		LeaseCheck:    time.Duration(cfg.LeaseCheckSec) * time.Second,
		MaxDeliveries: cfg.ConsumerMaxRetries,
		OnExhausted:   worker.FailExhausted(deps.JobRepo, deps.StateMachine),
	})

	return w, cleanup, nil
}

func (w *Worker) Start() {
	w.pool.Start()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.zlog.Info().Msg("Starting Redis Stream Consumer...")
		if err := w.consumer.Run(w.ctx); err != nil && err != context.Canceled {
			w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
		}
	}()

	logger.Info("Worker started")
	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()
	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
