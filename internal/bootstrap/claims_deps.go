package bootstrap

import (
	"context"
	"time"

	"claims_server/adapter/out/audit"
	"claims_server/adapter/out/dedupe"
	"claims_server/adapter/out/messaging"
	"claims_server/adapter/out/mongodb"
	"claims_server/adapter/out/ocr"
	"claims_server/adapter/out/persistence"
	"claims_server/adapter/out/submission"
	"claims_server/config"
	"claims_server/core/port/in"
	"claims_server/core/port/out"
	"claims_server/core/service/extraction"
	"claims_server/core/service/fusion"
	"claims_server/core/service/intake"
	"claims_server/core/service/job"
	"claims_server/core/service/review"
	"claims_server/core/service/routing"
	"claims_server/infra/database"
	"claims_server/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies holds every wired adapter and service. Both the API and the
// worker runtime are assembled from the same set.
type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Outbound adapters
	JobRepo     out.JobRepository
	DedupStore  out.DedupStore
	IntakeStore out.IntakeStore
	Archive     out.ArchiveStore
	AuditLog    out.AuditLog
	Producer    out.MessageProducer
	OCREngine   out.OCREngine
	Gateway     out.SubmissionGateway

	// Core services
	StateMachine  *job.StateMachine
	FusionEngine  *fusion.Engine
	Router        *routing.Router
	EmailAdapter  *extraction.EmailAdapter
	OCRAdapter    *extraction.OCRAdapter
	IntakeService in.IntakeService
	ReviewService in.ReviewService
	QueryService  in.JobQueryService
}

// NewDependencies connects the backing stores and wires services. The
// returned cleanup closes connections in reverse order.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	deps := &Dependencies{Config: cfg}

	// PostgreSQL (pgxpool for health, sqlx for the repositories)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Redis: dedup gate and job streams
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })

	// MongoDB: intake documents and the result archive
	mongoClient, err := mongodb.NewClient(cfg.MongoDBURL, cfg.MongoDBName)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.MongoDB = mongoClient
	cleanups = append(cleanups, func() {
		mongoClient.Disconnect(context.Background())
	})
	mongoDB := mongoClient.Database(cfg.MongoDBName)

	// Outbound adapters
	deps.JobRepo = persistence.NewJobAdapter(sqlDB)
	deps.DedupStore = dedupe.NewDedupAdapter(redisClient, cfg.DedupRetention)
	deps.IntakeStore = mongodb.NewIntakeAdapter(mongoDB)
	deps.Archive = mongodb.NewArchiveAdapter(mongoDB)
	deps.Producer = messaging.NewRedisProducer(redisClient)
	deps.OCREngine = ocr.NewClient(ocr.Config{
		BaseURL: cfg.OCRBaseURL,
		APIKey:  cfg.OCRAPIKey,
	})
	deps.Gateway = submission.NewGateway(submission.Config{
		BaseURL:          cfg.SubmitBaseURL,
		APIKey:           cfg.SubmitAPIKey,
		CallTimeout:      time.Duration(cfg.SubmitTimeoutSec) * time.Second,
		MaxRetries:       cfg.SubmitMaxRetries,
		BaseBackoff:      time.Duration(cfg.SubmitBackoffMS) * time.Millisecond,
		BreakerThreshold: uint32(cfg.BreakerFailureThreshold),
		BreakerOpenTime:  time.Duration(cfg.BreakerOpenSec) * time.Second,
	})

	workbook, err := audit.NewWorkbookLog(cfg.AuditWorkbookPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.AuditLog = workbook

	// Core services
	deps.StateMachine = job.NewStateMachine(deps.JobRepo, cfg.ConsumerMaxRetries)
	deps.FusionEngine = fusion.NewEngine(fusion.Options{
		ConfidenceCeiling:   cfg.ConfidenceCeiling,
		ExactMatchBoost:     cfg.ExactMatchBoost,
		FuzzyMatchBoost:     cfg.FuzzyMatchBoost,
		SimilarityThreshold: cfg.SimilarityThreshold,
		Policy:              fusion.DefaultPolicy(),
	})
	deps.Router = routing.NewRouter(routing.Thresholds{
		High:   cfg.HighThreshold,
		Medium: cfg.MediumThreshold,
	})

	extractor := extraction.NewFieldExtractor(extraction.MustCompile(extraction.DefaultPatternTable))
	deps.EmailAdapter = extraction.NewEmailAdapter(extractor)
	deps.OCRAdapter = extraction.NewOCRAdapter()

	deps.IntakeService = intake.NewService(deps.JobRepo, deps.DedupStore, deps.IntakeStore, deps.Producer)
	deps.ReviewService = review.NewService(deps.JobRepo, deps.StateMachine, deps.Gateway, deps.Producer, deps.Archive, deps.AuditLog)
	deps.QueryService = review.NewQueryService(deps.JobRepo)

	logger.Info("Dependencies initialized")
	return deps, cleanup, nil
}
