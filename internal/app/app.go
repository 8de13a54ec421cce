package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/markdave123-py/docuchat/internal/api/handlers"
	middleware "github.com/markdave123-py/docuchat/internal/api/middlewares"
	"github.com/markdave123-py/docuchat/internal/config"
	"github.com/markdave123-py/docuchat/internal/core"
	"github.com/markdave123-py/docuchat/internal/core/chat"
	db "github.com/markdave123-py/docuchat/internal/core/database"
	"github.com/markdave123-py/docuchat/internal/core/ingestion_engine"
	"github.com/markdave123-py/docuchat/internal/core/llm"
	objectclient "github.com/markdave123-py/docuchat/internal/core/object-client"
	"github.com/markdave123-py/docuchat/internal/core/prompt"
	"github.com/markdave123-py/docuchat/internal/core/ratelimit"
	"github.com/markdave123-py/docuchat/internal/core/retrieval"
	"github.com/markdave123-py/docuchat/internal/core/tokenizer"
	"github.com/markdave123-py/docuchat/internal/core/usage"
	"github.com/markdave123-py/docuchat/internal/logger"
	"github.com/markdave123-py/docuchat/internal/metrics"
	"github.com/markdave123-py/docuchat/internal/services"
)

type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	DocProcessor *ingestion_engine.DocumentIngestor
	Metrics      *metrics.Metrics
	Server       *Server

	queue       ingestion_engine.Queue
	closers     []io.Closer
	stopWorkers context.CancelFunc
	log         *logrus.Entry
}

// NewApp connects every backing service named in cfg, starts the ingestion
// workers and wires the HTTP server.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{log: logger.New("app"), Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	dbClient, err := newDatabase(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient)
	a.log.WithField("driver", cfg.StorageDriver).Info("database initialized and ready")

	objClient, err := newObjectStore(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.ObjectClient = objClient
	a.log.WithField("driver", cfg.ObjectDriver).Info("object client initialized and ready")

	embedder, generator, err := a.newModels(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	queue, err := newQueue(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.queue = queue
	a.closers = append(a.closers, queue)

	limiter, ipLimiter, err := a.newLimiters(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	registry := tokenizer.NewRegistry(cfg.TokenEncoding)
	tok, err := registry.Default()
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	chunker, err := tokenizer.NewChunker(tok, cfg.ChunkTokenSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	extractor := ingestion_engine.NewPDFExtractor(cfg.MaxPDFPages)

	a.DocProcessor = ingestion_engine.NewDocumentIngestor(dbClient, objClient, embedder, extractor, chunker, queue,
		&ingestion_engine.IngestConfig{
			BatchSize:  cfg.EmbedBatchSize,
			EmbedDim:   cfg.EmbedDim,
			JobTimeout: 10 * time.Minute,
		}).WithObserver(a.Metrics)
	workerCtx, stop := context.WithCancel(context.Background())
	a.stopWorkers = stop
	a.DocProcessor.Start(workerCtx, cfg.IngestWorkers)
	go a.watchIngestion(workerCtx)

	meter := usage.NewMeter(dbClient)
	manager := chat.NewManager(chat.Deps{
		Store:     dbClient,
		Retriever: retrieval.NewRetriever(embedder, dbClient, cfg.TopK),
		Assembler: prompt.NewAssembler(registry, cfg.GenModel),
		Generator: generator,
		Meter:     meter,
		Counter:   registry,
		Observer:  a.Metrics,
	}, chat.Config{
		Model:            cfg.GenModel,
		AllowedModels:    cfg.AllowedModels,
		MaxContextTokens: cfg.MaxContextTokens,
		TopK:             cfg.TopK,
	})

	auth := middleware.NewAuthenticator(cfg.JWTSecret, cfg.TenantHeader)
	docService := services.NewDocumentService(dbClient, objClient, extractor, a.DocProcessor, cfg.MaxUploadBytes())

	a.Server = NewServer(cfg, Routes{
		Auth:      auth,
		Limiter:   limiter,
		IPLimiter: ipLimiter,
		Metrics:   a.Metrics,
		Documents: handlers.NewDocumentHandler(docService, cfg.MaxUploadBytes()),
		Chat:      handlers.NewChatHandler(auth, limiter, manager, services.NewHistoryService(dbClient), cfg.FrontendOrigin),
		Usage:     handlers.NewUsageHandler(meter),
		Health:    handlers.NewHealthHandler(dbClient),
	})

	ok = true
	return a, nil
}

func newDatabase(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg.StorageDriver == "memory" {
		return db.NewMemoryClient(), nil
	}
	return db.NewDatabaseClient(ctx, cfg)
}

func newObjectStore(ctx context.Context, cfg *config.Config) (core.ObjectClient, error) {
	if cfg.ObjectDriver == "memory" {
		return objectclient.NewMemoryClient(), nil
	}
	return objectclient.NewS3Client(ctx, cfg)
}

func (a *App) newModels(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, core.ChatStreamer, error) {
	if cfg.LLMProvider == "openai" {
		client := llm.NewOpenAICompatibleClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbedModel)
		return client, client, nil
	}

	embedder, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}
	a.closers = append(a.closers, embedder)

	generator, err := llm.NewGeminiLLM(ctx, cfg.AIAPIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't initialize the llm, %w", err)
	}
	a.closers = append(a.closers, generator)
	return embedder, generator, nil
}

func newQueue(ctx context.Context, cfg *config.Config) (ingestion_engine.Queue, error) {
	if cfg.QueueDriver == "rabbitmq" {
		return ingestion_engine.DialRabbitQueue(ctx, cfg.RabbitMQURL, cfg.IngestQueue)
	}
	return ingestion_engine.NewMemoryQueue(cfg.QueueSize), nil
}

// newLimiters returns the per-identity limiter and the per-address limiter
// that runs ahead of authentication. Both share one Redis connection.
func (a *App) newLimiters(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, ratelimit.Limiter, error) {
	if cfg.RedisAddr == "" {
		a.log.Info("REDIS_ADDR not set, rate limiting disabled")
		return ratelimit.Unlimited{}, ratelimit.Unlimited{}, nil
	}
	client, err := ratelimit.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, client)
	return ratelimit.NewFixedWindow(client, cfg.RateLimitPerMinute, time.Minute),
		ratelimit.NewFixedWindow(client, cfg.IPRateLimitPerMinute, time.Minute), nil
}

// Start serves HTTP until Shutdown.
func (a *App) Start() error {
	return a.Server.Start()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Server.Shutdown(ctx)
}

// watchIngestion logs every ingestion outcome.
func (a *App) watchIngestion(ctx context.Context) {
	log := logger.New("ingestion")
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-a.DocProcessor.Results():
			entry := log.WithFields(logrus.Fields{"document_id": res.DocumentID, "chunks": res.Chunks})
			if res.Err != nil {
				entry.WithError(res.Err).Warn("document ingestion failed")
				continue
			}
			entry.Info("document ingestion finished")
		}
	}
}

// Close stops the workers and releases every connection, newest first.
func (a *App) Close() {
	if a.stopWorkers != nil {
		a.stopWorkers()
		a.DocProcessor.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.WithError(err).Warn("close failed")
		}
	}
}
