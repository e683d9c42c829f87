package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/school-docs/internal/config"
	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/heuristic"
	"github.com/kirillkom/school-docs/internal/core/ports"
	"github.com/kirillkom/school-docs/internal/core/usecase"
	"github.com/kirillkom/school-docs/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/school-docs/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/school-docs/internal/infrastructure/llm/openai"
	"github.com/kirillkom/school-docs/internal/infrastructure/ocr/readapi"
	"github.com/kirillkom/school-docs/internal/infrastructure/queue/memory"
	"github.com/kirillkom/school-docs/internal/infrastructure/queue/nats"
	"github.com/kirillkom/school-docs/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/school-docs/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/school-docs/internal/infrastructure/resilience"
	"github.com/kirillkom/school-docs/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/school-docs/internal/infrastructure/vision/analyze"
)

const (
	RepositoryPostgres = "postgres"
	RepositorySQLite   = "sqlite"

	QueueNATS   = "nats"
	QueueMemory = "memory"

	LLMOpenAI = "openai"
	LLMOllama = "ollama"
	LLMNone   = "none"
)

type App struct {
	Config config.Config

	Queue   ports.MessageQueue
	Repo    ports.DocumentRepository
	Storage *localfs.Storage

	IngestUC   ports.DocumentIngestor
	ProcessUC  ports.DocumentProcessor
	StatusUC   ports.StatusWriter
	Classifier *usecase.ClassifyUseCase

	// InProcessQueue is set when the queue lives in this process and the API must run the
	// pipeline itself.
	InProcessQueue bool

	closeFns []func()
}

type Option func(*options)

type options struct {
	observer ports.PipelineObserver
}

func WithObserver(observer ports.PipelineObserver) Option {
	return func(o *options) {
		o.observer = observer
	}
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	repo, closeRepo, err := OpenRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closeFns = append(app.closeFns, closeRepo)
	app.Repo = repo

	storage, err := localfs.New(cfg.StoragePath, cfg.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	app.Storage = storage

	executor := resilience.NewExecutor(resilienceConfig(cfg))

	queue, err := openQueue(cfg, executor, app)
	if err != nil {
		return nil, err
	}
	app.Queue = queue

	rules, err := heuristic.LoadRules(cfg.HeuristicRulesPath)
	if err != nil {
		return nil, fmt.Errorf("load heuristic rules: %w", err)
	}
	aiClassifier, err := newAIClassifier(cfg, executor)
	if err != nil {
		return nil, err
	}
	classifier := usecase.NewClassifyUseCase(aiClassifier, heuristic.New(rules))

	var ocr pdftext.PageRecognizer
	if strings.TrimSpace(cfg.OCREndpoint) != "" {
		ocr = readapi.New(readapi.Config{
			Endpoint:     cfg.OCREndpoint,
			APIKey:       cfg.OCRAPIKey,
			PollInterval: cfg.OCRPollInterval,
			MaxPolls:     cfg.OCRMaxPolls,
			Timeout:      cfg.OCRTimeout,
		}, executor)
	} else {
		slog.Warn("ocr_disabled", "reason", "OCR_ENDPOINT is empty; only stored pdf pages can be read")
	}
	var vision ports.VisualAnalyzer
	if strings.TrimSpace(cfg.VisionEndpoint) != "" {
		vision = analyze.New(analyze.Config{
			Endpoint: cfg.VisionEndpoint,
			APIKey:   cfg.VisionAPIKey,
			Timeout:  cfg.VisionTimeout,
		}, executor)
	}

	app.Classifier = classifier
	app.IngestUC = usecase.NewIngestDocumentUseCase(repo, storage, queue)
	app.StatusUC = usecase.NewCompleteDocumentUseCase(repo)
	app.ProcessUC = usecase.NewProcessDocumentUseCase(
		repo,
		pdftext.NewExtractor(ocr, storage),
		vision,
		classifier,
		o.observer,
		domain.PipelineLimits{
			OCRTimeout:      cfg.OCRTimeout,
			VisionTimeout:   cfg.VisionTimeout,
			ClassifyTimeout: cfg.LLMTimeout,
			WriteTimeout:    cfg.WriteTimeout,
		},
	)

	ok = true
	return app, nil
}

// OpenRepository opens the configured document store and ensures its schema.
func OpenRepository(ctx context.Context, cfg config.Config) (ports.DocumentRepository, func(), error) {
	switch cfg.Repository {
	case RepositorySQLite:
		repo, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return repo, func() { _ = repo.Close() }, nil
	case RepositoryPostgres, "":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		repo := postgres.NewDocumentRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown REPOSITORY %q", cfg.Repository)
	}
}

func openQueue(cfg config.Config, executor *resilience.Executor, app *App) (ports.MessageQueue, error) {
	switch cfg.QueueBackend {
	case QueueMemory:
		queue := memory.New(memory.WithWorkers(cfg.MemoryQueueWorkers))
		app.closeFns = append(app.closeFns, queue.Close)
		app.InProcessQueue = true
		return queue, nil
	case QueueNATS, "":
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.closeFns = append(app.closeFns, queue.Close)
		return queue, nil
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}

func newAIClassifier(cfg config.Config, executor *resilience.Executor) (ports.AIClassifier, error) {
	switch cfg.LLMProvider {
	case LLMOpenAI:
		return openai.NewClassifier(openai.Config{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.LLMTemperature,
			MaxTokens:   cfg.LLMMaxTokens,
			Timeout:     cfg.LLMTimeout,
		}, executor), nil
	case LLMOllama:
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, executor)
		return ollama.NewClassifier(client, cfg.LLMTemperature, cfg.LLMMaxTokens), nil
	case LLMNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	if cfg.ResilienceRetryMaxAttempts > 0 {
		out.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	}
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	return out
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
