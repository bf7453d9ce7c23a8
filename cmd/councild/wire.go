package main

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/completion"
	"github.com/fyrsmithlabs/council/internal/config"
	"github.com/fyrsmithlabs/council/internal/consultation"
	"github.com/fyrsmithlabs/council/internal/council"
	"github.com/fyrsmithlabs/council/internal/cycle"
	"github.com/fyrsmithlabs/council/internal/events"
	"github.com/fyrsmithlabs/council/internal/gamedata"
	apihttp "github.com/fyrsmithlabs/council/internal/http"
	"github.com/fyrsmithlabs/council/internal/memory"
	"github.com/fyrsmithlabs/council/internal/memory/memstore"
	"github.com/fyrsmithlabs/council/internal/mongostore"
	"github.com/fyrsmithlabs/council/internal/redact"
	"github.com/fyrsmithlabs/council/internal/router"
	"github.com/fyrsmithlabs/council/internal/similarity"
	"github.com/fyrsmithlabs/council/internal/synthesis"
	"github.com/fyrsmithlabs/council/internal/workflows"
)

// store is what both the memory and the cycle services persist to.
type store interface {
	memory.Store
	cycle.Store
}

// app holds every long-lived component and the functions that release them.
type app struct {
	server    *apihttp.Server
	council   *council.Service
	scheduler *cycle.Scheduler
	local     *workflows.LocalRunner
	worker    worker.Worker

	closeMu sync.Mutex
	closers []func()
}

func (a *app) onClose(f func()) {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	a.closers = append(a.closers, f)
}

// close releases resources in reverse order of acquisition.
func (a *app) close(logger *zap.Logger) {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	logger.Debug("resources released")
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close(logger)
		}
	}()

	st, err := openStore(ctx, cfg, logger, a)
	if err != nil {
		return nil, err
	}

	memOpts := []memory.Option{memory.WithCandidateLimit(cfg.Store.CandidateLimit)}
	if cfg.Similarity.Enabled {
		filter, err := openSimilarity(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func() {
			if err := filter.Close(); err != nil {
				logger.Warn("closing qdrant filter", zap.Error(err))
			}
		})
		memOpts = append(memOpts, memory.WithCandidateFilter(filter))
	}
	mem, err := memory.NewService(st, logger.Named("memory"), memOpts...)
	if err != nil {
		return nil, fmt.Errorf("memory service: %w", err)
	}

	llm, err := completion.NewLLM(completion.Config{
		BaseURL:    cfg.Completion.BaseURL,
		Model:      cfg.Completion.Model,
		APIKey:     cfg.Completion.APIKey.Value(),
		Timeout:    cfg.Completion.Timeout,
		RateLimit:  cfg.Completion.RateLimit,
		MaxRetries: cfg.Completion.MaxRetries,
	}, logger.Named("completion"))
	if err != nil {
		return nil, fmt.Errorf("completion client: %w", err)
	}

	var provider gamedata.Provider = gamedata.Nop{}
	if cfg.GameData.Enabled {
		provider, err = gamedata.NewHTTP(gamedata.Config{
			BaseURL:   cfg.GameData.BaseURL,
			Timeout:   cfg.GameData.Timeout,
			RateLimit: cfg.GameData.RateLimit,
		}, logger.Named("gamedata"))
		if err != nil {
			return nil, fmt.Errorf("game data provider: %w", err)
		}
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.Enabled {
		nc, err := events.Connect(cfg.NATS.URL, logger.Named("events"))
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.onClose(func() {
			if err := nc.Close(); err != nil {
				logger.Warn("closing nats", zap.Error(err))
			}
		})
		publisher = nc
	}

	engine, err := consultation.NewEngine(mem, llm, logger.Named("consultation"),
		consultation.WithGameData(provider),
		consultation.WithBranchTimeout(cfg.Consultation.BranchTimeout),
		consultation.WithMemoryTimeout(cfg.Consultation.MemoryTimeout),
		consultation.WithRoundDeadline(cfg.Consultation.RoundDeadline),
		consultation.WithMaxParallel(cfg.Consultation.MaxParallel),
		consultation.WithMemoryLimit(cfg.Consultation.MemoryLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("consultation engine: %w", err)
	}

	synth, err := synthesis.NewSynthesizer(llm, mem, logger.Named("synthesis"),
		synthesis.WithDecisionContext(cfg.Consultation.DecisionContext))
	if err != nil {
		return nil, fmt.Errorf("synthesizer: %w", err)
	}
	persister, err := synthesis.NewPersister(mem, logger.Named("persister"),
		synthesis.WithPublisher(publisher),
		synthesis.WithPersistTimeout(cfg.Consultation.PersistTimeout))
	if err != nil {
		return nil, fmt.Errorf("persister: %w", err)
	}

	deps := council.Deps{
		Router:      router.NewKeywordClassifier(),
		Consulter:   engine,
		Synthesizer: synth,
		Persister:   persister,
		Feedback:    mem,
	}
	if cfg.Redaction.Enabled {
		r, err := redact.New(logger.Named("redact"))
		if err != nil {
			return nil, fmt.Errorf("redactor: %w", err)
		}
		deps.Redactor = r
	}
	a.council, err = council.NewService(deps, logger.Named("council"))
	if err != nil {
		return nil, fmt.Errorf("council service: %w", err)
	}

	cycles, err := cycle.NewService(st, logger.Named("cycle"))
	if err != nil {
		return nil, fmt.Errorf("cycle service: %w", err)
	}

	if cfg.Cycle.Enabled {
		acts, err := workflows.NewActivities(workflows.ActivityDeps{
			Cycles:      cycles,
			Consulter:   engine,
			Synthesizer: synth,
			Persister:   persister,
			GameData:    provider,
			Publisher:   publisher,
		}, logger.Named("activities"))
		if err != nil {
			return nil, fmt.Errorf("cycle activities: %w", err)
		}
		runner, err := newRunner(cfg, acts, cycles, logger, a)
		if err != nil {
			return nil, err
		}
		a.scheduler, err = cycle.NewScheduler(cycles, runner, logger.Named("scheduler"),
			cycle.WithInterval(cfg.Cycle.CheckInterval),
			cycle.WithRunTimeout(cfg.Cycle.RunTimeout))
		if err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
	}

	a.server, err = apihttp.NewServer(apihttp.Deps{
		Advisor: a.council,
		Cycles:  cycles,
		Memory:  mem,
	}, logger.Named("http"), &apihttp.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("http server: %w", err)
	}

	ok = true
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, a *app) (store, error) {
	if cfg.Store.Backend != config.BackendMongo {
		logger.Warn("using in-memory store; data is lost on restart")
		return memstore.New(), nil
	}
	ms, err := mongostore.Connect(ctx, mongostore.Config{
		URI:      cfg.Store.MongoURI.Value(),
		Database: cfg.Store.Database,
	}, logger.Named("mongo"))
	if err != nil {
		return nil, fmt.Errorf("mongo store: %w", err)
	}
	a.onClose(func() {
		if err := ms.Close(context.Background()); err != nil {
			logger.Warn("closing mongo store", zap.Error(err))
		}
	})
	return ms, nil
}

func openSimilarity(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*similarity.Filter, error) {
	sc := cfg.Similarity
	embedder, err := similarity.NewEmbedder(similarity.EmbedderConfig{
		BaseURL: sc.EmbeddingURL,
		Model:   sc.EmbeddingModel,
		APIKey:  sc.EmbeddingKey.Value(),
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	filter, err := similarity.NewQdrantFilter(ctx, similarity.Config{
		Host:       sc.QdrantHost,
		Port:       sc.QdrantPort,
		UseTLS:     sc.QdrantTLS,
		APIKey:     sc.QdrantAPIKey.Value(),
		Collection: sc.Collection,
		VectorSize: sc.VectorSize,
	}, embedder, logger.Named("similarity"))
	if err != nil {
		return nil, fmt.Errorf("qdrant: %w", err)
	}
	return filter, nil
}

// newRunner returns the Temporal runner, registering a worker on the same
// client, or the in-process runner when Temporal is off.
func newRunner(cfg *config.Config, acts *workflows.Activities, cycles *cycle.Service, logger *zap.Logger, a *app) (cycle.Runner, error) {
	cc := cfg.Cycle
	if !cc.TemporalEnabled {
		lr, err := workflows.NewLocalRunner(acts, cycles, cc.RunTimeout, logger.Named("runner"))
		if err != nil {
			return nil, fmt.Errorf("local runner: %w", err)
		}
		a.local = lr
		return lr, nil
	}

	c, err := client.Dial(client.Options{
		HostPort:  cc.TemporalHost,
		Namespace: cc.TemporalNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	a.onClose(c.Close)

	a.worker = workflows.NewWorker(c, cc.TaskQueue, acts)
	tr, err := workflows.NewTemporalRunner(c, cc.TaskQueue, cycles, logger.Named("runner"))
	if err != nil {
		return nil, fmt.Errorf("temporal runner: %w", err)
	}
	logger.Info("temporal enabled",
		zap.String("host", cc.TemporalHost),
		zap.String("namespace", cc.TemporalNamespace),
		zap.String("task_queue", cc.TaskQueue))
	return tr, nil
}

// start launches the background parts: the Temporal worker, then the
// scheduler that feeds it.
func (a *app) start() error {
	if a.worker != nil {
		if err := a.worker.Start(); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	return nil
}

// stop halts the scheduler and waits for in-flight work: local cycle runs
// and background decision writes.
func (a *app) stop(logger *zap.Logger) {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(); err != nil {
			logger.Warn("stopping scheduler", zap.Error(err))
		}
	}
	if a.local != nil {
		a.local.Wait()
	}
	if a.worker != nil {
		a.worker.Stop()
	}
	a.council.WaitForWrites()
}
