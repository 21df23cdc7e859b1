package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/da/db"
	"github.com/koopa0/da/internal/config"
	"github.com/koopa0/da/internal/database"
	"github.com/koopa0/da/internal/knowledge"
	"github.com/koopa0/da/internal/learning"
	"github.com/koopa0/da/internal/retrieval"
	"github.com/koopa0/da/internal/schema"
	"github.com/koopa0/da/internal/sqlguard"
	"github.com/koopa0/da/internal/store"
	"github.com/koopa0/da/internal/tools"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	if err := provideStores(a); err != nil {
		return nil, err
	}

	if err := provideSQLSurface(a); err != nil {
		return nil, err
	}

	capture, err := learning.NewCapturePolicy(a.Learnings, a.Knowledge, a.Guard, logger)
	if err != nil {
		return nil, fmt.Errorf("creating capture policy: %w", err)
	}
	a.Capture = capture

	if err := provideTools(a); err != nil {
		return nil, err
	}

	logger.Info("application ready",
		"embedder", cfg.EmbedderModel,
		"dimension", cfg.EmbedderDimension,
		"database", cfg.PostgresDBName,
	)
	return a, nil
}

// provideDBPool runs migrations, then opens the shared connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, err
	}

	return pool, pool.Close, nil
}

// provideGenkit initializes Genkit with the Gemini plugin. The embedder
// is the only model surface this application uses.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	return g, nil
}

// provideStores builds the two vector stores and the domain stores over
// them, then the retrieval orchestrator that merges both.
func provideStores(a *App) error {
	cfg := a.Config

	knowledgeItems, err := newItemStore(a, "knowledge_items")
	if err != nil {
		return err
	}
	learningItems, err := newItemStore(a, "learning_items")
	if err != nil {
		return err
	}

	a.Knowledge, err = knowledge.NewStore(knowledgeItems, cfg.DedupThreshold, a.Logger)
	if err != nil {
		return fmt.Errorf("creating knowledge store: %w", err)
	}

	a.Learnings, err = learning.NewStore(learningItems, cfg.DedupThreshold, a.Logger)
	if err != nil {
		return fmt.Errorf("creating learning store: %w", err)
	}

	a.Orchestrator, err = retrieval.New(a.Knowledge, a.Learnings, retrieval.Options{
		KnowledgeK:     cfg.KnowledgeTopK,
		LearningsK:     cfg.LearningsTopK,
		MergedMax:      cfg.MergedMax,
		DedupThreshold: cfg.DedupThreshold,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("creating retrieval orchestrator: %w", err)
	}

	return nil
}

func newItemStore(a *App, table string) (*store.Store, error) {
	cfg := a.Config
	s, err := store.New(a.DBPool, a.Embedder, store.Config{
		Table:         table,
		VectorWeight:  cfg.HybridVectorWeight,
		LexicalWeight: cfg.HybridLexicalWeight,
		Dimension:     cfg.EmbedderDimension,
		EmbedTimeout:  cfg.EmbedTimeout,
		SearchTimeout: cfg.SearchTimeout,
		EmbedRPS:      cfg.EmbedRateLimit,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating %s store: %w", table, err)
	}
	return s, nil
}

// provideSQLSurface builds the schema introspector and the guarded
// read-only executor.
func provideSQLSurface(a *App) error {
	cfg := a.Config

	catalog, err := schema.NewPgCatalog(a.DBPool, cfg.CatalogTimeout)
	if err != nil {
		return fmt.Errorf("creating schema catalog: %w", err)
	}
	a.Introspector, err = schema.New(catalog, cfg.SchemaTTL, a.Logger)
	if err != nil {
		return fmt.Errorf("creating schema introspector: %w", err)
	}

	a.Guard = sqlguard.New(cfg.RowLimitCeiling)
	a.Executor, err = sqlguard.NewExecutor(a.DBPool, a.Guard, cfg.SQLTimeout, a.Logger)
	if err != nil {
		return fmt.Errorf("creating sql executor: %w", err)
	}

	return nil
}

// provideTools creates the tool kit over the assembled stores and
// registers every tool with Genkit.
func provideTools(a *App) error {
	kit, err := tools.NewKit(tools.KitConfig{
		Knowledge:    a.Knowledge,
		Learnings:    a.Learnings,
		Introspector: a.Introspector,
		Executor:     a.Executor,
		Logger:       a.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating tool kit: %w", err)
	}
	if err := kit.Register(a.Genkit); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}
	a.Kit = kit
	return nil
}
