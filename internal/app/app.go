// Package app provides application initialization and dependency wiring.
//
// App is the container holding every long-lived component: the database
// pool, the Genkit instance and embedder, both item stores, the retrieval
// orchestrator, the schema introspector, the guarded SQL executor, the
// capture policy, and the registered tool kit. Setup builds it in
// dependency order; Close releases resources in reverse.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/da/internal/config"
	"github.com/koopa0/da/internal/knowledge"
	"github.com/koopa0/da/internal/learning"
	"github.com/koopa0/da/internal/retrieval"
	"github.com/koopa0/da/internal/schema"
	"github.com/koopa0/da/internal/sqlguard"
	"github.com/koopa0/da/internal/tools"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	// Retrieval and learning
	Knowledge    *knowledge.Store
	Learnings    *learning.Store
	Orchestrator *retrieval.Orchestrator
	Capture      *learning.CapturePolicy

	// SQL surface
	Introspector *schema.Introspector
	Guard        *sqlguard.Guard
	Executor     *sqlguard.Executor

	// Tool surface registered with Genkit
	Kit *tools.Kit

	dbCleanup func()
}

// Close releases all resources. Safe to call on a partially built App;
// Setup relies on that for cleanup when initialization fails midway.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down")
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
		a.dbCleanup = nil
	}

	return nil
}
