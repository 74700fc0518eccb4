// File: cmd/factory.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/internal/browser"
	"github.com/xkilldash9x/wayfarer/internal/config"
	"github.com/xkilldash9x/wayfarer/internal/observability"
	"github.com/xkilldash9x/wayfarer/internal/store"
	"github.com/xkilldash9x/wayfarer/internal/worldgraph"
)

// Components holds the services a command needs and releases them in order.
type Components struct {
	DBPool  *pgxpool.Pool
	Store   *store.Store
	Graph   *worldgraph.Graph
	Browser *browser.Manager
}

// componentOptions selects which components a command builds.
type componentOptions struct {
	// RequireStore fails initialization when postgres.url is empty.
	RequireStore bool
	// SkipGraph leaves Graph nil.
	SkipGraph bool
	Browser   bool
}

// Shutdown closes all components, browser first.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()

	if c.Browser != nil {
		// The command context may already be cancelled; shutdown still needs time.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Browser.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		}
	}
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}
}

// newComponents wires the database, world graph and browser for a command.
func newComponents(ctx context.Context, cfg *config.Config, opts componentOptions) (*Components, error) {
	logger := observability.GetLogger()
	components := &Components{}

	// Release whatever was created if a later step fails.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	if cfg.Postgres.URL == "" && opts.RequireStore {
		initializationErr = fmt.Errorf("database URL is not configured (hint: set WAYFARER_POSTGRES_URL)")
		return nil, initializationErr
	}

	if cfg.Postgres.URL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
			return nil, initializationErr
		}
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize database store: %w", err)
			return nil, initializationErr
		}
		if err := dbStore.EnsureSchema(ctx); err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.Store = dbStore
		logger.Debug("Store service initialized.")
	}

	if !opts.SkipGraph {
		graph, err := loadGraph(ctx, cfg, components.Store, logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.Graph = graph
	}

	if opts.Browser {
		manager, err := browser.NewManager(ctx, logger, cfg)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize browser manager: %w", err)
			return nil, initializationErr
		}
		components.Browser = manager
	}

	return components, nil
}

// loadGraph prefers the database world and falls back to world.file.
func loadGraph(ctx context.Context, cfg *config.Config, s *store.Store, logger *zap.Logger) (*worldgraph.Graph, error) {
	if s != nil {
		g, err := s.LoadGraph(ctx, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load world graph from database: %w", err)
		}
		if g.NodeCount() > 0 || cfg.World.File == "" {
			return g, nil
		}
		logger.Info("Database world is empty, falling back to world file.", zap.String("file", cfg.World.File))
	}
	g, err := worldgraph.LoadYAMLFile(cfg.World.File, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load world graph from %s: %w", cfg.World.File, err)
	}
	return g, nil
}
