package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/worldgraph"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store persists the world graph and the movement journal in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the world and journal tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const (
	selectNodesSQL = `SELECT id, x, y FROM world_nodes ORDER BY id`
	// Edge insertion order decides ties between equal-cost routes, so edges
	// are replayed in the order they were stored.
	selectEdgesSQL = `SELECT source_id, target_id, kind FROM world_edges ORDER BY id`
)

// LoadGraph builds a world graph from world_nodes and world_edges.
func (s *Store) LoadGraph(ctx context.Context, logger *zap.Logger) (*worldgraph.Graph, error) {
	g := worldgraph.New(logger)

	rows, err := s.pool.Query(ctx, selectNodesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query world nodes: %w", err)
	}
	for rows.Next() {
		var n worldgraph.Node
		if err := rows.Scan(&n.ID, &n.X, &n.Y); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan world node row: %w", err)
		}
		if !g.AddNode(n) {
			s.log.Warn("Skipping duplicate world node.", zap.Int("id", n.ID), zap.Stringer("at", n.Coordinate))
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during world node iteration: %w", err)
	}

	rows, err = s.pool.Query(ctx, selectEdgesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query world edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sourceID, targetID int
			kindName           string
		)
		if err := rows.Scan(&sourceID, &targetID, &kindName); err != nil {
			return nil, fmt.Errorf("failed to scan world edge row: %w", err)
		}
		kind, err := schemas.ParseTransitionKind(kindName)
		if err != nil {
			return nil, fmt.Errorf("world edge %d -> %d: %w", sourceID, targetID, err)
		}
		src, err := g.Node(sourceID)
		if err != nil {
			return nil, fmt.Errorf("world edge source: %w", err)
		}
		dst, err := g.Node(targetID)
		if err != nil {
			return nil, fmt.Errorf("world edge target: %w", err)
		}
		if err := g.AddEdge(src, dst, kind); err != nil {
			if errors.Is(err, worldgraph.ErrDuplicateEdge) {
				s.log.Debug("Skipping duplicate world edge.", zap.Error(err))
				continue
			}
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during world edge iteration: %w", err)
	}

	s.log.Info("World graph loaded.", zap.Int("nodes", g.NodeCount()), zap.Int("edges", g.EdgeCount()))
	return g, nil
}

// SaveGraph replaces the stored world with g in a single transaction.
func (s *Store) SaveGraph(ctx context.Context, g *worldgraph.Graph) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, `TRUNCATE world_edges, world_nodes`); err != nil {
		return fmt.Errorf("failed to clear world tables: %w", err)
	}

	nodes := g.Nodes()
	nodeRows := make([][]interface{}, len(nodes))
	var edgeRows [][]interface{}
	for i, n := range nodes {
		nodeRows[i] = []interface{}{n.ID, n.X, n.Y}
		for _, e := range g.Edges(n) {
			kind, err := e.Kind()
			if err != nil {
				return fmt.Errorf("edge %s -> %s: %w", e.From.Coordinate, e.To.Coordinate, err)
			}
			edgeRows = append(edgeRows, []interface{}{len(edgeRows) + 1, e.From.ID, e.To.ID, kind.String()})
		}
	}

	if err := copyRows(ctx, tx, "world_nodes", []string{"id", "x", "y"}, nodeRows); err != nil {
		return err
	}
	if err := copyRows(ctx, tx, "world_edges", []string{"id", "source_id", "target_id", "kind"}, edgeRows); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("World graph saved.", zap.Int("nodes", len(nodeRows)), zap.Int("edges", len(edgeRows)))
	return nil
}

func copyRows(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", table, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("mismatch in copied %s count: expected %d, got %d", table, len(rows), n)
	}
	return nil
}

const upsertRunSQL = `
        INSERT INTO movement_runs (id, session_id, source_x, source_y, dest_x, dest_y, edges, edges_completed, status, reason, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (id) DO UPDATE SET
            edges_completed = EXCLUDED.edges_completed,
            status = EXCLUDED.status,
            reason = EXCLUDED.reason,
            finished_at = EXCLUDED.finished_at;
    `

// RecordMovement writes or updates the journal entry for a run.
func (s *Store) RecordMovement(ctx context.Context, run schemas.MovementRun) error {
	var finished interface{}
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt
	}
	_, err := s.pool.Exec(ctx, upsertRunSQL,
		run.ID, run.SessionID,
		run.Source.X, run.Source.Y,
		run.Destination.X, run.Destination.Y,
		run.Edges, run.EdgesCompleted,
		run.Status, run.Reason,
		run.StartedAt, finished,
	)
	if err != nil {
		return fmt.Errorf("failed to record movement run %s: %w", run.ID, err)
	}
	return nil
}

const selectRunsSQL = `
        SELECT id, session_id, source_x, source_y, dest_x, dest_y, edges, edges_completed, status, reason, started_at, finished_at
        FROM movement_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]schemas.MovementRun, error) {
	rows, err := s.pool.Query(ctx, selectRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query movement runs: %w", err)
	}
	defer rows.Close()

	var runs []schemas.MovementRun
	for rows.Next() {
		var (
			r        schemas.MovementRun
			finished *time.Time
		)
		err := rows.Scan(
			&r.ID, &r.SessionID,
			&r.Source.X, &r.Source.Y,
			&r.Destination.X, &r.Destination.Y,
			&r.Edges, &r.EdgesCompleted,
			&r.Status, &r.Reason,
			&r.StartedAt, &finished,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movement run row: %w", err)
		}
		if finished != nil {
			r.FinishedAt = *finished
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}
