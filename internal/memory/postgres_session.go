package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// PostgresSession persists graph ops into Postgres for deployments that
// already run the simulation database. Schema:
//
//	CREATE TABLE npc_action_outcomes (
//	    id         BIGSERIAL PRIMARY KEY,
//	    npc_id     TEXT NOT NULL,
//	    event_type TEXT NOT NULL,
//	    success    BOOLEAN NOT NULL,
//	    magnitude  DOUBLE PRECISION NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE TABLE npc_director_confidence (
//	    npc_id     TEXT PRIMARY KEY,
//	    value      DOUBLE PRECISION NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresSession struct {
	db *sql.DB
}

// NewPostgresSession opens and pings a connection.
func NewPostgresSession(dsn string) (*PostgresSession, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: postgres ping failed: %w", err)
	}

	slog.Info("Memory graph connected (postgres)")
	return &PostgresSession{db: db}, nil
}

// Apply persists one op.
func (s *PostgresSession) Apply(ctx context.Context, op Op) error {
	switch op.Method {
	case MethodActionOutcome:
		npcID, _ := op.Params["npcId"].(string)
		eventType, _ := op.Params["eventType"].(string)
		success, _ := op.Params["success"].(bool)
		magnitude, _ := op.Params["magnitude"].(float64)

		_, err := s.db.ExecContext(ctx,
			`INSERT INTO npc_action_outcomes (npc_id, event_type, success, magnitude)
			 VALUES ($1, $2, $3, $4)`,
			npcID, eventType, success, magnitude)
		return err
	default:
		return fmt.Errorf("memory: unknown op method %q", op.Method)
	}
}

// DirectorConfidence reads the stored reading and applies age decay.
func (s *PostgresSession) DirectorConfidence(ctx context.Context, npcID string) (float64, bool, error) {
	var value float64
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM npc_director_confidence WHERE npc_id = $1`,
		npcID).Scan(&value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return DecayConfidence(value, time.Since(updatedAt)), true, nil
}

func (s *PostgresSession) Close() error { return s.db.Close() }
