package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements ProfileStore and CallRecorder against a pgx pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects a pool to the given database URL and verifies the
// connection with a ping.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// AgentProfile loads the agent row joined with its owning client.
func (s *Postgres) AgentProfile(ctx context.Context, agentID string) (AgentProfile, error) {
	const q = `
		SELECT a.id, c.id, a.system_prompt, a.greeting, a.voice_id, a.model
		FROM voice_agents a
		JOIN clients c ON c.id = a.owner_id
		WHERE a.id = $1`

	var p AgentProfile
	err := s.pool.QueryRow(ctx, q, agentID).Scan(
		&p.ID, &p.OwnerID, &p.SystemPrompt, &p.Greeting, &p.VoiceID, &p.Model)
	if errors.Is(err, pgx.ErrNoRows) {
		return AgentProfile{}, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	if err != nil {
		return AgentProfile{}, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	return p, nil
}

// ServiceCredentials returns the owner's API keys keyed by service name.
func (s *Postgres) ServiceCredentials(ctx context.Context, ownerID string, services ...string) (map[string]string, error) {
	const q = `
		SELECT service_name, api_key
		FROM api_keys
		WHERE owner_id = $1 AND service_name = ANY($2)`

	rows, err := s.pool.Query(ctx, q, ownerID, services)
	if err != nil {
		return nil, fmt.Errorf("load credentials for %s: %w", ownerID, err)
	}
	defer rows.Close()

	creds := make(map[string]string, len(services))
	for rows.Next() {
		var service, key string
		if err := rows.Scan(&service, &key); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds[service] = key
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return creds, nil
}

// CompleteCall stamps the call_logs row for the SID. Unknown SIDs are
// logged and ignored so teardown never fails the session.
func (s *Postgres) CompleteCall(ctx context.Context, callSID string) error {
	const q = `
		UPDATE call_logs
		SET status = 'completed', ended_at = now()
		WHERE call_sid = $1 AND status <> 'completed'`

	tag, err := s.pool.Exec(ctx, q, callSID)
	if err != nil {
		return fmt.Errorf("complete call %s: %w", callSID, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("no call log row updated", "call_sid", callSID)
	}
	return nil
}
