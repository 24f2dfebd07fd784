package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSession persists graph ops into Redis: action outcomes append to a
// capped per-NPC list, confidence readings live in per-NPC hashes.
type RedisSession struct {
	rdb *redis.Client
}

// NewRedisSession connects and pings; the caller decides whether to fall
// back to the in-memory session on error.
func NewRedisSession(addr, password string, db int) (*RedisSession, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("memory: redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Memory graph connected (redis)", "addr", addr, "db", db)
	return &RedisSession{rdb: rdb}, nil
}

func outcomesKey(npcID string) string   { return "mesh:outcomes:" + npcID }
func confidenceKey(npcID string) string { return "mesh:confidence:" + npcID }

// Apply persists one op.
func (s *RedisSession) Apply(ctx context.Context, op Op) error {
	switch op.Method {
	case MethodActionOutcome:
		npcID, _ := op.Params["npcId"].(string)
		if npcID == "" {
			npcID = "unknown"
		}
		payload, err := json.Marshal(op.Params)
		if err != nil {
			return err
		}
		pipe := s.rdb.TxPipeline()
		pipe.LPush(ctx, outcomesKey(npcID), payload)
		pipe.LTrim(ctx, outcomesKey(npcID), 0, 499)
		_, err = pipe.Exec(ctx)
		return err
	default:
		return fmt.Errorf("memory: unknown op method %q", op.Method)
	}
}

// DirectorConfidence reads the stored confidence hash and applies age decay.
func (s *RedisSession) DirectorConfidence(ctx context.Context, npcID string) (float64, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, confidenceKey(npcID)).Result()
	if err != nil {
		return 0, false, err
	}
	if len(fields) == 0 {
		return 0, false, nil
	}

	var stored float64
	var updatedAt time.Time
	if _, err := fmt.Sscanf(fields["value"], "%f", &stored); err != nil {
		return 0, false, fmt.Errorf("memory: bad confidence value for %s: %w", npcID, err)
	}
	if ts, err := time.Parse(time.RFC3339, fields["updatedAt"]); err == nil {
		updatedAt = ts
	}

	return DecayConfidence(stored, time.Since(updatedAt)), true, nil
}

// SetDirectorConfidence stores a fresh reading (used by graph maintenance
// jobs and tests).
func (s *RedisSession) SetDirectorConfidence(ctx context.Context, npcID string, value float64) error {
	return s.rdb.HSet(ctx, confidenceKey(npcID), map[string]interface{}{
		"value":     fmt.Sprintf("%f", value),
		"updatedAt": time.Now().UTC().Format(time.RFC3339),
	}).Err()
}

func (s *RedisSession) Close() error { return s.rdb.Close() }
