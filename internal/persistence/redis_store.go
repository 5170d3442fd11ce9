package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mvektor/weft/pkg/api"
)

// RedisStore implements RunStore and SessionStore on top of Redis.
// It uses a simple key structure:
//
//	<prefix>run:<id>              => gob-encoded redisRunPayload
//	<prefix>session:<id>          => gob-encoded state map
//	<prefix>idx:all               => SET of all run IDs
//	<prefix>idx:pipeline:<name>   => SET of run IDs for a given pipeline
//	<prefix>idx:status:<status>   => SET of run IDs for a given status
//
// The indexes are best-effort; they are always updated on Save/Update, and
// ListRuns filters by payload so stale index entries are harmless.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var (
	_ RunStore     = (*RedisStore)(nil)
	_ SessionStore = (*RedisStore)(nil)
)

type redisRunPayload struct {
	ID          string
	Pipeline    string
	SessionID   string
	Status      string
	Input       []byte
	Content     []byte
	StepResults []byte
	Extra       []byte
	Error       string
	CreatedAt   int64
	CompletedAt int64
}

// NewRedisStore creates a RedisStore. prefix is optional but recommended
// (e.g. "weft:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "weft:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) keyRun(id string) string          { return s.prefix + "run:" + id }
func (s *RedisStore) keySession(id string) string      { return s.prefix + "session:" + id }
func (s *RedisStore) keyAll() string                   { return s.prefix + "idx:all" }
func (s *RedisStore) keyPipeline(name string) string   { return s.prefix + "idx:pipeline:" + name }
func (s *RedisStore) keyStatus(st api.Status) string   { return s.prefix + "idx:status:" + string(st) }

func encodeRedisRun(rec *api.RunRecord) ([]byte, error) {
	input, content, stepResults, extra, err := encodeRunPayloads(rec)
	if err != nil {
		return nil, err
	}

	payload := redisRunPayload{
		ID:          rec.ID,
		Pipeline:    rec.Pipeline,
		SessionID:   rec.SessionID,
		Status:      string(rec.Status),
		Input:       input,
		Content:     content,
		StepResults: stepResults,
		Extra:       extra,
		Error:       rec.Err,
		CreatedAt:   rec.CreatedAt.UnixNano(),
		CompletedAt: rec.CompletedAt.UnixNano(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisRun(data []byte) (*api.RunRecord, error) {
	if len(data) == 0 {
		return nil, ErrRunNotFound
	}
	var payload redisRunPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, err
	}

	input, err := DecodeValue(payload.Input)
	if err != nil {
		return nil, err
	}
	content, err := DecodeValue(payload.Content)
	if err != nil {
		return nil, err
	}
	stepResults, err := decodeStepResults(payload.StepResults)
	if err != nil {
		return nil, err
	}
	extra, err := decodeExtra(payload.Extra)
	if err != nil {
		return nil, err
	}

	return &api.RunRecord{
		ID:          payload.ID,
		Pipeline:    payload.Pipeline,
		SessionID:   payload.SessionID,
		Status:      api.Status(payload.Status),
		Input:       input,
		Content:     content,
		StepResults: stepResults,
		Extra:       extra,
		Err:         payload.Error,
		CreatedAt:   time.Unix(0, payload.CreatedAt),
		CompletedAt: time.Unix(0, payload.CompletedAt),
	}, nil
}

func (s *RedisStore) SaveRun(rec *api.RunRecord) error {
	return s.writeRun(rec)
}

func (s *RedisStore) UpdateRun(rec *api.RunRecord) error {
	ctx := context.Background()
	exists, err := s.client.Exists(ctx, s.keyRun(rec.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrRunNotFound
	}
	return s.writeRun(rec)
}

func (s *RedisStore) writeRun(rec *api.RunRecord) error {
	ctx := context.Background()

	data, err := encodeRedisRun(rec)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.keyRun(rec.ID), data, 0).Err(); err != nil {
		return err
	}

	// Index updates are best-effort; ListRuns filters by payload anyway.
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), rec.ID)
	pipe.SAdd(ctx, s.keyPipeline(rec.Pipeline), rec.ID)
	pipe.SAdd(ctx, s.keyStatus(rec.Status), rec.ID)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (s *RedisStore) GetRun(id string) (*api.RunRecord, error) {
	ctx := context.Background()

	data, err := s.client.Get(ctx, s.keyRun(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return decodeRedisRun(data)
}

func (s *RedisStore) ListRuns(filter RunFilter) ([]*api.RunRecord, error) {
	ctx := context.Background()

	var ids []string
	var err error

	switch {
	case filter.Pipeline != "" && filter.Status != "":
		ids, err = s.client.SInter(ctx, s.keyPipeline(filter.Pipeline), s.keyStatus(filter.Status)).Result()
	case filter.Pipeline != "":
		ids, err = s.client.SMembers(ctx, s.keyPipeline(filter.Pipeline)).Result()
	case filter.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(filter.Status)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.RunRecord{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.RunRecord{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyRun(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var runs []*api.RunRecord
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		rec, err := decodeRedisRun(data)
		if err != nil {
			return nil, err
		}
		// Stale index entries can surface runs that no longer match.
		if filter.Pipeline != "" && rec.Pipeline != filter.Pipeline {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		runs = append(runs, rec)
	}
	return runs, nil
}

func (s *RedisStore) GetSessionState(sessionID string) (map[string]any, error) {
	ctx := context.Background()

	data, err := s.client.Get(ctx, s.keySession(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	return decodeSessionState(data)
}

func (s *RedisStore) PutSessionState(sessionID string, state map[string]any) error {
	ctx := context.Background()

	data, err := EncodeValue(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.keySession(sessionID), data, 0).Err()
}
