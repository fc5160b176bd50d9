package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"spi-exam-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SessionStore keeps exam sessions in Redis as JSON under
// exam:session:{visitorID}. Every read slides the expiry forward so the
// ttl acts as an idle lifetime.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Load(ctx context.Context, id string) (domain.ExamSession, error) {
	raw, err := s.client.GetEx(ctx, s.key(id), s.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ExamSession{}, nil
	}
	if err != nil {
		return domain.ExamSession{}, fmt.Errorf("load session: %w", err)
	}
	var session domain.ExamSession
	if err := json.Unmarshal(raw, &session); err != nil {
		// an unreadable record is treated like an expired one
		_ = s.client.Del(ctx, s.key(id)).Err()
		return domain.ExamSession{}, nil
	}
	return session, nil
}

func (s *SessionStore) Save(ctx context.Context, id string, session domain.ExamSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) key(id string) string {
	return "exam:session:" + id
}
