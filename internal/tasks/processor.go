package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cmsauth/internal/repository"
)

// TypePurgeSessions removes refresh sessions whose expiry has passed.
const TypePurgeSessions = "purge_sessions"

type Processor struct {
	sessions repository.SessionRepository
	logger   zerolog.Logger
	now      func() time.Time
}

type TaskPayload struct {
	Type        string `json:"type"`
	RequestedAt string `json:"requestedAt"`
}

func NewProcessor(sessions repository.SessionRepository, logger zerolog.Logger) *Processor {
	return &Processor{
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	var payload TaskPayload
	if err := decodePayload(msg.Values, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	switch payload.Type {
	case TypePurgeSessions:
		_, err := p.PurgeSessions(ctx)
		return err
	default:
		p.logger.Warn().Str("type", payload.Type).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

// PurgeSessions deletes expired sessions and reports how many were removed.
func (p *Processor) PurgeSessions(ctx context.Context) (int64, error) {
	removed, err := p.sessions.DeleteExpired(ctx, p.now())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	p.logger.Info().Int64("removed", removed).Msg("expired sessions purged")
	return removed, nil
}

func decodePayload(values map[string]interface{}, out *TaskPayload) error {
	bytes, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}
