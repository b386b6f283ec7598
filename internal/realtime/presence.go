package realtime

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/dealer-support/internal/domain"
)

const presenceKey = "support:online"

// Presence tracks which identities currently hold at least one live
// connection. Backed by a Redis hash so the surrounding site can read it
// too; reference counts keep multi-tab sessions correct.
type Presence struct {
	client *redis.Client
	logger *zap.Logger
}

// NewPresence builds the tracker.
func NewPresence(client *redis.Client, logger *zap.Logger) *Presence {
	return &Presence{client: client, logger: logger}
}

// Connect records one more live connection for the identity.
func (p *Presence) Connect(ctx context.Context, identity domain.Identity) {
	if p.client == nil {
		return
	}
	if err := p.client.HIncrBy(ctx, presenceKey, identity.ID, 1).Err(); err != nil {
		p.logger.Warn("presence connect", zap.String("identity", identity.ID), zap.Error(err))
	}
}

// Disconnect records one less live connection, clearing the identity once
// its last connection is gone.
func (p *Presence) Disconnect(ctx context.Context, identity domain.Identity) {
	if p.client == nil {
		return
	}
	remaining, err := p.client.HIncrBy(ctx, presenceKey, identity.ID, -1).Result()
	if err != nil {
		p.logger.Warn("presence disconnect", zap.String("identity", identity.ID), zap.Error(err))
		return
	}
	if remaining <= 0 {
		if err := p.client.HDel(ctx, presenceKey, identity.ID).Err(); err != nil {
			p.logger.Warn("presence cleanup", zap.String("identity", identity.ID), zap.Error(err))
		}
	}
}

// Online lists the identity ids with at least one live connection.
func (p *Presence) Online(ctx context.Context) ([]string, error) {
	if p.client == nil {
		return nil, nil
	}
	return p.client.HKeys(ctx, presenceKey).Result()
}
