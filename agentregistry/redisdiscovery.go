package agentregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// RedisBackend is an optional Redis-backed discovery layer for agent cards,
// adapted from the teacher's TTL-heartbeat registration pattern
// (pkg/discovery/redis.go's Register/FindAgent/RefreshHeartbeat): agents
// register themselves with a TTL so a crashed or partitioned agent silently
// falls out of the pool instead of requiring an explicit deregistration
// step, and skills are indexed into Redis sets for cheap candidate lookup.
//
// RedisBackend does not itself implement AgentScorer or the other adapter
// interfaces; LoadInto copies its live agent set into a Registry, which
// does the scoring.
type RedisBackend struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	log       logger.Logger
}

// NewRedisBackend connects to redisURL and namespaces all keys under
// namespace (defaulting to "ccos:agents" when empty).
func NewRedisBackend(redisURL, namespace string, log logger.Logger) (*RedisBackend, error) {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	if namespace == "" {
		namespace = "ccos:agents"
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, rtfserrors.Wrap("agentregistry.NewRedisBackend", rtfserrors.KindUserError, err)
	}
	return &RedisBackend{
		client:    redis.NewClient(opts),
		namespace: namespace,
		ttl:       60 * time.Second,
		log:       log.WithComponent("ccos/agentregistry/redis"),
	}, nil
}

// SetTTL overrides the registration TTL (default 60s).
func (b *RedisBackend) SetTTL(ttl time.Duration) { b.ttl = ttl }

func (b *RedisBackend) agentKey(agentID string) string {
	return fmt.Sprintf("%s:card:%s", b.namespace, agentID)
}

func (b *RedisBackend) skillKey(skill string) string {
	return fmt.Sprintf("%s:skill:%s", b.namespace, skill)
}

// Register stores card with a fresh TTL and indexes it under each of its
// skills, mirroring the teacher's per-capability SADD/EXPIRE pipeline.
func (b *RedisBackend) Register(ctx context.Context, card AgentCard) error {
	data, err := json.Marshal(card)
	if err != nil {
		return rtfserrors.Wrap("agentregistry.RedisBackend.Register", rtfserrors.KindSchemaMismatch, err)
	}
	if err := b.client.Set(ctx, b.agentKey(card.AgentID), data, b.ttl).Err(); err != nil {
		return rtfserrors.Wrap("agentregistry.RedisBackend.Register", rtfserrors.KindTransientProviderError, err)
	}

	pipe := b.client.Pipeline()
	for _, skill := range tokenizeAll(card.Skills) {
		key := b.skillKey(skill)
		pipe.SAdd(ctx, key, card.AgentID)
		pipe.Expire(ctx, key, b.ttl+10*time.Second)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return rtfserrors.Wrap("agentregistry.RedisBackend.Register", rtfserrors.KindTransientProviderError, err)
	}

	b.log.Info("registered agent card", logger.Fields{"agent_id": card.AgentID, "skills": len(card.Skills)})
	return nil
}

// RefreshHeartbeat re-registers card's existing entry with a renewed TTL,
// the mechanism agents are expected to call on a periodic timer to stay in
// the pool.
func (b *RedisBackend) RefreshHeartbeat(ctx context.Context, card AgentCard) error {
	return b.Register(ctx, card)
}

// Unregister removes an agent and its skill index entries immediately,
// rather than waiting for the TTL to lapse.
func (b *RedisBackend) Unregister(ctx context.Context, card AgentCard) error {
	if err := b.client.Del(ctx, b.agentKey(card.AgentID)).Err(); err != nil {
		return rtfserrors.Wrap("agentregistry.RedisBackend.Unregister", rtfserrors.KindTransientProviderError, err)
	}
	pipe := b.client.Pipeline()
	for _, skill := range tokenizeAll(card.Skills) {
		pipe.SRem(ctx, b.skillKey(skill), card.AgentID)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return rtfserrors.Wrap("agentregistry.RedisBackend.Unregister", rtfserrors.KindTransientProviderError, err)
	}
	return nil
}

// FindBySkill returns every currently-registered agent ID indexed under
// skill; entries whose TTL lapsed are absent, so this is always a live view.
func (b *RedisBackend) FindBySkill(ctx context.Context, skill string) ([]string, error) {
	ids, err := b.client.SMembers(ctx, b.skillKey(skill)).Result()
	if err != nil {
		return nil, rtfserrors.Wrap("agentregistry.RedisBackend.FindBySkill", rtfserrors.KindTransientProviderError, err)
	}
	return ids, nil
}

// LoadInto fetches every card listed under skills from Redis and registers
// each one into reg, giving the in-memory Registry a point-in-time snapshot
// of the Redis-backed pool to score against.
func (b *RedisBackend) LoadInto(ctx context.Context, reg *Registry, skills []string) error {
	seen := make(map[string]struct{})
	for _, skill := range skills {
		ids, err := b.FindBySkill(ctx, skill)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			data, err := b.client.Get(ctx, b.agentKey(id)).Result()
			if err == redis.Nil {
				continue // TTL lapsed between the skill-set read and this lookup
			}
			if err != nil {
				return rtfserrors.Wrap("agentregistry.RedisBackend.LoadInto", rtfserrors.KindTransientProviderError, err)
			}
			var card AgentCard
			if err := json.Unmarshal([]byte(data), &card); err != nil {
				return rtfserrors.Wrap("agentregistry.RedisBackend.LoadInto", rtfserrors.KindSchemaMismatch, err)
			}
			if err := reg.Register(card); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases the underlying Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
