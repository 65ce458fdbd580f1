package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GoMarketProtocol/marketgate/internal/model"
	"github.com/redis/go-redis/v9"
)

// stateTTL keeps terminal order records around long enough for clients to
// poll them, without growing the keyspace forever.
const stateTTL = 7 * 24 * time.Hour

// RedisOrderStore persists order lifecycle state as JSON, one key per order
// hash, and maintains a per-maker index for listing.
type RedisOrderStore struct {
	client *RedisClient
}

func NewRedisOrderStore(client *RedisClient) *RedisOrderStore {
	return &RedisOrderStore{client: client}
}

func stateKey(orderHash string) string {
	return fmt.Sprintf("order:%s:state", orderHash)
}

func makerKey(maker string) string {
	return fmt.Sprintf("maker:%s:orders", maker)
}

func (s *RedisOrderStore) SaveState(ctx context.Context, state *model.OrderState) error {
	if state == nil {
		return nil
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}

	pipe := s.client.Client.Pipeline()
	pipe.Set(ctx, stateKey(state.OrderHash), payload, stateTTL)
	if state.Maker != "" {
		pipe.SAdd(ctx, makerKey(state.Maker), state.OrderHash)
		pipe.Expire(ctx, makerKey(state.Maker), stateTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisOrderStore) GetState(ctx context.Context, orderHash string) (*model.OrderState, error) {
	raw, err := s.client.Client.Get(ctx, stateKey(orderHash)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state model.OrderState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ListByMaker returns the known states for a maker's tracked orders. Hashes
// whose state key already expired are skipped.
func (s *RedisOrderStore) ListByMaker(ctx context.Context, maker string) ([]*model.OrderState, error) {
	hashes, err := s.client.Client.SMembers(ctx, makerKey(maker)).Result()
	if err != nil {
		return nil, err
	}

	pipe := s.client.Client.Pipeline()
	cmds := make([]*redis.StringCmd, len(hashes))
	for i, h := range hashes {
		cmds[i] = pipe.Get(ctx, stateKey(h))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	states := make([]*model.OrderState, 0, len(hashes))
	for _, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var state model.OrderState
		if err := json.Unmarshal(raw, &state); err != nil {
			continue
		}
		states = append(states, &state)
	}
	return states, nil
}
