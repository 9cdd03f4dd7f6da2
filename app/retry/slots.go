package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// SlotStore keeps the id of the one outstanding task per name. Put overwrites,
// Delete only clears the slot if it still holds id.
type SlotStore interface {
	Put(ctx context.Context, name, id string) error
	Get(ctx context.Context, name string) (id string, ok bool, err error)
	Delete(ctx context.Context, name, id string) error
}

// MemorySlots keeps slots for the lifetime of the process.
type MemorySlots struct {
	mu    sync.Mutex
	slots map[string]string
}

func NewMemorySlots() *MemorySlots {
	return &MemorySlots{slots: make(map[string]string)}
}

func (m *MemorySlots) Put(_ context.Context, name, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[name] = id
	return nil
}

func (m *MemorySlots) Get(_ context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.slots[name]
	return id, ok, nil
}

func (m *MemorySlots) Delete(_ context.Context, name, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slots[name] == id {
		delete(m.slots, name)
	}
	return nil
}

// compareAndDelete removes KEYS[1] only when it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSlots keeps slots in redis so an armed task survives a restart.
type RedisSlots struct {
	client *redis.Client
	prefix string
}

func NewRedisSlots(client *redis.Client, prefix string) *RedisSlots {
	if prefix == "" {
		prefix = "retry:"
	}
	return &RedisSlots{client: client, prefix: prefix}
}

func (r *RedisSlots) key(name string) string {
	return r.prefix + name
}

func (r *RedisSlots) Put(ctx context.Context, name, id string) error {
	if err := r.client.Set(ctx, r.key(name), id, 0).Err(); err != nil {
		return fmt.Errorf("failed to store retry slot %q: %w", name, err)
	}
	return nil
}

func (r *RedisSlots) Get(ctx context.Context, name string) (string, bool, error) {
	id, err := r.client.Get(ctx, r.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read retry slot %q: %w", name, err)
	}
	return id, true, nil
}

func (r *RedisSlots) Delete(ctx context.Context, name, id string) error {
	if err := compareAndDelete.Run(ctx, r.client, []string{r.key(name)}, id).Err(); err != nil {
		return fmt.Errorf("failed to clear retry slot %q: %w", name, err)
	}
	return nil
}
