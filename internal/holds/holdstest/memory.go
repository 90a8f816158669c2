// Package holdstest provides an in-memory sorted-set backend for hold stores.
package holdstest

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements the sorted-set surface of the redis client in memory.
type Redis struct {
	mu    sync.Mutex
	sets  map[string]map[string]float64
	ttls  map[string]time.Duration
	fails map[string]error
}

func NewRedis() *Redis {
	return &Redis{
		sets:  make(map[string]map[string]float64),
		ttls:  make(map[string]time.Duration),
		fails: make(map[string]error),
	}
}

// FailOn makes every later call to op ("ZAdd", "ZRem", ...) return err. A nil err clears it.
func (r *Redis) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fails, op)
		return
	}
	r.fails[op] = err
}

// Members returns a copy of the set stored at key.
func (r *Redis) Members(key string) map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.sets[key]))
	for k, v := range r.sets[key] {
		out[k] = v
	}
	return out
}

// TTL returns the last expiry set on key.
func (r *Redis) TTL(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttls[key]
}

func (r *Redis) HoldKey(bookID string) string {
	return "lib:hold:book:" + bookID
}

func (r *Redis) HoldKeyPattern() string {
	return "lib:hold:book:*"
}

func (r *Redis) ZAdd(ctx context.Context, key, member string, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fails["ZAdd"]; err != nil {
		return err
	}
	set, ok := r.sets[key]
	if !ok {
		set = make(map[string]float64)
		r.sets[key] = set
	}
	set[member] = score
	return nil
}

func (r *Redis) ZCount(ctx context.Context, key, min, max string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fails["ZCount"]; err != nil {
		return 0, err
	}
	var count int64
	for _, score := range r.sets[key] {
		if within(score, min, max) {
			count++
		}
	}
	return count, nil
}

func (r *Redis) ZScore(ctx context.Context, key, member string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fails["ZScore"]; err != nil {
		return 0, err
	}
	score, ok := r.sets[key][member]
	if !ok {
		return 0, redis.Nil
	}
	return score, nil
}

func (r *Redis) ZRem(ctx context.Context, key, member string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fails["ZRem"]; err != nil {
		return 0, err
	}
	if _, ok := r.sets[key][member]; !ok {
		return 0, nil
	}
	delete(r.sets[key], member)
	return 1, nil
}

func (r *Redis) ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fails["ZRemRangeByScore"]; err != nil {
		return 0, err
	}
	var removed int64
	for member, score := range r.sets[key] {
		if within(score, min, max) {
			delete(r.sets[key], member)
			removed++
		}
	}
	return removed, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fails["Expire"]; err != nil {
		return err
	}
	r.ttls[key] = ttl
	return nil
}

func (r *Redis) ScanKeys(ctx context.Context, pattern string, batch int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fails["ScanKeys"]; err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for key := range r.sets {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func within(score float64, min, max string) bool {
	return lowerOK(score, min) && upperOK(score, max)
}

func lowerOK(score float64, bound string) bool {
	switch {
	case bound == "-inf":
		return true
	case strings.HasPrefix(bound, "("):
		return score > parse(bound[1:])
	default:
		return score >= parse(bound)
	}
}

func upperOK(score float64, bound string) bool {
	switch {
	case bound == "+inf":
		return true
	case strings.HasPrefix(bound, "("):
		return score < parse(bound[1:])
	default:
		return score <= parse(bound)
	}
}

func parse(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}
