package registry

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Service is one provider entry as exposed to the admin surface.
type Service struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// Registry holds the shared provider-enablement state. The settings surface
// mutates it; the dispatch path only snapshots it. When a Redis client is
// attached, toggles are written through so the settings survive a restart.
type Registry struct {
	mu       sync.Mutex
	order    []string
	services map[string]*Service

	rdb    *redis.Client
	rdbKey string
}

// New returns a registry with the default provider set. AWS starts disabled
// unless toggled on via AWS_TRANSCRIBE_ENABLED.
func New() *Registry {
	r := &Registry{services: make(map[string]*Service)}
	r.add("google", "Google STT", false)
	r.add("vertex", "Gemini (Vertex AI)", true)
	r.add("gemini", "Gemini (API)", false)
	r.add("aws", "AWS Transcribe (beta)", envBool("AWS_TRANSCRIBE_ENABLED"))
	return r
}

func (r *Registry) add(key, label string, enabled bool) {
	r.order = append(r.order, key)
	r.services[key] = &Service{Key: key, Label: label, Enabled: enabled}
}

// AttachRedis loads persisted enabled flags and enables write-through for
// later toggles. Keys live in one hash under prefix+"services".
func (r *Registry) AttachRedis(client *redis.Client, prefix string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := prefix + "services"
	flags, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rdb = client
	r.rdbKey = key
	for k, v := range flags {
		if svc, ok := r.services[k]; ok {
			svc.Enabled = v == "1"
		}
	}
	return nil
}

// List returns the services in registration order.
func (r *Registry) List() []Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []Service {
	out := make([]Service, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, *r.services[key])
	}
	return out
}

// SetEnabled toggles one provider and returns the updated list. Unknown keys
// are ignored, reported by the second return value.
func (r *Registry) SetEnabled(key string, enabled bool) ([]Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[key]
	if ok {
		svc.Enabled = enabled
		r.persistLocked(key, enabled)
	}
	return r.listLocked(), ok
}

func (r *Registry) persistLocked(key string, enabled bool) {
	if r.rdb == nil {
		return
	}
	val := "0"
	if enabled {
		val = "1"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.HSet(ctx, r.rdbKey, key, val).Err(); err != nil {
		log.Printf("Registry: failed to persist %s=%s: %v", key, val, err)
	}
}

// IsEnabled reports whether one provider is currently enabled.
func (r *Registry) IsEnabled(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[key]
	return ok && svc.Enabled
}

// Snapshot returns the enabled provider keys in registration order. Dispatch
// reads this once per segment; later toggles do not affect the returned set.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []string
	for _, key := range r.order {
		if r.services[key].Enabled {
			keys = append(keys, key)
		}
	}
	return keys
}

func envBool(name string) bool {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
