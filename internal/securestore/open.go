package securestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures the storage stack.
type Options struct {
	Backend   string
	Dir       string
	Namespace string
	Secret    string
	Redis     *redis.Client
	RedisTTL  time.Duration
}

// Open builds backend, sealing and namespacing in that order.
func Open(opts Options) (KV, error) {
	var base KV
	switch opts.Backend {
	case BackendFile, "":
		fs, err := NewFileStore(opts.Dir)
		if err != nil {
			return nil, err
		}
		base = fs
	case BackendRedis:
		if opts.Redis == nil {
			return nil, errors.New("securestore: redis backend requires a client")
		}
		base = NewRedisStore(opts.Redis, opts.RedisTTL)
	case BackendMemory:
		base = NewMemory()
	default:
		return nil, fmt.Errorf("securestore: unknown backend %q", opts.Backend)
	}
	kv, err := Sealed(base, []byte(opts.Secret))
	if err != nil {
		return nil, err
	}
	return Namespaced(kv, opts.Namespace), nil
}
