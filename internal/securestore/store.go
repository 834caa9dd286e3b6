// Package securestore provides the durable, encrypted key-value storage the
// session core persists into.
package securestore

import (
	"context"
	"errors"
)

// Keys written by the application. Values are namespaced by the configured prefix.
const (
	KeyUser     = "user"
	KeyDeviceID = "deviceId"
)

// DefaultNamespace keeps application keys apart from anything else on the device.
const DefaultNamespace = "MI_CIUDAD_"

var (
	// ErrNotFound is returned by Get when the key holds no value.
	ErrNotFound = errors.New("securestore: not found")
	// ErrCorrupt indicates a stored value that cannot be decoded or authenticated.
	ErrCorrupt = errors.New("securestore: corrupt value")
)

// KV is the asynchronous-capable key-value contract of device storage.
// Delete of an absent key succeeds.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type namespaced struct {
	next   KV
	prefix string
}

// Namespaced prefixes every key before handing it to next.
func Namespaced(next KV, prefix string) KV {
	if prefix == "" {
		return next
	}
	return &namespaced{next: next, prefix: prefix}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, error) {
	return n.next.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.next.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.next.Delete(ctx, n.prefix+key)
}
