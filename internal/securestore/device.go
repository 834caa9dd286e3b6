package securestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DeviceID returns the identifier stored for this installation, creating and
// persisting a random one on first use.
func DeviceID(ctx context.Context, kv KV) (string, error) {
	id, err := kv.Get(ctx, KeyDeviceID)
	switch {
	case err == nil && id != "":
		return id, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return "", fmt.Errorf("securestore: load device id: %w", err)
	}
	id = uuid.NewString()
	if err := kv.Set(ctx, KeyDeviceID, id); err != nil {
		return "", fmt.Errorf("securestore: save device id: %w", err)
	}
	return id, nil
}
