package storage

import (
	"context"
	"errors"
	"fmt"
)

// ReplicaMetaKey names the metadata entry holding the node replica ID.
const ReplicaMetaKey = "replica"

// LoadOrCreateReplicaID returns the replica ID persisted in kv. On first
// start generate is called and its result is stored.
func LoadOrCreateReplicaID(ctx context.Context, kv KVEngine, generate func() string) (string, error) {
	key := MetaKey(ReplicaMetaKey)

	v, err := kv.Get(ctx, key)
	switch {
	case err == nil:
		return string(v), nil
	case !errors.Is(err, ErrKeyNotFound):
		return "", fmt.Errorf("storage: load replica id: %w", err)
	}

	id := generate()
	if err := kv.Write(ctx, NewBatch().Set(key, []byte(id))); err != nil {
		return "", fmt.Errorf("storage: store replica id: %w", err)
	}
	return id, nil
}
