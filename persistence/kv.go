package persistence

import (
	"context"

	"github.com/jrsteele09/go-vault/kvstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// KV persists a container as a single JSON entry in a Storage, keyed by the
// container name. Writes to one entry are assumed atomic, so there is no
// backup entry and no recovery: an undecodable entry fails the load.
type KV struct {
	storage Storage
	name    string
	log     zerolog.Logger
}

// NewKV returns a KV backend for the named container.
func NewKV(storage Storage, name string) *KV {
	return &KV{
		storage: storage,
		name:    name,
		log:     log.Logger.With().Str("container", name).Logger(),
	}
}

// KVFactory returns a kvstore.BackendFactory building KV backends on storage.
func KVFactory(storage Storage) kvstore.BackendFactory {
	return func(name string) (kvstore.Backend, error) {
		return NewKV(storage, name), nil
	}
}

// Load decodes the stored entry, or writes initial when there is none.
func (k *KV) Load(ctx context.Context, initial map[string]any) (map[string]any, error) {
	raw, ok, err := k.storage.GetItem(ctx, k.name)
	if err != nil {
		return nil, errors.Wrap(err, "KV.Load")
	}
	if !ok {
		data := initial
		if data == nil {
			data = map[string]any{}
		}
		if err := k.Flush(ctx, data); err != nil {
			return nil, errors.Wrap(err, "KV.Load initial flush")
		}
		return data, nil
	}
	data, err := kvstore.DecodeSnapshot([]byte(raw))
	if err != nil {
		k.log.Error().Err(err).Msg("KV.Load entry undecodable")
		return nil, errors.Wrap(err, "KV.Load")
	}
	return data, nil
}

// Flush encodes data and upserts the entry.
func (k *KV) Flush(ctx context.Context, data map[string]any) error {
	b, err := kvstore.EncodeSnapshot(data)
	if err != nil {
		return errors.Wrap(err, "KV.Flush")
	}
	if err := k.storage.SetItem(ctx, k.name, string(b)); err != nil {
		return errors.Wrap(err, "KV.Flush")
	}
	return nil
}

// Delete removes the entry, reporting kvstore.ErrNotFound if there is none.
func (k *KV) Delete(ctx context.Context) error {
	_, ok, err := k.storage.GetItem(ctx, k.name)
	if err != nil {
		return errors.Wrap(err, "KV.Delete")
	}
	if !ok {
		return errors.Wrap(kvstore.ErrNotFound, "KV.Delete "+k.name)
	}
	if err := k.storage.RemoveItem(ctx, k.name); err != nil {
		return errors.Wrap(err, "KV.Delete")
	}
	return nil
}

// Close is a no-op; the storage is owned by the caller.
func (k *KV) Close() error {
	return nil
}
