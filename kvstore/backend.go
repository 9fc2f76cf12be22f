package kvstore

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Backend defines the durable storage behind a Container. Implementations
// must be safe to call from the container's flush goroutine while Load has
// returned; the container never runs two Flush calls at once.
//
// Load: Returns the persisted data, or seeds storage with initial on first run.
// Corruption is recovered inside Load wherever the medium allows it.
//
// Flush: Persists the complete data set.
//
// Delete: Removes all durable copies.
type Backend interface {

	// Load returns the data the store should start with.
	Load(ctx context.Context, initial map[string]any) (map[string]any, error)

	// Flush serialises data and commits it durably.
	Flush(ctx context.Context, data map[string]any) error

	// Delete removes the persisted data. Deleting storage that does not exist
	// returns an error wrapping ErrNotFound.
	Delete(ctx context.Context) error

	// Close releases any handles held by the backend.
	Close() error
}

// BackendFactory builds the Backend for a named container.
type BackendFactory func(name string) (Backend, error)

// EncodeSnapshot serialises data as a JSON object.
func EncodeSnapshot(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "EncodeSnapshot json.Marshal")
	}
	return b, nil
}

// DecodeSnapshot parses a JSON object. Anything else, including null, is
// reported as ErrCorruptSnapshot.
func DecodeSnapshot(b []byte) (map[string]any, error) {
	if !json.Valid(b) {
		return nil, errors.Wrap(ErrCorruptSnapshot, "invalid JSON")
	}
	var v any
	if err := decodeJSON(b, &v); err != nil {
		return nil, errors.Wrap(ErrCorruptSnapshot, err.Error())
	}
	data, ok := v.(map[string]any)
	if !ok {
		return nil, errors.Wrapf(ErrCorruptSnapshot, "snapshot is %T, not an object", v)
	}
	return data, nil
}
