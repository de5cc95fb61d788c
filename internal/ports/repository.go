package ports

import (
	"context"
	"errors"
)

// Origin distinguishes a user's own scripts from shared ones.
type Origin string

const (
	OriginUser   Origin = "user"
	OriginPublic Origin = "public"
)

// ErrScriptNotFound is returned when a script does not exist.
var ErrScriptNotFound = errors.New("script not found")

// Script is a stored rotina.
type Script struct {
	Path   string
	Source string
	Origin Origin
}

// ScriptRepository stores rotinas.
type ScriptRepository interface {
	// List returns user scripts first, then public ones.
	List(ctx context.Context) ([]Script, error)

	// Get returns one script. An empty origin searches user then public.
	Get(ctx context.Context, origin Origin, path string) (Script, error)

	// Save creates or replaces a script.
	Save(ctx context.Context, s Script) error

	// Delete removes a script.
	Delete(ctx context.Context, origin Origin, path string) error
}

// KeyValueStore is a flat string store.
type KeyValueStore interface {
	// Get returns the values present for keys; missing keys are omitted.
	Get(ctx context.Context, keys ...string) (map[string]string, error)

	// Set writes every pair.
	Set(ctx context.Context, values map[string]string) error

	// Remove deletes keys. Missing keys are not an error.
	Remove(ctx context.Context, keys ...string) error
}
