// Package repository stores rotinas. KV keeps them in any key/value store;
// Dir keeps them as files under a user and a public directory.
package repository

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/acolita/rotinas/internal/ports"
)

// ErrReadOnly is returned when writing to an origin the repository only
// reads.
var ErrReadOnly = errors.New("origin is read-only")

// ErrInvalidPath is returned for empty or escaping script paths.
var ErrInvalidPath = errors.New("invalid script path")

var origins = []ports.Origin{ports.OriginUser, ports.OriginPublic}

// cleanPath normalises a script path to slash form without leading or
// trailing separators.
func cleanPath(p string) (string, error) {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return clean, nil
}

func searchOrder(origin ports.Origin) ([]ports.Origin, error) {
	switch origin {
	case "":
		return origins, nil
	case ports.OriginUser, ports.OriginPublic:
		return []ports.Origin{origin}, nil
	default:
		return nil, fmt.Errorf("unknown origin %q", origin)
	}
}
