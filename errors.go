package entwine

import (
	"errors"

	"github.com/ProjectBarks/entwine/chunk"
	"github.com/ProjectBarks/entwine/manifest"
)

var (
	// ErrInvalidQuery indicates a malformed depth range or otherwise
	// contradictory query parameters.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInvalidSchema indicates an append-schema mismatch, an unknown
	// dimension, or an attempt to re-register a native dimension.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrInvalidManifest indicates manifests whose sizes disagree
	// during a merge, or a remote manifest failing its integrity check.
	ErrInvalidManifest = manifest.ErrInvalid

	// ErrInvalidChunk indicates a codec failure, a truncated chunk
	// file, or a depth inconsistency in entwine-ids.
	ErrInvalidChunk = chunk.ErrInvalid

	// ErrOverflow indicates a point that could not be placed by the
	// maximum depth. Insertion reports overflow through counters; this
	// sentinel exists for callers that surface those counters as
	// errors.
	ErrOverflow = errors.New("point overflow")
)
