package chunk

import (
	"context"
	"errors"
	"fmt"

	"github.com/ProjectBarks/entwine/endpoint"
	"github.com/ProjectBarks/entwine/model"
)

// Store moves chunks through an endpoint with the tree's codec. It
// satisfies the cache's IO dependency.
type Store struct {
	ep        endpoint.Endpoint
	dataIO    DataIO
	pointSize uint64
	pointOf   func([]byte) model.Point
}

// NewStore creates a chunk store. pointOf extracts a payload's
// coordinates; it comes from the tree's schema.
func NewStore(ep endpoint.Endpoint, dataIO DataIO, pointSize uint64, pointOf func([]byte) model.Point) *Store {
	return &Store{ep: ep, dataIO: dataIO, pointSize: pointSize, pointOf: pointOf}
}

// Filename is the object path of key's chunk under the endpoint root.
func (s *Store) Filename(key model.ChunkKey) string {
	return key.Filename() + s.dataIO.Ext()
}

// Load reads and decodes the chunk at key. A missing chunk is returned
// as empty contents.
func (s *Store) Load(ctx context.Context, key model.ChunkKey) (*Contents, error) {
	raw, err := s.ep.Get(ctx, s.Filename(key))
	if errors.Is(err, endpoint.ErrNotFound) {
		return NewContents(key, s.pointSize), nil
	}
	if err != nil {
		return nil, err
	}

	data, err := s.dataIO.Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %v", ErrInvalid, key.Filename(), err)
	}
	return Decode(data, key, s.pointSize, s.pointOf)
}

// Flush encodes and writes contents.
func (s *Store) Flush(ctx context.Context, contents *Contents) error {
	data, err := s.dataIO.Compress(contents.Encode())
	if err != nil {
		return err
	}
	return s.ep.Put(ctx, s.Filename(contents.Key), data)
}

// Exists probes the endpoint for key's chunk.
func (s *Store) Exists(ctx context.Context, key model.ChunkKey) (bool, error) {
	_, ok, err := s.ep.TryGetSize(ctx, s.Filename(key))
	return ok, err
}
