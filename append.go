package entwine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ProjectBarks/entwine/chunk"
	"github.com/ProjectBarks/entwine/model"
)

// RegisterAppend registers a named set of appended dimensions. The
// schema is stored after Omit filtering; re-registering an existing
// set with the same schema is a no-op, and every conflict - a native
// dimension, a dimension owned by another set, or a schema change -
// fails with ErrInvalidSchema.
func (r *Reader) RegisterAppend(ctx context.Context, name string, schema model.Schema) error {
	if name == "" {
		return fmt.Errorf("%w: appended-dimension set name cannot be empty", ErrInvalidSchema)
	}

	schema = schema.Filter(model.OmitDim)
	if schema.Empty() {
		return fmt.Errorf("%w: append set %q has no dimensions", ErrInvalidSchema, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.appends[name]; ok {
		if !schema.Equals(existing) {
			return fmt.Errorf("%w: cannot change the schema of existing append set %q", ErrInvalidSchema, name)
		}
		return nil
	}

	for _, dim := range schema.Dims {
		if r.meta.Schema.Contains(dim.Name) {
			return fmt.Errorf("%w: cannot re-register native dimension %q", ErrInvalidSchema, dim.Name)
		}
		for other, otherSchema := range r.appends {
			if otherSchema.Contains(dim.Name) {
				return fmt.Errorf("%w: dimension %q was already appended in set %q", ErrInvalidSchema, dim.Name, other)
			}
		}
	}

	r.log.InfoContext(ctx, "registering append set", "name", name)
	r.appends[name] = schema

	blob, err := json.Marshal(r.appends)
	if err != nil {
		return err
	}
	return r.ep.Put(ctx, DimensionsPath, blob)
}

// AppendSchema returns the registered schema of a set.
func (r *Reader) AppendSchema(name string) (model.Schema, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.appends[name]
	return s, ok
}

// appendPath is the per-chunk payload object of a set.
func appendPath(name string, key model.ChunkKey) string {
	return fmt.Sprintf("d/%s/%s.bin", name, key.Filename())
}

// Write distributes appended rows to the chunks of the points a query
// matches, in the query's deterministic order, and returns the number
// of points written.
//
// The caller's schema (params.Schema) must equal the registered set
// schema up to an Omit marker dimension; a row whose Omit field is
// nonzero is padding for edge effects and is consumed without being
// written.
func (r *Reader) Write(ctx context.Context, name string, data []byte, params QueryParams) (uint64, error) {
	if len(data) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	registered, ok := r.appends[name]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: unknown append set %q", ErrInvalidSchema, name)
	}

	rowSchema := registered
	if !params.Schema.Empty() {
		if !params.Schema.Filter(model.OmitDim).Equals(registered) {
			return 0, fmt.Errorf("%w: schema does not match append set %q", ErrInvalidSchema, name)
		}
		rowSchema = params.Schema
	}

	rowSize := rowSchema.PointSize()
	if uint64(len(data))%rowSize != 0 {
		return 0, fmt.Errorf("%w: append data is not a whole number of %d-byte rows", ErrInvalidSchema, rowSize)
	}
	numRows := uint64(len(data)) / rowSize

	omitIdx, hasOmit := rowSchema.Find(model.OmitDim)

	// Copy plan from caller rows into stored rows (Omit stripped).
	type rowDim struct{ src, dst int }
	var plan []rowDim
	for dst, dim := range registered.Dims {
		src, _ := rowSchema.Find(dim.Name)
		plan = append(plan, rowDim{src: src, dst: dst})
	}
	storedSize := registered.PointSize()

	// Run the selection; the projection schema is irrelevant here, so
	// the stored schema stands in.
	probe := params
	probe.Schema = model.Schema{}
	q, err := r.Query(probe)
	if err != nil {
		return 0, err
	}

	var (
		row     uint64
		written uint64
		pending []byte
		record  = make([]byte, storedSize)
	)

	err = q.walkPoints(ctx,
		func(_ model.ChunkKey, _ []byte) error {
			if row >= numRows {
				return fmt.Errorf("%w: append data covers %d points but the query matches more",
					ErrInvalidQuery, numRows)
			}
			src := data[row*rowSize : (row+1)*rowSize]
			row++

			if hasOmit {
				ref := model.PointRef{Schema: &rowSchema, Data: src}
				if ref.FieldAs(omitIdx) != 0 {
					return nil
				}
			}

			srcRef := model.PointRef{Schema: &rowSchema, Data: src}
			for _, pd := range plan {
				registered.SetFieldAs(record, pd.dst, srcRef.FieldAs(pd.src))
			}
			pending = append(pending, record...)
			written++
			return nil
		},
		func(key model.ChunkKey) error {
			if len(pending) == 0 {
				return nil
			}
			blob := make([]byte, 8, 8+len(pending))
			binary.LittleEndian.PutUint64(blob, uint64(len(pending))/storedSize)
			blob = append(blob, pending...)

			compressed, err := chunk.Binary.Compress(blob)
			if err != nil {
				return err
			}
			if err := r.ep.Put(ctx, appendPath(name, key), compressed); err != nil {
				return err
			}
			pending = pending[:0]
			return nil
		},
	)
	if err != nil {
		return 0, err
	}
	return written, nil
}

// ReadAppend loads a set's rows for one chunk, aligned with the
// chunk's canonical cell order.
func (r *Reader) ReadAppend(ctx context.Context, name string, key model.ChunkKey) ([]byte, uint64, error) {
	r.mu.Lock()
	registered, ok := r.appends[name]
	r.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: unknown append set %q", ErrInvalidSchema, name)
	}

	raw, err := r.ep.Get(ctx, appendPath(name, key))
	if err != nil {
		return nil, 0, err
	}
	blob, err := chunk.Binary.Decompress(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: append set %q chunk %s: %v", ErrInvalidChunk, name, key.Filename(), err)
	}
	if len(blob) < 8 {
		return nil, 0, fmt.Errorf("%w: append set %q chunk %s truncated", ErrInvalidChunk, name, key.Filename())
	}
	n := binary.LittleEndian.Uint64(blob)
	rows := blob[8:]
	if uint64(len(rows)) != n*registered.PointSize() {
		return nil, 0, fmt.Errorf("%w: append set %q chunk %s row count mismatch", ErrInvalidChunk, name, key.Filename())
	}
	return rows, n, nil
}
