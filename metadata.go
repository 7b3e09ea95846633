package entwine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ProjectBarks/entwine/chunk"
	"github.com/ProjectBarks/entwine/endpoint"
	"github.com/ProjectBarks/entwine/model"
)

// MetadataPath is the tree metadata object under the endpoint root.
const MetadataPath = "ept.json"

// Reprojection tags the coordinate transformation applied before
// indexing. The transformation itself happens upstream of this module;
// the tag records provenance.
type Reprojection struct {
	// In is the input SRS. Empty means "from file headers".
	In string `json:"in,omitempty"`
	// Out is the indexed SRS.
	Out string `json:"out"`
	// Hammer forces In over whatever the file headers claim.
	Hammer bool `json:"hammer,omitempty"`
}

// NewReprojection validates the tag.
func NewReprojection(in, out string, hammer bool) (*Reprojection, error) {
	if out == "" {
		return nil, fmt.Errorf("empty output projection")
	}
	if hammer && in == "" {
		return nil, fmt.Errorf("hammer option specified without in SRS")
	}
	return &Reprojection{In: in, Out: out, Hammer: hammer}, nil
}

func (r *Reprojection) String() string {
	var s string
	switch {
	case r.Hammer:
		s = r.In + " (OVERRIDING file headers)"
	case r.In != "":
		s = "(from file headers, or a default of '" + r.In + "')"
	default:
		s = "(from file headers)"
	}
	return s + " -> " + r.Out
}

// Metadata is everything a reader needs to interpret a tree: schema,
// bounds, partitioning, coordinate delta, and codec.
type Metadata struct {
	Schema       model.Schema    `json:"schema"`
	Bounds       model.Bounds    `json:"bounds"`
	BoundsCubic  model.Bounds    `json:"boundsCubic"`
	Structure    model.Structure `json:"structure"`
	Delta        model.Delta     `json:"delta"`
	DataType     string          `json:"dataType"`
	Reprojection *Reprojection   `json:"reprojection,omitempty"`
}

// DataIO resolves the codec tag.
func (m *Metadata) DataIO() (chunk.DataIO, error) {
	return chunk.DataIOFromName(m.DataType)
}

// PointOf extracts a payload's coordinates through the schema. The
// closure feeds chunk decoding.
func (m *Metadata) PointOf() func([]byte) model.Point {
	schema := m.Schema
	xi, _ := schema.Find("X")
	yi, _ := schema.Find("Y")
	zi, _ := schema.Find("Z")
	return func(data []byte) model.Point {
		ref := model.PointRef{Schema: &schema, Data: data}
		return model.Point{X: ref.FieldAs(xi), Y: ref.FieldAs(yi), Z: ref.FieldAs(zi)}
	}
}

// Save persists the metadata.
func (m *Metadata) Save(ctx context.Context, ep endpoint.Endpoint) error {
	blob, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return ep.Put(ctx, MetadataPath, blob)
}

// LoadMetadata reads and validates ept.json.
func LoadMetadata(ctx context.Context, ep endpoint.Endpoint) (*Metadata, error) {
	blob, err := ep.Get(ctx, MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", MetadataPath, err)
	}

	var m Metadata
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetadataPath, err)
	}
	if err := m.Structure.Validate(); err != nil {
		return nil, err
	}
	if !m.BoundsCubic.IsCubic() {
		return nil, fmt.Errorf("%s: indexed bounds are not cubic", MetadataPath)
	}
	for _, dim := range []string{"X", "Y", "Z"} {
		if !m.Schema.Contains(dim) {
			return nil, fmt.Errorf("%w: schema is missing dimension %s", ErrInvalidSchema, dim)
		}
	}
	if _, err := m.DataIO(); err != nil {
		return nil, err
	}
	return &m, nil
}
