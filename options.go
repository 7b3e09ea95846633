package entwine

import (
	"runtime"

	"github.com/ProjectBarks/entwine/model"
)

type options struct {
	schema       model.Schema
	bounds       model.Bounds
	structure    model.Structure
	delta        model.Delta
	dataType     string
	reprojection *Reprojection
	workers      int
	logger       *Logger
}

func defaultOptions() options {
	return options{
		schema:    model.DefaultSchema(),
		structure: model.DefaultStructure(),
		dataType:  "laszip",
		workers:   runtime.GOMAXPROCS(0),
		logger:    NoopLogger(),
	}
}

// Option configures Builder and Reader construction.
type Option func(*options)

// WithSchema sets the stored point schema. It must contain X, Y, and Z
// dimensions.
func WithSchema(s model.Schema) Option {
	return func(o *options) { o.schema = s }
}

// WithBounds sets the native bounds of the tree. The indexed root is
// the cubified form.
func WithBounds(b model.Bounds) Option {
	return func(o *options) { o.bounds = b }
}

// WithStructure overrides the storage partitioning.
func WithStructure(s model.Structure) Option {
	return func(o *options) { o.structure = s }
}

// WithDelta sets the scale/offset between native and stored
// coordinates.
func WithDelta(d model.Delta) Option {
	return func(o *options) { o.delta = d }
}

// WithDataType selects the chunk codec tag ("laszip" or "binary").
func WithDataType(name string) Option {
	return func(o *options) { o.dataType = name }
}

// WithReprojection records the reprojection tag in the metadata.
func WithReprojection(r *Reprojection) Option {
	return func(o *options) { o.reprojection = r }
}

// WithWorkers sets the size of the build worker pool.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger injects a logger. The default discards everything.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
