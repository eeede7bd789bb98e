package rtc

import (
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/jupyterlab/rtc/rx"
)

// GetFunc returns the record stream of a table. Store.Observe is one.
type GetFunc func(s *Schema) rx.Observable[[]*Record]

// Pipeline computes a stream of DatastoreUpdates from record streams. A
// pipeline does nothing until its result is subscribed to, normally by
// Connect.
type Pipeline func(get GetFunc) rx.Observable[DatastoreUpdates]

type pipelineOptions struct {
	newID func() string
}

type PipelineOption func(o *pipelineOptions)

// WithIDGenerator replaces the random UUIDs that Helpers.Create assigns to new
// records.
func WithIDGenerator(f func() string) PipelineOption {
	return func(o *pipelineOptions) {
		o.newID = f
	}
}

// Helpers is handed to the function passed to NewPipeline.
type Helpers struct {
	get     GetFunc
	schemas map[string]*Schema
	newID   func() string
}

// NewPipeline declares a pipeline reading the given schemas. fn is called
// once per subscription; a panic in fn fails that subscription.
func NewPipeline(schemas []*Schema, fn func(h *Helpers) rx.Observable[DatastoreUpdates], opts ...PipelineOption) Pipeline {
	o := pipelineOptions{newID: NewID}
	for _, opt := range opts {
		opt(&o)
	}
	declared := make(map[string]*Schema, len(schemas))
	for _, s := range schemas {
		declared[s.id] = s
	}
	return func(get GetFunc) rx.Observable[DatastoreUpdates] {
		return rx.Defer(func() rx.Observable[DatastoreUpdates] {
			return fn(&Helpers{
				get:     get,
				schemas: declared,
				newID:   o.newID,
			})
		})
	}
}

// Records returns the record stream of a declared schema. Asking for an
// undeclared schema panics.
func (h *Helpers) Records(s *Schema) rx.Observable[[]*Record] {
	if h.schemas[s.id] != s {
		panic(fmt.Errorf("pipeline did not declare schema %s", s.id))
	}
	return h.get(s)
}

// Create is like the package-level Create, using the pipeline's id generator.
func (h *Helpers) Create(s *Schema, fields RecordUpdate) (string, DatastoreUpdates) {
	return create(s, h.newID(), fields)
}

func (h *Helpers) Update(s *Schema, tu TableUpdate) DatastoreUpdates {
	return Update(s, tu)
}

func (h *Helpers) Merge(updates ...DatastoreUpdates) DatastoreUpdates {
	return Merge(updates...)
}

// NewID returns a random record id.
func NewID() string {
	return uuid.NewString()
}

// Create returns a fresh record id and the updates that create a record with
// that id and the given initial field values.
func Create(s *Schema, fields RecordUpdate) (string, DatastoreUpdates) {
	return create(s, NewID(), fields)
}

func create(s *Schema, id string, fields RecordUpdate) (string, DatastoreUpdates) {
	ru := maps.Clone(fields)
	if ru == nil {
		ru = RecordUpdate{}
	}
	return id, DatastoreUpdates{s.id: TableUpdate{id: ru}}
}

// Update wraps a table update into DatastoreUpdates for s.
func Update(s *Schema, tu TableUpdate) DatastoreUpdates {
	if tu == nil {
		tu = TableUpdate{}
	}
	return DatastoreUpdates{s.id: tu}
}

// Combine runs several pipelines as one. Their emissions are interleaved in
// the order they happen; each is still applied as its own transaction.
func Combine(pipelines ...Pipeline) Pipeline {
	return func(get GetFunc) rx.Observable[DatastoreUpdates] {
		srcs := make([]rx.Observable[DatastoreUpdates], len(pipelines))
		for i, p := range pipelines {
			srcs[i] = p(get)
		}
		return rx.Merge(srcs...)
	}
}
