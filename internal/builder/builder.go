// Package builder normalizes caller input into the canonical Query and
// Transform batches a Source pipeline executes. It wraps whatever
// shape a caller hands it — a bare expression or operation, a slice of
// them, a function that receives a fluent builder, or an
// already-built Query/Transform — into the one canonical shape the
// pipeline actually wants.
package builder

import (
	"fmt"

	"github.com/sourcekit/core/internal/idgen"
	"github.com/sourcekit/core/internal/recordmodel"
)

// QueryOption adjusts a Query after it has been normalized, before
// BuildQuery returns it.
type QueryOption func(*recordmodel.Query)

// WithQueryOptions sets Query.Options.
func WithQueryOptions(opts map[string]any) QueryOption {
	return func(q *recordmodel.Query) { q.Options = opts }
}

// WithQueryID forces a specific Query ID instead of a generated one.
func WithQueryID(id string) QueryOption {
	return func(q *recordmodel.Query) { q.ID = id }
}

// QueryBuilder is the fluent surface a builder function term receives.
// Its methods are thin aliases over the recordmodel expression
// constructors.
type QueryBuilder struct{}

func (QueryBuilder) FindRecord(id recordmodel.Identity) recordmodel.Expr {
	return recordmodel.FindRecord(id)
}

func (QueryBuilder) FindRecordsByIdentities(ids []recordmodel.Identity) recordmodel.Expr {
	return recordmodel.FindRecordsByIdentities(ids)
}

func (QueryBuilder) FindRecords(recordType string) recordmodel.Expr {
	return recordmodel.FindRecords(recordType)
}

func (QueryBuilder) FindRelatedRecord(from recordmodel.Identity, relationship string) recordmodel.Expr {
	return recordmodel.FindRelatedRecord(from, relationship)
}

func (QueryBuilder) FindRelatedRecords(from recordmodel.Identity, relationship string) recordmodel.Expr {
	return recordmodel.FindRelatedRecords(from, relationship)
}

// BuildQuery normalizes termsOrFn into a canonical Query. Accepted
// shapes:
//
//   - recordmodel.Expr             — wrapped into a single-expression Query
//   - []recordmodel.Expr           — a multi-expression batch
//   - recordmodel.Query            — returned unchanged if it already
//     carries an ID and no QueryOption overrides were given
//   - func(QueryBuilder) any       — called with a fresh QueryBuilder;
//     its return value is normalized recursively
func BuildQuery(termsOrFn any, opts ...QueryOption) (recordmodel.Query, error) {
	switch v := termsOrFn.(type) {
	case recordmodel.Query:
		if v.ID != "" && len(opts) == 0 {
			return v, nil
		}
		q := v
		if q.ID == "" {
			q.ID = idgen.NewID("query")
		}
		for _, opt := range opts {
			opt(&q)
		}
		return q, nil

	case recordmodel.Expr:
		return BuildQuery([]recordmodel.Expr{v}, opts...)

	case []recordmodel.Expr:
		q := recordmodel.Query{ID: idgen.NewID("query"), Expressions: v}
		for _, opt := range opts {
			opt(&q)
		}
		return q, nil

	case func(QueryBuilder) any:
		return BuildQuery(v(QueryBuilder{}), opts...)

	case nil:
		return recordmodel.Query{}, fmt.Errorf("builder: BuildQuery requires a term, expression, or query")

	default:
		return recordmodel.Query{}, fmt.Errorf("builder: BuildQuery: unsupported term type %T", termsOrFn)
	}
}

// TransformOption adjusts a Transform after normalization.
type TransformOption func(*recordmodel.Transform)

// WithTransformOptions sets Transform.Options.
func WithTransformOptions(opts map[string]any) TransformOption {
	return func(t *recordmodel.Transform) { t.Options = opts }
}

// WithTransformID forces a specific Transform ID instead of a generated one.
func WithTransformID(id string) TransformOption {
	return func(t *recordmodel.Transform) { t.ID = id }
}

// TransformBuilder is the fluent surface a builder function term
// receives when normalizing a transform. Its methods alias the
// recordmodel operation constructors.
type TransformBuilder struct{}

func (TransformBuilder) AddRecord(r *recordmodel.Record) recordmodel.Operation {
	return recordmodel.AddRecord(r)
}

func (TransformBuilder) UpdateRecord(id recordmodel.Identity, attributes map[string]any, keys map[string]string) recordmodel.Operation {
	return recordmodel.UpdateRecord(id, attributes, keys)
}

func (TransformBuilder) RemoveRecord(id recordmodel.Identity) recordmodel.Operation {
	return recordmodel.RemoveRecord(id)
}

func (TransformBuilder) ReplaceKey(id recordmodel.Identity, keyName, keyValue string) recordmodel.Operation {
	return recordmodel.ReplaceKey(id, keyName, keyValue)
}

func (TransformBuilder) ReplaceAttribute(id recordmodel.Identity, attribute string, value any) recordmodel.Operation {
	return recordmodel.ReplaceAttribute(id, attribute, value)
}

func (TransformBuilder) AddToRelatedRecords(id recordmodel.Identity, relationship string, related recordmodel.Identity) recordmodel.Operation {
	return recordmodel.AddToRelatedRecords(id, relationship, related)
}

func (TransformBuilder) RemoveFromRelatedRecords(id recordmodel.Identity, relationship string, related recordmodel.Identity) recordmodel.Operation {
	return recordmodel.RemoveFromRelatedRecords(id, relationship, related)
}

func (TransformBuilder) ReplaceRelatedRecords(id recordmodel.Identity, relationship string, related []recordmodel.Identity) recordmodel.Operation {
	return recordmodel.ReplaceRelatedRecords(id, relationship, related)
}

func (TransformBuilder) ReplaceRelatedRecord(id recordmodel.Identity, relationship string, related *recordmodel.Identity) recordmodel.Operation {
	return recordmodel.ReplaceRelatedRecord(id, relationship, related)
}

// BuildTransform normalizes opsOrFn into a canonical Transform, the
// batch-with-identity the transform log and Cache.Patch both consume.
// Accepted shapes mirror BuildQuery:
// recordmodel.Operation, []recordmodel.Operation, recordmodel.Transform
// (returned unchanged if it carries an ID and no overrides), or
// func(TransformBuilder) any.
func BuildTransform(opsOrFn any, opts ...TransformOption) (recordmodel.Transform, error) {
	switch v := opsOrFn.(type) {
	case recordmodel.Transform:
		if v.ID != "" && len(opts) == 0 {
			return v, nil
		}
		t := v
		if t.ID == "" {
			t.ID = idgen.NewID("transform")
		}
		for _, opt := range opts {
			opt(&t)
		}
		return t, nil

	case recordmodel.Operation:
		return BuildTransform([]recordmodel.Operation{v}, opts...)

	case []recordmodel.Operation:
		t := recordmodel.Transform{ID: idgen.NewID("transform"), Operations: v}
		for _, opt := range opts {
			opt(&t)
		}
		return t, nil

	case func(TransformBuilder) any:
		return BuildTransform(v(TransformBuilder{}), opts...)

	case nil:
		return recordmodel.Transform{}, fmt.Errorf("builder: BuildTransform requires an operation, array, or transform")

	default:
		return recordmodel.Transform{}, fmt.Errorf("builder: BuildTransform: unsupported term type %T", opsOrFn)
	}
}
