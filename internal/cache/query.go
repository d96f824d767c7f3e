package cache

import (
	"github.com/sourcekit/core/internal/errs"
	"github.com/sourcekit/core/internal/query"
	"github.com/sourcekit/core/internal/recordmodel"
)

// Query evaluates every expression in q against the current cache
// state and returns one result per expression, positionally aligned.
// Each element is a *recordmodel.Record, a []*recordmodel.Record, or
// nil.
func (c *Cache) Query(q recordmodel.Query) ([]any, error) {
	out := make([]any, len(q.Expressions))
	for i, expr := range q.Expressions {
		result, err := c.EvaluateExpr(expr)
		if err != nil {
			return nil, err
		}
		out[i] = result
	}
	return out, nil
}

// EvaluateExpr evaluates one query expression, dispatching on its kind.
func (c *Cache) EvaluateExpr(e recordmodel.Expr) (any, error) {
	switch e.Kind {
	case recordmodel.ExprFindRecord:
		return c.findRecord(e)
	case recordmodel.ExprFindRecords:
		return c.findRecords(e)
	case recordmodel.ExprFindRelatedRecord:
		return c.findRelatedRecord(e)
	case recordmodel.ExprFindRelatedRecords:
		return c.findRelatedRecords(e)
	default:
		return nil, &errs.QueryExpressionParseError{Reason: "unknown expression kind"}
	}
}

// findRecord looks up a single identity (raising RecordNotFound if
// missing) or, given a list, silently skips identities that don't
// resolve.
func (c *Cache) findRecord(e recordmodel.Expr) (any, error) {
	if e.Record != nil {
		r, ok := c.Get(*e.Record)
		if !ok {
			return nil, &errs.RecordNotFound{Type: e.Record.Type, ID: e.Record.ID}
		}
		return r, nil
	}
	out := make([]*recordmodel.Record, 0, len(e.RecordList))
	for _, id := range e.RecordList {
		if r, ok := c.Get(id); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// findRecords enumerates every record of e.RecordType, then applies
// filter, sort, page in that fixed order.
func (c *Cache) findRecords(e recordmodel.Expr) (any, error) {
	candidates := c.byType(e.RecordType)
	return query.Evaluate(candidates, e.Filters, e.Sort, e.Page), nil
}

// findRelatedRecord resolves a to-one relationship. A missing source
// record raises RecordNotFound; an absent/null relationship returns nil
// (not an error); a dangling link raises RelatedRecordNotFound.
func (c *Cache) findRelatedRecord(e recordmodel.Expr) (any, error) {
	from, ok := c.Get(e.RelatedFrom)
	if !ok {
		return nil, &errs.RecordNotFound{Type: e.RelatedFrom.Type, ID: e.RelatedFrom.ID}
	}
	data, declared := from.Relationship(e.Relationship)
	if !declared {
		return nil, nil
	}
	target := data.One()
	if target == nil {
		return nil, nil
	}
	r, ok := c.Get(*target)
	if !ok {
		return nil, &errs.RelatedRecordNotFound{Type: target.Type, ID: target.ID}
	}
	return r, nil
}

// findRelatedRecords resolves a to-many relationship, returning []
// (never erroring) when the relation is declared but absent. A missing
// source record still raises RecordNotFound.
func (c *Cache) findRelatedRecords(e recordmodel.Expr) (any, error) {
	from, ok := c.Get(e.RelatedFrom)
	if !ok {
		return nil, &errs.RecordNotFound{Type: e.RelatedFrom.Type, ID: e.RelatedFrom.ID}
	}
	data, _ := from.Relationship(e.Relationship)
	candidates := make([]*recordmodel.Record, 0, len(data.Many()))
	for _, id := range data.Many() {
		if r, ok := c.Get(id); ok {
			candidates = append(candidates, r)
		}
	}
	return query.Evaluate(candidates, e.Filters, e.Sort, e.Page), nil
}
