// Package opprocessor holds the pure (state, op) -> (inverse, mirrors)
// functions for the 9 canonical operations. Processors never mutate
// anything themselves; internal/cache is the sole writer of record
// state and is responsible for applying the primary op, the inverse it
// records for rollback, and every mirror op this package returns. Each
// operation tag gets its own case in one exhaustive switch, the same
// style internal/query's evaluator uses per comparison operator.
package opprocessor

import (
	"github.com/sourcekit/core/internal/errs"
	"github.com/sourcekit/core/internal/recordmodel"
	"github.com/sourcekit/core/internal/schema"
)

// Store is the read-only view of cache state a processor needs: record
// lookup and the derived inverse-edge index (who points at this id).
type Store interface {
	Get(id recordmodel.Identity) (*recordmodel.Record, bool)
	InverseEdges(id recordmodel.Identity) []Edge
}

// Edge names one back-reference: From.Relationship points at the record
// the edge was looked up for.
type Edge struct {
	From         recordmodel.Identity
	Relationship string
}

// Result is what a processor computes for one applied operation: the
// operation that would undo it, and any mirror operations the schema's
// declared inverse relationships require on the other side.
type Result struct {
	Inverse recordmodel.Operation
	Mirrors []recordmodel.Operation
}

// Process computes the inverse and mirror operations for op against the
// current store state, without applying anything. sch may be nil only
// for operations that never consult relationship declarations (it is
// required for any relationship-affecting op).
func Process(store Store, sch *schema.Schema, allowCreatePlaceholders bool, op recordmodel.Operation) (Result, error) {
	switch op.Op {
	case recordmodel.OpAddRecord:
		return processAddRecord(store, op)
	case recordmodel.OpUpdateRecord:
		return processUpdateRecord(store, op)
	case recordmodel.OpRemoveRecord:
		return processRemoveRecord(store, sch, op)
	case recordmodel.OpReplaceKey:
		return processReplaceKey(store, op)
	case recordmodel.OpReplaceAttribute:
		return processReplaceAttribute(store, op)
	case recordmodel.OpAddToRelatedRecords:
		return processAddToRelatedRecords(store, sch, allowCreatePlaceholders, op)
	case recordmodel.OpRemoveFromRelated:
		return processRemoveFromRelatedRecords(store, sch, op)
	case recordmodel.OpReplaceRelatedRecords:
		return processReplaceRelatedRecords(store, sch, allowCreatePlaceholders, op)
	case recordmodel.OpReplaceRelatedRecord:
		return processReplaceRelatedRecord(store, sch, allowCreatePlaceholders, op)
	default:
		return Result{}, &errs.OperationNotAllowed{Reason: "unknown operation tag: " + string(op.Op)}
	}
}

func processAddRecord(store Store, op recordmodel.Operation) (Result, error) {
	if _, exists := store.Get(op.Record); exists {
		return Result{}, &errs.RecordAlreadyExists{Type: op.Record.Type, ID: op.Record.ID}
	}
	return Result{Inverse: recordmodel.RemoveRecord(op.Record)}, nil
}

func processUpdateRecord(store Store, op recordmodel.Operation) (Result, error) {
	existing, ok := store.Get(op.Record)
	if !ok {
		return Result{}, &errs.RecordNotFound{Type: op.Record.Type, ID: op.Record.ID}
	}
	prevAttrs := map[string]any{}
	for name := range op.Attributes {
		if v, ok := existing.Attribute(name); ok {
			prevAttrs[name] = v
		}
	}
	prevKeys := map[string]string{}
	for name := range op.Keys {
		if v, ok := existing.Keys[name]; ok {
			prevKeys[name] = v
		}
	}
	return Result{Inverse: recordmodel.UpdateRecord(op.Record, prevAttrs, prevKeys)}, nil
}

func processRemoveRecord(store Store, sch *schema.Schema, op recordmodel.Operation) (Result, error) {
	existing, ok := store.Get(op.Record)
	if !ok {
		return Result{}, &errs.RecordNotFound{Type: op.Record.Type, ID: op.Record.ID}
	}
	inverse := recordmodel.AddRecord(existing)

	var mirrors []recordmodel.Operation
	for _, edge := range store.InverseEdges(op.Record) {
		rel, err := sch.Relationship(edge.From.Type, edge.Relationship)
		if err != nil {
			continue
		}
		if rel.Kind == schema.HasMany {
			mirrors = append(mirrors, recordmodel.RemoveFromRelatedRecords(edge.From, edge.Relationship, op.Record))
		} else {
			mirrors = append(mirrors, recordmodel.ReplaceRelatedRecord(edge.From, edge.Relationship, nil))
		}
	}
	return Result{Inverse: inverse, Mirrors: mirrors}, nil
}

func processReplaceKey(store Store, op recordmodel.Operation) (Result, error) {
	existing, ok := store.Get(op.Record)
	if !ok {
		return Result{}, &errs.RecordNotFound{Type: op.Record.Type, ID: op.Record.ID}
	}
	prev := existing.Keys[op.KeyName]
	return Result{Inverse: recordmodel.ReplaceKey(op.Record, op.KeyName, prev)}, nil
}

func processReplaceAttribute(store Store, op recordmodel.Operation) (Result, error) {
	existing, ok := store.Get(op.Record)
	if !ok {
		return Result{}, &errs.RecordNotFound{Type: op.Record.Type, ID: op.Record.ID}
	}
	prev, _ := existing.Attribute(op.Attribute)
	return Result{Inverse: recordmodel.ReplaceAttribute(op.Record, op.Attribute, prev)}, nil
}

// mirrorTarget computes the single mirror operation that keeps
// targetType's declared inverse relationship consistent with an edge
// from-id -> to-id being added (add=true) or removed (add=false).
// It returns ok=false when there is no declared inverse to mirror.
func mirrorTarget(sch *schema.Schema, fromType, relationship string, from, to recordmodel.Identity, add bool) (recordmodel.Operation, bool) {
	inv, ok := sch.InverseOf(fromType, relationship)
	if !ok {
		return recordmodel.Operation{}, false
	}
	// inv is declared on fromType; the mirror targets `to`, using the
	// inverse relationship name on to's own schema entry.
	invRel, err := sch.Relationship(to.Type, inv.Inverse)
	if err != nil {
		return recordmodel.Operation{}, false
	}
	if invRel.Kind == schema.HasMany {
		if add {
			return recordmodel.AddToRelatedRecords(to, inv.Inverse, from), true
		}
		return recordmodel.RemoveFromRelatedRecords(to, inv.Inverse, from), true
	}
	if add {
		id := from
		return recordmodel.ReplaceRelatedRecord(to, inv.Inverse, &id), true
	}
	return recordmodel.ReplaceRelatedRecord(to, inv.Inverse, nil), true
}

func processAddToRelatedRecords(store Store, sch *schema.Schema, allowCreatePlaceholders bool, op recordmodel.Operation) (Result, error) {
	if _, ok := store.Get(op.Record); !ok {
		return Result{}, &errs.RecordNotFound{Type: op.Record.Type, ID: op.Record.ID}
	}
	inverse := recordmodel.RemoveFromRelatedRecords(op.Record, op.Relationship, *op.RelatedID)

	var mirrors []recordmodel.Operation
	_, targetExists := store.Get(*op.RelatedID)
	if targetExists || allowCreatePlaceholders {
		if !targetExists {
			mirrors = append(mirrors, recordmodel.AddRecord(recordmodel.NewRecord(*op.RelatedID)))
		}
		if mop, ok := mirrorTarget(sch, op.Record.Type, op.Relationship, op.Record, *op.RelatedID, true); ok {
			mirrors = append(mirrors, mop)
		}
	}
	return Result{Inverse: inverse, Mirrors: mirrors}, nil
}

func processRemoveFromRelatedRecords(store Store, sch *schema.Schema, op recordmodel.Operation) (Result, error) {
	if _, ok := store.Get(op.Record); !ok {
		return Result{}, &errs.RecordNotFound{Type: op.Record.Type, ID: op.Record.ID}
	}
	inverse := recordmodel.AddToRelatedRecords(op.Record, op.Relationship, *op.RelatedID)

	var mirrors []recordmodel.Operation
	if _, ok := store.Get(*op.RelatedID); ok {
		if mop, ok := mirrorTarget(sch, op.Record.Type, op.Relationship, op.Record, *op.RelatedID, false); ok {
			mirrors = append(mirrors, mop)
		}
	}
	return Result{Inverse: inverse, Mirrors: mirrors}, nil
}

func processReplaceRelatedRecords(store Store, sch *schema.Schema, allowCreatePlaceholders bool, op recordmodel.Operation) (Result, error) {
	existing, ok := store.Get(op.Record)
	if !ok {
		return Result{}, &errs.RecordNotFound{Type: op.Record.Type, ID: op.Record.ID}
	}
	var oldIDs []recordmodel.Identity
	if rel, ok := existing.Relationship(op.Relationship); ok {
		oldIDs = rel.Many()
	}
	inverse := recordmodel.ReplaceRelatedRecords(op.Record, op.Relationship, oldIDs)

	oldSet := map[recordmodel.Identity]bool{}
	for _, id := range oldIDs {
		oldSet[id] = true
	}
	newSet := map[recordmodel.Identity]bool{}
	for _, id := range op.RelatedIDs {
		newSet[id] = true
	}

	var mirrors []recordmodel.Operation
	for _, id := range op.RelatedIDs {
		if oldSet[id] {
			continue
		}
		_, targetExists := store.Get(id)
		if !targetExists && !allowCreatePlaceholders {
			continue
		}
		if !targetExists {
			mirrors = append(mirrors, recordmodel.AddRecord(recordmodel.NewRecord(id)))
		}
		if mop, ok := mirrorTarget(sch, op.Record.Type, op.Relationship, op.Record, id, true); ok {
			mirrors = append(mirrors, mop)
		}
	}
	for _, id := range oldIDs {
		if newSet[id] {
			continue
		}
		if _, targetExists := store.Get(id); !targetExists {
			continue
		}
		if mop, ok := mirrorTarget(sch, op.Record.Type, op.Relationship, op.Record, id, false); ok {
			mirrors = append(mirrors, mop)
		}
	}
	return Result{Inverse: inverse, Mirrors: mirrors}, nil
}

func processReplaceRelatedRecord(store Store, sch *schema.Schema, allowCreatePlaceholders bool, op recordmodel.Operation) (Result, error) {
	existing, ok := store.Get(op.Record)
	if !ok {
		return Result{}, &errs.RecordNotFound{Type: op.Record.Type, ID: op.Record.ID}
	}
	var oldID *recordmodel.Identity
	if rel, ok := existing.Relationship(op.Relationship); ok {
		oldID = rel.One()
	}
	inverse := recordmodel.ReplaceRelatedRecord(op.Record, op.Relationship, oldID)

	var mirrors []recordmodel.Operation
	if oldID != nil && (op.RelatedID == nil || !oldID.Equal(*op.RelatedID)) {
		if _, targetExists := store.Get(*oldID); targetExists {
			if mop, ok := mirrorTarget(sch, op.Record.Type, op.Relationship, op.Record, *oldID, false); ok {
				mirrors = append(mirrors, mop)
			}
		}
	}
	if op.RelatedID != nil && (oldID == nil || !oldID.Equal(*op.RelatedID)) {
		_, targetExists := store.Get(*op.RelatedID)
		if targetExists || allowCreatePlaceholders {
			if !targetExists {
				mirrors = append(mirrors, recordmodel.AddRecord(recordmodel.NewRecord(*op.RelatedID)))
			}
			if mop, ok := mirrorTarget(sch, op.Record.Type, op.Relationship, op.Record, *op.RelatedID, true); ok {
				mirrors = append(mirrors, mop)
			}
		}
	}
	return Result{Inverse: inverse, Mirrors: mirrors}, nil
}
