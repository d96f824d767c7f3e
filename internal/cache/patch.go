package cache

import (
	"github.com/sourcekit/core/internal/errs"
	"github.com/sourcekit/core/internal/opprocessor"
	"github.com/sourcekit/core/internal/recordmodel"
)

// AppliedOp pairs an applied operation with the operation that would
// undo it, returned in PatchResult.AppliedOperations.
type AppliedOp struct {
	Operation recordmodel.Operation
	Inverse   recordmodel.Operation
	// Mirror is true when this entry was synthesized from the schema's
	// declared inverse relationship rather than requested directly.
	Mirror bool
}

// PatchResult is the batch result of one Patch call.
type PatchResult struct {
	AppliedOperations []AppliedOp
}

// Patch atomically applies a batch of operations. Either every
// operation (and every schema-synthesized mirror) applies, or none
// does — a failure midway through the batch leaves the cache
// byte-for-byte as it was. addRecord racing a remote id resolves to a
// plain RecordAlreadyExists here, same as any other local conflict
// (see DESIGN.md).
func (c *Cache) Patch(ops []recordmodel.Operation) (PatchResult, error) {
	c.mu.Lock()
	working := c.store.clone()

	var applied []AppliedOp
	for _, op := range ops {
		entries, err := c.applyOneWithMirrors(working, op, false)
		if err != nil {
			c.mu.Unlock()
			return PatchResult{}, err
		}
		applied = append(applied, entries...)
	}

	c.store = working
	c.mu.Unlock()

	c.notifyPatch(applied)
	return PatchResult{AppliedOperations: applied}, nil
}

// applyOneWithMirrors computes and applies op against working, then
// recursively applies every mirror op the schema requires, in the
// resolved ordering from DESIGN.md's Open Question (b): the forward op
// first, each mirror immediately after.
func (c *Cache) applyOneWithMirrors(working *recordStore, op recordmodel.Operation, mirror bool) ([]AppliedOp, error) {
	result, err := opprocessor.Process(working, c.schema, c.allowCreatePlaceholders, op)
	if err != nil {
		return nil, err
	}
	if err := applyMutation(working, op); err != nil {
		return nil, err
	}
	entries := []AppliedOp{{Operation: op, Inverse: result.Inverse, Mirror: mirror}}
	for _, mop := range result.Mirrors {
		sub, err := c.applyOneWithMirrors(working, mop, true)
		if err != nil {
			return nil, err
		}
		entries = append(entries, sub...)
	}
	return entries, nil
}

// applyMutation performs the actual store mutation for one operation.
// It assumes opprocessor.Process has already validated preconditions
// (record exists, etc.) against the same store state.
func applyMutation(s *recordStore, op recordmodel.Operation) error {
	switch op.Op {
	case recordmodel.OpAddRecord:
		r := recordmodel.NewRecord(op.Record)
		for k, v := range op.Attributes {
			r.Attributes[k] = v
		}
		for k, v := range op.Keys {
			r.Keys[k] = v
		}
		s.put(r)
		return nil

	case recordmodel.OpUpdateRecord:
		existing, ok := s.Get(op.Record)
		if !ok {
			return &errs.RecordNotFound{Type: op.Record.Type, ID: op.Record.ID}
		}
		updated := existing.Clone()
		for k, v := range op.Attributes {
			updated.Attributes[k] = v
		}
		for k, v := range op.Keys {
			updated.Keys[k] = v
		}
		s.put(updated)
		return nil

	case recordmodel.OpRemoveRecord:
		existing, ok := s.Get(op.Record)
		if !ok {
			return &errs.RecordNotFound{Type: op.Record.Type, ID: op.Record.ID}
		}
		for relName, data := range existing.Relationships {
			for _, target := range data.Identities() {
				s.removeEdge(target, opprocessor.Edge{From: op.Record, Relationship: relName})
			}
		}
		s.delete(op.Record)
		return nil

	case recordmodel.OpReplaceKey:
		existing, ok := s.Get(op.Record)
		if !ok {
			return &errs.RecordNotFound{Type: op.Record.Type, ID: op.Record.ID}
		}
		updated := existing.Clone()
		updated.Keys[op.KeyName] = op.KeyValue
		s.put(updated)
		return nil

	case recordmodel.OpReplaceAttribute:
		existing, ok := s.Get(op.Record)
		if !ok {
			return &errs.RecordNotFound{Type: op.Record.Type, ID: op.Record.ID}
		}
		updated := existing.Clone()
		updated.Attributes[op.Attribute] = op.Value
		s.put(updated)
		return nil

	case recordmodel.OpAddToRelatedRecords:
		return applyRelationshipChange(s, op.Record, op.Relationship, func(data recordmodel.RelationshipData) recordmodel.RelationshipData {
			if data.Contains(*op.RelatedID) {
				return data
			}
			return recordmodel.ToMany(append(append([]recordmodel.Identity{}, data.Many()...), *op.RelatedID))
		})

	case recordmodel.OpRemoveFromRelated:
		return applyRelationshipChange(s, op.Record, op.Relationship, func(data recordmodel.RelationshipData) recordmodel.RelationshipData {
			out := make([]recordmodel.Identity, 0, len(data.Many()))
			for _, id := range data.Many() {
				if !id.Equal(*op.RelatedID) {
					out = append(out, id)
				}
			}
			return recordmodel.ToMany(out)
		})

	case recordmodel.OpReplaceRelatedRecords:
		return applyRelationshipChange(s, op.Record, op.Relationship, func(recordmodel.RelationshipData) recordmodel.RelationshipData {
			return recordmodel.ToMany(op.RelatedIDs)
		})

	case recordmodel.OpReplaceRelatedRecord:
		return applyRelationshipChange(s, op.Record, op.Relationship, func(recordmodel.RelationshipData) recordmodel.RelationshipData {
			return recordmodel.ToOne(op.RelatedID)
		})

	default:
		return &errs.OperationNotAllowed{Reason: "unknown operation tag: " + string(op.Op)}
	}
}

// applyRelationshipChange mutates one relationship slot via transform,
// then reconciles the inverse-edge index against the before/after
// identity sets.
func applyRelationshipChange(s *recordStore, id recordmodel.Identity, relationship string, transform func(recordmodel.RelationshipData) recordmodel.RelationshipData) error {
	existing, ok := s.Get(id)
	if !ok {
		return &errs.RecordNotFound{Type: id.Type, ID: id.ID}
	}
	updated := existing.Clone()
	before, _ := updated.Relationship(relationship)
	after := transform(before)
	updated.Relationships[relationship] = after
	s.put(updated)
	updateEdges(s, id, relationship, before.Identities(), after.Identities())
	return nil
}
