// Package recordmodel defines the closed data model the runtime operates
// on: record identities, records, the 9-member operation set, transforms,
// and the query expression types the cache evaluates.
package recordmodel

import "fmt"

// Identity names one record: its model type plus its stable local id.
type Identity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// String renders the identity as "type:id", used in log lines and as a
// map key for the inverse index.
func (i Identity) String() string {
	return fmt.Sprintf("%s:%s", i.Type, i.ID)
}

// Equal reports whether two identities name the same record.
func (i Identity) Equal(o Identity) bool {
	return i.Type == o.Type && i.ID == o.ID
}

// RelationshipData holds the value side of one relationship slot: either
// a single identity (to-one), a list of identities (to-many), or neither
// (absent / to-one null). Exactly one of the three applies at a time.
type RelationshipData struct {
	one    *Identity
	many   []Identity
	isMany bool
}

// ToOne builds a to-one relationship payload.
func ToOne(id *Identity) RelationshipData {
	return RelationshipData{one: id}
}

// ToMany builds a to-many relationship payload, preserving order.
func ToMany(ids []Identity) RelationshipData {
	cp := make([]Identity, len(ids))
	copy(cp, ids)
	return RelationshipData{many: cp, isMany: true}
}

// IsMany reports whether this slot holds an ordered list rather than a
// single optional identity.
func (r RelationshipData) IsMany() bool { return r.isMany }

// One returns the to-one identity, or nil if absent or if this slot is
// to-many.
func (r RelationshipData) One() *Identity {
	if r.isMany {
		return nil
	}
	return r.one
}

// Many returns the to-many identity list (nil/empty if this slot is
// to-one).
func (r RelationshipData) Many() []Identity {
	if !r.isMany {
		return nil
	}
	return r.many
}

// Identities returns every identity referenced by this slot, regardless
// of arity — used by inverse-index maintenance to compute the outgoing
// edge set.
func (r RelationshipData) Identities() []Identity {
	if r.isMany {
		return r.many
	}
	if r.one != nil {
		return []Identity{*r.one}
	}
	return nil
}

// Contains reports whether id appears in this slot.
func (r RelationshipData) Contains(id Identity) bool {
	if r.isMany {
		for _, x := range r.many {
			if x.Equal(id) {
				return true
			}
		}
		return false
	}
	return r.one != nil && r.one.Equal(id)
}

// withAdded returns a copy of this to-many slot with id appended if not
// already present. Only valid for to-many slots.
func (r RelationshipData) withAdded(id Identity) RelationshipData {
	if r.Contains(id) {
		return r
	}
	return ToMany(append(append([]Identity{}, r.many...), id))
}

// withRemoved returns a copy of this to-many slot with id removed.
func (r RelationshipData) withRemoved(id Identity) RelationshipData {
	out := make([]Identity, 0, len(r.many))
	for _, x := range r.many {
		if !x.Equal(id) {
			out = append(out, x)
		}
	}
	return ToMany(out)
}
