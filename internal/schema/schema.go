// Package schema declares, per model type, the attributes, keys, and
// relationships the rest of the runtime treats as authoritative. It is
// immutable per version: Upgrade replaces the whole declaration set
// and fires the source kernel's "upgrade" event rather than mutating
// individual models in place.
package schema

import "github.com/sourcekit/core/internal/errs"

// RelKind is hasOne or hasMany.
type RelKind int

const (
	HasOne RelKind = iota
	HasMany
)

// RelationshipDef declares one relationship slot on a model.
type RelationshipDef struct {
	Kind    RelKind
	Types   []string // allowed target model types
	Inverse string   // inverse relationship name on the target, "" if none
}

// AttributeDef declares one attribute slot on a model.
type AttributeDef struct {
	Type string // informational type tag (e.g. "string", "number"); not enforced at runtime
}

// ModelDef declares one model type's attributes, keys, and relationships.
type ModelDef struct {
	Attributes    map[string]AttributeDef
	Keys          map[string]struct{}
	Relationships map[string]RelationshipDef
}

// Schema is an immutable (per version) collection of model declarations.
type Schema struct {
	version   int
	models    map[string]ModelDef
	onUpgrade []func(version int)
}

// New builds a Schema from the given model declarations.
func New(models map[string]ModelDef) *Schema {
	return &Schema{version: 1, models: models}
}

// Version returns the schema's upgrade version, incremented by Upgrade.
func (s *Schema) Version() int { return s.version }

// Model returns a model's declaration, or ModelNotDefined if type is
// undeclared.
func (s *Schema) Model(recordType string) (ModelDef, error) {
	m, ok := s.models[recordType]
	if !ok {
		return ModelDef{}, &errs.ModelNotDefined{Type: recordType}
	}
	return m, nil
}

// HasModel reports whether recordType is declared.
func (s *Schema) HasModel(recordType string) bool {
	_, ok := s.models[recordType]
	return ok
}

// Relationship returns a relationship's definition on recordType,
// ModelNotDefined if the type is undeclared, or SchemaError if the
// relationship is undeclared.
func (s *Schema) Relationship(recordType, name string) (RelationshipDef, error) {
	m, err := s.Model(recordType)
	if err != nil {
		return RelationshipDef{}, err
	}
	rel, ok := m.Relationships[name]
	if !ok {
		return RelationshipDef{}, &errs.SchemaError{Reason: recordType + "." + name + " is not declared"}
	}
	return rel, nil
}

// InverseOf returns a relationship's definition (its Types and Inverse
// name the target types and the inverse relationship), and false if
// no inverse is declared — mirror operations
// are only synthesized when this returns true.
func (s *Schema) InverseOf(recordType, name string) (rel RelationshipDef, ok bool) {
	def, err := s.Relationship(recordType, name)
	if err != nil || def.Inverse == "" {
		return RelationshipDef{}, false
	}
	return def, true
}

// Upgrade replaces the model declarations wholesale and bumps the
// version, the trigger for the kernel's autoUpgrade/"upgrade" event.
func (s *Schema) Upgrade(models map[string]ModelDef) {
	s.models = models
	s.version++
	for _, fn := range s.onUpgrade {
		fn(s.version)
	}
}

// OnUpgrade registers fn to run, in registration order, whenever
// Upgrade is called — the hook a Source with autoUpgrade enabled uses
// to emit its own "upgrade" event without the schema needing to know
// about sources or events.
func (s *Schema) OnUpgrade(fn func(version int)) {
	s.onUpgrade = append(s.onUpgrade, fn)
}
