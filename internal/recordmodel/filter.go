package recordmodel

// CompareOp is the closed set of attribute-filter comparison operators.
type CompareOp string

const (
	CompareEqual CompareOp = "equal"
	CompareGT    CompareOp = "gt"
	CompareGTE   CompareOp = "gte"
	CompareLT    CompareOp = "lt"
	CompareLTE   CompareOp = "lte"
)

// RelatedRecordsOp is the closed set of relatedRecords filter operators.
type RelatedRecordsOp string

const (
	RelatedEqual RelatedRecordsOp = "equal"
	RelatedAll   RelatedRecordsOp = "all"
	RelatedSome  RelatedRecordsOp = "some"
	RelatedNone  RelatedRecordsOp = "none"
)

// FilterKind distinguishes the 3 filter variants.
type FilterKind int

const (
	FilterAttribute FilterKind = iota
	FilterRelatedRecord
	FilterRelatedRecords
)

// Filter is one clause; a Query/Expr ANDs its filters together.
type Filter struct {
	Kind FilterKind

	// FilterAttribute
	Attribute string
	CompareOp CompareOp
	Value     any

	// FilterRelatedRecord
	Relationship   string
	RelatedOne     *Identity   // single-identity form; nil means explicit null match
	RelatedAnyOf   []Identity  // list form: matches if rel.data is any of these
	MatchNull      bool        // true: match explicit null or missing link

	// FilterRelatedRecords
	RelatedOp  RelatedRecordsOp
	RelatedSet []Identity
}

// AttributeFilter builds an attribute-value filter clause.
func AttributeFilter(attribute string, op CompareOp, value any) Filter {
	return Filter{Kind: FilterAttribute, Attribute: attribute, CompareOp: op, Value: value}
}

// RelatedRecordFilter builds a relatedRecord filter matching a single
// identity (or null when id is nil).
func RelatedRecordFilter(relationship string, id *Identity) Filter {
	if id == nil {
		return Filter{Kind: FilterRelatedRecord, Relationship: relationship, MatchNull: true}
	}
	return Filter{Kind: FilterRelatedRecord, Relationship: relationship, RelatedOne: id}
}

// RelatedRecordAnyFilter builds a relatedRecord filter matching any of
// the given identities.
func RelatedRecordAnyFilter(relationship string, ids []Identity) Filter {
	return Filter{Kind: FilterRelatedRecord, Relationship: relationship, RelatedAnyOf: ids}
}

// RelatedRecordsFilter builds a relatedRecords (to-many) set filter.
func RelatedRecordsFilter(relationship string, op RelatedRecordsOp, ids []Identity) Filter {
	return Filter{Kind: FilterRelatedRecords, Relationship: relationship, RelatedOp: op, RelatedSet: ids}
}

// SortOrder is asc or desc.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortSpecifier is one key in a multi-key sort.
type SortSpecifier struct {
	Attribute string
	Order     SortOrder
}

// PageSpecifier bounds a result set: offset first, then limit.
type PageSpecifier struct {
	Offset int
	Limit  int // 0 means unlimited
}
