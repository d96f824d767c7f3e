// Package query evaluates structured filter/sort/page clauses against
// in-memory records. It has no query-language surface (no lexer/parser) —
// expressions arrive already shaped as recordmodel.Filter/SortSpecifier/
// PageSpecifier values built by internal/builder — but it keeps the
// teacher's Evaluator shape: one exhaustive switch over a closed field
// set, matched here on Filter.Kind and comparison operator instead of
// issue attribute name.
package query

import (
	"fmt"
	"sort"

	"github.com/sourcekit/core/internal/recordmodel"
)

// Matches reports whether a record satisfies every filter clause
// (clauses are ANDed).
func Matches(r *recordmodel.Record, filters []recordmodel.Filter) bool {
	for _, f := range filters {
		if !matchesOne(r, f) {
			return false
		}
	}
	return true
}

func matchesOne(r *recordmodel.Record, f recordmodel.Filter) bool {
	switch f.Kind {
	case recordmodel.FilterAttribute:
		return matchesAttribute(r, f)
	case recordmodel.FilterRelatedRecord:
		return matchesRelatedRecord(r, f)
	case recordmodel.FilterRelatedRecords:
		return matchesRelatedRecords(r, f)
	default:
		return false
	}
}

func matchesAttribute(r *recordmodel.Record, f recordmodel.Filter) bool {
	actual, ok := r.Attribute(f.Attribute)
	if !ok {
		return false
	}
	switch f.CompareOp {
	case recordmodel.CompareEqual:
		return actual == f.Value
	case recordmodel.CompareGT, recordmodel.CompareGTE, recordmodel.CompareLT, recordmodel.CompareLTE:
		an, aok := asFloat(actual)
		bn, bok := asFloat(f.Value)
		if !aok || !bok {
			return false
		}
		switch f.CompareOp {
		case recordmodel.CompareGT:
			return an > bn
		case recordmodel.CompareGTE:
			return an >= bn
		case recordmodel.CompareLT:
			return an < bn
		case recordmodel.CompareLTE:
			return an <= bn
		}
	}
	return false
}

func matchesRelatedRecord(r *recordmodel.Record, f recordmodel.Filter) bool {
	data, declared := r.Relationship(f.Relationship)
	current := data.One()
	if !declared || current == nil {
		return f.MatchNull
	}
	if f.MatchNull {
		return false
	}
	if f.RelatedOne != nil {
		return current.Equal(*f.RelatedOne)
	}
	for _, id := range f.RelatedAnyOf {
		if current.Equal(id) {
			return true
		}
	}
	return false
}

func matchesRelatedRecords(r *recordmodel.Record, f recordmodel.Filter) bool {
	data, _ := r.Relationship(f.Relationship)
	actual := data.Identities()
	switch f.RelatedOp {
	case recordmodel.RelatedEqual:
		return setsEqual(actual, f.RelatedSet)
	case recordmodel.RelatedAll:
		return isSubset(f.RelatedSet, actual)
	case recordmodel.RelatedSome:
		return intersects(actual, f.RelatedSet)
	case recordmodel.RelatedNone:
		return !intersects(actual, f.RelatedSet)
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func setsEqual(a, b []recordmodel.Identity) bool {
	if len(a) != len(b) {
		return false
	}
	return isSubset(a, b) && isSubset(b, a)
}

func isSubset(sub, of []recordmodel.Identity) bool {
	for _, id := range sub {
		found := false
		for _, o := range of {
			if id.Equal(o) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func intersects(a, b []recordmodel.Identity) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Equal(y) {
				return true
			}
		}
	}
	return false
}

// Sort orders records in place: lexicographic multi-key,
// records lacking an attribute sort after those that have it regardless
// of direction, ties break by later keys then by original (insertion)
// order — stable sort preserves that final tiebreak for free.
func Sort(records []*recordmodel.Record, specs []recordmodel.SortSpecifier) {
	if len(specs) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, spec := range specs {
			_, iok := records[i].Attribute(spec.Attribute)
			_, jok := records[j].Attribute(spec.Attribute)
			if iok != jok {
				return iok
			}
			cmp := compareByAttribute(records[i], records[j], spec.Attribute)
			if cmp == 0 {
				continue
			}
			if spec.Order == recordmodel.SortDesc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// compareByAttribute returns <0, 0, >0 the way sort.Interface expects,
// with records missing the attribute always sorting after those with it.
func compareByAttribute(a, b *recordmodel.Record, attribute string) int {
	av, aok := a.Attribute(attribute)
	bv, bok := b.Attribute(attribute)
	if !aok && !bok {
		return 0
	}
	if !aok {
		return 1
	}
	if !bok {
		return -1
	}
	if an, aok := asFloat(av); aok {
		if bn, bok := asFloat(bv); bok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}
	as, aok := av.(string)
	bs, bok := bv.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	as, bs = fmt.Sprint(av), fmt.Sprint(bv)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// Page applies offset then limit; offsets beyond the
// collection yield an empty slice. limit == 0 means unlimited.
func Page(records []*recordmodel.Record, page *recordmodel.PageSpecifier) []*recordmodel.Record {
	if page == nil {
		return records
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []*recordmodel.Record{}
	}
	records = records[offset:]
	if page.Limit > 0 && page.Limit < len(records) {
		records = records[:page.Limit]
	}
	return records
}

// Evaluate applies filter, then sort, then page, in that fixed order,
// to a candidate set.
func Evaluate(candidates []*recordmodel.Record, filters []recordmodel.Filter, sorts []recordmodel.SortSpecifier, page *recordmodel.PageSpecifier) []*recordmodel.Record {
	matched := make([]*recordmodel.Record, 0, len(candidates))
	for _, r := range candidates {
		if Matches(r, filters) {
			matched = append(matched, r)
		}
	}
	Sort(matched, sorts)
	return Page(matched, page)
}
