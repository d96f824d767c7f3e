package cache

import (
	"sort"

	"github.com/sourcekit/core/internal/opprocessor"
	"github.com/sourcekit/core/internal/recordmodel"
)

// recordStore is the flat, identity-keyed record store plus its
// derived inverse-edge index: records are kept by stable (type, id)
// identity in a flat map, and pointers between records are always
// identity-valued, never direct references.
//
// It is a plain map guarded by the owning Cache's mutex, mutated by
// cloning rather than in place so a failed batch never leaves partial
// state visible.
type recordStore struct {
	records map[string]map[string]*recordmodel.Record
	// edges[target] lists every (from, relationship) pair whose data
	// currently references target — the inverse index.
	edges map[recordmodel.Identity][]opprocessor.Edge
	// seq records insertion order, used as the sort tiebreak ("order by
	// insertion"); assigned once per identity and never reused even if
	// the record is later removed and re-added.
	seq     map[recordmodel.Identity]int64
	nextSeq int64
}

func newRecordStore() *recordStore {
	return &recordStore{
		records: map[string]map[string]*recordmodel.Record{},
		edges:   map[recordmodel.Identity][]opprocessor.Edge{},
		seq:     map[recordmodel.Identity]int64{},
	}
}

// clone deep-copies the store so a batch can be applied speculatively
// and discarded whole on error — patch application is all-or-nothing.
func (s *recordStore) clone() *recordStore {
	out := newRecordStore()
	for typ, byID := range s.records {
		out.records[typ] = make(map[string]*recordmodel.Record, len(byID))
		for id, r := range byID {
			out.records[typ][id] = r.Clone()
		}
	}
	for target, edges := range s.edges {
		out.edges[target] = append([]opprocessor.Edge{}, edges...)
	}
	for id, n := range s.seq {
		out.seq[id] = n
	}
	out.nextSeq = s.nextSeq
	return out
}

func (s *recordStore) Get(id recordmodel.Identity) (*recordmodel.Record, bool) {
	byID, ok := s.records[id.Type]
	if !ok {
		return nil, false
	}
	r, ok := byID[id.ID]
	return r, ok
}

func (s *recordStore) InverseEdges(id recordmodel.Identity) []opprocessor.Edge {
	return s.edges[id]
}

func (s *recordStore) put(r *recordmodel.Record) {
	id := r.Identity()
	if s.records[id.Type] == nil {
		s.records[id.Type] = map[string]*recordmodel.Record{}
	}
	s.records[id.Type][id.ID] = r
	if _, seen := s.seq[id]; !seen {
		s.nextSeq++
		s.seq[id] = s.nextSeq
	}
}

func (s *recordStore) delete(id recordmodel.Identity) {
	delete(s.records[id.Type], id.ID)
	delete(s.edges, id)
}

// byType returns every record of recordType in insertion order.
func (s *recordStore) byType(recordType string) []*recordmodel.Record {
	byID := s.records[recordType]
	out := make([]*recordmodel.Record, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].Identity()] < s.seq[out[j].Identity()]
	})
	return out
}

func (s *recordStore) addEdge(target recordmodel.Identity, e opprocessor.Edge) {
	for _, existing := range s.edges[target] {
		if existing == e {
			return
		}
	}
	s.edges[target] = append(s.edges[target], e)
}

func (s *recordStore) removeEdge(target recordmodel.Identity, e opprocessor.Edge) {
	edges := s.edges[target]
	out := edges[:0]
	for _, existing := range edges {
		if existing != e {
			out = append(out, existing)
		}
	}
	if len(out) == 0 {
		delete(s.edges, target)
		return
	}
	s.edges[target] = out
}

// updateEdges diffs the old and new identity sets for one (from,
// relationship) slot and adjusts the inverse index accordingly.
func updateEdges(s *recordStore, from recordmodel.Identity, relationship string, oldIDs, newIDs []recordmodel.Identity) {
	oldSet := map[recordmodel.Identity]bool{}
	for _, id := range oldIDs {
		oldSet[id] = true
	}
	newSet := map[recordmodel.Identity]bool{}
	for _, id := range newIDs {
		newSet[id] = true
	}
	e := opprocessor.Edge{From: from, Relationship: relationship}
	for id := range oldSet {
		if !newSet[id] {
			s.removeEdge(id, e)
		}
	}
	for id := range newSet {
		if !oldSet[id] {
			s.addEdge(id, e)
		}
	}
}
