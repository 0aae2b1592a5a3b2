package scm

import "hdds/pkg/model"

// NodeFilter is a predicate over node records used to select nodes for
// listing or maintenance.
type NodeFilter func(model.NodeRecord) bool

// InState keeps nodes in any of the given states.
func InState(states ...model.NodeState) NodeFilter {
	return func(rec model.NodeRecord) bool {
		for _, s := range states {
			if rec.State == s {
				return true
			}
		}
		return false
	}
}

// LayoutAtLeast keeps nodes whose metadata layout is v or newer.
func LayoutAtLeast(v int32) NodeFilter {
	return func(rec model.NodeRecord) bool {
		return rec.Layout.Metadata >= v
	}
}

// filterNodes returns the records that pass every filter.
func filterNodes(recs []model.NodeRecord, filters ...NodeFilter) []model.NodeRecord {
	out := make([]model.NodeRecord, 0, len(recs))
	for _, rec := range recs {
		if matches(rec, filters) {
			out = append(out, rec)
		}
	}
	return out
}

func matches(rec model.NodeRecord, filters []NodeFilter) bool {
	for _, f := range filters {
		if !f(rec) {
			return false
		}
	}
	return true
}
