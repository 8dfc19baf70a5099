package ledger

import (
	"errors"
	"sort"
	"strings"

	"seedlot/pkg/domain"
)

// Chain violation kinds reported by Verify.
const (
	ViolationCycle               = "cycle"
	ViolationDanglingSuccessor   = "dangling_successor"
	ViolationInactiveTerminus    = "inactive_terminus"
	ViolationActiveWithSuccessor = "active_with_successor"
	ViolationSharedSuccessor     = "shared_successor"
)

// ChainViolation is one integrity problem found in the ledger.
type ChainViolation struct {
	EvidenceID string `json:"evidence_id"`
	Kind       string `json:"kind"`
	Detail     string `json:"detail"`
}

// Verify checks every supersession chain: each inactive item must reach
// exactly one active item without cycles, active items carry no successor, and
// no item is the successor of two predecessors. Nothing is repaired.
func Verify(view domain.RuleView) []ChainViolation {
	all := view.ListEvidence()
	var out []ChainViolation
	predecessors := make(map[string][]string)
	for _, e := range all {
		if e.SupersededByEvidenceID == "" {
			if !e.Active {
				out = append(out, ChainViolation{EvidenceID: e.ID, Kind: ViolationInactiveTerminus, Detail: "inactive without successor"})
			}
			continue
		}
		predecessors[e.SupersededByEvidenceID] = append(predecessors[e.SupersededByEvidenceID], e.ID)
		if e.Active {
			out = append(out, ChainViolation{EvidenceID: e.ID, Kind: ViolationActiveWithSuccessor, Detail: "active but superseded by " + e.SupersededByEvidenceID})
		}
		if _, ok := view.FindEvidence(e.SupersededByEvidenceID); !ok {
			out = append(out, ChainViolation{EvidenceID: e.ID, Kind: ViolationDanglingSuccessor, Detail: "successor " + e.SupersededByEvidenceID + " does not exist"})
		}
	}
	for successor, preds := range predecessors {
		if len(preds) > 1 {
			sort.Strings(preds)
			out = append(out, ChainViolation{EvidenceID: successor, Kind: ViolationSharedSuccessor, Detail: "successor of " + strings.Join(preds, ", ")})
		}
	}
	for _, e := range all {
		if e.Active || e.SupersededByEvidenceID == "" {
			continue
		}
		var ce ChainError
		if _, err := Terminus(view, e.ID); errors.As(err, &ce) && ce.Kind == ViolationCycle {
			out = append(out, ChainViolation{EvidenceID: e.ID, Kind: ViolationCycle, Detail: "chain revisits " + ce.At})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EvidenceID != out[j].EvidenceID {
			return out[i].EvidenceID < out[j].EvidenceID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
