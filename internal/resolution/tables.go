package resolution

import (
	commissiondomain "github.com/smallbiznis/commissions/internal/commission/domain"
	"go.uber.org/zap"
)

// LabelTable is an in-memory snapshot of one mapping registry keyed by normalized label.
type LabelTable struct {
	byLabel map[string]int64
}

// NewLabelTable indexes entries. When a label appears twice the first entry
// wins and the conflict is logged for registry cleanup.
func NewLabelTable(kind commissiondomain.MappingKind, entries []commissiondomain.MappingEntry, log *zap.Logger) *LabelTable {
	if log == nil {
		log = zap.NewNop()
	}
	table := &LabelTable{byLabel: make(map[string]int64, len(entries))}
	for _, entry := range entries {
		label := commissiondomain.NormalizeLabel(entry.Label)
		if label == "" || entry.CanonicalID == 0 {
			continue
		}
		if existing, ok := table.byLabel[label]; ok {
			if existing != entry.CanonicalID {
				log.Warn("duplicate mapping label",
					zap.String("kind", string(kind)),
					zap.String("label", label),
					zap.Int64("kept_id", existing),
					zap.Int64("ignored_id", entry.CanonicalID),
				)
			}
			continue
		}
		table.byLabel[label] = entry.CanonicalID
	}
	return table
}

func (t *LabelTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byLabel)
}

// Lookup returns the canonical id for label, or 0 when unmatched.
func (t *LabelTable) Lookup(label string) int64 {
	if t == nil {
		return 0
	}
	return t.byLabel[commissiondomain.NormalizeLabel(label)]
}

type location struct {
	customerID int64
	cityID     int64
	stateID    int64
}

// BranchTable indexes the branch registry by customer location and by branch id.
type BranchTable struct {
	byLocation map[location]commissiondomain.BranchEntry
	byBranchID map[int64]commissiondomain.BranchEntry
}

func NewBranchTable(entries []commissiondomain.BranchEntry, log *zap.Logger) *BranchTable {
	if log == nil {
		log = zap.NewNop()
	}
	table := &BranchTable{
		byLocation: make(map[location]commissiondomain.BranchEntry, len(entries)),
		byBranchID: make(map[int64]commissiondomain.BranchEntry, len(entries)),
	}
	for _, entry := range entries {
		if entry.BranchID == 0 {
			continue
		}
		key := location{customerID: entry.CustomerID, cityID: entry.CityID, stateID: entry.StateID}
		if existing, ok := table.byLocation[key]; ok {
			log.Warn("duplicate branch location",
				zap.Int64("customer_id", entry.CustomerID),
				zap.Int64("city_id", entry.CityID),
				zap.Int64("state_id", entry.StateID),
				zap.Int64("kept_branch_id", existing.BranchID),
				zap.Int64("ignored_branch_id", entry.BranchID),
			)
		} else {
			table.byLocation[key] = entry
		}
		if _, ok := table.byBranchID[entry.BranchID]; !ok {
			table.byBranchID[entry.BranchID] = entry
		}
	}
	return table
}

func (t *BranchTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byBranchID)
}

// Lookup finds the branch registered for a customer location.
func (t *BranchTable) Lookup(customerID, cityID, stateID int64) (commissiondomain.BranchEntry, bool) {
	if t == nil {
		return commissiondomain.BranchEntry{}, false
	}
	entry, ok := t.byLocation[location{customerID: customerID, cityID: cityID, stateID: stateID}]
	return entry, ok
}

// ByBranchID finds a branch by its canonical id.
func (t *BranchTable) ByBranchID(branchID int64) (commissiondomain.BranchEntry, bool) {
	if t == nil || branchID == 0 {
		return commissiondomain.BranchEntry{}, false
	}
	entry, ok := t.byBranchID[branchID]
	return entry, ok
}

// Reference is the full set of reference tables one pipeline run resolves against.
type Reference struct {
	Customers *LabelTable
	Cities    *LabelTable
	States    *LabelTable
	IDStrings *LabelTable
	Branches  *BranchTable
}
