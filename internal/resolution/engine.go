package resolution

import (
	"fmt"
	"strconv"
	"strings"

	commissiondomain "github.com/smallbiznis/commissions/internal/commission/domain"
	"go.uber.org/zap"
)

// StageName identifies one resolution stage.
type StageName string

const (
	StageCustomer StageName = "customer"
	StageCity     StageName = "city"
	StageState    StageName = "state"
	StageBranch   StageName = "branch"
)

// Stage describes one left-join step of the engine.
type Stage struct {
	Name StageName
	// Kind is the error kind rows unmatched by this stage are filed under.
	Kind   commissiondomain.ErrorKind
	Target commissiondomain.Column
	// Required lists every identifier a row must hold once the stage ran.
	Required []commissiondomain.Column
}

var stages = []Stage{
	{
		Name:     StageCustomer,
		Kind:     commissiondomain.ErrorKindCustomerNotFound,
		Target:   commissiondomain.ColumnCustomer,
		Required: []commissiondomain.Column{commissiondomain.ColumnCustomer},
	},
	{
		Name:     StageCity,
		Kind:     commissiondomain.ErrorKindCityNotFound,
		Target:   commissiondomain.ColumnCity,
		Required: []commissiondomain.Column{commissiondomain.ColumnCustomer, commissiondomain.ColumnCity},
	},
	{
		Name:     StageState,
		Kind:     commissiondomain.ErrorKindStateNotFound,
		Target:   commissiondomain.ColumnState,
		Required: []commissiondomain.Column{commissiondomain.ColumnCustomer, commissiondomain.ColumnCity, commissiondomain.ColumnState},
	},
	{
		Name:   StageBranch,
		Kind:   commissiondomain.ErrorKindBranchNotFound,
		Target: commissiondomain.ColumnBranch,
		Required: []commissiondomain.Column{
			commissiondomain.ColumnCustomer,
			commissiondomain.ColumnCity,
			commissiondomain.ColumnState,
			commissiondomain.ColumnBranch,
		},
	},
}

// Stages returns the resolution stages in their fixed execution order.
func Stages() []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

// AffectedGroup is the sub-batch a stage could not resolve, filed under one error kind.
type AffectedGroup struct {
	Kind commissiondomain.ErrorKind
	Rows commissiondomain.Batch
}

// StageResult is the augmented batch plus every row the stage left at the sentinel.
// Rows are not removed here; see Filter.
type StageResult struct {
	Stage    Stage
	Batch    commissiondomain.Batch
	Affected []AffectedGroup
	Resolved int
}

// AffectedCount sums the rows across all affected groups.
func (r StageResult) AffectedCount() int {
	total := 0
	for _, group := range r.Affected {
		total += len(group.Rows)
	}
	return total
}

// Engine resolves free-text identifiers against one reference snapshot.
type Engine struct {
	ref Reference
	log *zap.Logger
}

func NewEngine(ref Reference, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{ref: ref, log: log.Named("resolution.engine")}
}

// Resolve runs one stage over batch. Rows whose target column is already
// resolved pass through untouched, so re-running a stage is idempotent.
func (e *Engine) Resolve(stage Stage, batch commissiondomain.Batch) (StageResult, error) {
	out := batch.Clone()
	result := StageResult{Stage: stage}
	var primary, unassigned commissiondomain.Batch

	for i := range out {
		item := &out[i]
		if item.Value(stage.Target) != 0 {
			continue
		}

		switch stage.Name {
		case StageCustomer:
			e.resolveCustomer(item)
		case StageCity:
			item.CityID = e.ref.Cities.Lookup(item.CityRef)
		case StageState:
			item.StateID = e.ref.States.Lookup(item.StateRef)
		case StageBranch:
			if entry, ok := e.ref.Branches.Lookup(item.CustomerID, item.CityID, item.StateID); ok {
				if entry.RepresentativeID == nil || *entry.RepresentativeID == 0 {
					item.BranchID = 0
					item.RepresentativeID = 0
					unassigned = append(unassigned, withBranchHint(*item, entry.BranchID))
					continue
				}
				item.BranchID = entry.BranchID
				item.RepresentativeID = *entry.RepresentativeID
			}
		default:
			return StageResult{}, fmt.Errorf("unknown resolution stage %q", stage.Name)
		}

		if item.Value(stage.Target) == 0 {
			primary = append(primary, *item)
			continue
		}
		result.Resolved++
	}

	if len(primary) > 0 {
		result.Affected = append(result.Affected, AffectedGroup{Kind: stage.Kind, Rows: primary})
	}
	if len(unassigned) > 0 {
		result.Affected = append(result.Affected, AffectedGroup{
			Kind: commissiondomain.ErrorKindRepresentativeNotAssigned,
			Rows: unassigned,
		})
	}
	result.Batch = out

	e.log.Debug("stage resolved",
		zap.String("stage", string(stage.Name)),
		zap.Int("rows", len(out)),
		zap.Int("resolved", result.Resolved),
		zap.Int("affected", result.AffectedCount()),
	)
	return result, nil
}

func (e *Engine) resolveCustomer(item *commissiondomain.LineItem) {
	if strings.TrimSpace(item.IDString) == "" {
		item.CustomerID = e.ref.Customers.Lookup(item.CustomerRef)
		return
	}
	branchID := e.ref.IDStrings.Lookup(item.IDString)
	entry, ok := e.ref.Branches.ByBranchID(branchID)
	if !ok {
		item.CustomerID = 0
		return
	}
	item.CustomerID = entry.CustomerID
	item.CityID = entry.CityID
	item.StateID = entry.StateID
}

// withBranchHint keeps the matched branch id visible on the error row
// without marking the row resolved.
func withBranchHint(item commissiondomain.LineItem, branchID int64) commissiondomain.LineItem {
	item.BranchID = branchID
	return item
}

// Filter drops rows that lack any of the required identifiers.
func Filter(batch commissiondomain.Batch, required ...commissiondomain.Column) (kept, dropped commissiondomain.Batch) {
	return batch.Partition(commissiondomain.AllPresent(required...))
}

// Describe names the offending field and value of a row that failed with kind.
func Describe(kind commissiondomain.ErrorKind, item commissiondomain.LineItem) (field, value string) {
	switch kind {
	case commissiondomain.ErrorKindCustomerNotFound:
		if strings.TrimSpace(item.IDString) != "" {
			return "id_string", item.IDString
		}
		return "customer", item.CustomerRef
	case commissiondomain.ErrorKindCityNotFound:
		return "city", item.CityRef
	case commissiondomain.ErrorKindStateNotFound:
		return "state", item.StateRef
	case commissiondomain.ErrorKindBranchNotFound:
		return "branch", fmt.Sprintf("%d|%d|%d", item.CustomerID, item.CityID, item.StateID)
	case commissiondomain.ErrorKindRepresentativeNotAssigned:
		return "representative", strconv.FormatInt(item.BranchID, 10)
	default:
		return "", ""
	}
}
