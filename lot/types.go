/*
Package lot provides the lot lifecycle and volume-reconciliation engine.

PURPOSE:
  Turns a planned brew (Batch) into one or more physical quantities of beer
  (Lots) that move through production phases, can be split across vessels,
  can be blended from several batches, and are packaged out while volume,
  gravity and phase bookkeeping stay consistent.

KEY CONCEPTS IN THIS FILE (types.go):
  - Batch:          one brewing run of a recipe
  - Lot:            a trackable quantity of product in a vessel
  - LotBatch:       lineage row linking a lot to a contributing batch
  - PackagingRun:   immutable record of volume packaged out of a lot
  - GravityReading: append-only SG sample tied to a batch (and its lot)
  - TimelineEntry:  immutable audit entry for every lot mutation

ENTITY GRAPH:
  single: batch --1:1--> lot
  split:  batch --1:N--> lots   (children share the batch, code suffixed -A, -B, ...)
  blend:  batches --N:1--> lot  (code prefixed BLEND-)

  Lots are never deleted. A lot consumed by a split or blend is marked
  COMPLETED and records what superseded it, so lineage stays a plain
  graph walk over LotBatch rows and parent/superseded-by links.

VOLUMES:
  Volumes are liters held in decimal.Decimal to avoid float drift in
  split percentages and packaging sums.

SEE ALSO:
  - lifecycle.go: phase state machine
  - split.go, blend.go: graph operators
  - volume.go: packaged/remaining volume reconciliation
  - engine.go: orchestrator used by callers
*/
package lot

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brewline/lot-engine/gravity"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BatchID string
type LotID string
type VesselID string
type RunID string
type ReadingID string
type EntryID string

// Liters builds a volume from a float literal.
func Liters(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// =============================================================================
// PHASE - Ordered production stages
// =============================================================================

type Phase string

const (
	PhaseFermentation Phase = "FERMENTATION"
	PhaseConditioning Phase = "CONDITIONING"
	PhaseBright       Phase = "BRIGHT"
	PhasePackaging    Phase = "PACKAGING"
	PhaseCompleted    Phase = "COMPLETED"
)

var phaseSequence = []Phase{
	PhaseFermentation,
	PhaseConditioning,
	PhaseBright,
	PhasePackaging,
	PhaseCompleted,
}

// Rank is the position of p in the phase sequence, or -1 for unknown phases.
func (p Phase) Rank() int {
	for i, q := range phaseSequence {
		if q == p {
			return i
		}
	}
	return -1
}

func (p Phase) Valid() bool { return p.Rank() >= 0 }

// Next returns the immediate successor of p.
func (p Phase) Next() (Phase, bool) {
	r := p.Rank()
	if r < 0 || r == len(phaseSequence)-1 {
		return "", false
	}
	return phaseSequence[r+1], true
}

// Before reports whether p is less advanced than q.
func (p Phase) Before(q Phase) bool { return p.Rank() < q.Rank() }

// ParsePhase accepts phase names case-insensitively.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown phase %q", ErrInvalidArgument, s)
	}
	return p, nil
}

// MinPhase returns the least advanced of phases. Empty input yields "".
func MinPhase(phases ...Phase) Phase {
	var least Phase
	for i, p := range phases {
		if i == 0 || p.Before(least) {
			least = p
		}
	}
	return least
}

// =============================================================================
// STATUSES AND TYPES
// =============================================================================

type LotStatus string

const (
	StatusActive    LotStatus = "ACTIVE"
	StatusCompleted LotStatus = "COMPLETED"
)

type LotType string

const (
	TypeSingle LotType = "single"
	TypeSplit  LotType = "split"
	TypeBlend  LotType = "blend"
)

// Supersession records why a COMPLETED lot stopped being the live record.
type Supersession string

const (
	SupersededNone  Supersession = ""
	SupersededSplit Supersession = "split"
	SupersededBlend Supersession = "blend"
)

type BatchStatus string

const (
	BatchPlanned      BatchStatus = "planned"
	BatchBrewing      BatchStatus = "brewing"
	BatchFermenting   BatchStatus = "fermenting"
	BatchConditioning BatchStatus = "conditioning"
	BatchReady        BatchStatus = "ready"
	BatchPackaging    BatchStatus = "packaging"
	BatchCompleted    BatchStatus = "completed"
)

// batchStatusFor maps a lot phase onto the batch status shown to users.
func batchStatusFor(p Phase) BatchStatus {
	switch p {
	case PhaseFermentation:
		return BatchFermenting
	case PhaseConditioning:
		return BatchConditioning
	case PhaseBright:
		return BatchReady
	case PhasePackaging:
		return BatchPackaging
	case PhaseCompleted:
		return BatchCompleted
	}
	return ""
}

// =============================================================================
// ENTITIES
// =============================================================================

type Batch struct {
	ID            BatchID
	Number        string
	RecipeID      string
	PlannedVolume decimal.Decimal
	TargetOG      float64
	TargetFG      float64

	// Recorded reference gravities; zero when not yet recorded.
	OriginalGravity float64
	FinalGravity    float64

	BrewDate  time.Time
	Status    BatchStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Lot struct {
	ID          LotID
	Code        string
	Type        LotType
	Phase       Phase
	Status      LotStatus
	TotalVolume decimal.Decimal
	VesselID    VesselID

	IsBlendResult bool
	BatchCount    int

	// ParentLotID is set on split children.
	ParentLotID LotID

	Superseded   Supersession
	SupersededBy LotID // blend lot that absorbed this one

	CreatedAt   time.Time
	SplitAt     *time.Time
	BlendedAt   *time.Time
	CompletedAt *time.Time

	// Version is bumped on every write; stores reject stale updates.
	Version   int
	UpdatedAt time.Time
}

func (l Lot) IsActive() bool { return l.Status == StatusActive }

// LotBatch links a lot to a contributing batch with its volume contribution.
type LotBatch struct {
	LotID     LotID
	BatchID   BatchID
	Volume    decimal.Decimal
	CreatedAt time.Time
}

type PackagingRun struct {
	ID          RunID
	LotID       LotID  // empty on legacy rows
	LotCode     string // legacy lookup path
	PackageType string
	Quantity    int
	Volume      decimal.Decimal
	Operator    string

	IdempotencyKey string
	PackagedAt     time.Time
	CreatedAt      time.Time
}

type GravityReading struct {
	ID          ReadingID
	BatchID     BatchID
	LotID       LotID
	SG          float64
	Temperature float64
	Notes       string
	Kind        gravity.ReadingKind
	RecordedAt  time.Time
	RecordedBy  string
}

// =============================================================================
// TIMELINE - Append-only audit trail per lot
// =============================================================================

type TimelineAction string

const (
	ActionCreated           TimelineAction = "created"
	ActionPhaseAdvanced     TimelineAction = "phase_advanced"
	ActionCompleted         TimelineAction = "completed"
	ActionSplit             TimelineAction = "split"
	ActionSplitChild        TimelineAction = "split_child"
	ActionBlended           TimelineAction = "blended"
	ActionBlendSource       TimelineAction = "blend_source"
	ActionPackaged          TimelineAction = "packaged"
	ActionOvershootAccepted TimelineAction = "overshoot_accepted"
)

type TimelineEntry struct {
	ID        EntryID
	LotID     LotID
	Action    TimelineAction
	FromPhase Phase
	ToPhase   Phase
	Actor     string
	At        time.Time
	Payload   map[string]string
}
