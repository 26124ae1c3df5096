/*
split.go - Split Operator (one batch -> N sibling lots)

ALGORITHM:
  1. Normalize each target to an explicit volume. An explicit volume wins
     over a percentage; percentages are taken of the split volume and must
     sum to at most 100.
  2. Sum the allocations. More than the source volume (beyond tolerance)
     is a SplitVolumeMismatch. Less is allowed; whatever the children do
     not take of the lot's remaining volume (including any part left out
     of a smaller requested split volume) is reported as unassigned.
  3. Create one child per target: type split, phase inherited from the
     source, code = batch number + "-" + A, B, C... in target order, and a
     single LotBatch row pointing at the source batch.
  4. Mark the source lot COMPLETED (superseded by split). It is never
     deleted.

RESTRICTIONS:
  Blend lots and split children cannot be split (UnsupportedLotOperation).
*/
package lot

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
)

const maxSplitTargets = 26

// SplitTarget is one destination vessel. Set Volume or Percentage.
type SplitTarget struct {
	VesselID   VesselID
	Volume     decimal.Decimal
	Percentage decimal.Decimal
}

// Allocation is a normalized split target.
type Allocation struct {
	VesselID VesselID
	Volume   decimal.Decimal
	Suffix   string
}

type SplitPlan struct {
	Source      decimal.Decimal
	Allocations []Allocation
	Allocated   decimal.Decimal
	Unassigned  decimal.Decimal
}

// SuffixLetter returns A for 0, B for 1, ... Z for 25.
func SuffixLetter(i int) string {
	return string(rune('A' + i))
}

// PlanSplit normalizes targets against a source volume.
func PlanSplit(source decimal.Decimal, targets []SplitTarget, tolerance decimal.Decimal) (SplitPlan, error) {
	plan := SplitPlan{Source: source, Allocated: decimal.Zero, Unassigned: decimal.Zero}
	if !source.IsPositive() {
		return plan, invalidArgument("split volume must be positive")
	}
	if len(targets) < 2 {
		return plan, invalidArgument("a split needs at least 2 targets, got %d", len(targets))
	}
	if len(targets) > maxSplitTargets {
		return plan, invalidArgument("a split supports at most %d targets", maxSplitTargets)
	}

	seen := make(map[VesselID]bool, len(targets))
	percentTotal := decimal.Zero
	for i, t := range targets {
		if t.VesselID == "" {
			return plan, invalidArgument("target %d has no vessel", i)
		}
		if seen[t.VesselID] {
			return plan, invalidArgument("vessel %s appears twice", t.VesselID)
		}
		seen[t.VesselID] = true
		if t.Volume.IsNegative() || t.Percentage.IsNegative() {
			return plan, invalidArgument("target %d has a negative share", i)
		}

		var vol decimal.Decimal
		switch {
		case t.Volume.IsPositive():
			vol = t.Volume
		case t.Percentage.IsPositive():
			percentTotal = percentTotal.Add(t.Percentage)
			vol = source.Mul(t.Percentage).Div(hundred).Round(3)
		default:
			return plan, invalidArgument("target %d has neither volume nor percentage", i)
		}
		plan.Allocations = append(plan.Allocations, Allocation{
			VesselID: t.VesselID,
			Volume:   vol,
			Suffix:   SuffixLetter(i),
		})
		plan.Allocated = plan.Allocated.Add(vol)
	}

	if percentTotal.GreaterThan(hundred) {
		return plan, &SplitVolumeError{Source: source, Allocated: plan.Allocated, Reason: "percentages sum to " + percentTotal.String()}
	}
	if plan.Allocated.GreaterThan(source.Add(tolerance)) {
		return plan, &SplitVolumeError{Source: source, Allocated: plan.Allocated, Reason: "allocations exceed source volume"}
	}
	if rem := source.Sub(plan.Allocated); rem.GreaterThan(tolerance) {
		plan.Unassigned = rem
	}
	return plan, nil
}

// SplitRequest splits a batch's active lot across vessels.
type SplitRequest struct {
	BatchID BatchID
	// Zero means the source lot's remaining volume.
	Volume  decimal.Decimal
	Targets []SplitTarget
	Actor   string
}

type SplitResult struct {
	Source     Lot
	Children   []Lot
	Allocated  decimal.Decimal
	Unassigned decimal.Decimal
}

// SplitBatch divides the batch's single active lot into sibling lots.
func (e *Engine) SplitBatch(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	if req.Volume.IsNegative() {
		return nil, invalidArgument("split volume must not be negative")
	}

	var res SplitResult
	vt := &vesselTxn{vessels: e.vessels}
	err := e.store.WithTx(ctx, func(s Store) error {
		b, err := s.GetBatch(ctx, req.BatchID)
		if err != nil {
			return err
		}
		source, err := splitSource(ctx, s, req.BatchID)
		if err != nil {
			return err
		}
		summary, err := remainingVolume(ctx, s, *source)
		if err != nil {
			return err
		}

		volume := req.Volume
		if volume.IsZero() {
			volume = summary.RemainingVolume
		}
		if volume.GreaterThan(summary.RemainingVolume.Add(e.tolerance)) {
			return &SplitVolumeError{Source: summary.RemainingVolume, Allocated: volume, Reason: "split volume exceeds the lot's remaining volume"}
		}

		plan, err := PlanSplit(volume, req.Targets, e.tolerance)
		if err != nil {
			return err
		}
		// The source is retired, so anything not allocated is measured
		// against the whole lot, not just the requested split volume.
		unassigned := summary.RemainingVolume.Sub(plan.Allocated)
		if !unassigned.GreaterThan(e.tolerance) {
			unassigned = decimal.Zero
		}

		now := e.now()
		if err := vt.release(ctx, source.VesselID, source.ID); err != nil {
			return err
		}
		for _, a := range plan.Allocations {
			child := Lot{
				ID:          LotID(e.newID()),
				Code:        b.Number + "-" + a.Suffix,
				Type:        TypeSplit,
				Phase:       source.Phase,
				Status:      StatusActive,
				TotalVolume: a.Volume,
				VesselID:    a.VesselID,
				BatchCount:  1,
				ParentLotID: source.ID,
				CreatedAt:   now,
				SplitAt:     timePtr(now),
				Version:     1,
				UpdatedAt:   now,
			}
			if err := vt.reserve(ctx, a.VesselID, child.ID); err != nil {
				return err
			}
			if err := s.InsertLot(ctx, child); err != nil {
				return err
			}
			if err := s.InsertLotBatch(ctx, LotBatch{LotID: child.ID, BatchID: b.ID, Volume: a.Volume, CreatedAt: now}); err != nil {
				return err
			}
			if err := s.AppendTimeline(ctx, e.entry(child.ID, ActionSplitChild, "", child.Phase, req.Actor, map[string]string{
				"parent_lot_id": string(source.ID),
				"volume":        a.Volume.String(),
				"vessel":        string(a.VesselID),
			})); err != nil {
				return err
			}
			res.Children = append(res.Children, child)
		}

		source.Status = StatusCompleted
		source.Superseded = SupersededSplit
		source.SplitAt = timePtr(now)
		if err := e.updateLot(ctx, s, source); err != nil {
			return err
		}
		if err := s.AppendTimeline(ctx, e.entry(source.ID, ActionSplit, source.Phase, source.Phase, req.Actor, map[string]string{
			"children":   strconv.Itoa(len(res.Children)),
			"allocated":  plan.Allocated.String(),
			"unassigned": unassigned.String(),
		})); err != nil {
			return err
		}

		res.Source = *source
		res.Allocated = plan.Allocated
		res.Unassigned = unassigned
		return e.syncBatches(ctx, s, source.ID)
	})
	if err != nil {
		e.rollbackVessels(ctx, vt)
		return nil, err
	}

	ev := e.log.Info()
	if res.Unassigned.IsPositive() {
		ev = e.log.Warn().Str("unassigned", res.Unassigned.String())
	}
	ev.Str("batch_id", string(req.BatchID)).
		Str("source_lot_id", string(res.Source.ID)).
		Int("children", len(res.Children)).
		Str("allocated", res.Allocated.String()).
		Msg("batch split")
	return &res, nil
}

// splitSource finds the one single lot a batch can be split from.
func splitSource(ctx context.Context, s Store, batchID BatchID) (*Lot, error) {
	active, err := activeLots(ctx, s, batchID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, &SourceNotActiveError{BatchID: batchID}
	}
	for _, l := range active {
		switch l.Type {
		case TypeBlend:
			return nil, &UnsupportedError{LotID: l.ID, Operation: "split", Reason: "blend lots cannot be split"}
		case TypeSplit:
			return nil, &UnsupportedError{LotID: l.ID, Operation: "split", Reason: "split lots cannot be split again"}
		}
	}
	if len(active) > 1 {
		return nil, &UnsupportedError{LotID: active[0].ID, Operation: "split", Reason: "batch has more than one active lot"}
	}
	src := active[0]
	return &src, nil
}
