/*
lifecycle.go - Phase state machine for a single lot

STATES:

  FERMENTATION ─▶ CONDITIONING ─▶ BRIGHT ─▶ PACKAGING ─▶ COMPLETED
                                                          (terminal)

RULES:
  1. Transitions are explicit and single-step: the target must be the
     immediate successor of the current phase.
  2. Requesting the phase the lot is already in is a no-op.
  3. A COMPLETED lot never changes again.
  4. completeLot is only valid from PACKAGING.
  5. A lot absorbed into a blend has no independent phase control; only
     the blend lot may be transitioned (BlendMembershipConflict).

The functions here are pure. Engine.AdvanceLotPhase and Engine.CompleteLot
apply them inside a store transaction and record the timeline entry.
*/
package lot

// TransitionPlan is the outcome of checking a requested transition.
type TransitionPlan struct {
	From Phase
	To   Phase
	// Noop is set when the lot is already at the target phase.
	Noop bool
	// Completes is set when the transition ends the lot's life.
	Completes bool
}

// blendMembership returns a conflict when l was absorbed into a blend.
func blendMembership(l Lot, batches []LotBatch) error {
	if l.Superseded != SupersededBlend {
		return nil
	}
	ids := make([]BatchID, 0, len(batches))
	for _, lb := range batches {
		ids = append(ids, lb.BatchID)
	}
	return &BlendMembershipError{LotID: l.ID, BatchIDs: ids, BlendLotID: l.SupersededBy}
}

// PlanAdvance checks a request to move l to target.
func PlanAdvance(l Lot, batches []LotBatch, target Phase) (TransitionPlan, error) {
	plan := TransitionPlan{From: l.Phase, To: target}
	if !target.Valid() {
		return plan, invalidArgument("unknown phase %q", target)
	}
	if err := blendMembership(l, batches); err != nil {
		return plan, err
	}
	if l.Phase == target {
		plan.Noop = true
		return plan, nil
	}
	if l.Status == StatusCompleted {
		return plan, lotTransitionError(l, target, "lot is completed")
	}
	next, ok := l.Phase.Next()
	if !ok || next != target {
		return plan, lotTransitionError(l, target, "target is not the immediate successor")
	}
	plan.Completes = target == PhaseCompleted
	return plan, nil
}

// PlanComplete checks a request to complete l.
func PlanComplete(l Lot, batches []LotBatch) (TransitionPlan, error) {
	plan := TransitionPlan{From: l.Phase, To: PhaseCompleted, Completes: true}
	if err := blendMembership(l, batches); err != nil {
		return plan, err
	}
	if l.Status == StatusCompleted {
		return plan, lotTransitionError(l, PhaseCompleted, "lot is completed")
	}
	if l.Phase != PhasePackaging {
		return plan, lotTransitionError(l, PhaseCompleted, "only lots in PACKAGING can be completed")
	}
	return plan, nil
}

func lotTransitionError(l Lot, target Phase, reason string) error {
	return &TransitionError{
		Subject: "lot",
		ID:      string(l.ID),
		From:    string(l.Phase),
		To:      string(target),
		Reason:  reason,
	}
}

// DeriveBatchStatus computes a batch's status from the lots linked to it:
// the least advanced phase among ACTIVE lots, or completed once no lot is
// active and one of them was completed. Otherwise current is kept.
func DeriveBatchStatus(lots []Lot, current BatchStatus) BatchStatus {
	var phases []Phase
	completed := false
	for _, l := range lots {
		if l.IsActive() {
			phases = append(phases, l.Phase)
		} else if l.Phase == PhaseCompleted {
			completed = true
		}
	}
	if len(phases) > 0 {
		return batchStatusFor(MinPhase(phases...))
	}
	if completed {
		return BatchCompleted
	}
	return current
}
