package lot

import (
	"context"
	"time"
)

// AdvanceLotPhase moves a lot to the immediate successor phase. Asking for
// the phase the lot is already in returns it unchanged. Advancing from
// PACKAGING to COMPLETED behaves like CompleteLot.
func (e *Engine) AdvanceLotPhase(ctx context.Context, id LotID, target Phase, actor string) (*Lot, error) {
	return e.transition(ctx, id, actor, func(l Lot, rows []LotBatch) (TransitionPlan, error) {
		return PlanAdvance(l, rows, target)
	})
}

// CompleteLot ends a lot that is in PACKAGING and releases its vessel.
func (e *Engine) CompleteLot(ctx context.Context, id LotID, actor string) (*Lot, error) {
	return e.transition(ctx, id, actor, PlanComplete)
}

func (e *Engine) transition(ctx context.Context, id LotID, actor string, plan func(Lot, []LotBatch) (TransitionPlan, error)) (*Lot, error) {
	var (
		out Lot
		p   TransitionPlan
	)
	vt := &vesselTxn{vessels: e.vessels}
	err := e.store.WithTx(ctx, func(s Store) error {
		l, err := s.GetLot(ctx, id)
		if err != nil {
			return err
		}
		rows, err := s.LotBatches(ctx, id)
		if err != nil {
			return err
		}
		if p, err = plan(*l, rows); err != nil {
			return err
		}
		if p.Noop {
			out = *l
			return nil
		}

		l.Phase = p.To
		action := ActionPhaseAdvanced
		if p.Completes {
			now := e.now()
			l.Status = StatusCompleted
			l.CompletedAt = &now
			action = ActionCompleted
			if err := vt.release(ctx, l.VesselID, l.ID); err != nil {
				return err
			}
		}
		if err := e.updateLot(ctx, s, l); err != nil {
			return err
		}
		if err := s.AppendTimeline(ctx, e.entry(l.ID, action, p.From, p.To, actor, nil)); err != nil {
			return err
		}
		out = *l
		return e.syncBatches(ctx, s, l.ID)
	})
	if err != nil {
		e.rollbackVessels(ctx, vt)
		return nil, err
	}
	if !p.Noop {
		e.log.Info().
			Str("lot_id", string(id)).
			Str("from", string(p.From)).
			Str("to", string(p.To)).
			Str("actor", actor).
			Msg("lot phase changed")
	}
	return &out, nil
}

func timePtr(t time.Time) *time.Time { return &t }
