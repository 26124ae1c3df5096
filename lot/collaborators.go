/*
collaborators.go - Contracts for services outside the lot core

The engine consumes three external services:

  Inventory  deducts ingredient stock when a batch starts brewing
             (and restocks it when the brew cannot start)
  Vessels    reserves and releases tanks for lots
  Recipes    read-only recipe data (target OG/FG defaults, ingredients)

Implementations live in the external package (HTTP clients and static
in-process versions). A nil collaborator disables the corresponding step.
*/
package lot

import (
	"context"

	"github.com/shopspring/decimal"
)

// Deduction asks inventory to remove a quantity of a stock item.
type Deduction struct {
	ItemID    string
	Quantity  decimal.Decimal
	Unit      string
	Reference string // batch number, for reconciliation on the inventory side
}

// Inventory moves ingredient stock. Restock returns a deduction's quantity
// and is used to undo deductions when a brew cannot start.
type Inventory interface {
	Deduct(ctx context.Context, d Deduction) error
	Restock(ctx context.Context, d Deduction) error
}

// Vessels reserves tanks. Reserve fails with an error wrapping
// ErrVesselUnavailable when another lot holds the vessel.
type Vessels interface {
	Reserve(ctx context.Context, vesselID VesselID, holder LotID) error
	Release(ctx context.Context, vesselID VesselID, holder LotID) error
}

type Ingredient struct {
	ItemID   string          `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit"`
}

type Recipe struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	TargetOG    float64         `json:"target_og"`
	TargetFG    float64         `json:"target_fg"`
	BatchVolume decimal.Decimal `json:"batch_volume"`
	Ingredients []Ingredient    `json:"ingredients"`
}

type Recipes interface {
	// Recipe returns an error wrapping ErrNotFound for unknown ids.
	Recipe(ctx context.Context, id string) (*Recipe, error)
}

// =============================================================================
// VESSEL TRANSACTION - Compensates reservations when a store write fails
// =============================================================================

type vesselHold struct {
	vessel VesselID
	lot    LotID
}

// vesselTxn tracks reservation changes made while a store transaction is
// open so they can be undone if the transaction rolls back.
type vesselTxn struct {
	vessels  Vessels
	reserved []vesselHold
	released []vesselHold
}

func (v *vesselTxn) reserve(ctx context.Context, vessel VesselID, lot LotID) error {
	if v.vessels == nil || vessel == "" {
		return nil
	}
	if err := v.vessels.Reserve(ctx, vessel, lot); err != nil {
		return err
	}
	v.reserved = append(v.reserved, vesselHold{vessel, lot})
	return nil
}

func (v *vesselTxn) release(ctx context.Context, vessel VesselID, lot LotID) error {
	if v.vessels == nil || vessel == "" {
		return nil
	}
	if err := v.vessels.Release(ctx, vessel, lot); err != nil {
		return err
	}
	v.released = append(v.released, vesselHold{vessel, lot})
	return nil
}

// rollback undoes reservations in reverse order, then restores released
// holds. It is best effort; failures are returned for logging.
func (v *vesselTxn) rollback(ctx context.Context) []error {
	if v.vessels == nil {
		return nil
	}
	var errs []error
	for i := len(v.reserved) - 1; i >= 0; i-- {
		h := v.reserved[i]
		if err := v.vessels.Release(ctx, h.vessel, h.lot); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(v.released) - 1; i >= 0; i-- {
		h := v.released[i]
		if err := v.vessels.Reserve(ctx, h.vessel, h.lot); err != nil {
			errs = append(errs, err)
		}
	}
	v.reserved, v.released = nil, nil
	return errs
}

// =============================================================================
// INVENTORY TRANSACTION - Restocks deductions when a brew fails part way
// =============================================================================

type inventoryTxn struct {
	inventory Inventory
	deducted  []Deduction
}

func (t *inventoryTxn) deduct(ctx context.Context, d Deduction) error {
	if err := t.inventory.Deduct(ctx, d); err != nil {
		return err
	}
	t.deducted = append(t.deducted, d)
	return nil
}

// rollback restocks deductions in reverse order. It is best effort.
func (t *inventoryTxn) rollback(ctx context.Context) []error {
	var errs []error
	for i := len(t.deducted) - 1; i >= 0; i-- {
		if err := t.inventory.Restock(ctx, t.deducted[i]); err != nil {
			errs = append(errs, err)
		}
	}
	t.deducted = nil
	return errs
}
