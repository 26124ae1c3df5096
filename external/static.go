package external

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/brewline/lot-engine/lot"
)

// =============================================================================
// STATIC INVENTORY
// =============================================================================

// StaticInventory keeps stock levels in memory.
type StaticInventory struct {
	mu    sync.Mutex
	stock    map[string]decimal.Decimal
	log      []lot.Deduction
	restocks []lot.Deduction
}

func NewStaticInventory(stock map[string]decimal.Decimal) *StaticInventory {
	s := &StaticInventory{stock: make(map[string]decimal.Decimal, len(stock))}
	for id, qty := range stock {
		s.stock[id] = qty
	}
	return s
}

// Deduct removes stock. The whole quantity must be on hand.
func (s *StaticInventory) Deduct(_ context.Context, d lot.Deduction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	onHand, ok := s.stock[d.ItemID]
	if !ok {
		return &lot.NotFoundError{Kind: "stock item", ID: d.ItemID}
	}
	if d.Quantity.GreaterThan(onHand) {
		return fmt.Errorf("%w: %s needs %s %s, %s on hand", ErrInsufficientStock, d.ItemID, d.Quantity, d.Unit, onHand)
	}
	s.stock[d.ItemID] = onHand.Sub(d.Quantity)
	s.log = append(s.log, d)
	return nil
}

// Restock returns a deducted quantity to stock.
func (s *StaticInventory) Restock(_ context.Context, d lot.Deduction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	onHand, ok := s.stock[d.ItemID]
	if !ok {
		return &lot.NotFoundError{Kind: "stock item", ID: d.ItemID}
	}
	s.stock[d.ItemID] = onHand.Add(d.Quantity)
	s.restocks = append(s.restocks, d)
	return nil
}

// OnHand reports the current stock of an item.
func (s *StaticInventory) OnHand(itemID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[itemID]
}

// Deductions returns every successful deduction in order.
func (s *StaticInventory) Deductions() []lot.Deduction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lot.Deduction(nil), s.log...)
}

// Restocks returns every restock in order.
func (s *StaticInventory) Restocks() []lot.Deduction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lot.Deduction(nil), s.restocks...)
}

// =============================================================================
// STATIC VESSELS
// =============================================================================

// StaticVessels is an in-process vessel registry. With a non-empty list of
// known vessels, unknown ids are rejected; with none, any id is accepted.
type StaticVessels struct {
	mu    sync.Mutex
	known map[lot.VesselID]bool
	holds map[lot.VesselID]lot.LotID
}

func NewStaticVessels(known ...lot.VesselID) *StaticVessels {
	v := &StaticVessels{
		known: make(map[lot.VesselID]bool, len(known)),
		holds: make(map[lot.VesselID]lot.LotID),
	}
	for _, id := range known {
		v.known[id] = true
	}
	return v
}

func (v *StaticVessels) Reserve(_ context.Context, id lot.VesselID, holder lot.LotID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.known) > 0 && !v.known[id] {
		return &lot.NotFoundError{Kind: "vessel", ID: string(id)}
	}
	if cur, ok := v.holds[id]; ok && cur != holder {
		return fmt.Errorf("%w: %s is held by lot %s", lot.ErrVesselUnavailable, id, cur)
	}
	v.holds[id] = holder
	return nil
}

// Release frees a vessel held by holder. Other holders are left alone.
func (v *StaticVessels) Release(_ context.Context, id lot.VesselID, holder lot.LotID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.holds[id] == holder {
		delete(v.holds, id)
	}
	return nil
}

// Holder returns the lot holding a vessel, or "" when it is free.
func (v *StaticVessels) Holder(id lot.VesselID) lot.LotID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.holds[id]
}

// Available lists known vessels nobody holds, sorted.
func (v *StaticVessels) Available() []lot.VesselID {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []lot.VesselID
	for id := range v.known {
		if _, held := v.holds[id]; !held {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reset drops every hold.
func (v *StaticVessels) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.holds = make(map[lot.VesselID]lot.LotID)
}

// =============================================================================
// STATIC RECIPES
// =============================================================================

type StaticRecipes struct {
	recipes map[string]lot.Recipe
}

func NewStaticRecipes(recipes ...lot.Recipe) *StaticRecipes {
	r := &StaticRecipes{recipes: make(map[string]lot.Recipe, len(recipes))}
	for _, rec := range recipes {
		r.recipes[rec.ID] = rec
	}
	return r
}

func (r *StaticRecipes) Recipe(_ context.Context, id string) (*lot.Recipe, error) {
	rec, ok := r.recipes[id]
	if !ok {
		return nil, &lot.NotFoundError{Kind: "recipe", ID: id}
	}
	return &rec, nil
}

// =============================================================================
// DEMO DATA
// =============================================================================

func qty(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// DemoRecipes is the recipe book used when no recipe service is configured.
func DemoRecipes() []lot.Recipe {
	return []lot.Recipe{
		{
			ID: "pale-ale", Name: "House Pale Ale", TargetOG: 1.052, TargetFG: 1.011, BatchVolume: qty("1000"),
			Ingredients: []lot.Ingredient{
				{ItemID: "malt-pale", Quantity: qty("220"), Unit: "kg"},
				{ItemID: "malt-crystal", Quantity: qty("12"), Unit: "kg"},
				{ItemID: "hops-cascade", Quantity: qty("3.5"), Unit: "kg"},
				{ItemID: "yeast-us05", Quantity: qty("0.5"), Unit: "kg"},
			},
		},
		{
			ID: "dry-stout", Name: "Dry Stout", TargetOG: 1.042, TargetFG: 1.010, BatchVolume: qty("1000"),
			Ingredients: []lot.Ingredient{
				{ItemID: "malt-pale", Quantity: qty("160"), Unit: "kg"},
				{ItemID: "barley-roasted", Quantity: qty("20"), Unit: "kg"},
				{ItemID: "hops-ekg", Quantity: qty("2"), Unit: "kg"},
				{ItemID: "yeast-s04", Quantity: qty("0.5"), Unit: "kg"},
			},
		},
	}
}

// DemoStock is the opening inventory used with the static inventory.
func DemoStock() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"malt-pale":      qty("5000"),
		"malt-crystal":   qty("300"),
		"barley-roasted": qty("300"),
		"hops-cascade":   qty("80"),
		"hops-ekg":       qty("60"),
		"yeast-us05":     qty("20"),
		"yeast-s04":      qty("20"),
	}
}

// DemoVessels is the tank list used with the static vessel registry.
func DemoVessels() []lot.VesselID {
	return []lot.VesselID{
		"FV-1", "FV-2", "FV-3", "FV-4", "FV-5", "FV-6",
		"BT-1", "BT-2", "BT-3",
	}
}

var (
	_ lot.Inventory = (*StaticInventory)(nil)
	_ lot.Vessels   = (*StaticVessels)(nil)
	_ lot.Recipes   = (*StaticRecipes)(nil)
)
