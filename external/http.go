/*
Package external adapts the services the lot engine depends on but does
not own: ingredient inventory, vessel reservation and recipe lookup.

Two flavours of each collaborator:
  - HTTP clients (resty) for the surrounding application's services
  - Static in-process versions for development, demos and tests

Errors are mapped onto the lot package's sentinels so the API layer can
render them without knowing which flavour is wired in: 404 becomes
lot.ErrNotFound and a vessel conflict becomes lot.ErrVesselUnavailable.
*/
package external

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/brewline/lot-engine/lot"
)

// ErrInsufficientStock is returned when a deduction exceeds what is on hand.
var ErrInsufficientStock = errors.New("insufficient stock")

// DefaultTimeout bounds every collaborator call.
const DefaultTimeout = 5 * time.Second

func newRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
}

// apiError is the error body the collaborator services return.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusError converts a failed response into an error, or nil on 2xx.
func statusError(resp *resty.Response, apiErr *apiError, op string) error {
	if resp.StatusCode() < http.StatusBadRequest {
		return nil
	}
	message := resp.Status()
	if apiErr != nil && apiErr.Error != "" {
		message = apiErr.Error
	}
	return fmt.Errorf("%s: status=%d, message=%s", op, resp.StatusCode(), message)
}

// =============================================================================
// INVENTORY
// =============================================================================

// InventoryClient deducts stock through the inventory service.
type InventoryClient struct {
	http *resty.Client
}

func NewInventoryClient(baseURL string, timeout time.Duration) *InventoryClient {
	return &InventoryClient{http: newRestyClient(baseURL, timeout)}
}

type deductionRequest struct {
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit"`
	Reference string          `json:"reference"`
}

// Deduct calls POST /items/{id}/deductions.
func (c *InventoryClient) Deduct(ctx context.Context, d lot.Deduction) error {
	apiErr := new(apiError)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(deductionRequest{Quantity: d.Quantity, Unit: d.Unit, Reference: d.Reference}).
		SetError(apiErr).
		Post("/items/" + url.PathEscape(d.ItemID) + "/deductions")
	if err != nil {
		return fmt.Errorf("deduct %s: %w", d.ItemID, err)
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return &lot.NotFoundError{Kind: "stock item", ID: d.ItemID}
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s: %s", ErrInsufficientStock, d.ItemID, apiErr.Error)
	}
	return statusError(resp, apiErr, "deduct "+d.ItemID)
}

// Restock calls POST /items/{id}/restocks to return a deduction.
func (c *InventoryClient) Restock(ctx context.Context, d lot.Deduction) error {
	apiErr := new(apiError)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(deductionRequest{Quantity: d.Quantity, Unit: d.Unit, Reference: d.Reference}).
		SetError(apiErr).
		Post("/items/" + url.PathEscape(d.ItemID) + "/restocks")
	if err != nil {
		return fmt.Errorf("restock %s: %w", d.ItemID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return &lot.NotFoundError{Kind: "stock item", ID: d.ItemID}
	}
	return statusError(resp, apiErr, "restock "+d.ItemID)
}

// =============================================================================
// VESSELS
// =============================================================================

// VesselClient reserves tanks through the equipment service.
type VesselClient struct {
	http *resty.Client
}

func NewVesselClient(baseURL string, timeout time.Duration) *VesselClient {
	return &VesselClient{http: newRestyClient(baseURL, timeout)}
}

type reservationRequest struct {
	LotID lot.LotID `json:"lot_id"`
}

// Reserve calls POST /vessels/{id}/reservations. 409 means another lot
// holds the vessel.
func (c *VesselClient) Reserve(ctx context.Context, vesselID lot.VesselID, holder lot.LotID) error {
	apiErr := new(apiError)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(reservationRequest{LotID: holder}).
		SetError(apiErr).
		Post("/vessels/" + url.PathEscape(string(vesselID)) + "/reservations")
	if err != nil {
		return fmt.Errorf("reserve vessel %s: %w", vesselID, err)
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return &lot.NotFoundError{Kind: "vessel", ID: string(vesselID)}
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", lot.ErrVesselUnavailable, vesselID)
	}
	return statusError(resp, apiErr, "reserve vessel "+string(vesselID))
}

// Release calls DELETE /vessels/{id}/reservations/{lot}. Releasing a hold
// that no longer exists is not an error.
func (c *VesselClient) Release(ctx context.Context, vesselID lot.VesselID, holder lot.LotID) error {
	apiErr := new(apiError)
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(apiErr).
		Delete("/vessels/" + url.PathEscape(string(vesselID)) + "/reservations/" + url.PathEscape(string(holder)))
	if err != nil {
		return fmt.Errorf("release vessel %s: %w", vesselID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return statusError(resp, apiErr, "release vessel "+string(vesselID))
}

// =============================================================================
// RECIPES
// =============================================================================

// RecipeClient reads recipes from the recipe service.
type RecipeClient struct {
	http *resty.Client
}

func NewRecipeClient(baseURL string, timeout time.Duration) *RecipeClient {
	return &RecipeClient{http: newRestyClient(baseURL, timeout)}
}

// Recipe calls GET /recipes/{id}.
func (c *RecipeClient) Recipe(ctx context.Context, id string) (*lot.Recipe, error) {
	result := new(lot.Recipe)
	apiErr := new(apiError)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr).
		Get("/recipes/" + url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("get recipe %s: %w", id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, &lot.NotFoundError{Kind: "recipe", ID: id}
	}
	if err := statusError(resp, apiErr, "get recipe "+id); err != nil {
		return nil, err
	}
	return result, nil
}

var (
	_ lot.Inventory = (*InventoryClient)(nil)
	_ lot.Vessels   = (*VesselClient)(nil)
	_ lot.Recipes   = (*RecipeClient)(nil)
)
