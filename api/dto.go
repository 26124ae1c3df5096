/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the lot domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required fields, ranges). Domain rules (phase order, volume arithmetic)
  stay in the lot package and surface as typed errors.

VOLUMES:
  Volumes are decimal strings in liters ("600", "31.25"). Requests accept
  either JSON numbers or strings.

SEE ALSO:
  - handlers.go: Uses these types
  - lot/types.go: Domain entities
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/brewline/lot-engine/gravity"
	"github.com/brewline/lot-engine/lot"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateBatchRequest struct {
	BatchNumber   string          `json:"batch_number" validate:"required,max=64"`
	RecipeID      string          `json:"recipe_id" validate:"max=64"`
	PlannedVolume decimal.Decimal `json:"planned_volume" validate:"gt=0"`
	BrewDate      string          `json:"brew_date" validate:"omitempty,datetime=2006-01-02"`
	TargetOG      float64         `json:"target_og" validate:"omitempty,gte=0.98,lte=1.2"`
	TargetFG      float64         `json:"target_fg" validate:"omitempty,gte=0.98,lte=1.2"`
}

// FermentRequest starts fermentation. A zero volume means the planned volume.
type FermentRequest struct {
	VesselID string          `json:"vessel_id" validate:"required"`
	Volume   decimal.Decimal `json:"volume" validate:"gte=0"`
	Actor    string          `json:"actor"`
}

type SplitTargetRequest struct {
	VesselID   string          `json:"vessel_id" validate:"required"`
	Volume     decimal.Decimal `json:"volume" validate:"gte=0"`
	Percentage decimal.Decimal `json:"percentage" validate:"gte=0,lte=100"`
}

type SplitRequest struct {
	Volume  decimal.Decimal      `json:"volume" validate:"gte=0"`
	Targets []SplitTargetRequest `json:"targets" validate:"required,min=1,dive"`
	Actor   string               `json:"actor"`
}

type BlendRequest struct {
	BatchIDs []string `json:"batch_ids" validate:"required,min=2,dive,required"`
	VesselID string   `json:"vessel_id" validate:"required"`
	Actor    string   `json:"actor"`
}

type AdvanceRequest struct {
	Phase string `json:"phase" validate:"required"`
	Actor string `json:"actor"`
}

type CompleteRequest struct {
	Actor string `json:"actor"`
}

type PackagingRequest struct {
	PackageType      string          `json:"package_type" validate:"required,max=32"`
	Quantity         int             `json:"quantity" validate:"gt=0"`
	Volume           decimal.Decimal `json:"volume" validate:"gt=0"`
	Operator         string          `json:"operator"`
	PackagedAt       *time.Time      `json:"packaged_at"`
	IdempotencyKey   string          `json:"idempotency_key" validate:"max=128"`
	ConfirmOvershoot bool            `json:"confirm_overshoot"`
}

type ReadingRequest struct {
	Value       float64    `json:"value" validate:"gt=0"`
	Unit        string     `json:"unit"`
	Temperature float64    `json:"temperature" validate:"gte=-10,lte=110"`
	Notes       string     `json:"notes" validate:"max=500"`
	Kind        string     `json:"kind" validate:"omitempty,oneof=routine original final"`
	RecordedAt  *time.Time `json:"recorded_at"`
	Actor       string     `json:"actor"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type BatchDTO struct {
	ID              string          `json:"id"`
	BatchNumber     string          `json:"batch_number"`
	RecipeID        string          `json:"recipe_id,omitempty"`
	PlannedVolume   decimal.Decimal `json:"planned_volume"`
	TargetOG        float64         `json:"target_og,omitempty"`
	TargetFG        float64         `json:"target_fg,omitempty"`
	OriginalGravity float64         `json:"original_gravity,omitempty"`
	FinalGravity    float64         `json:"final_gravity,omitempty"`
	BrewDate        string          `json:"brew_date,omitempty"`
	Status          string          `json:"status"`
	CreatedAt       string          `json:"created_at"`
}

type LotDTO struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	Type          string          `json:"type"`
	Phase         string          `json:"phase"`
	Status        string          `json:"status"`
	TotalVolume   decimal.Decimal `json:"total_volume"`
	VesselID      string          `json:"vessel_id,omitempty"`
	IsBlendResult bool            `json:"is_blend_result"`
	BatchCount    int             `json:"batch_count"`
	ParentLotID   string          `json:"parent_lot_id,omitempty"`
	Superseded    string          `json:"superseded,omitempty"`
	SupersededBy  string          `json:"superseded_by,omitempty"`
	CreatedAt     string          `json:"created_at"`
	SplitAt       *time.Time      `json:"split_at,omitempty"`
	BlendedAt     *time.Time      `json:"blended_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Version       int             `json:"version"`
}

type LotBatchDTO struct {
	LotID   string          `json:"lot_id"`
	BatchID string          `json:"batch_id"`
	Volume  decimal.Decimal `json:"volume"`
}

type VolumeDTO struct {
	TotalVolume       decimal.Decimal `json:"total_volume"`
	PackagedVolume    decimal.Decimal `json:"packaged_volume"`
	RemainingVolume   decimal.Decimal `json:"remaining_volume"`
	ProgressPercent   decimal.Decimal `json:"progress_percent"`
	RunCount          int             `json:"run_count"`
	TransferredVolume decimal.Decimal `json:"transferred_volume"`
}

type LotStatusDTO struct {
	Lot    LotDTO    `json:"lot"`
	Volume VolumeDTO `json:"volume"`
}

type PackagingRunDTO struct {
	ID             string          `json:"id"`
	LotID          string          `json:"lot_id,omitempty"`
	LotCode        string          `json:"lot_code,omitempty"`
	PackageType    string          `json:"package_type"`
	Quantity       int             `json:"quantity"`
	Volume         decimal.Decimal `json:"volume"`
	Operator       string          `json:"operator,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	PackagedAt     string          `json:"packaged_at"`
}

// OvershootDTO is the warning attached to a confirmed over-volume run.
type OvershootDTO struct {
	Liters  decimal.Decimal `json:"liters"`
	Message string          `json:"message"`
}

type PackagingResultDTO struct {
	Run      PackagingRunDTO `json:"run"`
	Volume   VolumeDTO       `json:"volume"`
	Replayed bool            `json:"replayed"`
	Warning  *OvershootDTO   `json:"warning,omitempty"`
}

type SplitResultDTO struct {
	Source     LotDTO          `json:"source"`
	Children   []LotDTO        `json:"children"`
	Allocated  decimal.Decimal `json:"allocated"`
	Unassigned decimal.Decimal `json:"unassigned"`
}

type BlendResultDTO struct {
	Blend   LotDTO        `json:"blend"`
	Sources []LotDTO      `json:"sources"`
	Shares  []LotBatchDTO `json:"shares"`
}

type LineageDTO struct {
	Lot          LotDTO        `json:"lot"`
	Batches      []LotBatchDTO `json:"batches"`
	Parent       *LotDTO       `json:"parent,omitempty"`
	Children     []LotDTO      `json:"children"`
	Sources      []LotDTO      `json:"sources"`
	SupersededBy *LotDTO       `json:"superseded_by,omitempty"`
}

type TimelineEntryDTO struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	FromPhase string            `json:"from_phase,omitempty"`
	ToPhase   string            `json:"to_phase,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	At        string            `json:"at"`
	Payload   map[string]string `json:"payload,omitempty"`
}

type ReadingDTO struct {
	ID          string  `json:"id"`
	BatchID     string  `json:"batch_id"`
	LotID       string  `json:"lot_id,omitempty"`
	SG          float64 `json:"sg"`
	Plato       float64 `json:"plato"`
	Temperature float64 `json:"temperature,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	Kind        string  `json:"kind"`
	RecordedAt  string  `json:"recorded_at"`
	RecordedBy  string  `json:"recorded_by,omitempty"`
}

// MetricsDTO rounds ABV and attenuation to two decimals for display.
type MetricsDTO struct {
	OriginalGravity float64 `json:"original_gravity"`
	CurrentGravity  float64 `json:"current_gravity"`
	ABV             float64 `json:"abv"`
	Attenuation     float64 `json:"attenuation"`
	ReadingCount    int     `json:"reading_count"`
}

type ReadingResultDTO struct {
	Reading ReadingDTO `json:"reading"`
	Metrics MetricsDTO `json:"metrics"`
}

type ConversionDTO struct {
	Value  float64 `json:"value"`
	From   string  `json:"from"`
	To     string  `json:"to"`
	Result float64 `json:"result"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ScenarioLoadedDTO struct {
	Scenario ScenarioDTO `json:"scenario"`
	Batches  []BatchDTO  `json:"batches"`
	Lots     []LotDTO    `json:"lots"`
}

// ErrorResponse is the envelope for every 4xx/5xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBatchDTO(b lot.Batch) BatchDTO {
	dto := BatchDTO{
		ID:              string(b.ID),
		BatchNumber:     b.Number,
		RecipeID:        b.RecipeID,
		PlannedVolume:   b.PlannedVolume,
		TargetOG:        b.TargetOG,
		TargetFG:        b.TargetFG,
		OriginalGravity: b.OriginalGravity,
		FinalGravity:    b.FinalGravity,
		Status:          string(b.Status),
		CreatedAt:       b.CreatedAt.Format(time.RFC3339),
	}
	if !b.BrewDate.IsZero() {
		dto.BrewDate = b.BrewDate.Format("2006-01-02")
	}
	return dto
}

func toBatchDTOs(batches []lot.Batch) []BatchDTO {
	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b)
	}
	return dtos
}

func toLotDTO(l lot.Lot) LotDTO {
	return LotDTO{
		ID:            string(l.ID),
		Code:          l.Code,
		Type:          string(l.Type),
		Phase:         string(l.Phase),
		Status:        string(l.Status),
		TotalVolume:   l.TotalVolume,
		VesselID:      string(l.VesselID),
		IsBlendResult: l.IsBlendResult,
		BatchCount:    l.BatchCount,
		ParentLotID:   string(l.ParentLotID),
		Superseded:    string(l.Superseded),
		SupersededBy:  string(l.SupersededBy),
		CreatedAt:     l.CreatedAt.Format(time.RFC3339),
		SplitAt:       l.SplitAt,
		BlendedAt:     l.BlendedAt,
		CompletedAt:   l.CompletedAt,
		Version:       l.Version,
	}
}

func toLotDTOs(lots []lot.Lot) []LotDTO {
	dtos := make([]LotDTO, len(lots))
	for i, l := range lots {
		dtos[i] = toLotDTO(l)
	}
	return dtos
}

func toLotDTOPtr(l *lot.Lot) *LotDTO {
	if l == nil {
		return nil
	}
	dto := toLotDTO(*l)
	return &dto
}

func toLotBatchDTOs(rows []lot.LotBatch) []LotBatchDTO {
	dtos := make([]LotBatchDTO, len(rows))
	for i, lb := range rows {
		dtos[i] = LotBatchDTO{LotID: string(lb.LotID), BatchID: string(lb.BatchID), Volume: lb.Volume}
	}
	return dtos
}

func toVolumeDTO(s lot.VolumeSummary) VolumeDTO {
	return VolumeDTO{
		TotalVolume:       s.TotalVolume,
		PackagedVolume:    s.PackagedVolume,
		RemainingVolume:   s.RemainingVolume,
		ProgressPercent:   s.ProgressPercent,
		RunCount:          s.RunCount,
		TransferredVolume: s.TransferredVolume,
	}
}

func toPackagingRunDTO(r lot.PackagingRun) PackagingRunDTO {
	return PackagingRunDTO{
		ID:             string(r.ID),
		LotID:          string(r.LotID),
		LotCode:        r.LotCode,
		PackageType:    r.PackageType,
		Quantity:       r.Quantity,
		Volume:         r.Volume,
		Operator:       r.Operator,
		IdempotencyKey: r.IdempotencyKey,
		PackagedAt:     r.PackagedAt.Format(time.RFC3339),
	}
}

func toPackagingResultDTO(res *lot.PackagingResult) PackagingResultDTO {
	dto := PackagingResultDTO{
		Run:      toPackagingRunDTO(res.Run),
		Volume:   toVolumeDTO(res.Summary),
		Replayed: res.Replayed,
	}
	if res.Overshoot.IsPositive() {
		dto.Warning = &OvershootDTO{
			Liters:  res.Overshoot,
			Message: "packaged volume exceeds the lot's recorded volume; remaining clamped to 0",
		}
	}
	return dto
}

func toTimelineDTOs(entries []lot.TimelineEntry) []TimelineEntryDTO {
	dtos := make([]TimelineEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = TimelineEntryDTO{
			ID:        string(e.ID),
			Action:    string(e.Action),
			FromPhase: string(e.FromPhase),
			ToPhase:   string(e.ToPhase),
			Actor:     e.Actor,
			At:        e.At.Format(time.RFC3339),
			Payload:   e.Payload,
		}
	}
	return dtos
}

func toLineageDTO(l *lot.Lineage) LineageDTO {
	return LineageDTO{
		Lot:          toLotDTO(l.Lot),
		Batches:      toLotBatchDTOs(l.Batches),
		Parent:       toLotDTOPtr(l.Parent),
		Children:     toLotDTOs(l.Children),
		Sources:      toLotDTOs(l.Sources),
		SupersededBy: toLotDTOPtr(l.SupersededBy),
	}
}

func toReadingDTO(r lot.GravityReading) ReadingDTO {
	return ReadingDTO{
		ID:          string(r.ID),
		BatchID:     string(r.BatchID),
		LotID:       string(r.LotID),
		SG:          r.SG,
		Plato:       gravity.Round2(gravity.SGToPlato(r.SG)),
		Temperature: r.Temperature,
		Notes:       r.Notes,
		Kind:        string(r.Kind),
		RecordedAt:  r.RecordedAt.Format(time.RFC3339),
		RecordedBy:  r.RecordedBy,
	}
}

func toMetricsDTO(m gravity.Metrics) MetricsDTO {
	return MetricsDTO{
		OriginalGravity: m.OriginalGravity,
		CurrentGravity:  m.CurrentGravity,
		ABV:             gravity.Round2(m.ABV),
		Attenuation:     gravity.Round2(m.Attenuation),
		ReadingCount:    m.ReadingCount,
	}
}
