/*
handlers.go - HTTP API handlers for the lot engine

PURPOSE:
  Exposes the lot lifecycle engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to lot.Engine.

ENDPOINTS:
  Batches:
    POST   /api/batches                 Plan a batch
    GET    /api/batches                 List batches
    GET    /api/batches/{id}            Get batch
    POST   /api/batches/{id}/brew       planned -> brewing (deducts ingredients)
    POST   /api/batches/{id}/ferment    Create the batch's first lot
    POST   /api/batches/{id}/split      Split the active lot across vessels
    POST   /api/batches/{id}/readings   Record a gravity reading
    GET    /api/batches/{id}/readings   Reading history
    GET    /api/batches/{id}/metrics    OG, current gravity, ABV, attenuation

  Blends:
    POST   /api/blends                  Blend two or more batches

  Lots:
    GET    /api/lots                    List (status, type, batch_id, parent_id)
    GET    /api/lots/{id}               Get lot
    GET    /api/lots/{id}/status        Lot with volume reconciliation
    POST   /api/lots/{id}/advance       Advance phase
    POST   /api/lots/{id}/complete      Complete from PACKAGING
    POST   /api/lots/{id}/packaging     Record a packaging run
    GET    /api/lots/{id}/packaging     Packaging runs
    GET    /api/lots/{id}/timeline      Audit trail
    GET    /api/lots/{id}/lineage       Parents, children, blend sources

  Tools:
    GET    /api/convert                 Gravity unit conversion

ERROR HANDLING:
  Errors are returned as JSON {error, code, details} with status:
  - 400: Malformed body, invalid argument
  - 404: Batch or lot not found
  - 409: Rule conflicts: transition, blend membership, volume exceeded,
         vessel or stock unavailable
  - 422: Validation, split volume mismatch, unsupported lot operation
  - 500: Internal errors (logged)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/brewline/lot-engine/external"
	"github.com/brewline/lot-engine/gravity"
	"github.com/brewline/lot-engine/lot"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// VesselRegistry is implemented by in-process vessel registries that demo
// scenarios can clear.
type VesselRegistry interface {
	Reset()
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	engine       *lot.Engine
	store        lot.Resetter
	vessels      VesselRegistry
	log          zerolog.Logger
	validate     *validator.Validate
	defaultActor string

	mu              sync.Mutex
	currentScenario string
}

type HandlerOption func(*Handler)

func WithLogger(l zerolog.Logger) HandlerOption { return func(h *Handler) { h.log = l } }

// WithResetter enables the scenario endpoints that wipe the store.
func WithResetter(r lot.Resetter) HandlerOption { return func(h *Handler) { h.store = r } }

func WithVesselRegistry(v VesselRegistry) HandlerOption {
	return func(h *Handler) { h.vessels = v }
}

// WithDefaultActor names the actor recorded when a request carries none.
func WithDefaultActor(actor string) HandlerOption {
	return func(h *Handler) { h.defaultActor = actor }
}

// NewHandler creates a new handler over the given engine.
func NewHandler(engine *lot.Engine, opts ...HandlerOption) *Handler {
	h := &Handler{
		engine:       engine,
		log:          zerolog.Nop(),
		validate:     newValidator(),
		defaultActor: "system",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func (h *Handler) actor(requested string) string {
	if requested != "" {
		return requested
	}
	return h.defaultActor
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// CreateBatch plans a new batch.
// POST /api/batches
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	var brewDate time.Time
	if req.BrewDate != "" {
		brewDate, _ = time.Parse("2006-01-02", req.BrewDate)
	}

	b, err := h.engine.CreateBatch(r.Context(), lot.NewBatch{
		Number:        req.BatchNumber,
		RecipeID:      req.RecipeID,
		PlannedVolume: req.PlannedVolume,
		BrewDate:      brewDate,
		TargetOG:      req.TargetOG,
		TargetFG:      req.TargetFG,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(*b))
}

// ListBatches returns all batches.
// GET /api/batches
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.engine.ListBatches(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTOs(batches))
}

// GetBatch returns a single batch.
// GET /api/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.GetBatch(r.Context(), lot.BatchID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(*b))
}

// StartBrew moves a planned batch to brewing.
// POST /api/batches/{id}/brew
func (h *Handler) StartBrew(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.StartBrew(r.Context(), lot.BatchID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(*b))
}

// StartFermentation creates the batch's single lot.
// POST /api/batches/{id}/ferment
func (h *Handler) StartFermentation(w http.ResponseWriter, r *http.Request) {
	var req FermentRequest
	if !h.decode(w, r, &req) {
		return
	}

	l, err := h.engine.StartFermentation(r.Context(), lot.FermentationStart{
		BatchID:  lot.BatchID(chi.URLParam(r, "id")),
		VesselID: lot.VesselID(req.VesselID),
		Volume:   req.Volume,
		Actor:    h.actor(req.Actor),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLotDTO(*l))
}

// SplitBatch splits the batch's active lot.
// POST /api/batches/{id}/split
func (h *Handler) SplitBatch(w http.ResponseWriter, r *http.Request) {
	var req SplitRequest
	if !h.decode(w, r, &req) {
		return
	}

	targets := make([]lot.SplitTarget, len(req.Targets))
	for i, t := range req.Targets {
		targets[i] = lot.SplitTarget{
			VesselID:   lot.VesselID(t.VesselID),
			Volume:     t.Volume,
			Percentage: t.Percentage,
		}
	}

	res, err := h.engine.SplitBatch(r.Context(), lot.SplitRequest{
		BatchID: lot.BatchID(chi.URLParam(r, "id")),
		Volume:  req.Volume,
		Targets: targets,
		Actor:   h.actor(req.Actor),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SplitResultDTO{
		Source:     toLotDTO(res.Source),
		Children:   toLotDTOs(res.Children),
		Allocated:  res.Allocated,
		Unassigned: res.Unassigned,
	})
}

// BlendBatches merges the active lots of several batches.
// POST /api/blends
func (h *Handler) BlendBatches(w http.ResponseWriter, r *http.Request) {
	var req BlendRequest
	if !h.decode(w, r, &req) {
		return
	}

	ids := make([]lot.BatchID, len(req.BatchIDs))
	for i, id := range req.BatchIDs {
		ids[i] = lot.BatchID(id)
	}

	res, err := h.engine.BlendBatches(r.Context(), lot.BlendRequest{
		BatchIDs: ids,
		VesselID: lot.VesselID(req.VesselID),
		Actor:    h.actor(req.Actor),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, BlendResultDTO{
		Blend:   toLotDTO(res.Blend),
		Sources: toLotDTOs(res.Sources),
		Shares:  toLotBatchDTOs(res.Shares),
	})
}

// =============================================================================
// GRAVITY HANDLERS
// =============================================================================

// RecordReading appends a gravity reading to a batch.
// POST /api/batches/{id}/readings
func (h *Handler) RecordReading(w http.ResponseWriter, r *http.Request) {
	var req ReadingRequest
	if !h.decode(w, r, &req) {
		return
	}
	unit, err := gravity.ParseUnit(req.Unit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error(), nil)
		return
	}

	in := lot.ReadingRequest{
		BatchID:     lot.BatchID(chi.URLParam(r, "id")),
		Value:       req.Value,
		Unit:        unit,
		Temperature: req.Temperature,
		Notes:       req.Notes,
		Kind:        gravity.ReadingKind(req.Kind),
		Actor:       h.actor(req.Actor),
	}
	if req.RecordedAt != nil {
		in.RecordedAt = req.RecordedAt.UTC()
	}

	res, err := h.engine.RecordGravityReading(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ReadingResultDTO{
		Reading: toReadingDTO(res.Reading),
		Metrics: toMetricsDTO(res.Metrics),
	})
}

// ListReadings returns a batch's readings oldest first.
// GET /api/batches/{id}/readings
func (h *Handler) ListReadings(w http.ResponseWriter, r *http.Request) {
	readings, err := h.engine.Readings(r.Context(), lot.BatchID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]ReadingDTO, len(readings))
	for i, rd := range readings {
		dtos[i] = toReadingDTO(rd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMetrics returns derived gravity metrics for a batch.
// GET /api/batches/{id}/metrics
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.BatchMetrics(r.Context(), lot.BatchID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMetricsDTO(m))
}

// Convert converts a gravity value between sg, plato and brix.
// GET /api/convert?value=12&from=plato&to=sg
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	value, err := strconv.ParseFloat(q.Get("value"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "value must be a number", nil)
		return
	}
	from, err := gravity.ParseUnit(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error(), nil)
		return
	}
	to, err := gravity.ParseUnit(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error(), nil)
		return
	}

	result := gravity.Convert(value, from, to)
	if to == gravity.UnitSG {
		result = roundTo(result, 4)
	} else {
		result = gravity.Round2(result)
	}
	writeJSON(w, http.StatusOK, ConversionDTO{Value: value, From: string(from), To: string(to), Result: result})
}

func roundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// =============================================================================
// LOT HANDLERS
// =============================================================================

// ListLots returns lots matching the query filters.
// GET /api/lots?status=ACTIVE&type=split&batch_id=...&parent_id=...
func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := lot.LotFilter{
		BatchID:     lot.BatchID(q.Get("batch_id")),
		ParentLotID: lot.LotID(q.Get("parent_id")),
	}
	if s := q.Get("status"); s != "" {
		filter.Status = lot.LotStatus(strings.ToUpper(s))
		if filter.Status != lot.StatusActive && filter.Status != lot.StatusCompleted {
			writeError(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("unknown status %q", s), nil)
			return
		}
	}
	if t := q.Get("type"); t != "" {
		filter.Type = lot.LotType(strings.ToLower(t))
		switch filter.Type {
		case lot.TypeSingle, lot.TypeSplit, lot.TypeBlend:
		default:
			writeError(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("unknown lot type %q", t), nil)
			return
		}
	}

	lots, err := h.engine.ListLots(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTOs(lots))
}

// GetLot returns a single lot.
// GET /api/lots/{id}
func (h *Handler) GetLot(w http.ResponseWriter, r *http.Request) {
	l, err := h.engine.GetLot(r.Context(), lot.LotID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(*l))
}

// GetLotStatus returns the lot with its reconciled volumes.
// GET /api/lots/{id}/status
func (h *Handler) GetLotStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.GetLotStatus(r.Context(), lot.LotID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LotStatusDTO{Lot: toLotDTO(view.Lot), Volume: toVolumeDTO(view.Volume)})
}

// AdvancePhase moves a lot to the next phase.
// POST /api/lots/{id}/advance
func (h *Handler) AdvancePhase(w http.ResponseWriter, r *http.Request) {
	var req AdvanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	phase, err := lot.ParsePhase(req.Phase)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	l, err := h.engine.AdvanceLotPhase(r.Context(), lot.LotID(chi.URLParam(r, "id")), phase, h.actor(req.Actor))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(*l))
}

// CompleteLot completes a lot in PACKAGING.
// POST /api/lots/{id}/complete
func (h *Handler) CompleteLot(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body", err.Error())
		return
	}

	l, err := h.engine.CompleteLot(r.Context(), lot.LotID(chi.URLParam(r, "id")), h.actor(req.Actor))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(*l))
}

// RecordPackaging records a packaging run against a lot.
// POST /api/lots/{id}/packaging
//
// An Idempotency-Key header is used when the body carries no key.
func (h *Handler) RecordPackaging(w http.ResponseWriter, r *http.Request) {
	var req PackagingRequest
	if !h.decode(w, r, &req) {
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	in := lot.PackagingRequest{
		LotID:            lot.LotID(chi.URLParam(r, "id")),
		PackageType:      req.PackageType,
		Quantity:         req.Quantity,
		Volume:           req.Volume,
		Operator:         h.actor(req.Operator),
		IdempotencyKey:   key,
		ConfirmOvershoot: req.ConfirmOvershoot,
	}
	if req.PackagedAt != nil {
		in.PackagedAt = req.PackagedAt.UTC()
	}

	res, err := h.engine.RecordPackagingRun(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toPackagingResultDTO(res))
}

// ListPackagingRuns returns a lot's packaging runs.
// GET /api/lots/{id}/packaging
func (h *Handler) ListPackagingRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.engine.PackagingRuns(r.Context(), lot.LotID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]PackagingRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toPackagingRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTimeline returns a lot's audit trail.
// GET /api/lots/{id}/timeline
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.Timeline(r.Context(), lot.LotID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineDTOs(entries))
}

// GetLineage returns the lot's place in the split/blend graph.
// GET /api/lots/{id}/lineage
func (h *Handler) GetLineage(w http.ResponseWriter, r *http.Request) {
	lin, err := h.engine.Lineage(r.Context(), lot.LotID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineageDTO(lin))
}

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fieldPath(fe)] = fe.Tag()
			}
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", "Validation failed", fields)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return false
	}
	return true
}

// fieldPath strips the struct name from a validator namespace:
// "SplitRequest.targets[0].vessel_id" -> "targets[0].vessel_id".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// writeDomainError maps lot errors onto status codes and the error
// envelope. Unknown errors are logged and hidden behind a 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		h.log.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, status, code, "Internal server error", nil)
		return
	}
	writeError(w, status, code, err.Error(), errorDetails(err))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, lot.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, lot.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, lot.ErrSplitVolumeMismatch):
		return http.StatusUnprocessableEntity, "split_volume_mismatch"
	case errors.Is(err, lot.ErrUnsupportedLotOperation):
		return http.StatusUnprocessableEntity, "unsupported_lot_operation"
	case errors.Is(err, lot.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, lot.ErrBlendMembershipConflict):
		return http.StatusConflict, "blend_membership_conflict"
	case errors.Is(err, lot.ErrBlendSourceUnavailable):
		return http.StatusConflict, "blend_source_unavailable"
	case errors.Is(err, lot.ErrSourceNotActive):
		return http.StatusConflict, "source_not_active"
	case errors.Is(err, lot.ErrLotCompleted):
		return http.StatusConflict, "lot_completed"
	case errors.Is(err, lot.ErrVolumeExceeded):
		return http.StatusConflict, "volume_exceeded"
	case errors.Is(err, lot.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, lot.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, "duplicate_idempotency_key"
	case errors.Is(err, lot.ErrVesselUnavailable):
		return http.StatusConflict, "vessel_unavailable"
	case errors.Is(err, external.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	}
	return http.StatusInternalServerError, "internal"
}

// errorDetails exposes the structured fields a client needs to act on.
func errorDetails(err error) any {
	var vx *lot.VolumeExceededError
	if errors.As(err, &vx) {
		return map[string]string{
			"lot_id":    string(vx.LotID),
			"remaining": vx.Remaining.String(),
			"requested": vx.Requested.String(),
			"overshoot": vx.Overshoot().String(),
		}
	}
	var sv *lot.SplitVolumeError
	if errors.As(err, &sv) {
		return map[string]string{
			"source":    sv.Source.String(),
			"allocated": sv.Allocated.String(),
			"reason":    sv.Reason,
		}
	}
	var bs *lot.BlendSourceError
	if errors.As(err, &bs) {
		return map[string]string{"batch_id": string(bs.BatchID), "reason": bs.Reason}
	}
	var bm *lot.BlendMembershipError
	if errors.As(err, &bm) {
		return map[string]string{"lot_id": string(bm.LotID), "blend_lot_id": string(bm.BlendLotID)}
	}
	var te *lot.TransitionError
	if errors.As(err, &te) {
		return map[string]string{"from": te.From, "to": te.To, "reason": te.Reason}
	}
	return nil
}
