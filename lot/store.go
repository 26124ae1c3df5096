/*
store.go - Persistence contract for batches, lots and their history

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never holds state of its own; every read goes back to the Store, so there
  is a single source of truth and no parallel caches to desynchronize.

WRITE RULES:
  - Lots are inserted, then only updated through UpdateLot with the version
    the caller read. A mismatch returns ErrConcurrentModification.
  - LotBatch rows, packaging runs, gravity readings and timeline entries are
    append-only.
  - Packaging runs carry an optional idempotency key; a repeated key
    returns ErrDuplicateIdempotencyKey.

ATOMICITY:
  TxStore.WithTx runs fn against a transactional view. Either every write
  in fn commits or none does. Split and blend touch several lots and
  batches and always run inside WithTx.

IMPLEMENTATIONS:
  - lot/store/memory.go: in-memory, snapshot + restore on error
  - store/sqlite/sqlite.go: SQLite
*/
package lot

import "context"

// LotFilter narrows ListLots. Zero fields are ignored.
type LotFilter struct {
	Status       LotStatus
	Type         LotType
	BatchID      BatchID
	ParentLotID  LotID
	SupersededBy LotID
}

// Matches reports whether l satisfies every non-zero field except BatchID,
// which needs LotBatch rows to evaluate.
func (f LotFilter) Matches(l Lot) bool {
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.Type != "" && l.Type != f.Type {
		return false
	}
	if f.ParentLotID != "" && l.ParentLotID != f.ParentLotID {
		return false
	}
	if f.SupersededBy != "" && l.SupersededBy != f.SupersededBy {
		return false
	}
	return true
}

type Store interface {
	SaveBatch(ctx context.Context, b Batch) error
	// GetBatch returns a *NotFoundError when the batch is unknown.
	GetBatch(ctx context.Context, id BatchID) (*Batch, error)
	// GetBatchByNumber returns nil, nil when no batch has the number.
	GetBatchByNumber(ctx context.Context, number string) (*Batch, error)
	ListBatches(ctx context.Context) ([]Batch, error)

	InsertLot(ctx context.Context, l Lot) error
	// UpdateLot writes l if the stored version equals expectedVersion.
	UpdateLot(ctx context.Context, l Lot, expectedVersion int) error
	// GetLot returns a *NotFoundError when the lot is unknown.
	GetLot(ctx context.Context, id LotID) (*Lot, error)
	// GetLotByCode returns nil, nil when no lot has the code.
	GetLotByCode(ctx context.Context, code string) (*Lot, error)
	ListLots(ctx context.Context, filter LotFilter) ([]Lot, error)

	InsertLotBatch(ctx context.Context, lb LotBatch) error
	LotBatches(ctx context.Context, lotID LotID) ([]LotBatch, error)
	// BatchLots returns every lot that has a LotBatch row for the batch,
	// ordered by creation.
	BatchLots(ctx context.Context, batchID BatchID) ([]Lot, error)

	InsertPackagingRun(ctx context.Context, run PackagingRun) error
	// PackagingRunByKey returns nil, nil when the key is unused.
	PackagingRunByKey(ctx context.Context, key string) (*PackagingRun, error)
	// PackagingRuns returns runs referencing lotID, plus legacy runs that
	// carry no lot reference but match lotCode.
	PackagingRuns(ctx context.Context, lotID LotID, lotCode string) ([]PackagingRun, error)
	LegacyPackagingRuns(ctx context.Context) ([]PackagingRun, error)
	SetPackagingRunLot(ctx context.Context, runID RunID, lotID LotID) error

	AppendReading(ctx context.Context, r GravityReading) error
	// Readings returns a batch's readings ordered by RecordedAt ascending.
	Readings(ctx context.Context, batchID BatchID) ([]GravityReading, error)

	AppendTimeline(ctx context.Context, e TimelineEntry) error
	Timeline(ctx context.Context, lotID LotID) ([]TimelineEntry, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Resetter is implemented by stores that can be wiped (demo scenarios).
type Resetter interface {
	Reset(ctx context.Context) error
}
