/*
Package sqlite provides a SQLite-backed implementation of lot.TxStore.

PURPOSE:
  Durable storage for batches, lots, their lineage rows, packaging runs,
  gravity readings and the lot timeline. The schema is the persisted
  contract other parts of the application read.

KEY TABLES:
  batches:          planned brews (number is unique)
  lots:             physical quantities of product, versioned for
                    optimistic concurrency
  lot_batches:      lineage (lot <- contributing batch, volume)
  packaging_runs:   append-only; lot_id is NULL on legacy rows that only
                    carry lot_code; idempotency_key is UNIQUE
  gravity_readings: append-only SG samples
  lot_timeline:     append-only audit; payload is msgpack-encoded

APPEND-ONLY ENFORCEMENT:
  Only batches and lots are ever UPDATEd. Lots are updated with
  "WHERE id = ? AND version = ?" so a stale writer gets
  lot.ErrConcurrentModification instead of overwriting.

CONCURRENCY:
  The pool is capped at one connection, which serializes writers and keeps
  ":memory:" databases shared across calls. WithTx additionally holds a
  mutex so transactions never interleave.

VOLUMES:
  Decimal volumes are stored as TEXT to keep exact values.

USAGE:
  store, err := sqlite.New("./data/lots.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := lot.NewEngine(store)

SEE ALSO:
  - lot/store.go: Interface definitions
  - lot/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/brewline/lot-engine/gravity"
	"github.com/brewline/lot-engine/lot"
)

// timeLayout has a fixed-width fraction so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements lot.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, queries: queries{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		recipe_id TEXT,
		planned_volume TEXT NOT NULL,
		target_og REAL NOT NULL DEFAULT 0,
		target_fg REAL NOT NULL DEFAULT 0,
		original_gravity REAL NOT NULL DEFAULT 0,
		final_gravity REAL NOT NULL DEFAULT 0,
		brew_date TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lots (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		type TEXT NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		total_volume TEXT NOT NULL,
		vessel_id TEXT,
		is_blend_result INTEGER NOT NULL DEFAULT 0,
		batch_count INTEGER NOT NULL DEFAULT 1,
		parent_lot_id TEXT,
		superseded TEXT,
		superseded_by TEXT,
		created_at TEXT NOT NULL,
		split_at TEXT,
		blended_at TEXT,
		completed_at TEXT,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lots_code ON lots(code);
	CREATE INDEX IF NOT EXISTS idx_lots_parent ON lots(parent_lot_id) WHERE parent_lot_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_lots_superseded_by ON lots(superseded_by) WHERE superseded_by IS NOT NULL;

	CREATE TABLE IF NOT EXISTS lot_batches (
		lot_id TEXT NOT NULL REFERENCES lots(id),
		batch_id TEXT NOT NULL REFERENCES batches(id),
		volume TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (lot_id, batch_id)
	);

	CREATE INDEX IF NOT EXISTS idx_lot_batches_batch ON lot_batches(batch_id);

	-- lot_id is NULL on legacy rows; those match by lot_code
	CREATE TABLE IF NOT EXISTS packaging_runs (
		id TEXT PRIMARY KEY,
		lot_id TEXT,
		lot_code TEXT,
		package_type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		volume TEXT NOT NULL,
		operator TEXT,
		idempotency_key TEXT UNIQUE,
		packaged_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_packaging_runs_lot ON packaging_runs(lot_id);
	CREATE INDEX IF NOT EXISTS idx_packaging_runs_legacy ON packaging_runs(lot_code) WHERE lot_id IS NULL;

	CREATE TABLE IF NOT EXISTS gravity_readings (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES batches(id),
		lot_id TEXT,
		sg REAL NOT NULL,
		temperature REAL,
		notes TEXT,
		kind TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		recorded_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_gravity_readings_batch ON gravity_readings(batch_id, recorded_at);

	CREATE TABLE IF NOT EXISTS lot_timeline (
		id TEXT PRIMARY KEY,
		lot_id TEXT NOT NULL,
		action TEXT NOT NULL,
		from_phase TEXT,
		to_phase TEXT,
		actor TEXT NOT NULL,
		at TEXT NOT NULL,
		payload BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_lot_timeline_lot ON lot_timeline(lot_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (lot.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store lot.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"lot_timeline", "gravity_readings", "packaging_runs", "lot_batches", "lots", "batches"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements lot.Store on top of a querier.
type queries struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// BATCHES
// =============================================================================

const batchColumns = `id, number, recipe_id, planned_volume, target_og, target_fg,
	original_gravity, final_gravity, brew_date, status, created_at, updated_at`

func (s *queries) SaveBatch(ctx context.Context, b lot.Batch) error {
	query := `
		INSERT INTO batches (` + batchColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			recipe_id = excluded.recipe_id,
			planned_volume = excluded.planned_volume,
			target_og = excluded.target_og,
			target_fg = excluded.target_fg,
			original_gravity = excluded.original_gravity,
			final_gravity = excluded.final_gravity,
			brew_date = excluded.brew_date,
			status = excluded.status,
			updated_at = excluded.updated_at
	`
	_, err := s.q.ExecContext(ctx, query,
		b.ID, b.Number, nullString(b.RecipeID), b.PlannedVolume.String(),
		b.TargetOG, b.TargetFG, b.OriginalGravity, b.FinalGravity,
		nullTime(b.BrewDate), b.Status, formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	return nil
}

func (s *queries) GetBatch(ctx context.Context, id lot.BatchID) (*lot.Batch, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+batchColumns+" FROM batches WHERE id = ?", id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &lot.NotFoundError{Kind: "batch", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *queries) GetBatchByNumber(ctx context.Context, number string) (*lot.Batch, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+batchColumns+" FROM batches WHERE number = ?", number)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *queries) ListBatches(ctx context.Context) ([]lot.Batch, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+batchColumns+" FROM batches ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []lot.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanBatch(row scanner) (lot.Batch, error) {
	var (
		b         lot.Batch
		recipeID  sql.NullString
		planned   string
		brewDate  sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(&b.ID, &b.Number, &recipeID, &planned, &b.TargetOG, &b.TargetFG,
		&b.OriginalGravity, &b.FinalGravity, &brewDate, &b.Status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, err
		}
		return b, fmt.Errorf("failed to scan batch: %w", err)
	}
	b.RecipeID = recipeID.String
	b.PlannedVolume = parseDecimal(planned)
	if t := parseNullTime(brewDate); t != nil {
		b.BrewDate = *t
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

// =============================================================================
// LOTS
// =============================================================================

const lotColumns = `id, code, type, phase, status, total_volume, vessel_id, is_blend_result,
	batch_count, parent_lot_id, superseded, superseded_by, created_at, split_at, blended_at,
	completed_at, version, updated_at`

func (s *queries) InsertLot(ctx context.Context, l lot.Lot) error {
	query := `INSERT INTO lots (` + lotColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, query,
		l.ID, l.Code, l.Type, l.Phase, l.Status, l.TotalVolume.String(), nullString(string(l.VesselID)),
		l.IsBlendResult, l.BatchCount, nullString(string(l.ParentLotID)), nullString(string(l.Superseded)),
		nullString(string(l.SupersededBy)), formatTime(l.CreatedAt), nullTimePtr(l.SplitAt),
		nullTimePtr(l.BlendedAt), nullTimePtr(l.CompletedAt), l.Version, formatTime(l.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return lot.ErrConcurrentModification
		}
		return fmt.Errorf("failed to insert lot: %w", err)
	}
	return nil
}

func (s *queries) UpdateLot(ctx context.Context, l lot.Lot, expectedVersion int) error {
	query := `
		UPDATE lots SET
			code = ?, type = ?, phase = ?, status = ?, total_volume = ?, vessel_id = ?,
			is_blend_result = ?, batch_count = ?, parent_lot_id = ?, superseded = ?,
			superseded_by = ?, split_at = ?, blended_at = ?, completed_at = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := s.q.ExecContext(ctx, query,
		l.Code, l.Type, l.Phase, l.Status, l.TotalVolume.String(), nullString(string(l.VesselID)),
		l.IsBlendResult, l.BatchCount, nullString(string(l.ParentLotID)), nullString(string(l.Superseded)),
		nullString(string(l.SupersededBy)), nullTimePtr(l.SplitAt), nullTimePtr(l.BlendedAt),
		nullTimePtr(l.CompletedAt), l.Version, formatTime(l.UpdatedAt),
		l.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update lot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM lots WHERE id = ?", l.ID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return &lot.NotFoundError{Kind: "lot", ID: string(l.ID)}
	}
	return lot.ErrConcurrentModification
}

func (s *queries) GetLot(ctx context.Context, id lot.LotID) (*lot.Lot, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+lotColumns+" FROM lots WHERE id = ?", id)
	l, err := scanLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &lot.NotFoundError{Kind: "lot", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *queries) GetLotByCode(ctx context.Context, code string) (*lot.Lot, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+lotColumns+" FROM lots WHERE code = ? ORDER BY rowid ASC LIMIT 1", code)
	l, err := scanLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *queries) ListLots(ctx context.Context, f lot.LotFilter) ([]lot.Lot, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.BatchID != "" {
		where = append(where, "id IN (SELECT lot_id FROM lot_batches WHERE batch_id = ?)")
		args = append(args, f.BatchID)
	}
	if f.ParentLotID != "" {
		where = append(where, "parent_lot_id = ?")
		args = append(args, f.ParentLotID)
	}
	if f.SupersededBy != "" {
		where = append(where, "superseded_by = ?")
		args = append(args, f.SupersededBy)
	}

	query := "SELECT " + lotColumns + " FROM lots"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC"
	return s.queryLots(ctx, query, args...)
}

func (s *queries) BatchLots(ctx context.Context, batchID lot.BatchID) ([]lot.Lot, error) {
	return s.ListLots(ctx, lot.LotFilter{BatchID: batchID})
}

func (s *queries) queryLots(ctx context.Context, query string, args ...any) ([]lot.Lot, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []lot.Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func scanLot(row scanner) (lot.Lot, error) {
	var (
		l            lot.Lot
		totalVolume  string
		vesselID     sql.NullString
		parentLotID  sql.NullString
		superseded   sql.NullString
		supersededBy sql.NullString
		createdAt    string
		splitAt      sql.NullString
		blendedAt    sql.NullString
		completedAt  sql.NullString
		updatedAt    string
	)
	err := row.Scan(&l.ID, &l.Code, &l.Type, &l.Phase, &l.Status, &totalVolume, &vesselID,
		&l.IsBlendResult, &l.BatchCount, &parentLotID, &superseded, &supersededBy, &createdAt,
		&splitAt, &blendedAt, &completedAt, &l.Version, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return l, err
		}
		return l, fmt.Errorf("failed to scan lot: %w", err)
	}
	l.TotalVolume = parseDecimal(totalVolume)
	l.VesselID = lot.VesselID(vesselID.String)
	l.ParentLotID = lot.LotID(parentLotID.String)
	l.Superseded = lot.Supersession(superseded.String)
	l.SupersededBy = lot.LotID(supersededBy.String)
	l.CreatedAt = parseTime(createdAt)
	l.SplitAt = parseNullTime(splitAt)
	l.BlendedAt = parseNullTime(blendedAt)
	l.CompletedAt = parseNullTime(completedAt)
	l.UpdatedAt = parseTime(updatedAt)
	return l, nil
}

// =============================================================================
// LINEAGE
// =============================================================================

func (s *queries) InsertLotBatch(ctx context.Context, lb lot.LotBatch) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO lot_batches (lot_id, batch_id, volume, created_at) VALUES (?, ?, ?, ?)",
		lb.LotID, lb.BatchID, lb.Volume.String(), formatTime(lb.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert lot batch: %w", err)
	}
	return nil
}

func (s *queries) LotBatches(ctx context.Context, lotID lot.LotID) ([]lot.LotBatch, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT lot_id, batch_id, volume, created_at FROM lot_batches WHERE lot_id = ? ORDER BY rowid ASC",
		lotID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query lot batches: %w", err)
	}
	defer rows.Close()

	var out []lot.LotBatch
	for rows.Next() {
		var (
			lb        lot.LotBatch
			volume    string
			createdAt string
		)
		if err := rows.Scan(&lb.LotID, &lb.BatchID, &volume, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan lot batch: %w", err)
		}
		lb.Volume = parseDecimal(volume)
		lb.CreatedAt = parseTime(createdAt)
		out = append(out, lb)
	}
	return out, rows.Err()
}

// =============================================================================
// PACKAGING RUNS
// =============================================================================

const runColumns = `id, lot_id, lot_code, package_type, quantity, volume, operator,
	idempotency_key, packaged_at, created_at`

func (s *queries) InsertPackagingRun(ctx context.Context, run lot.PackagingRun) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO packaging_runs ("+runColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		run.ID, nullString(string(run.LotID)), nullString(run.LotCode), run.PackageType, run.Quantity,
		run.Volume.String(), nullString(run.Operator), nullString(run.IdempotencyKey),
		formatTime(run.PackagedAt), formatTime(run.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return lot.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert packaging run: %w", err)
	}
	return nil
}

func (s *queries) PackagingRunByKey(ctx context.Context, key string) (*lot.PackagingRun, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+runColumns+" FROM packaging_runs WHERE idempotency_key = ?", key)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *queries) PackagingRuns(ctx context.Context, lotID lot.LotID, lotCode string) ([]lot.PackagingRun, error) {
	query := `
		SELECT ` + runColumns + ` FROM packaging_runs
		WHERE lot_id = ? OR (lot_id IS NULL AND ? <> '' AND lot_code = ?)
		ORDER BY rowid ASC
	`
	return s.queryRuns(ctx, query, lotID, lotCode, lotCode)
}

func (s *queries) LegacyPackagingRuns(ctx context.Context) ([]lot.PackagingRun, error) {
	return s.queryRuns(ctx, "SELECT "+runColumns+" FROM packaging_runs WHERE lot_id IS NULL ORDER BY rowid ASC")
}

func (s *queries) SetPackagingRunLot(ctx context.Context, runID lot.RunID, lotID lot.LotID) error {
	res, err := s.q.ExecContext(ctx, "UPDATE packaging_runs SET lot_id = ? WHERE id = ?", lotID, runID)
	if err != nil {
		return fmt.Errorf("failed to set packaging run lot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &lot.NotFoundError{Kind: "packaging run", ID: string(runID)}
	}
	return nil
}

func (s *queries) queryRuns(ctx context.Context, query string, args ...any) ([]lot.PackagingRun, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query packaging runs: %w", err)
	}
	defer rows.Close()

	var runs []lot.PackagingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row scanner) (lot.PackagingRun, error) {
	var (
		run            lot.PackagingRun
		lotID          sql.NullString
		lotCode        sql.NullString
		volume         string
		operator       sql.NullString
		idempotencyKey sql.NullString
		packagedAt     string
		createdAt      string
	)
	err := row.Scan(&run.ID, &lotID, &lotCode, &run.PackageType, &run.Quantity, &volume,
		&operator, &idempotencyKey, &packagedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("failed to scan packaging run: %w", err)
	}
	run.LotID = lot.LotID(lotID.String)
	run.LotCode = lotCode.String
	run.Volume = parseDecimal(volume)
	run.Operator = operator.String
	run.IdempotencyKey = idempotencyKey.String
	run.PackagedAt = parseTime(packagedAt)
	run.CreatedAt = parseTime(createdAt)
	return run, nil
}

// =============================================================================
// GRAVITY READINGS
// =============================================================================

func (s *queries) AppendReading(ctx context.Context, r lot.GravityReading) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO gravity_readings
		(id, batch_id, lot_id, sg, temperature, notes, kind, recorded_at, recorded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.BatchID, nullString(string(r.LotID)), r.SG, r.Temperature, nullString(r.Notes),
		r.Kind, formatTime(r.RecordedAt), nullString(r.RecordedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to append reading: %w", err)
	}
	return nil
}

func (s *queries) Readings(ctx context.Context, batchID lot.BatchID) ([]lot.GravityReading, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, batch_id, lot_id, sg, temperature, notes, kind, recorded_at, recorded_by
		FROM gravity_readings
		WHERE batch_id = ?
		ORDER BY recorded_at ASC, rowid ASC`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []lot.GravityReading
	for rows.Next() {
		var (
			r          lot.GravityReading
			lotID      sql.NullString
			temp       sql.NullFloat64
			notes      sql.NullString
			kind       string
			recordedAt string
			recordedBy sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.BatchID, &lotID, &r.SG, &temp, &notes, &kind, &recordedAt, &recordedBy); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.LotID = lot.LotID(lotID.String)
		r.Temperature = temp.Float64
		r.Notes = notes.String
		r.Kind = gravity.ReadingKind(kind)
		r.RecordedAt = parseTime(recordedAt)
		r.RecordedBy = recordedBy.String
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// =============================================================================
// TIMELINE
// =============================================================================

func (s *queries) AppendTimeline(ctx context.Context, e lot.TimelineEntry) error {
	var payload []byte
	if len(e.Payload) > 0 {
		b, err := msgpack.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode timeline payload: %w", err)
		}
		payload = b
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO lot_timeline (id, lot_id, action, from_phase, to_phase, actor, at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.LotID, e.Action, nullString(string(e.FromPhase)), nullString(string(e.ToPhase)),
		e.Actor, formatTime(e.At), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to append timeline entry: %w", err)
	}
	return nil
}

func (s *queries) Timeline(ctx context.Context, lotID lot.LotID) ([]lot.TimelineEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, lot_id, action, from_phase, to_phase, actor, at, payload
		FROM lot_timeline
		WHERE lot_id = ?
		ORDER BY at ASC, rowid ASC`,
		lotID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	var entries []lot.TimelineEntry
	for rows.Next() {
		var (
			e       lot.TimelineEntry
			from    sql.NullString
			to      sql.NullString
			at      string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.LotID, &e.Action, &from, &to, &e.Actor, &at, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan timeline entry: %w", err)
		}
		e.FromPhase = lot.Phase(from.String)
		e.ToPhase = lot.Phase(to.String)
		e.At = parseTime(at)
		if len(payload) > 0 {
			if err := msgpack.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode timeline payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return nullTime(*t)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

var (
	_ lot.TxStore  = (*Store)(nil)
	_ lot.Resetter = (*Store)(nil)
	_ lot.Store    = (*queries)(nil)
)
