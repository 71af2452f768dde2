package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/port"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

//go:embed schema_mysql.sql
var mysqlSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLStore persists inventory, holds, orders, idempotency keys,
// reconciliation entries and audit records in MySQL or SQLite. Timestamps
// are stored as unix nanoseconds so both drivers round-trip them exactly.
type SQLStore struct {
	db     *sql.DB
	driver string
}

var (
	_ port.InventoryRepository      = (*SQLStore)(nil)
	_ port.OrderRepository          = (*SQLStore)(nil)
	_ port.IdempotencyRepository    = (*SQLStore)(nil)
	_ port.ReconciliationRepository = (*SQLStore)(nil)
	_ port.AuditRepository          = (*SQLStore)(nil)
)

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// OpenSQL opens the database, applies driver settings and creates the schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverMySQL && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite has a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	s := NewSQLStore(db, driver)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates any missing tables. It is safe to run repeatedly.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == DriverMySQL {
		schema = mysqlSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// --- inventory ---

func (s *SQLStore) GetInventory(ctx context.Context, productID, locationID string) (*domain.InventoryRecord, error) {
	var (
		rec       domain.InventoryRecord
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT product_id, location_id, on_hand, held, version, updated_at
		FROM inventory WHERE product_id = ? AND location_id = ?`, productID, locationID,
	).Scan(&rec.ProductID, &rec.LocationID, &rec.OnHand, &rec.Held, &rec.Version, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}

	rec.UpdatedAt = fromNanos(updatedAt)
	return &rec, nil
}

func (s *SQLStore) CreateInventory(ctx context.Context, record domain.InventoryRecord, audit []domain.AuditRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory (product_id, location_id, on_hand, held, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.ProductID, record.LocationID, record.OnHand, record.Held, record.Version, nanos(record.UpdatedAt),
	)
	if isDuplicateKey(err) {
		return fmt.Errorf("inventory %s at %s exists: %w", record.ProductID, record.LocationID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert inventory: %w", err)
	}

	if err := insertAudit(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) ApplyChange(ctx context.Context, change port.InventoryChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rec := change.Record
	result, err := tx.ExecContext(ctx, `
		UPDATE inventory
		SET on_hand = ?, held = ?, version = ?, updated_at = ?
		WHERE product_id = ? AND location_id = ? AND version = ?`,
		rec.OnHand, rec.Held, rec.Version, nanos(rec.UpdatedAt),
		rec.ProductID, rec.LocationID, change.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrOptimisticLock
	}

	if change.Hold != nil {
		if err := saveHold(ctx, tx, *change.Hold); err != nil {
			return err
		}
	}
	if err := insertAudit(ctx, tx, change.Audit); err != nil {
		return err
	}
	return tx.Commit()
}

func saveHold(ctx context.Context, tx *sql.Tx, h domain.Hold) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM holds WHERE id = ?`, h.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("query hold: %w", err)
	}

	if exists > 0 {
		_, err = tx.ExecContext(ctx, `UPDATE holds SET state = ?, updated_at = ? WHERE id = ?`,
			h.State, nanos(h.UpdatedAt), h.ID)
		if err != nil {
			return fmt.Errorf("update hold: %w", err)
		}
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO holds (id, order_id, product_id, location_id, quantity, state, created_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.OrderID, h.ProductID, h.LocationID, h.Quantity, h.State,
		nanos(h.CreatedAt), nanos(h.ExpiresAt), nanos(h.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert hold: %w", err)
	}
	return nil
}

const holdColumns = `id, order_id, product_id, location_id, quantity, state, created_at, expires_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHold(row rowScanner) (domain.Hold, error) {
	var (
		h                              domain.Hold
		state                          string
		createdAt, expiresAt, updateAt int64
	)
	err := row.Scan(&h.ID, &h.OrderID, &h.ProductID, &h.LocationID, &h.Quantity, &state,
		&createdAt, &expiresAt, &updateAt)
	if err != nil {
		return domain.Hold{}, err
	}
	h.State = domain.HoldState(state)
	h.CreatedAt = fromNanos(createdAt)
	h.ExpiresAt = fromNanos(expiresAt)
	h.UpdatedAt = fromNanos(updateAt)
	return h, nil
}

func (s *SQLStore) GetHold(ctx context.Context, holdID string) (*domain.Hold, error) {
	h, err := scanHold(s.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = ?`, holdID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query hold: %w", err)
	}
	return &h, nil
}

func (s *SQLStore) FindActiveHold(ctx context.Context, orderID, productID string) (*domain.Hold, error) {
	h, err := scanHold(s.db.QueryRowContext(ctx, `
		SELECT `+holdColumns+` FROM holds
		WHERE order_id = ? AND product_id = ? AND state = ?
		LIMIT 1`, orderID, productID, domain.HoldActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active hold: %w", err)
	}
	return &h, nil
}

func (s *SQLStore) ListHoldsByOrder(ctx context.Context, orderID string) ([]domain.Hold, error) {
	return s.queryHolds(ctx, `
		SELECT `+holdColumns+` FROM holds
		WHERE order_id = ? ORDER BY product_id`, orderID)
}

func (s *SQLStore) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	return s.queryHolds(ctx, `
		SELECT `+holdColumns+` FROM holds
		WHERE state = ? AND expires_at <= ?
		ORDER BY expires_at LIMIT ?`, domain.HoldActive, nanos(now), limit)
}

func (s *SQLStore) queryHolds(ctx context.Context, query string, args ...any) ([]domain.Hold, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query holds: %w", err)
	}
	defer rows.Close()

	var out []domain.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// --- orders ---

func (s *SQLStore) CreateOrder(ctx context.Context, order domain.Order) error {
	lines, holdIDs, err := encodeOrder(order)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, location_id, idempotency_key, cart_lines, total, state, hold_ids,
			authorization_id, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.LocationID, order.IdempotencyKey, lines, order.Total, order.State, holdIDs,
		order.AuthorizationID, order.Reason, nanos(order.CreatedAt), nanos(order.UpdatedAt),
	)
	if isDuplicateKey(err) {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrOrderExists)
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *SQLStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var (
		o                    domain.Order
		lines, holdIDs       []byte
		state                string
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, location_id, idempotency_key, cart_lines, total, state, hold_ids,
			authorization_id, reason, created_at, updated_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&o.ID, &o.LocationID, &o.IdempotencyKey, &lines, &o.Total, &state, &holdIDs,
		&o.AuthorizationID, &o.Reason, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return nil, fmt.Errorf("decode order lines: %w", err)
	}
	if err := json.Unmarshal(holdIDs, &o.HoldIDs); err != nil {
		return nil, fmt.Errorf("decode order holds: %w", err)
	}
	o.State = domain.OrderState(state)
	o.CreatedAt = fromNanos(createdAt)
	o.UpdatedAt = fromNanos(updatedAt)
	return &o, nil
}

func (s *SQLStore) UpdateOrder(ctx context.Context, order domain.Order) error {
	lines, holdIDs, err := encodeOrder(order)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET location_id = ?, cart_lines = ?, total = ?, state = ?, hold_ids = ?,
			authorization_id = ?, reason = ?, updated_at = ?
		WHERE id = ?`,
		order.LocationID, lines, order.Total, order.State, holdIDs,
		order.AuthorizationID, order.Reason, nanos(order.UpdatedAt), order.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	// MySQL reports zero affected rows for an unchanged row, so confirm the
	// order is really missing before failing.
	if rows, _ := result.RowsAffected(); rows == 0 {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE id = ?`, order.ID).Scan(&n); err != nil {
			return fmt.Errorf("query order: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("order %s: %w", order.ID, domain.ErrNotFound)
		}
	}
	return nil
}

func encodeOrder(order domain.Order) (lines, holdIDs []byte, err error) {
	if order.Lines == nil {
		order.Lines = []domain.CartLine{}
	}
	if order.HoldIDs == nil {
		order.HoldIDs = []string{}
	}
	if lines, err = json.Marshal(order.Lines); err != nil {
		return nil, nil, fmt.Errorf("encode order lines: %w", err)
	}
	if holdIDs, err = json.Marshal(order.HoldIDs); err != nil {
		return nil, nil, fmt.Errorf("encode order holds: %w", err)
	}
	return lines, holdIDs, nil
}

// --- idempotency ---

func (s *SQLStore) Claim(ctx context.Context, op domain.IdempotentOperation, ttl time.Duration) (*domain.IdempotentOperation, error) {
	now := op.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}

	for attempt := 0; attempt < 2; attempt++ {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO idempotency_operations (idem_key, operation, fingerprint, state, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			op.Key, op.Operation, op.Fingerprint, domain.OperationPending, nanos(now), nanos(now.Add(ttl)),
		)
		if err == nil {
			return nil, nil
		}
		if !isDuplicateKey(err) {
			return nil, fmt.Errorf("insert idempotency key: %w", err)
		}

		existing, expiresAt, err := s.getOperation(ctx, op.Key)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			continue
		}
		if now.Before(expiresAt) {
			return existing, nil
		}

		// Past the retention horizon; the key is free again.
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM idempotency_operations WHERE idem_key = ? AND expires_at <= ?`,
			op.Key, nanos(now)); err != nil {
			return nil, fmt.Errorf("delete expired idempotency key: %w", err)
		}
	}
	return nil, fmt.Errorf("claim idempotency key %s: %w", op.Key, domain.ErrOperationInProgress)
}

func (s *SQLStore) getOperation(ctx context.Context, key string) (*domain.IdempotentOperation, time.Time, error) {
	var (
		op                               domain.IdempotentOperation
		state                            string
		result                           []byte
		createdAt, completedAt, expireAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT idem_key, operation, fingerprint, state, result, created_at, completed_at, expires_at
		FROM idempotency_operations WHERE idem_key = ?`, key,
	).Scan(&op.Key, &op.Operation, &op.Fingerprint, &state, &result, &createdAt, &completedAt, &expireAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("query idempotency key: %w", err)
	}

	op.State = domain.OperationState(state)
	op.Result = result
	op.CreatedAt = fromNanos(createdAt)
	op.CompletedAt = fromNanos(completedAt)
	return &op, fromNanos(expireAt), nil
}

func (s *SQLStore) Complete(ctx context.Context, key string, result []byte, at time.Time, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_operations
		SET state = ?, result = ?, completed_at = ?, expires_at = ?
		WHERE idem_key = ? AND state = ?`,
		domain.OperationCompleted, result, nanos(at), nanos(at.Add(ttl)), key, domain.OperationPending,
	)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("idempotency key %s not pending: %w", key, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLStore) Abandon(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_operations WHERE idem_key = ? AND state = ?`,
		key, domain.OperationPending)
	if err != nil {
		return fmt.Errorf("abandon idempotency key: %w", err)
	}
	return nil
}

// --- reconciliation ---

const entryColumns = `id, domain, location_id, operation_ref, reason, payload, resolved,
	resolution, resolved_by, created_at, resolved_at`

func scanEntry(row rowScanner) (domain.ReconciliationEntry, error) {
	var (
		e                      domain.ReconciliationEntry
		d                      string
		payload                []byte
		resolution, resolvedBy sql.NullString
		createdAt              int64
		resolvedAt             sql.NullInt64
	)
	err := row.Scan(&e.ID, &d, &e.LocationID, &e.OperationRef, &e.Reason, &payload, &e.Resolved,
		&resolution, &resolvedBy, &createdAt, &resolvedAt)
	if err != nil {
		return domain.ReconciliationEntry{}, err
	}
	e.Domain = domain.ReconciliationDomain(d)
	e.Payload = json.RawMessage(payload)
	e.Resolution = resolution.String
	e.ResolvedBy = resolvedBy.String
	e.CreatedAt = fromNanos(createdAt)
	if resolvedAt.Valid {
		t := fromNanos(resolvedAt.Int64)
		e.ResolvedAt = &t
	}
	return e, nil
}

func (s *SQLStore) AppendEntry(ctx context.Context, entry domain.ReconciliationEntry) error {
	payload := []byte(entry.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_entries (id, domain, location_id, operation_ref, reason, payload, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Domain, entry.LocationID, entry.OperationRef, entry.Reason, string(payload),
		false, nanos(entry.CreatedAt),
	)
	if isDuplicateKey(err) {
		return fmt.Errorf("reconciliation entry %s: %w", entry.ID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert reconciliation entry: %w", err)
	}
	return nil
}

func (s *SQLStore) GetEntry(ctx context.Context, id string) (*domain.ReconciliationEntry, error) {
	return getEntry(ctx, s.db, id)
}

func getEntry(ctx context.Context, q queryer, id string) (*domain.ReconciliationEntry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM reconciliation_entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reconciliation entry: %w", err)
	}
	return &e, nil
}

func (s *SQLStore) ListUnresolved(ctx context.Context, d domain.ReconciliationDomain) ([]domain.ReconciliationEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM reconciliation_entries
		WHERE resolved = ? AND domain = ?
		ORDER BY created_at, id`, false, d)
	if err != nil {
		return nil, fmt.Errorf("query reconciliation entries: %w", err)
	}
	defer rows.Close()

	var out []domain.ReconciliationEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reconciliation entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) ResolveEntry(ctx context.Context, id, resolution, actor string, at time.Time) (*domain.ReconciliationEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE reconciliation_entries
		SET resolved = ?, resolution = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND resolved = ?`,
		true, resolution, actor, nanos(at), id, false,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve reconciliation entry: %w", err)
	}

	entry, err := getEntry(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("reconciliation entry %s: %w", id, domain.ErrNotFound)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("reconciliation entry %s already resolved: %w", id, domain.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return entry, nil
}

func (s *SQLStore) CountUnresolved(ctx context.Context, locationID string) (map[domain.ReconciliationDomain]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, COUNT(*) FROM reconciliation_entries
		WHERE location_id = ? AND resolved = ?
		GROUP BY domain`, locationID, false)
	if err != nil {
		return nil, fmt.Errorf("count reconciliation entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ReconciliationDomain]int)
	for rows.Next() {
		var (
			d string
			n int
		)
		if err := rows.Scan(&d, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.ReconciliationDomain(d)] = n
	}
	return counts, rows.Err()
}

// --- audit ---

func (s *SQLStore) AppendAudit(ctx context.Context, records ...domain.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertAudit(ctx, tx, records); err != nil {
		return err
	}
	return tx.Commit()
}

func insertAudit(ctx context.Context, tx *sql.Tx, records []domain.AuditRecord) error {
	for _, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_records (id, entity, entity_id, field, old_value, new_value, actor, reason, at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Entity, r.EntityID, r.Field, r.OldValue, r.NewValue, r.Actor, r.Reason, nanos(r.At),
		)
		if err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) ListAudit(ctx context.Context, entity, entityID string) ([]domain.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity, entity_id, field, old_value, new_value, actor, reason, at
		FROM audit_records WHERE entity = ? AND entity_id = ?
		ORDER BY at, id`, entity, entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var (
			r  domain.AuditRecord
			at int64
		)
		if err := rows.Scan(&r.ID, &r.Entity, &r.EntityID, &r.Field, &r.OldValue, &r.NewValue,
			&r.Actor, &r.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.At = fromNanos(at)
		out = append(out, r)
	}
	return out, rows.Err()
}
