package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"server-backend/models"
)

func marshalTroops(troops map[string]int) ([]byte, error) {
	return json.Marshal(troops)
}

func unmarshalTroops(data []byte) (map[string]int, error) {
	troops := make(map[string]int)
	if len(data) == 0 {
		return troops, nil
	}
	if err := json.Unmarshal(data, &troops); err != nil {
		return nil, err
	}
	return troops, nil
}

// serializationFailure is the Postgres SQLSTATE for a serialization
// conflict under SERIALIZABLE/REPEATABLE READ isolation, or a deadlock.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting txImpl's
// methods run unmodified whether composed in a transaction or called
// directly as a convenience single-statement read.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Postgres is the lib/pq-backed Store. Grounded on the reference's
// repository/*.go files, consolidated into one querier-parameterized
// implementation so the same SQL runs standalone and inside WithTx.
type Postgres struct {
	txImpl
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgres(db *sql.DB, logger *zap.Logger) *Postgres {
	return &Postgres{txImpl: txImpl{q: db}, db: db, logger: logger}
}

// WithTx runs fn inside one transaction, retrying transparently on a
// serialization conflict up to 3 attempts total, per §7/§9 "retry budget
// belongs here" (Market operations) and §4.B (resource accrual retry).
func (p *Postgres) WithTx(ctx context.Context, fn func(Tx) error) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := p.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isSerializationConflict(err) || attempt == maxAttempts {
			return err
		}
		p.logger.Warn("retrying transaction after serialization conflict",
			zap.Int("attempt", attempt), zap.Error(err))
	}
	return lastErr
}

func (p *Postgres) runOnce(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&txImpl{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func isSerializationConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return code == sqlStateSerializationFailure || code == sqlStateDeadlockDetected
	}
	return false
}

// txImpl implements Tx against any querier (*sql.DB or *sql.Tx).
type txImpl struct {
	q querier
}

// ---- Users ----

func (t *txImpl) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, username, password_hash, email, display_name, is_admin, is_banned,
		       is_deleted, gold_balance, last_login_at, created_at, updated_at
		FROM users WHERE id = $1 AND is_deleted = false`, id)
	return scanUser(row)
}

func (t *txImpl) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, username, password_hash, email, display_name, is_admin, is_banned,
		       is_deleted, gold_balance, last_login_at, created_at, updated_at
		FROM users WHERE username = $1 AND is_deleted = false`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Password, &u.Email, &u.DisplayName, &u.IsAdmin,
		&u.IsBanned, &u.IsDeleted, &u.GoldBalance, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *txImpl) CreateUser(ctx context.Context, u *models.User) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, email, display_name, is_admin,
		                    is_banned, is_deleted, gold_balance, last_login_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		u.ID, u.Username, u.Password, u.Email, u.DisplayName, u.IsAdmin, u.IsBanned,
		u.IsDeleted, u.GoldBalance, u.LastLoginAt, u.CreatedAt, u.UpdatedAt)
	return err
}

// DecrementGoldConditional is the spec's sole mechanism to prevent
// negative balances under concurrency: a single conditional UPDATE, not
// the reference's racy read-then-check-then-write (CurrencyRepository.
// SpendGlobalCurrency/SpendWorldCurrency).
func (t *txImpl) DecrementGoldConditional(ctx context.Context, userID uuid.UUID, amount int) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE users SET gold_balance = gold_balance - $2, updated_at = now()
		WHERE id = $1 AND gold_balance >= $2`, userID, amount)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (t *txImpl) IncrementGold(ctx context.Context, userID uuid.UUID, amount int) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE users SET gold_balance = gold_balance + $2, updated_at = now() WHERE id = $1`,
		userID, amount)
	return err
}

func (t *txImpl) AppendGoldLedger(ctx context.Context, e *models.GoldLedgerEntry) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO gold_ledger_entries (id, user_id, amount, kind, reference_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.UserID, e.Amount, e.Kind, e.ReferenceID, e.CreatedAt)
	return err
}

func (t *txImpl) SumGoldLedger(ctx context.Context, userID uuid.UUID) (int, error) {
	var sum sql.NullInt64
	err := t.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM gold_ledger_entries WHERE user_id = $1`, userID).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return int(sum.Int64), nil
}

// ---- Villages ----

const villageColumns = `id, owner_id, name, x, y, is_capital, wood, clay, iron, crop,
	warehouse_capacity, granary_capacity, population, resources_updated_at, created_at, updated_at`

func scanVillage(row *sql.Row) (*models.Village, error) {
	var v models.Village
	err := row.Scan(&v.ID, &v.OwnerID, &v.Name, &v.X, &v.Y, &v.IsCapital, &v.Wood, &v.Clay,
		&v.Iron, &v.Crop, &v.WarehouseCapacity, &v.GranaryCapacity, &v.Population,
		&v.ResourcesUpdatedAt, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (t *txImpl) GetVillage(ctx context.Context, id uuid.UUID) (*models.Village, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+villageColumns+` FROM villages WHERE id = $1`, id)
	return scanVillage(row)
}

// GetVillageForUpdate row-locks the village, serializing concurrent
// writers to its resource/building/population state (§5 "Row-locking +
// transaction"). Must be called inside WithTx.
func (t *txImpl) GetVillageForUpdate(ctx context.Context, id uuid.UUID) (*models.Village, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+villageColumns+` FROM villages WHERE id = $1 FOR UPDATE`, id)
	return scanVillage(row)
}

func (t *txImpl) ListVillagesByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Village, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT `+villageColumns+` FROM villages WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Village
	for rows.Next() {
		var v models.Village
		if err := rows.Scan(&v.ID, &v.OwnerID, &v.Name, &v.X, &v.Y, &v.IsCapital, &v.Wood, &v.Clay,
			&v.Iron, &v.Crop, &v.WarehouseCapacity, &v.GranaryCapacity, &v.Population,
			&v.ResourcesUpdatedAt, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (t *txImpl) CreateVillage(ctx context.Context, v *models.Village) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO villages (id, owner_id, name, x, y, is_capital, wood, clay, iron, crop,
		                       warehouse_capacity, granary_capacity, population,
		                       resources_updated_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		v.ID, v.OwnerID, v.Name, v.X, v.Y, v.IsCapital, v.Wood, v.Clay, v.Iron, v.Crop,
		v.WarehouseCapacity, v.GranaryCapacity, v.Population, v.ResourcesUpdatedAt, v.CreatedAt, v.UpdatedAt)
	return err
}

func (t *txImpl) UpdateVillageResources(ctx context.Context, v *models.Village) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE villages SET wood = $2, clay = $3, iron = $4, crop = $5,
		                     resources_updated_at = $6, updated_at = now()
		WHERE id = $1`, v.ID, v.Wood, v.Clay, v.Iron, v.Crop, v.ResourcesUpdatedAt)
	return err
}

func (t *txImpl) UpdateVillageStorageAndPopulation(ctx context.Context, villageID uuid.UUID, warehouseCap, granaryCap, population int) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE villages SET warehouse_capacity = $2, granary_capacity = $3, population = $4, updated_at = now()
		WHERE id = $1`, villageID, warehouseCap, granaryCap, population)
	return err
}

func (t *txImpl) CoordinatesTaken(ctx context.Context, x, y int) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM villages WHERE x = $1 AND y = $2)`, x, y).Scan(&exists)
	return exists, err
}

func (t *txImpl) ListStaleVillageIDs(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT id FROM villages WHERE resources_updated_at < $1`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (t *txImpl) ListStarvingVillageIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT id FROM villages WHERE crop <= 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- Buildings ----

const buildingColumns = `id, village_id, slot, type, level, is_upgrading, upgrade_ends_at, created_at, updated_at`

func scanBuilding(row *sql.Row) (*models.Building, error) {
	var b models.Building
	err := row.Scan(&b.ID, &b.VillageID, &b.Slot, &b.Type, &b.Level, &b.IsUpgrading,
		&b.UpgradeEndsAt, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *txImpl) GetBuilding(ctx context.Context, villageID uuid.UUID, slot int) (*models.Building, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+buildingColumns+` FROM buildings WHERE village_id = $1 AND slot = $2`, villageID, slot)
	return scanBuilding(row)
}

func (t *txImpl) GetBuildingByID(ctx context.Context, id uuid.UUID) (*models.Building, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+buildingColumns+` FROM buildings WHERE id = $1`, id)
	return scanBuilding(row)
}

func (t *txImpl) ListBuildings(ctx context.Context, villageID uuid.UUID) ([]*models.Building, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT `+buildingColumns+` FROM buildings WHERE village_id = $1 ORDER BY slot`, villageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Building
	for rows.Next() {
		var b models.Building
		if err := rows.Scan(&b.ID, &b.VillageID, &b.Slot, &b.Type, &b.Level, &b.IsUpgrading,
			&b.UpgradeEndsAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// UpsertBuildingStart inserts the building at level 0 if it doesn't exist
// yet (a resource field slot touched for the first time) or updates an
// existing one's upgrade-in-progress fields, keyed by (village_id, slot).
func (t *txImpl) UpsertBuildingStart(ctx context.Context, b *models.Building) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO buildings (id, village_id, slot, type, level, is_upgrading, upgrade_ends_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (village_id, slot) DO UPDATE SET
			is_upgrading = EXCLUDED.is_upgrading,
			upgrade_ends_at = EXCLUDED.upgrade_ends_at,
			updated_at = now()`,
		b.ID, b.VillageID, b.Slot, b.Type, b.Level, b.IsUpgrading, b.UpgradeEndsAt, b.CreatedAt, b.UpdatedAt)
	return err
}

// CompleteBuilding is the atomic completion primitive: level += 1, clear
// upgrade flags. Guarded by `is_upgrading = true` so a concurrent
// finish-now call racing the scheduler's building worker is a safe no-op
// on whichever loses (§5 "single-writer convention... idempotent at the
// row level"). Unlike the reference's CompleteUpgrade/
// CleanupCompletedUpgrades, this always increments level.
func (t *txImpl) CompleteBuilding(ctx context.Context, buildingID uuid.UUID) (*models.Building, error) {
	row := t.q.QueryRowContext(ctx, `
		UPDATE buildings SET level = level + 1, is_upgrading = false, upgrade_ends_at = NULL, updated_at = now()
		WHERE id = $1 AND is_upgrading = true
		RETURNING `+buildingColumns, buildingID)
	return scanBuilding(row)
}

func (t *txImpl) ListBuildingsDue(ctx context.Context, now time.Time) ([]*models.Building, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+buildingColumns+` FROM buildings WHERE is_upgrading = true AND upgrade_ends_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Building
	for rows.Next() {
		var b models.Building
		if err := rows.Scan(&b.ID, &b.VillageID, &b.Slot, &b.Type, &b.Level, &b.IsUpgrading,
			&b.UpgradeEndsAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// ---- Troops ----

func (t *txImpl) GetTroopHolding(ctx context.Context, villageID uuid.UUID, troopType string) (*models.TroopHolding, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT village_id, troop_type, count, updated_at FROM troop_holdings
		WHERE village_id = $1 AND troop_type = $2`, villageID, troopType)
	var h models.TroopHolding
	err := row.Scan(&h.VillageID, &h.TroopType, &h.Count, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return &models.TroopHolding{VillageID: villageID, TroopType: troopType, Count: 0}, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (t *txImpl) ListTroopHoldings(ctx context.Context, villageID uuid.UUID) ([]*models.TroopHolding, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT village_id, troop_type, count, updated_at FROM troop_holdings WHERE village_id = $1`, villageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.TroopHolding
	for rows.Next() {
		var h models.TroopHolding
		if err := rows.Scan(&h.VillageID, &h.TroopType, &h.Count, &h.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// AddTroops applies delta (may be negative, e.g. starvation or combat
// losses) and floors at zero, never going negative (§4.E "no negative
// troop counts").
func (t *txImpl) AddTroops(ctx context.Context, villageID uuid.UUID, troopType string, delta int) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO troop_holdings (village_id, troop_type, count, updated_at)
		VALUES ($1, $2, GREATEST($3, 0), now())
		ON CONFLICT (village_id, troop_type) DO UPDATE SET
			count = GREATEST(troop_holdings.count + $3, 0), updated_at = now()`,
		villageID, troopType, delta)
	return err
}

func (t *txImpl) InsertTrainingEntry(ctx context.Context, e *models.TrainingEntry) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO training_entries (id, village_id, troop_type, count, started_at, ends_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.VillageID, e.TroopType, e.Count, e.StartedAt, e.EndsAt)
	return err
}

func (t *txImpl) GetLastTrainingEnd(ctx context.Context, villageID uuid.UUID) (time.Time, bool, error) {
	var endsAt time.Time
	err := t.q.QueryRowContext(ctx, `
		SELECT ends_at FROM training_entries WHERE village_id = $1 ORDER BY started_at DESC LIMIT 1`, villageID).Scan(&endsAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return endsAt, true, nil
}

func (t *txImpl) GetTrainingEntry(ctx context.Context, id uuid.UUID) (*models.TrainingEntry, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, village_id, troop_type, count, started_at, ends_at FROM training_entries WHERE id = $1`, id)
	var e models.TrainingEntry
	err := row.Scan(&e.ID, &e.VillageID, &e.TroopType, &e.Count, &e.StartedAt, &e.EndsAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *txImpl) DeleteTrainingEntry(ctx context.Context, id uuid.UUID) error {
	_, err := t.q.ExecContext(ctx, `DELETE FROM training_entries WHERE id = $1`, id)
	return err
}

func (t *txImpl) ListTrainingEntriesDue(ctx context.Context, now time.Time) ([]*models.TrainingEntry, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, village_id, troop_type, count, started_at, ends_at FROM training_entries WHERE ends_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.TrainingEntry
	for rows.Next() {
		var e models.TrainingEntry
		if err := rows.Scan(&e.ID, &e.VillageID, &e.TroopType, &e.Count, &e.StartedAt, &e.EndsAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ---- Army ----

func (t *txImpl) InsertArmyMovement(ctx context.Context, m *models.ArmyMovement) error {
	troopsJSON, err := marshalTroops(m.Troops)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO army_movements (id, source_village_id, dest_village_id, owner_id, mission, troops,
		                             carried_wood, carried_clay, carried_iron, carried_crop,
		                             dispatched_at, arrives_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		m.ID, m.SourceVillageID, m.DestVillageID, m.OwnerID, m.Mission, troopsJSON,
		m.CarriedWood, m.CarriedClay, m.CarriedIron, m.CarriedCrop, m.DispatchedAt, m.ArrivesAt)
	return err
}

func (t *txImpl) ListArmyMovementsDue(ctx context.Context, now time.Time) ([]*models.ArmyMovement, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, source_village_id, dest_village_id, owner_id, mission, troops,
		       carried_wood, carried_clay, carried_iron, carried_crop, dispatched_at, arrives_at
		FROM army_movements WHERE arrives_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ArmyMovement
	for rows.Next() {
		var m models.ArmyMovement
		var troopsJSON []byte
		if err := rows.Scan(&m.ID, &m.SourceVillageID, &m.DestVillageID, &m.OwnerID, &m.Mission,
			&troopsJSON, &m.CarriedWood, &m.CarriedClay, &m.CarriedIron, &m.CarriedCrop,
			&m.DispatchedAt, &m.ArrivesAt); err != nil {
			return nil, err
		}
		m.Troops, err = unmarshalTroops(troopsJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (t *txImpl) DeleteArmyMovement(ctx context.Context, id uuid.UUID) error {
	_, err := t.q.ExecContext(ctx, `DELETE FROM army_movements WHERE id = $1`, id)
	return err
}

// ---- Market ----

const orderColumns = `id, owner_id, village_id, side, resource_type, quantity, quantity_filled,
	price_per_unit, status, expires_at, created_at, updated_at`

func scanOrder(row *sql.Row) (*models.TradeOrder, error) {
	var o models.TradeOrder
	err := row.Scan(&o.ID, &o.OwnerID, &o.VillageID, &o.Side, &o.ResourceType, &o.Quantity,
		&o.QuantityFilled, &o.PricePerUnit, &o.Status, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *txImpl) CreateOrder(ctx context.Context, o *models.TradeOrder) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO trade_orders (id, owner_id, village_id, side, resource_type, quantity,
		                           quantity_filled, price_per_unit, status, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.OwnerID, o.VillageID, o.Side, o.ResourceType, o.Quantity, o.QuantityFilled,
		o.PricePerUnit, o.Status, o.ExpiresAt, o.CreatedAt, o.UpdatedAt)
	return err
}

// GetOrderForUpdate row-locks the order, serializing concurrent fills
// (§4.F Accept step 2) — unlike the reference's TradeRepository.
// ProcessTrade, which takes no lock at all.
func (t *txImpl) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.TradeOrder, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM trade_orders WHERE id = $1 FOR UPDATE`, id)
	return scanOrder(row)
}

func (t *txImpl) UpdateOrder(ctx context.Context, o *models.TradeOrder) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE trade_orders SET quantity_filled = $2, status = $3, updated_at = now()
		WHERE id = $1`, o.ID, o.QuantityFilled, o.Status)
	return err
}

func (t *txImpl) CountOpenOrders(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := t.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trade_orders WHERE owner_id = $1 AND status IN ('open', 'partially_filled')`, userID).Scan(&count)
	return count, err
}

func (t *txImpl) CreateLock(ctx context.Context, l *models.ResourceLock) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO resource_locks (id, village_id, resource_type, amount, lock_type, reference_id, released_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		l.ID, l.VillageID, l.ResourceType, l.Amount, l.LockType, l.ReferenceID, l.ReleasedAt, l.CreatedAt)
	return err
}

func (t *txImpl) ReleaseLocksByReference(ctx context.Context, referenceID uuid.UUID, now time.Time) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE resource_locks SET released_at = $2 WHERE reference_id = $1 AND released_at IS NULL`, referenceID, now)
	return err
}

func (t *txImpl) SumActiveLocks(ctx context.Context, villageID uuid.UUID, resourceType string) (int, error) {
	var sum sql.NullInt64
	err := t.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM resource_locks
		WHERE village_id = $1 AND resource_type = $2 AND released_at IS NULL`, villageID, resourceType).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return int(sum.Int64), nil
}

func (t *txImpl) ListExpiredOrders(ctx context.Context, now time.Time, limit int) ([]*models.TradeOrder, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM trade_orders
		WHERE expires_at IS NOT NULL AND expires_at <= $1 AND status IN ('open', 'partially_filled')
		ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.TradeOrder
	for rows.Next() {
		var o models.TradeOrder
		if err := rows.Scan(&o.ID, &o.OwnerID, &o.VillageID, &o.Side, &o.ResourceType, &o.Quantity,
			&o.QuantityFilled, &o.PricePerUnit, &o.Status, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (t *txImpl) InsertTradeTransaction(ctx context.Context, tr *models.TradeTransaction) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO trade_transactions (id, order_id, buyer_id, seller_id, resource_type, quantity, price_per_unit, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		tr.ID, tr.OrderID, tr.BuyerID, tr.SellerID, tr.ResourceType, tr.Quantity, tr.PricePerUnit, tr.CreatedAt)
	return err
}

// ---- Bonuses ----

func (t *txImpl) ListActiveBonuses(ctx context.Context, userID uuid.UUID, villageID uuid.UUID, now time.Time) ([]*models.Bonus, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, user_id, village_id, resource_type, type, expires_at, created_at
		FROM bonuses
		WHERE user_id = $1 AND (village_id IS NULL OR village_id = $2) AND expires_at > $3`,
		userID, villageID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Bonus
	for rows.Next() {
		var b models.Bonus
		if err := rows.Scan(&b.ID, &b.UserID, &b.VillageID, &b.ResourceType, &b.Type, &b.ExpiresAt, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (t *txImpl) InsertBonus(ctx context.Context, b *models.Bonus) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO bonuses (id, user_id, village_id, resource_type, type, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		b.ID, b.UserID, b.VillageID, b.ResourceType, b.Type, b.ExpiresAt, b.CreatedAt)
	return err
}

func (t *txImpl) HasActiveBonus(ctx context.Context, userID, villageID uuid.UUID, bonusType models.BonusType, resourceType *string, now time.Time) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM bonuses
			WHERE user_id = $1 AND village_id = $2 AND type = $3
			  AND (resource_type IS NOT DISTINCT FROM $4) AND expires_at > $5
		)`, userID, villageID, bonusType, resourceType, now).Scan(&exists)
	return exists, err
}

// ---- Payment ----

func (t *txImpl) CreatePaymentTransaction(ctx context.Context, tr *models.PaymentTransaction) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO payment_transactions (id, user_id, gold_amount, status, session_ref, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		tr.ID, tr.UserID, tr.GoldAmount, tr.Status, tr.SessionRef, tr.CreatedAt, tr.UpdatedAt)
	return err
}

func (t *txImpl) GetPaymentTransactionBySession(ctx context.Context, sessionRef string) (*models.PaymentTransaction, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, user_id, gold_amount, status, session_ref, created_at, updated_at
		FROM payment_transactions WHERE session_ref = $1`, sessionRef)
	var tr models.PaymentTransaction
	err := row.Scan(&tr.ID, &tr.UserID, &tr.GoldAmount, &tr.Status, &tr.SessionRef, &tr.CreatedAt, &tr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func (t *txImpl) UpdatePaymentTransactionStatus(ctx context.Context, id uuid.UUID, status models.PaymentTransactionStatus) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE payment_transactions SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}
