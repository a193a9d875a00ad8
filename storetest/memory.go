// Package storetest is an in-memory store.Store implementation so
// "tests MUST be able to instantiate fresh bus + in-memory store" (§9).
// It implements the same store.Tx contract as the Postgres adapter,
// including conditional-update semantics, without a database. It takes
// no row locks (the ForUpdate reads are plain reads) and WithTx gives no
// cross-statement isolation; each method holds the store's mutex only
// for its own duration.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"server-backend/models"
	"server-backend/store"
)

// Memory is a process-local Store backed by guarded maps, each method
// taking mu for its own duration.
type Memory struct {
	mu sync.Mutex

	users              map[uuid.UUID]*models.User
	usersByName        map[string]uuid.UUID
	goldLedger         []*models.GoldLedgerEntry
	villages           map[uuid.UUID]*models.Village
	buildings          map[uuid.UUID]*models.Building
	buildingBySlot     map[string]uuid.UUID // villageID.String()+"/"+slot
	troopHoldings      map[string]*models.TroopHolding // villageID/troopType
	trainingEntries    map[uuid.UUID]*models.TrainingEntry
	armyMovements      map[uuid.UUID]*models.ArmyMovement
	orders             map[uuid.UUID]*models.TradeOrder
	locks              map[uuid.UUID]*models.ResourceLock
	tradeTransactions  []*models.TradeTransaction
	bonuses            map[uuid.UUID]*models.Bonus
	paymentTxs         map[uuid.UUID]*models.PaymentTransaction
	paymentTxBySession map[string]uuid.UUID
}

func New() *Memory {
	return &Memory{
		users:              make(map[uuid.UUID]*models.User),
		usersByName:        make(map[string]uuid.UUID),
		villages:           make(map[uuid.UUID]*models.Village),
		buildings:          make(map[uuid.UUID]*models.Building),
		buildingBySlot:     make(map[string]uuid.UUID),
		troopHoldings:      make(map[string]*models.TroopHolding),
		trainingEntries:    make(map[uuid.UUID]*models.TrainingEntry),
		armyMovements:      make(map[uuid.UUID]*models.ArmyMovement),
		orders:             make(map[uuid.UUID]*models.TradeOrder),
		locks:              make(map[uuid.UUID]*models.ResourceLock),
		bonuses:            make(map[uuid.UUID]*models.Bonus),
		paymentTxs:         make(map[uuid.UUID]*models.PaymentTransaction),
		paymentTxBySession: make(map[string]uuid.UUID),
	}
}

// WithTx runs fn against this same store. Every Tx method already takes
// m.mu for its own duration, so concurrent WithTx callers never corrupt
// the maps; this test double does not need serializable cross-statement
// isolation the way the Postgres adapter does; no retry is needed since
// there is no serialization conflict to retry.
func (m *Memory) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	return fn(m)
}

func slotKey(villageID uuid.UUID, slot int) string {
	return villageID.String() + "/" + itoa(slot)
}

func holdingKey(villageID uuid.UUID, troopType string) string {
	return villageID.String() + "/" + troopType
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ---- Users ----

func (m *Memory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.usersByName[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *Memory) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	m.usersByName[u.Username] = u.ID
	return nil
}

func (m *Memory) DecrementGoldConditional(ctx context.Context, userID uuid.UUID, amount int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return false, store.ErrNotFound
	}
	if u.GoldBalance < amount {
		return false, nil
	}
	u.GoldBalance -= amount
	u.UpdatedAt = now()
	return true, nil
}

func (m *Memory) IncrementGold(ctx context.Context, userID uuid.UUID, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.GoldBalance += amount
	u.UpdatedAt = now()
	return nil
}

func (m *Memory) AppendGoldLedger(ctx context.Context, e *models.GoldLedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.goldLedger = append(m.goldLedger, &cp)
	return nil
}

func (m *Memory) SumGoldLedger(ctx context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := 0
	for _, e := range m.goldLedger {
		if e.UserID == userID {
			sum += e.Amount
		}
	}
	return sum, nil
}

// ---- Villages ----

func (m *Memory) GetVillage(ctx context.Context, id uuid.UUID) (*models.Village, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.villages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *Memory) GetVillageForUpdate(ctx context.Context, id uuid.UUID) (*models.Village, error) {
	return m.GetVillage(ctx, id)
}

func (m *Memory) ListVillagesByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Village, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Village
	for _, v := range m.villages {
		if v.OwnerID == ownerID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateVillage(ctx context.Context, v *models.Village) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.villages[v.ID] = &cp
	return nil
}

func (m *Memory) UpdateVillageResources(ctx context.Context, v *models.Village) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.villages[v.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.Wood, existing.Clay, existing.Iron, existing.Crop = v.Wood, v.Clay, v.Iron, v.Crop
	existing.ResourcesUpdatedAt = v.ResourcesUpdatedAt
	existing.UpdatedAt = now()
	return nil
}

func (m *Memory) UpdateVillageStorageAndPopulation(ctx context.Context, villageID uuid.UUID, warehouseCap, granaryCap, population int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.villages[villageID]
	if !ok {
		return store.ErrNotFound
	}
	v.WarehouseCapacity, v.GranaryCapacity, v.Population = warehouseCap, granaryCap, population
	v.UpdatedAt = now()
	return nil
}

func (m *Memory) CoordinatesTaken(ctx context.Context, x, y int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.villages {
		if v.X == x && v.Y == y {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListStaleVillageIDs(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for id, v := range m.villages {
		if v.ResourcesUpdatedAt.Before(before) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *Memory) ListStarvingVillageIDs(ctx context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for id, v := range m.villages {
		if v.Crop <= 0 {
			out = append(out, id)
		}
	}
	return out, nil
}

// ---- Buildings ----

func (m *Memory) GetBuilding(ctx context.Context, villageID uuid.UUID, slot int) (*models.Building, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.buildingBySlot[slotKey(villageID, slot)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m.buildings[id]
	return &cp, nil
}

func (m *Memory) GetBuildingByID(ctx context.Context, id uuid.UUID) (*models.Building, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buildings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) ListBuildings(ctx context.Context, villageID uuid.UUID) ([]*models.Building, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Building
	for _, b := range m.buildings {
		if b.VillageID == villageID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (m *Memory) UpsertBuildingStart(ctx context.Context, b *models.Building) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := slotKey(b.VillageID, b.Slot)
	if id, ok := m.buildingBySlot[key]; ok {
		existing := m.buildings[id]
		existing.IsUpgrading = b.IsUpgrading
		existing.UpgradeEndsAt = b.UpgradeEndsAt
		existing.UpdatedAt = now()
		return nil
	}
	cp := *b
	m.buildings[b.ID] = &cp
	m.buildingBySlot[key] = b.ID
	return nil
}

func (m *Memory) CompleteBuilding(ctx context.Context, buildingID uuid.UUID) (*models.Building, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buildings[buildingID]
	if !ok || !b.IsUpgrading {
		return nil, store.ErrNotFound
	}
	b.Level++
	b.IsUpgrading = false
	b.UpgradeEndsAt = nil
	b.UpdatedAt = now()
	cp := *b
	return &cp, nil
}

func (m *Memory) ListBuildingsDue(ctx context.Context, t time.Time) ([]*models.Building, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Building
	for _, b := range m.buildings {
		if b.IsUpgrading && b.UpgradeEndsAt != nil && !b.UpgradeEndsAt.After(t) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- Troops ----

func (m *Memory) GetTroopHolding(ctx context.Context, villageID uuid.UUID, troopType string) (*models.TroopHolding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.troopHoldings[holdingKey(villageID, troopType)]
	if !ok {
		return &models.TroopHolding{VillageID: villageID, TroopType: troopType, Count: 0}, nil
	}
	cp := *h
	return &cp, nil
}

func (m *Memory) ListTroopHoldings(ctx context.Context, villageID uuid.UUID) ([]*models.TroopHolding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TroopHolding
	for _, h := range m.troopHoldings {
		if h.VillageID == villageID {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) AddTroops(ctx context.Context, villageID uuid.UUID, troopType string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := holdingKey(villageID, troopType)
	h, ok := m.troopHoldings[key]
	if !ok {
		h = &models.TroopHolding{VillageID: villageID, TroopType: troopType}
		m.troopHoldings[key] = h
	}
	h.Count += delta
	if h.Count < 0 {
		h.Count = 0
	}
	h.UpdatedAt = now()
	return nil
}

func (m *Memory) InsertTrainingEntry(ctx context.Context, e *models.TrainingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.trainingEntries[e.ID] = &cp
	return nil
}

func (m *Memory) GetLastTrainingEnd(ctx context.Context, villageID uuid.UUID) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var bestStart, endsAt time.Time
	found := false
	for _, e := range m.trainingEntries {
		if e.VillageID != villageID {
			continue
		}
		if !found || e.StartedAt.After(bestStart) {
			bestStart = e.StartedAt
			endsAt = e.EndsAt
			found = true
		}
	}
	return endsAt, found, nil
}

func (m *Memory) GetTrainingEntry(ctx context.Context, id uuid.UUID) (*models.TrainingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.trainingEntries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) DeleteTrainingEntry(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trainingEntries, id)
	return nil
}

func (m *Memory) ListTrainingEntriesDue(ctx context.Context, t time.Time) ([]*models.TrainingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TrainingEntry
	for _, e := range m.trainingEntries {
		if !e.EndsAt.After(t) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- Army ----

func (m *Memory) InsertArmyMovement(ctx context.Context, mv *models.ArmyMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mv
	cp.Troops = cloneIntMap(mv.Troops)
	m.armyMovements[mv.ID] = &cp
	return nil
}

func (m *Memory) ListArmyMovementsDue(ctx context.Context, t time.Time) ([]*models.ArmyMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ArmyMovement
	for _, mv := range m.armyMovements {
		if !mv.ArrivesAt.After(t) {
			cp := *mv
			cp.Troops = cloneIntMap(mv.Troops)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) DeleteArmyMovement(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.armyMovements, id)
	return nil
}

// ---- Market ----

func (m *Memory) CreateOrder(ctx context.Context, o *models.TradeOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *Memory) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.TradeOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) UpdateOrder(ctx context.Context, o *models.TradeOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.orders[o.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.QuantityFilled = o.QuantityFilled
	existing.Status = o.Status
	existing.UpdatedAt = now()
	return nil
}

func (m *Memory) CountOpenOrders(ctx context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, o := range m.orders {
		if o.OwnerID == userID && (o.Status == models.OrderOpen || o.Status == models.OrderPartiallyFilled) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) CreateLock(ctx context.Context, l *models.ResourceLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.locks[l.ID] = &cp
	return nil
}

func (m *Memory) ReleaseLocksByReference(ctx context.Context, referenceID uuid.UUID, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.locks {
		if l.ReferenceID == referenceID && l.ReleasedAt == nil {
			released := t
			l.ReleasedAt = &released
		}
	}
	return nil
}

func (m *Memory) SumActiveLocks(ctx context.Context, villageID uuid.UUID, resourceType string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := 0
	for _, l := range m.locks {
		if l.VillageID == villageID && l.ResourceType == resourceType && l.IsActive() {
			sum += l.Amount
		}
	}
	return sum, nil
}

func (m *Memory) ListExpiredOrders(ctx context.Context, t time.Time, limit int) ([]*models.TradeOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TradeOrder
	for _, o := range m.orders {
		if o.ExpiresAt != nil && !o.ExpiresAt.After(t) && !o.IsTerminal() {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) InsertTradeTransaction(ctx context.Context, t *models.TradeTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tradeTransactions = append(m.tradeTransactions, &cp)
	return nil
}

// ---- Bonuses ----

func (m *Memory) ListActiveBonuses(ctx context.Context, userID uuid.UUID, villageID uuid.UUID, t time.Time) ([]*models.Bonus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Bonus
	for _, b := range m.bonuses {
		if b.UserID != userID || !b.IsActive(t) {
			continue
		}
		if b.VillageID != nil && *b.VillageID != villageID {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) InsertBonus(ctx context.Context, b *models.Bonus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bonuses[b.ID] = &cp
	return nil
}

func (m *Memory) HasActiveBonus(ctx context.Context, userID, villageID uuid.UUID, bonusType models.BonusType, resourceType *string, t time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bonuses {
		if b.UserID != userID || b.Type != bonusType || !b.IsActive(t) {
			continue
		}
		if b.VillageID != nil && *b.VillageID != villageID {
			continue
		}
		if !sameStringPtr(b.ResourceType, resourceType) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func sameStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ---- Payment ----

func (m *Memory) CreatePaymentTransaction(ctx context.Context, t *models.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.paymentTxs[t.ID] = &cp
	m.paymentTxBySession[t.SessionRef] = t.ID
	return nil
}

func (m *Memory) GetPaymentTransactionBySession(ctx context.Context, sessionRef string) (*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.paymentTxBySession[sessionRef]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m.paymentTxs[id]
	return &cp, nil
}

func (m *Memory) UpdatePaymentTransactionStatus(ctx context.Context, id uuid.UUID, status models.PaymentTransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.paymentTxs[id]
	if !ok {
		return store.ErrNotFound
	}
	tr.Status = status
	tr.UpdatedAt = now()
	return nil
}

func cloneIntMap(src map[string]int) map[string]int {
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func now() time.Time { return time.Now().UTC() }
