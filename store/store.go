// Package store is the Persistent Store contract (§4.A / §6): durable
// state for users, villages, buildings, troops, armies, orders, locks,
// and the gold ledger, with multi-statement transactions and row-level
// locking. This package defines the contract only; postgres.go is the
// lib/pq-backed implementation and the sibling storetest package is the
// in-memory implementation tests instantiate fresh (§9).
//
// Grounded on the reference's repository/*.go layering, flattened per
// spec.md's design note 9: "prefer free functions and plain data, not
// class hierarchies" — one interface, not a repository-per-entity zoo.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"server-backend/models"
)

// Store is the full contract. WithTx runs fn inside one transaction,
// retrying transparently (bounded, §7 "3 attempts") on a serialization
// conflict. Store also exposes every Tx method directly for single-
// statement reads outside an explicit transaction.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// ErrNotFound is returned by single-entity lookups that find nothing.
// Engines pass it through unchanged; httpapi's writeError maps it to a
// 404.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

// Tx is every data operation an engine needs, available both as a
// standalone call (Store) and composed inside WithTx (Tx).
type Tx interface {
	// Users
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	// DecrementGoldConditional applies `UPDATE ... WHERE gold_balance >=
	// amount`; ok is false (no error) if the row didn't qualify.
	DecrementGoldConditional(ctx context.Context, userID uuid.UUID, amount int) (ok bool, err error)
	IncrementGold(ctx context.Context, userID uuid.UUID, amount int) error
	AppendGoldLedger(ctx context.Context, entry *models.GoldLedgerEntry) error
	SumGoldLedger(ctx context.Context, userID uuid.UUID) (int, error)

	// Villages
	GetVillageForUpdate(ctx context.Context, id uuid.UUID) (*models.Village, error)
	GetVillage(ctx context.Context, id uuid.UUID) (*models.Village, error)
	ListVillagesByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Village, error)
	CreateVillage(ctx context.Context, v *models.Village) error
	UpdateVillageResources(ctx context.Context, v *models.Village) error
	UpdateVillageStorageAndPopulation(ctx context.Context, villageID uuid.UUID, warehouseCap, granaryCap, population int) error
	CoordinatesTaken(ctx context.Context, x, y int) (bool, error)
	ListStaleVillageIDs(ctx context.Context, before time.Time) ([]uuid.UUID, error)
	ListStarvingVillageIDs(ctx context.Context) ([]uuid.UUID, error)

	// Buildings
	GetBuilding(ctx context.Context, villageID uuid.UUID, slot int) (*models.Building, error)
	GetBuildingByID(ctx context.Context, id uuid.UUID) (*models.Building, error)
	ListBuildings(ctx context.Context, villageID uuid.UUID) ([]*models.Building, error)
	UpsertBuildingStart(ctx context.Context, b *models.Building) error
	CompleteBuilding(ctx context.Context, buildingID uuid.UUID) (*models.Building, error)
	ListBuildingsDue(ctx context.Context, now time.Time) ([]*models.Building, error)

	// Troops
	GetTroopHolding(ctx context.Context, villageID uuid.UUID, troopType string) (*models.TroopHolding, error)
	ListTroopHoldings(ctx context.Context, villageID uuid.UUID) ([]*models.TroopHolding, error)
	AddTroops(ctx context.Context, villageID uuid.UUID, troopType string, delta int) error
	InsertTrainingEntry(ctx context.Context, e *models.TrainingEntry) error
	GetLastTrainingEnd(ctx context.Context, villageID uuid.UUID) (time.Time, bool, error)
	GetTrainingEntry(ctx context.Context, id uuid.UUID) (*models.TrainingEntry, error)
	DeleteTrainingEntry(ctx context.Context, id uuid.UUID) error
	ListTrainingEntriesDue(ctx context.Context, now time.Time) ([]*models.TrainingEntry, error)

	// Army
	InsertArmyMovement(ctx context.Context, m *models.ArmyMovement) error
	ListArmyMovementsDue(ctx context.Context, now time.Time) ([]*models.ArmyMovement, error)
	DeleteArmyMovement(ctx context.Context, id uuid.UUID) error

	// Market
	CreateOrder(ctx context.Context, o *models.TradeOrder) error
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.TradeOrder, error)
	UpdateOrder(ctx context.Context, o *models.TradeOrder) error
	CountOpenOrders(ctx context.Context, userID uuid.UUID) (int, error)
	CreateLock(ctx context.Context, l *models.ResourceLock) error
	ReleaseLocksByReference(ctx context.Context, referenceID uuid.UUID, now time.Time) error
	SumActiveLocks(ctx context.Context, villageID uuid.UUID, resourceType string) (int, error)
	ListExpiredOrders(ctx context.Context, now time.Time, limit int) ([]*models.TradeOrder, error)
	InsertTradeTransaction(ctx context.Context, t *models.TradeTransaction) error

	// Bonuses
	ListActiveBonuses(ctx context.Context, userID uuid.UUID, villageID uuid.UUID, now time.Time) ([]*models.Bonus, error)
	InsertBonus(ctx context.Context, b *models.Bonus) error
	HasActiveBonus(ctx context.Context, userID, villageID uuid.UUID, bonusType models.BonusType, resourceType *string, now time.Time) (bool, error)

	// Payment
	CreatePaymentTransaction(ctx context.Context, t *models.PaymentTransaction) error
	GetPaymentTransactionBySession(ctx context.Context, sessionRef string) (*models.PaymentTransaction, error)
	UpdatePaymentTransactionStatus(ctx context.Context, id uuid.UUID, status models.PaymentTransactionStatus) error
}
