package models

import (
	"time"

	"github.com/google/uuid"
)

// GoldLedgerKind is the closed set of ledger entry kinds.
type GoldLedgerKind string

const (
	LedgerGoldPurchase    GoldLedgerKind = "gold_purchase"
	LedgerAdminGrant      GoldLedgerKind = "admin_grant"
	LedgerFinishNow       GoldLedgerKind = "finish_now"
	LedgerNPCMerchant     GoldLedgerKind = "npc_merchant"
	LedgerProductionBonus GoldLedgerKind = "production_bonus"
	LedgerBookOfWisdom    GoldLedgerKind = "book_of_wisdom"
	LedgerPlusSubscription GoldLedgerKind = "plus_subscription"
	LedgerMarketTrade     GoldLedgerKind = "market_trade"
)

// GoldLedgerEntry is an append-only record of a gold change. The sum of a
// user's entries is the canonical balance; the cached User.GoldBalance is
// an optimization that MUST equal it.
type GoldLedgerEntry struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	UserID      uuid.UUID      `json:"user_id" db:"user_id"`
	Amount      int            `json:"amount" db:"amount"` // signed
	Kind        GoldLedgerKind `json:"kind" db:"kind"`
	ReferenceID *uuid.UUID     `json:"reference_id,omitempty" db:"reference_id"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// BonusType is the closed set of production-affecting bonuses.
type BonusType string

const (
	BonusPlusSubscription BonusType = "plus_subscription"
	BonusProductionBonus  BonusType = "production_bonus"
	BonusBookOfWisdom     BonusType = "book_of_wisdom"
)

// Bonus is an active multiplicative production modifier, per user and
// optionally per (village, resource). Multiple may be simultaneously
// active; §4.B combines them additively into one multiplier.
type Bonus struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	UserID       uuid.UUID  `json:"user_id" db:"user_id"`
	VillageID    *uuid.UUID `json:"village_id,omitempty" db:"village_id"`
	ResourceType *string    `json:"resource_type,omitempty" db:"resource_type"`
	Type         BonusType  `json:"type" db:"type"`
	ExpiresAt    time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

func (b *Bonus) IsActive(now time.Time) bool {
	return now.Before(b.ExpiresAt)
}

// PaymentTransactionStatus tracks a pending/completed/failed checkout.
type PaymentTransactionStatus string

const (
	PaymentPending   PaymentTransactionStatus = "pending"
	PaymentCompleted PaymentTransactionStatus = "completed"
	PaymentFailed    PaymentTransactionStatus = "failed"
)

// PaymentTransaction is a pending-then-confirmed gold purchase, identified
// by a payment-provider session reference. Grounded on
// original_source/shop_service.rs's create_checkout/complete_checkout_by_id.
type PaymentTransaction struct {
	ID            uuid.UUID                `json:"id" db:"id"`
	UserID        uuid.UUID                `json:"user_id" db:"user_id"`
	GoldAmount    int                      `json:"gold_amount" db:"gold_amount"`
	Status        PaymentTransactionStatus `json:"status" db:"status"`
	SessionRef    string                   `json:"session_ref" db:"session_ref"`
	CreatedAt     time.Time                `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at" db:"updated_at"`
}
