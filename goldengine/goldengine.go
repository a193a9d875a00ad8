// Package goldengine is the Gold/Shop Engine (§4.G): the gold ledger,
// feature charges consumed by other engines, and payment capture.
//
// Grounded on the reference's services/shop_service.go credit/debit
// flow, with the webhook-signature verification reimplemented in Go
// from original_source/shop_service.rs's verify_webhook_signature
// (HMAC-SHA256 over "<timestamp>.<payload>", Stripe-shaped
// "t=...,v1=..." header, 5-minute clock-skew window).
package goldengine

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"server-backend/apperr"
	"server-backend/buildingengine"
	"server-backend/eventbus"
	"server-backend/models"
	"server-backend/ratelimit"
	"server-backend/store"
	"server-backend/trainingengine"
)

// subscriptionPrices is the recognized plus_subscription duration set and
// its gold cost, cheaper per day at longer durations. The spec names no
// concrete table; this one is an Open Question decision recorded in
// DESIGN.md.
var subscriptionPrices = map[int]int{
	1:  5,
	7:  30,
	30: 100,
	90: 250,
}

const (
	featureNPCMerchant     = 3
	featureProductionBonus = 5
	featureBookOfWisdom    = 15
	finishNowSecondsPerGold = 300
	webhookSkew            = 5 * time.Minute
)

type Engine struct {
	store     store.Store
	buildings *buildingengine.Engine
	training  *trainingengine.Engine
	bus       *eventbus.Bus
	limiter   *ratelimit.Limiter
	logger    *zap.Logger

	webhookSecret string
}

func New(s store.Store, buildings *buildingengine.Engine, training *trainingengine.Engine, bus *eventbus.Bus, limiter *ratelimit.Limiter, webhookSecret string, logger *zap.Logger) *Engine {
	return &Engine{store: s, buildings: buildings, training: training, bus: bus, limiter: limiter, webhookSecret: webhookSecret, logger: logger}
}

// Credit adds gold from an external payment confirmation or an
// administrative grant.
func (e *Engine) Credit(ctx context.Context, userID uuid.UUID, amount int, kind models.GoldLedgerKind, referenceID *uuid.UUID, now time.Time) error {
	if amount <= 0 {
		return apperr.BadRequestf("credit amount must be positive")
	}
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.IncrementGold(ctx, userID, amount); err != nil {
			return err
		}
		return tx.AppendGoldLedger(ctx, &models.GoldLedgerEntry{
			ID: uuid.New(), UserID: userID, Amount: amount, Kind: kind, ReferenceID: referenceID, CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}
	e.bus.Publish(userID, eventbus.Event{Type: eventbus.VillageUpdated, Data: map[string]any{"gold_credit": amount}})
	return nil
}

// debit conditionally decrements gold and records the ledger entry,
// returning apperr.BadRequest if the balance is insufficient.
func (e *Engine) debit(ctx context.Context, tx store.Tx, userID uuid.UUID, amount int, kind models.GoldLedgerKind, referenceID *uuid.UUID, now time.Time) error {
	ok, err := tx.DecrementGoldConditional(ctx, userID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.BadRequestf("insufficient gold balance")
	}
	return tx.AppendGoldLedger(ctx, &models.GoldLedgerEntry{
		ID: uuid.New(), UserID: userID, Amount: -amount, Kind: kind, ReferenceID: referenceID, CreatedAt: now,
	})
}

// FinishNowTarget selects which kind of in-flight timer finish_now
// force-completes.
type FinishNowTarget string

const (
	FinishNowBuilding FinishNowTarget = "building"
	FinishNowTraining FinishNowTarget = "training"
)

// FinishNow implements §4.G's finish_now feature: charge
// max(1, ⌈remaining_seconds/300⌉) gold, then force-complete the target.
func (e *Engine) FinishNow(ctx context.Context, userID uuid.UUID, target FinishNowTarget, targetID uuid.UUID, now time.Time) error {
	var remaining time.Duration
	switch target {
	case FinishNowBuilding:
		b, err := e.store.GetBuildingByID(ctx, targetID)
		if err != nil {
			return err
		}
		if !b.IsUpgrading || b.UpgradeEndsAt == nil {
			return apperr.BadRequestf("building is not currently upgrading")
		}
		remaining = b.UpgradeEndsAt.Sub(now)
	case FinishNowTraining:
		entry, err := e.store.GetTrainingEntry(ctx, targetID)
		if err != nil {
			return err
		}
		remaining = entry.EndsAt.Sub(now)
	default:
		return apperr.BadRequestf("unknown finish_now target %q", target)
	}
	if remaining < 0 {
		remaining = 0
	}
	cost := int(math.Max(1, math.Ceil(remaining.Seconds()/finishNowSecondsPerGold)))

	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		return e.debit(ctx, tx, userID, cost, models.LedgerFinishNow, &targetID, now)
	})
	if err != nil {
		return err
	}

	switch target {
	case FinishNowBuilding:
		_, err = e.buildings.FinishNow(ctx, targetID, now)
	case FinishNowTraining:
		err = e.training.Complete(ctx, targetID)
	}
	return err
}

// NPCMerchant implements §4.G's npc_merchant feature: a flat-cost
// reallocation of a village's four resources that must preserve the
// total, keep each non-negative, and respect storage caps.
func (e *Engine) NPCMerchant(ctx context.Context, userID, villageID uuid.UUID, newWood, newClay, newIron, newCrop int, now time.Time) error {
	if !e.limiter.Allow(userID.String()) {
		return apperr.Conflictf("too many feature purchases recently, slow down")
	}
	if newWood < 0 || newClay < 0 || newIron < 0 || newCrop < 0 {
		return apperr.BadRequestf("reallocation amounts must be non-negative")
	}
	return e.store.WithTx(ctx, func(tx store.Tx) error {
		v, err := tx.GetVillageForUpdate(ctx, villageID)
		if err != nil {
			return err
		}
		if v.OwnerID != userID {
			return apperr.Forbiddenf("village is not owned by this user")
		}
		total := v.Wood + v.Clay + v.Iron + v.Crop
		if newWood+newClay+newIron+newCrop != total {
			return apperr.BadRequestf("reallocation must preserve the total resource amount")
		}
		if newWood > v.WarehouseCapacity || newClay > v.WarehouseCapacity || newIron > v.WarehouseCapacity || newCrop > v.GranaryCapacity {
			return apperr.BadRequestf("reallocation exceeds storage capacity")
		}
		if err := e.debit(ctx, tx, userID, featureNPCMerchant, models.LedgerNPCMerchant, &villageID, now); err != nil {
			return err
		}
		v.Wood, v.Clay, v.Iron, v.Crop = newWood, newClay, newIron, newCrop
		v.UpdatedAt = now
		return tx.UpdateVillageResources(ctx, v)
	})
}

// ProductionBonus implements §4.G's production_bonus(resource) feature.
func (e *Engine) ProductionBonus(ctx context.Context, userID, villageID uuid.UUID, resourceType string, now time.Time) error {
	if !e.limiter.Allow(userID.String()) {
		return apperr.Conflictf("too many feature purchases recently, slow down")
	}
	return e.store.WithTx(ctx, func(tx store.Tx) error {
		active, err := tx.HasActiveBonus(ctx, userID, villageID, models.BonusProductionBonus, &resourceType, now)
		if err != nil {
			return err
		}
		if active {
			return apperr.BadRequestf("a production bonus for %s is already active", resourceType)
		}
		if err := e.debit(ctx, tx, userID, featureProductionBonus, models.LedgerProductionBonus, &villageID, now); err != nil {
			return err
		}
		return tx.InsertBonus(ctx, &models.Bonus{
			ID: uuid.New(), UserID: userID, VillageID: &villageID, ResourceType: &resourceType,
			Type: models.BonusProductionBonus, ExpiresAt: now.Add(24 * time.Hour), CreatedAt: now,
		})
	})
}

// BookOfWisdom implements §4.G's book_of_wisdom feature.
func (e *Engine) BookOfWisdom(ctx context.Context, userID, villageID uuid.UUID, now time.Time) error {
	if !e.limiter.Allow(userID.String()) {
		return apperr.Conflictf("too many feature purchases recently, slow down")
	}
	return e.store.WithTx(ctx, func(tx store.Tx) error {
		active, err := tx.HasActiveBonus(ctx, userID, villageID, models.BonusBookOfWisdom, nil, now)
		if err != nil {
			return err
		}
		if active {
			return apperr.BadRequestf("book of wisdom is already active for this village")
		}
		if err := e.debit(ctx, tx, userID, featureBookOfWisdom, models.LedgerBookOfWisdom, &villageID, now); err != nil {
			return err
		}
		return tx.InsertBonus(ctx, &models.Bonus{
			ID: uuid.New(), UserID: userID, VillageID: &villageID,
			Type: models.BonusBookOfWisdom, ExpiresAt: now.Add(24 * time.Hour), CreatedAt: now,
		})
	})
}

// PlusSubscription implements §4.G's plus_subscription(days) feature:
// extends expires_at from max(now, current_expiry).
func (e *Engine) PlusSubscription(ctx context.Context, userID uuid.UUID, days int, now time.Time) error {
	if !e.limiter.Allow(userID.String()) {
		return apperr.Conflictf("too many feature purchases recently, slow down")
	}
	cost, ok := subscriptionPrices[days]
	if !ok {
		return apperr.BadRequestf("unrecognized subscription duration: %d days", days)
	}
	return e.store.WithTx(ctx, func(tx store.Tx) error {
		active, err := tx.ListActiveBonuses(ctx, userID, uuid.Nil, now)
		if err != nil {
			return err
		}
		base := now
		for _, b := range active {
			if b.Type == models.BonusPlusSubscription && b.VillageID == nil && b.ExpiresAt.After(base) {
				base = b.ExpiresAt
			}
		}
		if err := e.debit(ctx, tx, userID, cost, models.LedgerPlusSubscription, nil, now); err != nil {
			return err
		}
		return tx.InsertBonus(ctx, &models.Bonus{
			ID: uuid.New(), UserID: userID, Type: models.BonusPlusSubscription,
			ExpiresAt: base.Add(time.Duration(days) * 24 * time.Hour), CreatedAt: now,
		})
	})
}

// CreatePendingPayment records a pending payment transaction identified
// by a payment-provider session reference, created before the user is
// redirected to the external checkout page.
func (e *Engine) CreatePendingPayment(ctx context.Context, userID uuid.UUID, goldAmount int, sessionRef string, now time.Time) (*models.PaymentTransaction, error) {
	t := &models.PaymentTransaction{
		ID: uuid.New(), UserID: userID, GoldAmount: goldAmount,
		Status: models.PaymentPending, SessionRef: sessionRef, CreatedAt: now, UpdatedAt: now,
	}
	if err := e.store.CreatePaymentTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// VerifyWebhookSignature checks a Stripe-shaped "t=<unix>,v1=<hex hmac>"
// header against HMAC-SHA256("<t>.<payload>", secret), rejecting a skew
// beyond webhookSkew. Exact port of original_source's
// verify_webhook_signature.
func (e *Engine) VerifyWebhookSignature(payload []byte, header string, now time.Time) error {
	var timestamp, sig string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			sig = kv[1]
		}
	}
	if timestamp == "" {
		return apperr.BadRequestf("missing timestamp in signature header")
	}
	if sig == "" {
		return apperr.BadRequestf("missing signature in signature header")
	}

	mac := hmac.New(sha256.New, []byte(e.webhookSecret))
	mac.Write([]byte(fmt.Sprintf("%s.%s", timestamp, payload)))
	expected := hex.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return apperr.BadRequestf("invalid webhook signature")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return apperr.BadRequestf("invalid webhook timestamp")
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > webhookSkew {
		return apperr.BadRequestf("webhook timestamp outside the allowed clock skew")
	}
	return nil
}

// CompletePayment implements §4.G's payment-capture step: credit gold
// for a previously pending transaction identified by session reference.
// Replays of an already-completed transaction are a no-op, matching
// original_source's complete_checkout_by_id idempotency.
func (e *Engine) CompletePayment(ctx context.Context, sessionRef string, now time.Time) error {
	t, err := e.store.GetPaymentTransactionBySession(ctx, sessionRef)
	if err != nil {
		return err
	}
	if t.Status != models.PaymentPending {
		e.logger.Warn("payment transaction already processed", zap.Stringer("transaction_id", t.ID))
		return nil
	}
	refID := t.ID
	if err := e.Credit(ctx, t.UserID, t.GoldAmount, models.LedgerGoldPurchase, &refID, now); err != nil {
		return err
	}
	return e.store.UpdatePaymentTransactionStatus(ctx, t.ID, models.PaymentCompleted)
}

// FailPayment marks a pending transaction failed or expired, per
// original_source's expire_checkout_by_id.
func (e *Engine) FailPayment(ctx context.Context, sessionRef string) error {
	t, err := e.store.GetPaymentTransactionBySession(ctx, sessionRef)
	if err != nil {
		return err
	}
	if t.Status != models.PaymentPending {
		return nil
	}
	return e.store.UpdatePaymentTransactionStatus(ctx, t.ID, models.PaymentFailed)
}
