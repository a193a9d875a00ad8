package goldengine

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"server-backend/apperr"
	"server-backend/eventbus"
	"server-backend/models"
	"server-backend/ratelimit"
	"server-backend/storetest"
)

// signWebhook reproduces the provider-side signing VerifyWebhookSignature
// expects, so tests can assert on both valid and tampered signatures.
func signWebhook(secret string, payload []byte, ts time.Time) (header, sig string) {
	timestamp := fmt.Sprintf("%d", ts.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%s.%s", timestamp, payload)))
	sig = hex.EncodeToString(mac.Sum(nil))
	header = fmt.Sprintf("t=%s,v1=%s", timestamp, sig)
	return header, sig
}

func newTestEngine() (*Engine, *storetest.Memory) {
	s := storetest.New()
	e := New(s, nil, nil, eventbus.New(), ratelimit.New(100, time.Minute), "whsec_test", zap.NewNop())
	return e, s
}

func seedUser(t *testing.T, s *storetest.Memory, gold int) *models.User {
	t.Helper()
	u := models.NewUser("player1", "hash", "player1@example.com")
	u.GoldBalance = gold
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedVillage(t *testing.T, s *storetest.Memory, ownerID uuid.UUID) *models.Village {
	t.Helper()
	v := &models.Village{
		ID: uuid.New(), OwnerID: ownerID, Name: "capital", X: 0, Y: 0, IsCapital: true,
		Wood: 100, Clay: 100, Iron: 100, Crop: 100,
		WarehouseCapacity: 1000, GranaryCapacity: 1000,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.CreateVillage(context.Background(), v); err != nil {
		t.Fatalf("seed village: %v", err)
	}
	return v
}

func TestCreditIncreasesBalanceAndLedger(t *testing.T) {
	e, s := newTestEngine()
	u := seedUser(t, s, 0)

	if err := e.Credit(context.Background(), u.ID, 50, models.LedgerGoldPurchase, nil, time.Now().UTC()); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	sum, err := s.SumGoldLedger(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("SumGoldLedger: %v", err)
	}
	if sum != 50 {
		t.Fatalf("ledger sum = %d, want 50", sum)
	}
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	e, s := newTestEngine()
	u := seedUser(t, s, 0)

	err := e.Credit(context.Background(), u.ID, 0, models.LedgerGoldPurchase, nil, time.Now().UTC())
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("Credit(0) kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestNPCMerchantPreservesTotalAndDebitsGold(t *testing.T) {
	e, s := newTestEngine()
	u := seedUser(t, s, 10)
	v := seedVillage(t, s, u.ID)
	total := v.Wood + v.Clay + v.Iron + v.Crop

	if err := e.NPCMerchant(context.Background(), u.ID, v.ID, total, 0, 0, 0, time.Now().UTC()); err != nil {
		t.Fatalf("NPCMerchant: %v", err)
	}

	got, err := s.GetVillage(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("GetVillage: %v", err)
	}
	if got.Wood != total || got.Clay != 0 || got.Iron != 0 || got.Crop != 0 {
		t.Fatalf("unexpected reallocation: %+v", got)
	}

	ok, err := s.DecrementGoldConditional(context.Background(), u.ID, 10-featureNPCMerchant+1)
	if err != nil {
		t.Fatalf("DecrementGoldConditional: %v", err)
	}
	if ok {
		t.Fatalf("expected insufficient balance after NPCMerchant debit of %d gold", featureNPCMerchant)
	}
}

func TestNPCMerchantRejectsTotalMismatch(t *testing.T) {
	e, s := newTestEngine()
	u := seedUser(t, s, 10)
	v := seedVillage(t, s, u.ID)

	err := e.NPCMerchant(context.Background(), u.ID, v.ID, v.Wood+1, v.Clay, v.Iron, v.Crop, time.Now().UTC())
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestNPCMerchantRejectsOtherOwner(t *testing.T) {
	e, s := newTestEngine()
	owner := seedUser(t, s, 10)
	v := seedVillage(t, s, owner.ID)
	total := v.Wood + v.Clay + v.Iron + v.Crop

	err := e.NPCMerchant(context.Background(), uuid.New(), v.ID, total, 0, 0, 0, time.Now().UTC())
	if apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("kind = %v, want Forbidden", apperr.KindOf(err))
	}
}

func TestProductionBonusRejectsDuplicateActive(t *testing.T) {
	e, s := newTestEngine()
	u := seedUser(t, s, 100)
	v := seedVillage(t, s, u.ID)
	now := time.Now().UTC()

	if err := e.ProductionBonus(context.Background(), u.ID, v.ID, "wood", now); err != nil {
		t.Fatalf("first ProductionBonus: %v", err)
	}
	err := e.ProductionBonus(context.Background(), u.ID, v.ID, "wood", now)
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("second ProductionBonus kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestPlusSubscriptionRejectsUnknownDuration(t *testing.T) {
	e, s := newTestEngine()
	u := seedUser(t, s, 1000)

	err := e.PlusSubscription(context.Background(), u.ID, 3, time.Now().UTC())
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestPlusSubscriptionExtendsFromCurrentExpiry(t *testing.T) {
	e, s := newTestEngine()
	u := seedUser(t, s, 1000)
	now := time.Now().UTC()

	if err := e.PlusSubscription(context.Background(), u.ID, 30, now); err != nil {
		t.Fatalf("first PlusSubscription: %v", err)
	}
	if err := e.PlusSubscription(context.Background(), u.ID, 7, now); err != nil {
		t.Fatalf("second PlusSubscription: %v", err)
	}

	active, err := s.ListActiveBonuses(context.Background(), u.ID, uuid.Nil, now)
	if err != nil {
		t.Fatalf("ListActiveBonuses: %v", err)
	}
	var expiry time.Time
	for _, b := range active {
		if b.Type == models.BonusPlusSubscription && b.ExpiresAt.After(expiry) {
			expiry = b.ExpiresAt
		}
	}
	want := now.Add(30 * 24 * time.Hour).Add(7 * 24 * time.Hour)
	if !expiry.Equal(want) {
		t.Fatalf("expiry = %v, want %v", expiry, want)
	}
}

func TestFeaturePurchasesAreRateLimited(t *testing.T) {
	s := storetest.New()
	e := New(s, nil, nil, eventbus.New(), ratelimit.New(1, time.Hour), "whsec_test", zap.NewNop())
	u := seedUser(t, s, 1000)
	v := seedVillage(t, s, u.ID)
	now := time.Now().UTC()

	if err := e.ProductionBonus(context.Background(), u.ID, v.ID, "wood", now); err != nil {
		t.Fatalf("first ProductionBonus: %v", err)
	}
	err := e.BookOfWisdom(context.Background(), u.ID, v.ID, now)
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("rate-limited call kind = %v, want Conflict", apperr.KindOf(err))
	}
}

func TestVerifyWebhookSignatureRoundTrip(t *testing.T) {
	e, _ := newTestEngine()
	now := time.Now().UTC()
	payload := []byte(`{"session_ref":"sess_1"}`)

	header, sig := signWebhook(e.webhookSecret, payload, now)
	_ = sig
	if err := e.VerifyWebhookSignature(payload, header, now); err != nil {
		t.Fatalf("VerifyWebhookSignature: %v", err)
	}
}

func TestVerifyWebhookSignatureRejectsTamperedPayload(t *testing.T) {
	e, _ := newTestEngine()
	now := time.Now().UTC()
	header, _ := signWebhook(e.webhookSecret, []byte(`{"session_ref":"sess_1"}`), now)

	err := e.VerifyWebhookSignature([]byte(`{"session_ref":"sess_2"}`), header, now)
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestVerifyWebhookSignatureRejectsStaleTimestamp(t *testing.T) {
	e, _ := newTestEngine()
	now := time.Now().UTC()
	payload := []byte(`{"session_ref":"sess_1"}`)
	header, _ := signWebhook(e.webhookSecret, payload, now.Add(-10*time.Minute))

	err := e.VerifyWebhookSignature(payload, header, now)
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestCompletePaymentIsIdempotent(t *testing.T) {
	e, s := newTestEngine()
	u := seedUser(t, s, 0)
	now := time.Now().UTC()

	txn, err := e.CreatePendingPayment(context.Background(), u.ID, 100, "sess_abc", now)
	if err != nil {
		t.Fatalf("CreatePendingPayment: %v", err)
	}
	if err := e.CompletePayment(context.Background(), txn.SessionRef, now); err != nil {
		t.Fatalf("CompletePayment: %v", err)
	}
	if err := e.CompletePayment(context.Background(), txn.SessionRef, now); err != nil {
		t.Fatalf("replayed CompletePayment should be a no-op, got: %v", err)
	}

	sum, err := s.SumGoldLedger(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("SumGoldLedger: %v", err)
	}
	if sum != 100 {
		t.Fatalf("ledger sum = %d, want 100 (replay must not double-credit)", sum)
	}
}
