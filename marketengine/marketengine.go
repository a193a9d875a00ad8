// Package marketengine is the Market Engine (§4.F), the most
// concurrency-sensitive component: order creation with escrow, a
// row-locked accept/partial-fill path, owner cancellation and
// scheduler-driven expiry, all with matching refund/lock-release logic.
//
// Grounded on the reference's services/trade_service.go order lifecycle,
// corrected to row-lock the target order before mutating it (the
// reference's ProcessTrade reads then writes without a lock, racing two
// concurrent fills against the same order) and to escrow sell-side
// resources via a ResourceLock row rather than deducting them from the
// village up front.
package marketengine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"server-backend/apperr"
	"server-backend/eventbus"
	"server-backend/models"
	"server-backend/ratelimit"
	"server-backend/store"
)

type Engine struct {
	store   store.Store
	bus     *eventbus.Bus
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

func New(s store.Store, bus *eventbus.Bus, limiter *ratelimit.Limiter, logger *zap.Logger) *Engine {
	return &Engine{store: s, bus: bus, limiter: limiter, logger: logger}
}

// CreateOrder implements §4.F's "Order creation" operation.
func (e *Engine) CreateOrder(ctx context.Context, ownerID, villageID uuid.UUID, side models.OrderSide, resourceType string, quantity, pricePerUnit int, expiresInHours int, now time.Time) (*models.TradeOrder, error) {
	if !e.limiter.Allow(ownerID.String()) {
		return nil, apperr.Conflictf("too many orders created recently, slow down")
	}
	if err := validateOrderParams(quantity, pricePerUnit, expiresInHours); err != nil {
		return nil, err
	}

	var result *models.TradeOrder
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		v, err := tx.GetVillageForUpdate(ctx, villageID)
		if err != nil {
			return err
		}
		if v.OwnerID != ownerID {
			return apperr.Forbiddenf("village is not owned by this user")
		}

		openCount, err := tx.CountOpenOrders(ctx, ownerID)
		if err != nil {
			return err
		}
		if openCount >= models.MaxOpenOrdersPerUser {
			return apperr.BadRequestf("user already has %d open orders", models.MaxOpenOrdersPerUser)
		}

		var expiresAt *time.Time
		if expiresInHours > 0 {
			t := now.Add(time.Duration(expiresInHours) * time.Hour)
			expiresAt = &t
		}

		order := &models.TradeOrder{
			ID:           uuid.New(),
			OwnerID:      ownerID,
			VillageID:    villageID,
			Side:         side,
			ResourceType: resourceType,
			Quantity:     quantity,
			PricePerUnit: pricePerUnit,
			Status:       models.OrderOpen,
			ExpiresAt:    expiresAt,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		switch side {
		case models.SideSell:
			available, err := availableResource(ctx, tx, v, resourceType)
			if err != nil {
				return err
			}
			if available < quantity {
				return apperr.BadRequestf("insufficient available %s: have %d, need %d", resourceType, available, quantity)
			}
			if err := tx.CreateOrder(ctx, order); err != nil {
				return err
			}
			lock := &models.ResourceLock{
				ID:           uuid.New(),
				VillageID:    villageID,
				ResourceType: resourceType,
				Amount:       quantity,
				LockType:     models.TradeOrderLock,
				ReferenceID:  order.ID,
				CreatedAt:    now,
			}
			if err := tx.CreateLock(ctx, lock); err != nil {
				return err
			}
		case models.SideBuy:
			totalCost := quantity * pricePerUnit
			ok, err := tx.DecrementGoldConditional(ctx, ownerID, totalCost)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.BadRequestf("insufficient gold balance")
			}
			if err := tx.AppendGoldLedger(ctx, &models.GoldLedgerEntry{
				ID: uuid.New(), UserID: ownerID, Amount: -totalCost,
				Kind: models.LedgerMarketTrade, ReferenceID: &order.ID, CreatedAt: now,
			}); err != nil {
				return err
			}
			if err := tx.CreateOrder(ctx, order); err != nil {
				return err
			}
		default:
			return apperr.BadRequestf("unknown order side %q", side)
		}

		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.bus.Publish(ownerID, eventbus.Event{Type: eventbus.VillageUpdated, Data: result})
	return result, nil
}

func validateOrderParams(quantity, pricePerUnit, expiresInHours int) error {
	if quantity < models.MinOrderQuantity || quantity > models.MaxOrderQuantity {
		return apperr.BadRequestf("quantity must be in [%d, %d]", models.MinOrderQuantity, models.MaxOrderQuantity)
	}
	if pricePerUnit < models.MinOrderPrice || pricePerUnit > models.MaxOrderPrice {
		return apperr.BadRequestf("price must be in [%d, %d]", models.MinOrderPrice, models.MaxOrderPrice)
	}
	if expiresInHours != 0 && (expiresInHours < models.MinExpiryHours || expiresInHours > models.MaxExpiryHours) {
		return apperr.BadRequestf("expiry must be in [%d, %d] hours", models.MinExpiryHours, models.MaxExpiryHours)
	}
	return nil
}

// availableResource computes village.amount - Σ active locks for that
// resource, per §4.F's escrow invariant.
func availableResource(ctx context.Context, tx store.Tx, v *models.Village, resourceType string) (int, error) {
	locked, err := tx.SumActiveLocks(ctx, v.ID, resourceType)
	if err != nil {
		return 0, err
	}
	var amount int
	switch resourceType {
	case "wood":
		amount = v.Wood
	case "clay":
		amount = v.Clay
	case "iron":
		amount = v.Iron
	case "crop":
		amount = v.Crop
	default:
		return 0, apperr.BadRequestf("unknown resource type %q", resourceType)
	}
	return amount - locked, nil
}

// Accept implements §4.F's "Accept (fill)" operation: acceptorID fills
// quantity units of order orderID.
func (e *Engine) Accept(ctx context.Context, orderID, acceptorID, acceptorVillageID uuid.UUID, quantity int, now time.Time) (*models.TradeOrder, error) {
	if quantity <= 0 {
		return nil, apperr.BadRequestf("fill quantity must be positive")
	}

	var result *models.TradeOrder
	var buyerID, sellerID uuid.UUID
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderOpen && order.Status != models.OrderPartiallyFilled {
			return apperr.BadRequestf("order is not open for fills")
		}
		if order.ExpiresAt != nil && !order.ExpiresAt.After(now) {
			return apperr.BadRequestf("order has expired")
		}
		if order.OwnerID == acceptorID {
			return apperr.BadRequestf("owner cannot accept their own order")
		}
		remaining := order.QuantityRemaining()
		if quantity > remaining {
			return apperr.BadRequestf("fill exceeds remaining quantity")
		}
		if quantity < models.MinFillQuantity && quantity != remaining {
			return apperr.BadRequestf("minimum fill is %d units unless clearing the remainder", models.MinFillQuantity)
		}

		acceptorVillage, err := tx.GetVillageForUpdate(ctx, acceptorVillageID)
		if err != nil {
			return err
		}
		if acceptorVillage.OwnerID != acceptorID {
			return apperr.Forbiddenf("acceptor village is not owned by acceptor")
		}

		ownerVillage, err := tx.GetVillageForUpdate(ctx, order.VillageID)
		if err != nil {
			return err
		}

		totalPrice := quantity * order.PricePerUnit

		switch order.Side {
		case models.SideSell:
			buyerID, sellerID = acceptorID, order.OwnerID
			ok, err := tx.DecrementGoldConditional(ctx, acceptorID, totalPrice)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.BadRequestf("insufficient gold balance to accept fill")
			}
			if err := tx.AppendGoldLedger(ctx, &models.GoldLedgerEntry{
				ID: uuid.New(), UserID: acceptorID, Amount: -totalPrice,
				Kind: models.LedgerMarketTrade, ReferenceID: &order.ID, CreatedAt: now,
			}); err != nil {
				return err
			}
			if err := tx.IncrementGold(ctx, order.OwnerID, totalPrice); err != nil {
				return err
			}
			if err := tx.AppendGoldLedger(ctx, &models.GoldLedgerEntry{
				ID: uuid.New(), UserID: order.OwnerID, Amount: totalPrice,
				Kind: models.LedgerMarketTrade, ReferenceID: &order.ID, CreatedAt: now,
			}); err != nil {
				return err
			}
			if err := creditResourceCapped(ctx, tx, acceptorVillage, order.ResourceType, quantity, now); err != nil {
				return err
			}
		case models.SideBuy:
			buyerID, sellerID = order.OwnerID, acceptorID
			available, err := availableResource(ctx, tx, acceptorVillage, order.ResourceType)
			if err != nil {
				return err
			}
			if available < quantity {
				return apperr.BadRequestf("insufficient available %s to fill", order.ResourceType)
			}
			if err := debitResource(ctx, tx, acceptorVillage, order.ResourceType, quantity, now); err != nil {
				return err
			}
			if err := creditResourceCapped(ctx, tx, ownerVillage, order.ResourceType, quantity, now); err != nil {
				return err
			}
			if err := tx.IncrementGold(ctx, acceptorID, totalPrice); err != nil {
				return err
			}
			if err := tx.AppendGoldLedger(ctx, &models.GoldLedgerEntry{
				ID: uuid.New(), UserID: acceptorID, Amount: totalPrice,
				Kind: models.LedgerMarketTrade, ReferenceID: &order.ID, CreatedAt: now,
			}); err != nil {
				return err
			}
		}

		order.QuantityFilled += quantity
		if order.QuantityFilled >= order.Quantity {
			order.Status = models.OrderFilled
		} else {
			order.Status = models.OrderPartiallyFilled
		}
		order.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		if order.Status == models.OrderFilled && order.Side == models.SideSell {
			if err := tx.ReleaseLocksByReference(ctx, order.ID, now); err != nil {
				return err
			}
		}

		if err := tx.InsertTradeTransaction(ctx, &models.TradeTransaction{
			ID: uuid.New(), OrderID: order.ID, BuyerID: buyerID, SellerID: sellerID,
			ResourceType: order.ResourceType, Quantity: quantity, PricePerUnit: order.PricePerUnit,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.bus.Publish(result.OwnerID, eventbus.Event{Type: eventbus.VillageUpdated, Data: result})
	e.bus.Publish(acceptorID, eventbus.Event{Type: eventbus.VillageUpdated, Data: result})
	return result, nil
}

// creditResourceCapped adds amount to v's resourceType, clamped at
// warehouse/granary capacity; the excess is lost, matching the Resource
// Engine's own overflow-is-backpressure convention.
func creditResourceCapped(ctx context.Context, tx store.Tx, v *models.Village, resourceType string, amount int, now time.Time) error {
	switch resourceType {
	case "wood":
		v.Wood = clamp(v.Wood+amount, 0, v.WarehouseCapacity)
	case "clay":
		v.Clay = clamp(v.Clay+amount, 0, v.WarehouseCapacity)
	case "iron":
		v.Iron = clamp(v.Iron+amount, 0, v.WarehouseCapacity)
	case "crop":
		v.Crop = clamp(v.Crop+amount, 0, v.GranaryCapacity)
	default:
		return apperr.BadRequestf("unknown resource type %q", resourceType)
	}
	v.UpdatedAt = now
	return tx.UpdateVillageResources(ctx, v)
}

func debitResource(ctx context.Context, tx store.Tx, v *models.Village, resourceType string, amount int, now time.Time) error {
	switch resourceType {
	case "wood":
		v.Wood -= amount
	case "clay":
		v.Clay -= amount
	case "iron":
		v.Iron -= amount
	case "crop":
		v.Crop -= amount
	default:
		return apperr.BadRequestf("unknown resource type %q", resourceType)
	}
	v.UpdatedAt = now
	return tx.UpdateVillageResources(ctx, v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Cancel implements §4.F's "Cancel" operation: owner-only, allowed while
// open or partially_filled.
func (e *Engine) Cancel(ctx context.Context, orderID, callerID uuid.UUID, now time.Time) error {
	var ownerID uuid.UUID
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.OwnerID != callerID {
			return apperr.Forbiddenf("only the owner may cancel this order")
		}
		if order.IsTerminal() {
			return apperr.BadRequestf("order is already in a terminal state")
		}
		ownerID = order.OwnerID
		return refundAndClose(ctx, tx, order, models.OrderCancelled, now)
	})
	if err != nil {
		return err
	}
	e.bus.Publish(ownerID, eventbus.Event{Type: eventbus.TradeOrderExpired, Data: orderID})
	return nil
}

// refundAndClose transitions order to terminalStatus, releasing its sell
// lock or refunding the buy-side unfilled remainder, shared by Cancel and
// expiry.
func refundAndClose(ctx context.Context, tx store.Tx, order *models.TradeOrder, terminalStatus models.OrderStatus, now time.Time) error {
	remaining := order.QuantityRemaining()
	switch order.Side {
	case models.SideSell:
		if err := tx.ReleaseLocksByReference(ctx, order.ID, now); err != nil {
			return err
		}
	case models.SideBuy:
		if remaining > 0 {
			refund := remaining * order.PricePerUnit
			if err := tx.IncrementGold(ctx, order.OwnerID, refund); err != nil {
				return err
			}
			if err := tx.AppendGoldLedger(ctx, &models.GoldLedgerEntry{
				ID: uuid.New(), UserID: order.OwnerID, Amount: refund,
				Kind: models.LedgerMarketTrade, ReferenceID: &order.ID, CreatedAt: now,
			}); err != nil {
				return err
			}
		}
	}
	order.Status = terminalStatus
	order.UpdatedAt = now
	return tx.UpdateOrder(ctx, order)
}

// RunExpiry is the scheduler worker's tick body: batch up to 100 expired
// orders and apply the cancel-style refund transition to each.
func (e *Engine) RunExpiry(ctx context.Context, now time.Time) (int, error) {
	expired, err := e.store.ListExpiredOrders(ctx, now, 100)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, order := range expired {
		err := e.store.WithTx(ctx, func(tx store.Tx) error {
			fresh, err := tx.GetOrderForUpdate(ctx, order.ID)
			if err != nil {
				return err
			}
			if fresh.IsTerminal() {
				return nil
			}
			return refundAndClose(ctx, tx, fresh, models.OrderExpired, now)
		})
		if err != nil {
			e.logger.Error("order expiry failed", zap.Stringer("order_id", order.ID), zap.Error(err))
			continue
		}
		e.bus.Publish(order.OwnerID, eventbus.Event{Type: eventbus.TradeOrderExpired, Data: order.ID})
		count++
	}
	return count, nil
}
