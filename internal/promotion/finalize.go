package promotion

import (
	"context"
	"fmt"
	"sort"

	"github.com/noah-isme/promotion-engine/internal/obs"
)

// OnOrderCreated redeems the pending voucher binding once an order exists.
// The first order item matching the binding's promotion id triggers the
// cash-in: the voucher code is marked cashed for the buyer and a usage record
// is written. Without a pending binding this is a no-op.
func (e *Engine) OnOrderCreated(ctx context.Context, sessionID string, orderID int64, items []OrderItem) error {
	if err := e.check(); err != nil {
		return err
	}
	bindings, err := e.Sessions.VoucherBindings(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load voucher bindings: %w", err)
	}
	if len(bindings) == 0 {
		obs.CountOrderFinalize("skipped")
		return nil
	}
	// only the first pending binding is processed; the single-voucher
	// invariant makes more than one an anomaly
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].VoucherID < bindings[j].VoucherID })
	binding := bindings[0]

	for _, item := range items {
		if item.PromotionID != binding.PromotionID {
			continue
		}
		if err := e.Store.CashVoucherCode(ctx, binding.Code, item.CustomerID); err != nil {
			obs.CountOrderFinalize("error")
			return fmt.Errorf("cash voucher code: %w", err)
		}
		if err := e.Store.InsertUsageRecord(ctx, binding.PromotionID, item.CustomerID, orderID); err != nil {
			obs.CountOrderFinalize("error")
			return fmt.Errorf("record promotion usage: %w", err)
		}
		if err := e.Sessions.ClearVoucherBindings(ctx, sessionID); err != nil {
			return fmt.Errorf("clear voucher bindings: %w", err)
		}
		e.Logger.Info().
			Str("session_id", sessionID).
			Int64("order_id", orderID).
			Int64("promotion_id", binding.PromotionID).
			Int64("customer_id", item.CustomerID).
			Msg("voucher cashed")
		obs.CountOrderFinalize("cashed")
		return nil
	}
	obs.CountOrderFinalize("unmatched")
	return nil
}
