package promotion

import (
	"context"
	"fmt"

	"github.com/noah-isme/promotion-engine/internal/obs"
)

// View is the presentation-facing outcome of one reconciliation pass.
type View struct {
	AppliedPromotionIDs        []int64         `json:"appliedPromotions"`
	PromotionsUsedTooOften     []int64         `json:"promotionsUsedTooOften"`
	PromotionsDoNotMatch       []int64         `json:"promotionsDoNotMatch"`
	FreeGoods                  []FreeGood      `json:"freeGoods"`
	FreeGoodsHasQuantitySelect bool            `json:"freeGoodsHasQuantitySelect"`
	PromotionVoucherIDs        map[int64]int64 `json:"promotionVoucherIds,omitempty"`
}

// AfterBasketRead reconciles the selector's promotion result back into the
// basket the session just read. It holds the reentrancy guard for the whole
// pass, including all nested writes, and releases it on every exit path.
func (rf *Refresh) AfterBasketRead(ctx context.Context, basket Basket) (Basket, *View, error) {
	if rf == nil || rf.held || !rf.needed {
		return basket, nil, nil
	}
	rf.held = true
	defer func() { rf.held = false }()

	e := rf.engine
	sid := rf.sessionID

	articleLines, err := e.Store.ArticleLines(ctx, sid)
	if err != nil {
		return basket, nil, fmt.Errorf("load article lines: %w", err)
	}
	pinned := pinnedFreeGoods(articleLines)
	if len(pinned) == 0 {
		if err := e.resetPromotions(ctx, sid); err != nil {
			obs.CountBasketRefresh("error")
			return basket, nil, err
		}
		if err := e.Sessions.ClearPinnedFreeGoods(ctx, sid); err != nil {
			return basket, nil, fmt.Errorf("clear pinned free goods: %w", err)
		}
	} else {
		if err := e.Sessions.SetPinnedFreeGoods(ctx, sid, pinned); err != nil {
			return basket, nil, fmt.Errorf("pin free goods: %w", err)
		}
	}

	if err := e.insertVoucherDiscountLine(ctx, sid); err != nil {
		obs.CountBasketRefresh("error")
		return basket, nil, err
	}

	var shop ShopContext
	if e.Shop != nil {
		if shop, err = e.Shop.ShopContext(ctx, sid); err != nil {
			return basket, nil, fmt.Errorf("resolve shop context: %w", err)
		}
	}
	customerID, err := e.Sessions.CustomerID(ctx, sid)
	if err != nil {
		return basket, nil, fmt.Errorf("resolve customer: %w", err)
	}
	voucherIDs, err := e.voucherIDsFromSession(ctx, sid)
	if err != nil {
		return basket, nil, err
	}

	applied, err := e.Selector.Apply(ctx, basket, shop.CustomerGroupID, customerID, shop.ShopID, voucherIDs)
	if err != nil {
		obs.CountBasketRefresh("error")
		return basket, nil, fmt.Errorf("apply promotions: %w", err)
	}

	// The selector may have rebuilt the pinned row; re-assert its free-good
	// grant in storage and on the returned content.
	cached, err := e.Sessions.PinnedFreeGoods(ctx, sid)
	if err != nil {
		return basket, nil, fmt.Errorf("load pinned free goods: %w", err)
	}
	if len(cached) > 0 {
		first := cached[0]
		if err := e.Store.SetFreeGoodPromotions(ctx, sid, first.LineID, first.PromotionIDs); err != nil {
			return basket, nil, fmt.Errorf("restore free-good grant: %w", err)
		}
		for i := range applied.Basket.Content {
			if applied.Basket.Content[i].ID == first.LineID {
				applied.Basket.Content[i].FreeGoodPromotionIDs = first.PromotionIDs
			}
		}
	}

	view := &View{}
	basket, err = e.populatePromotionAttributes(ctx, sid, &applied, view)
	if err != nil {
		obs.CountBasketRefresh("error")
		return basket, nil, err
	}

	if len(basket.Content) > 0 {
		if err := e.Sessions.ClearVoucherLookup(ctx, sid); err != nil {
			return basket, nil, fmt.Errorf("clear voucher lookup: %w", err)
		}
		if err := e.Sessions.SetAppliedPromotionIDs(ctx, sid, applied.PromotionIDs); err != nil {
			return basket, nil, fmt.Errorf("store applied promotions: %w", err)
		}
	} else {
		// an empty basket must not retain promotional shipping or payment
		// adjustments
		if err := e.Store.DeleteSurchargeLines(ctx, sid, e.Surcharges); err != nil {
			return basket, nil, fmt.Errorf("delete surcharge lines: %w", err)
		}
		if err := e.Sessions.ClearAppliedPromotionIDs(ctx, sid); err != nil {
			return basket, nil, fmt.Errorf("clear applied promotions: %w", err)
		}
		obs.CountSurchargeCleanup()
	}

	view.AppliedPromotionIDs, err = e.Sessions.AppliedPromotionIDs(ctx, sid)
	if err != nil {
		return basket, nil, fmt.Errorf("load applied promotions: %w", err)
	}
	view.PromotionsUsedTooOften = applied.PromotionsUsedTooOften
	view.PromotionsDoNotMatch = applied.PromotionsDoNotMatch

	// A voucher lookup that survived (the basket emptied before the code was
	// consumed) still exposes its free good for selection.
	lookup, err := e.Sessions.VoucherLookup(ctx, sid)
	if err != nil {
		return basket, nil, fmt.Errorf("load voucher lookup: %w", err)
	}
	if lookup != nil && lookup.ArticleID != 0 {
		// the pending voucher supersedes any selector grants until it is
		// consumed
		applied.FreeGoodsArticleIDs = map[int64][]int64{lookup.PromotionID: {lookup.ArticleID}}
		if applied.FreeGoodsBundleMaxQuantity == nil {
			applied.FreeGoodsBundleMaxQuantity = map[int64]int32{}
		}
		applied.FreeGoodsBundleMaxQuantity[lookup.PromotionID] = int32(lookup.Mode)
	}

	freeGoods, hasSelect, err := e.mergeFreeGoods(ctx, &applied)
	if err != nil {
		obs.CountBasketRefresh("error")
		return basket, nil, err
	}
	view.FreeGoods = freeGoods
	view.FreeGoodsHasQuantitySelect = hasSelect

	e.assign("availablePromotions", view.AppliedPromotionIDs)
	e.assign("promotionsUsedTooOften", view.PromotionsUsedTooOften)
	e.assign("promotionsDoNotMatch", view.PromotionsDoNotMatch)
	e.assign("freeGoods", view.FreeGoods)
	e.assign("freeGoodsHasQuantitySelect", view.FreeGoodsHasQuantitySelect)
	if len(view.PromotionVoucherIDs) > 0 {
		e.assign("promotionVoucherIds", view.PromotionVoucherIDs)
	}

	hash, err := e.BasketHash(ctx, sid)
	if err != nil {
		return basket, view, fmt.Errorf("fingerprint basket: %w", err)
	}
	if err := e.Sessions.SetLastBasketHash(ctx, sid, hash); err != nil {
		return basket, view, fmt.Errorf("memoize fingerprint: %w", err)
	}
	rf.needed = false
	obs.CountBasketRefresh("refreshed")
	return basket, view, nil
}

// populatePromotionAttributes enriches the selector's basket content with each
// line's resolved promotion id, badge label, and voucher mapping.
func (e *Engine) populatePromotionAttributes(ctx context.Context, sessionID string, applied *AppliedPromotions, view *View) (Basket, error) {
	basket := applied.Basket
	if len(basket.Content) == 0 {
		return basket, nil
	}

	ids := make([]int64, 0, len(basket.Content))
	for _, line := range basket.Content {
		ids = append(ids, line.ID)
	}
	promoByLine, err := e.Store.PromotionIDsByLine(ctx, ids)
	if err != nil {
		return basket, fmt.Errorf("resolve line promotions: %w", err)
	}

	bindings, err := e.Sessions.VoucherBindings(ctx, sessionID)
	if err != nil {
		return basket, fmt.Errorf("load voucher bindings: %w", err)
	}
	voucherByPromotion := make(map[int64]int64, len(bindings))
	for _, b := range bindings {
		voucherByPromotion[b.PromotionID] = b.VoucherID
	}

	for i := range basket.Content {
		line := &basket.Content[i]
		if len(line.FreeGoodPromotionIDs) > 0 {
			// first granting promotion wins the badge; no grants, no badge
			line.FreeGoodsBadge = applied.FreeGoodsBadges[line.FreeGoodPromotionIDs[0]]
		}
		line.PromotionID = promoByLine[line.ID]
		voucherID, ok := voucherByPromotion[line.PromotionID]
		if !ok || voucherID == 0 {
			continue
		}
		if view.PromotionVoucherIDs == nil {
			view.PromotionVoucherIDs = map[int64]int64{}
		}
		view.PromotionVoucherIDs[line.ID] = voucherID
	}
	return basket, nil
}

// insertVoucherDiscountLine inserts the synthetic discount line representing a
// pending voucher's value. Skipped unless the basket holds exactly one pinned
// article line and no promotion line yet.
func (e *Engine) insertVoucherDiscountLine(ctx context.Context, sessionID string) error {
	articleLines, err := e.Store.ArticleLines(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load article lines: %w", err)
	}
	voucherLines, err := e.Store.VoucherLines(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load voucher lines: %w", err)
	}
	lookup, err := e.Sessions.VoucherLookup(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load voucher lookup: %w", err)
	}
	if len(articleLines) != 1 || len(voucherLines) > 0 || lookup == nil {
		return nil
	}
	anchor := articleLines[0]
	if len(anchor.FreeGoodPromotionIDs) == 0 {
		return nil
	}

	customerID, err := e.Sessions.CustomerID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("resolve customer: %w", err)
	}
	factor := 1.0
	if e.Currency != nil {
		factor = e.Currency.Factor()
	}
	line := Line{
		SessionID:      sessionID,
		ArticleID:      0,
		Name:           lookup.Name,
		OrderNumber:    lookup.Number,
		PriceGross:     -anchor.PriceGross,
		PriceNet:       -anchor.PriceNet,
		TaxRateBps:     anchor.TaxRateBps,
		Quantity:       1,
		Mode:           ModeDiscount,
		CurrencyFactor: factor,
		ShippingFree:   lookup.ShippingFree,
		CustomerID:     customerID,
	}
	lineID, err := e.Store.InsertDiscountLine(ctx, line, lookup.PromotionID)
	if err != nil {
		return fmt.Errorf("insert discount line: %w", err)
	}
	e.Logger.Debug().
		Str("session_id", sessionID).
		Int64("line_id", lineID).
		Int64("promotion_id", lookup.PromotionID).
		Msg("inserted voucher discount line")
	return nil
}

func (e *Engine) voucherIDsFromSession(ctx context.Context, sessionID string) ([]int64, error) {
	bindings, err := e.Sessions.VoucherBindings(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load voucher bindings: %w", err)
	}
	ids := make([]int64, 0, len(bindings))
	for _, b := range bindings {
		ids = append(ids, b.VoucherID)
	}
	return ids, nil
}
