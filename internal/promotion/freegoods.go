package promotion

import (
	"context"
	"fmt"
	"sort"
)

// mergeFreeGoods aggregates free-good article data across all applied
// promotions. Bundle promotions get their offerable quantity capped; plain
// free-goods promotions pass through unmodified. A promotion referencing a
// missing article contributes nothing.
func (e *Engine) mergeFreeGoods(ctx context.Context, applied *AppliedPromotions) ([]FreeGood, bool, error) {
	if e.Products == nil || len(applied.FreeGoodsArticleIDs) == 0 {
		return nil, false, nil
	}

	promotionIDs := make([]int64, 0, len(applied.FreeGoodsArticleIDs))
	for pid := range applied.FreeGoodsArticleIDs {
		promotionIDs = append(promotionIDs, pid)
	}
	sort.Slice(promotionIDs, func(i, j int) bool { return promotionIDs[i] < promotionIDs[j] })

	var merged []FreeGood
	hasQuantitySelect := false
	for _, pid := range promotionIDs {
		goods, err := e.Products.GetFreeGoods(ctx, applied.FreeGoodsArticleIDs[pid], pid)
		if err != nil {
			return nil, false, fmt.Errorf("load free goods for promotion %d: %w", pid, err)
		}
		maxQuantity := applied.FreeGoodsBundleMaxQuantity[pid]
		for i := range goods {
			goods[i].MaxQuantity = maxQuantity
			if maxQuantity > 0 {
				hasQuantitySelect = true
			}
		}
		switch applied.PromotionTypes[pid] {
		case TypeFreeGoodsBundle:
			if maxQuantity > 0 {
				merged = append(merged, capFreeGoodQuantities(goods, maxQuantity)...)
			}
		case TypeFreeGoods:
			merged = append(merged, goods...)
		}
	}
	return merged, hasQuantitySelect, nil
}

// capFreeGoodQuantities bounds each article's offerable quantity by the bundle
// cap, further reduced to current stock when stock tracking is enabled.
func capFreeGoodQuantities(goods []FreeGood, maxQuantity int32) []FreeGood {
	for i := range goods {
		limit := maxQuantity
		if goods[i].LastStock && goods[i].InStock < limit {
			limit = goods[i].InStock
		}
		goods[i].MaxQuantity = limit
	}
	return goods
}
