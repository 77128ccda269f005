package promotion

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/noah-isme/promotion-engine/internal/common"
)

// BasketHash computes a content fingerprint over the session's basket lines,
// their promotion attributes, and the shop context. It is a change-detection
// heuristic, not a security primitive; collisions are accepted.
func (e *Engine) BasketHash(ctx context.Context, sessionID string) (string, error) {
	lines, err := e.Store.BasketLines(ctx, sessionID)
	if err != nil {
		return "", err
	}
	var shop ShopContext
	if e.Shop != nil {
		shop, err = e.Shop.ShopContext(ctx, sessionID)
		if err != nil {
			return "", err
		}
	}

	sorted := make([]Line, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var buf bytes.Buffer
	for _, line := range sorted {
		fmt.Fprintf(&buf, "%d:%d:%d:%d:%d:%d:%d:%g:%t:%d:",
			line.ID, line.ArticleID, line.PriceGross, line.PriceNet,
			line.TaxRateBps, line.Quantity, line.Mode,
			line.CurrencyFactor, line.ShippingFree, line.PromotionID)
		for _, pid := range line.FreeGoodPromotionIDs {
			buf.WriteString(strconv.FormatInt(pid, 10))
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	// subshop switches invalidate the memoized fingerprint too
	fmt.Fprintf(&buf, "shop:%d:%d:%g\n", shop.ShopID, shop.CustomerGroupID, shop.CurrencyFactor)

	return common.Sha256Hex(buf.Bytes()), nil
}
