package store

import (
	"context"
	"fmt"

	"github.com/noah-isme/promotion-engine/internal/promotion"
)

// VoucherCandidates looks up promotions bound to the submitted code. The
// union covers both schemes: shared codes (mode 0, reusable) and uncashed
// per-customer codes (mode 1, single-use).
func (s *Store) VoucherCandidates(ctx context.Context, code string) ([]promotion.VoucherCandidate, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT p.id, p.name, p.number, p.shipping_free, COALESCE(fg.article_id, 0),
		       v.id, v.code, 0::smallint
		FROM vouchers v
		JOIN promotions p ON p.voucher_id = v.id
		LEFT JOIN promotion_free_goods fg ON fg.promotion_id = p.id
		WHERE v.code = $1 AND v.mode = 0

		UNION ALL

		SELECT p.id, p.name, p.number, p.shipping_free, COALESCE(fg.article_id, 0),
		       vc.voucher_id, vc.code, 1::smallint
		FROM voucher_codes vc
		JOIN promotions p ON p.voucher_id = vc.voucher_id
		LEFT JOIN promotion_free_goods fg ON fg.promotion_id = p.id
		WHERE vc.code = $1 AND vc.cashed = FALSE`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []promotion.VoucherCandidate
	for rows.Next() {
		var c promotion.VoucherCandidate
		if err := rows.Scan(&c.PromotionID, &c.Name, &c.Number, &c.ShippingFree,
			&c.ArticleID, &c.VoucherID, &c.Code, &c.Mode); err != nil {
			return nil, err
		}
		if c.Number == "" {
			c.Number = fmt.Sprintf("prom-%d", c.PromotionID)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// CashVoucherCode marks a per-customer code consumed and attributes it to the
// buyer.
func (s *Store) CashVoucherCode(ctx context.Context, code string, customerID int64) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE voucher_codes SET cashed = TRUE, customer_id = $1 WHERE code = $2`,
		customerID, code)
	return err
}

// InsertUsageRecord writes one redemption row per (promotion, customer,
// order). Conflicts are ignored so re-delivery of the order event stays safe.
func (s *Store) InsertUsageRecord(ctx context.Context, promotionID, customerID, orderID int64) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO promotion_usage (promotion_id, customer_id, order_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, promotionID, customerID, orderID)
	return err
}

// GetFreeGoods resolves free-good article data including stock. The promotion
// id scopes price context for hosts that price free goods per promotion; the
// default implementation returns the catalogue rows as stored.
func (s *Store) GetFreeGoods(ctx context.Context, articleIDs []int64, promotionID int64) ([]promotion.FreeGood, error) {
	if len(articleIDs) == 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, name, order_number, price_gross, instock, laststock
		FROM articles
		WHERE id = ANY($1)
		ORDER BY id`, articleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var goods []promotion.FreeGood
	for rows.Next() {
		var g promotion.FreeGood
		if err := rows.Scan(&g.ArticleID, &g.Name, &g.OrderNumber, &g.PriceGross,
			&g.InStock, &g.LastStock); err != nil {
			return nil, err
		}
		goods = append(goods, g)
	}
	return goods, rows.Err()
}
