// Package store is the PostgreSQL persistence boundary of the promotion
// engine. Rows are validated here and returned as typed records; callers
// never see raw column maps.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/promotion-engine/internal/promotion"
)

// ErrNotFound indicates the requested row could not be located.
var ErrNotFound = errors.New("store: not found")

// Store implements promotion.Storage and promotion.ProductService over a pgx
// pool.
type Store struct {
	Pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const lineColumns = `bl.id, bl.session_id, bl.customer_id, bl.article_id, bl.name, bl.order_number,
	bl.price_gross, bl.price_net, bl.tax_rate_bps, bl.quantity, bl.mode,
	bl.currency_factor, bl.shipping_free, COALESCE(ba.promotion_id, 0)`

func scanLine(rows pgx.Rows) (promotion.Line, error) {
	var line promotion.Line
	err := rows.Scan(
		&line.ID, &line.SessionID, &line.CustomerID, &line.ArticleID, &line.Name, &line.OrderNumber,
		&line.PriceGross, &line.PriceNet, &line.TaxRateBps, &line.Quantity, &line.Mode,
		&line.CurrencyFactor, &line.ShippingFree, &line.PromotionID,
	)
	return line, err
}

func (s *Store) queryLines(ctx context.Context, sql string, args ...any) ([]promotion.Line, error) {
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []promotion.Line
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.attachFreeGoodGrants(ctx, lines)
}

// attachFreeGoodGrants loads the free-good join rows for the given lines in
// one batched query.
func (s *Store) attachFreeGoodGrants(ctx context.Context, lines []promotion.Line) ([]promotion.Line, error) {
	if len(lines) == 0 {
		return lines, nil
	}
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ID)
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT basket_line_id, promotion_id
		FROM basket_line_promotions
		WHERE basket_line_id = ANY($1)
		ORDER BY basket_line_id, position`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := make(map[int64][]int64)
	for rows.Next() {
		var lineID, promotionID int64
		if err := rows.Scan(&lineID, &promotionID); err != nil {
			return nil, err
		}
		grants[lineID] = append(grants[lineID], promotionID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range lines {
		lines[i].FreeGoodPromotionIDs = grants[lines[i].ID]
	}
	return lines, nil
}

// BasketLines returns every line of the session with attributes and free-good
// grants, ordered by line id.
func (s *Store) BasketLines(ctx context.Context, sessionID string) ([]promotion.Line, error) {
	return s.queryLines(ctx, `
		SELECT `+lineColumns+`
		FROM basket_lines bl
		LEFT JOIN basket_attributes ba ON ba.basket_line_id = bl.id
		WHERE bl.session_id = $1
		ORDER BY bl.id`, sessionID)
}

// ArticleLines returns only ordinary article lines (mode 0).
func (s *Store) ArticleLines(ctx context.Context, sessionID string) ([]promotion.Line, error) {
	return s.queryLines(ctx, `
		SELECT `+lineColumns+`
		FROM basket_lines bl
		LEFT JOIN basket_attributes ba ON ba.basket_line_id = bl.id
		WHERE bl.session_id = $1 AND bl.mode = 0
		ORDER BY bl.id`, sessionID)
}

// VoucherLines returns synthetic lines whose promotion is backed by a voucher.
// A free-good line from a non-voucher promotion does not count.
func (s *Store) VoucherLines(ctx context.Context, sessionID string) ([]promotion.Line, error) {
	return s.queryLines(ctx, `
		SELECT `+lineColumns+`
		FROM basket_lines bl
		JOIN basket_attributes ba ON ba.basket_line_id = bl.id
		JOIN promotions p ON p.id = ba.promotion_id
		WHERE bl.session_id = $1 AND bl.mode IN (2, 4) AND p.voucher_id IS NOT NULL
		ORDER BY bl.id`, sessionID)
}

// DeleteLine removes one line of the session; attribute and join rows cascade.
func (s *Store) DeleteLine(ctx context.Context, sessionID string, lineID int64) error {
	_, err := s.Pool.Exec(ctx,
		`DELETE FROM basket_lines WHERE session_id = $1 AND id = $2`, sessionID, lineID)
	return err
}

// ResetDiscountAttributes zeroes accumulated discount amounts on all
// attribute rows of the session.
func (s *Store) ResetDiscountAttributes(ctx context.Context, sessionID string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE basket_attributes ba
		SET item_discount = 0, direct_item_discount = 0, direct_promotions = NULL
		FROM basket_lines bl
		WHERE bl.id = ba.basket_line_id AND bl.session_id = $1`, sessionID)
	return err
}

// DeletePromotionLines removes promotion-inserted lines of the session.
func (s *Store) DeletePromotionLines(ctx context.Context, sessionID string) error {
	_, err := s.Pool.Exec(ctx, `
		DELETE FROM basket_lines bl
		USING basket_attributes ba
		WHERE ba.basket_line_id = bl.id AND bl.session_id = $1 AND ba.promotion_id > 0`, sessionID)
	return err
}

// DeleteSurchargeLines removes surcharge/discount lines carrying one of the
// configured ordernumbers.
func (s *Store) DeleteSurchargeLines(ctx context.Context, sessionID string, orderNumbers []string) error {
	if len(orderNumbers) == 0 {
		return nil
	}
	_, err := s.Pool.Exec(ctx, `
		DELETE FROM basket_lines
		WHERE session_id = $1 AND mode IN (3, 4) AND order_number = ANY($2)`,
		sessionID, orderNumbers)
	return err
}

// InsertDiscountLine inserts a synthetic promotion line and its attribute row
// binding it to the promotion.
func (s *Store) InsertDiscountLine(ctx context.Context, line promotion.Line, promotionID int64) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO basket_lines
			(session_id, customer_id, article_id, name, order_number,
			 price_gross, price_net, tax_rate_bps, quantity, mode,
			 currency_factor, shipping_free)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		line.SessionID, line.CustomerID, line.ArticleID, line.Name, line.OrderNumber,
		line.PriceGross, line.PriceNet, line.TaxRateBps, line.Quantity, line.Mode,
		line.CurrencyFactor, line.ShippingFree,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert basket line: %w", err)
	}
	if _, err := s.Pool.Exec(ctx, `
		INSERT INTO basket_attributes (basket_line_id, promotion_id)
		VALUES ($1, $2)`, id, promotionID); err != nil {
		return 0, fmt.Errorf("insert basket attribute: %w", err)
	}
	return id, nil
}

// InsertArticleLine inserts an ordinary article line.
func (s *Store) InsertArticleLine(ctx context.Context, line promotion.Line) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO basket_lines
			(session_id, customer_id, article_id, name, order_number,
			 price_gross, price_net, tax_rate_bps, quantity, mode,
			 currency_factor, shipping_free)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11)
		RETURNING id`,
		line.SessionID, line.CustomerID, line.ArticleID, line.Name, line.OrderNumber,
		line.PriceGross, line.PriceNet, line.TaxRateBps, line.Quantity,
		line.CurrencyFactor, line.ShippingFree,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert article line: %w", err)
	}
	return id, nil
}

// PromotionIDsByLine resolves the promotion attribute of the given lines in
// one batched query. Lines without an attribute row are absent from the map.
func (s *Store) PromotionIDsByLine(ctx context.Context, lineIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(lineIDs))
	if len(lineIDs) == 0 {
		return result, nil
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT basket_line_id, promotion_id
		FROM basket_attributes
		WHERE basket_line_id = ANY($1)`, lineIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var lineID, promotionID int64
		if err := rows.Scan(&lineID, &promotionID); err != nil {
			return nil, err
		}
		result[lineID] = promotionID
	}
	return result, rows.Err()
}

// SetFreeGoodPromotions replaces the free-good grants of a line.
func (s *Store) SetFreeGoodPromotions(ctx context.Context, sessionID string, lineID int64, promotionIDs []int64) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, `
		DELETE FROM basket_line_promotions blp
		USING basket_lines bl
		WHERE bl.id = blp.basket_line_id AND bl.session_id = $1 AND blp.basket_line_id = $2`,
		sessionID, lineID); err != nil {
		return err
	}
	for position, promotionID := range promotionIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO basket_line_promotions (basket_line_id, promotion_id, position)
			VALUES ($1, $2, $3)`, lineID, promotionID, position); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
