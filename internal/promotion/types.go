// Package promotion implements the basket-promotion reconciliation core:
// refresh detection over a basket fingerprint, idempotent reset of stale
// promotion artifacts, voucher resolution with single-voucher enforcement,
// selector invocation and merge-back of its result, and order-creation
// finalization of voucher redemptions.
package promotion

import "context"

// Basket line modes as stored in the mode discriminator column.
const (
	ModeArticle   int16 = 0
	ModeFreeGood  int16 = 2
	ModeSurcharge int16 = 3
	ModeDiscount  int16 = 4
)

// Line is one basket row enriched with its promotion attributes.
type Line struct {
	ID             int64   `json:"id"`
	SessionID      string  `json:"-"`
	ArticleID      int64   `json:"articleId"`
	Name           string  `json:"name"`
	OrderNumber    string  `json:"orderNumber"`
	PriceGross     int64   `json:"priceGross"`
	PriceNet       int64   `json:"priceNet"`
	TaxRateBps     int32   `json:"taxRateBps"`
	Quantity       int32   `json:"quantity"`
	Mode           int16   `json:"mode"`
	CurrencyFactor float64 `json:"currencyFactor"`
	ShippingFree   bool    `json:"shippingFree"`
	CustomerID     int64   `json:"-"`

	// PromotionID links a synthetic line to the promotion that inserted it.
	PromotionID int64 `json:"promotionId,omitempty"`
	// FreeGoodPromotionIDs lists the promotions granting this row as a free
	// good, ordered by position.
	FreeGoodPromotionIDs []int64 `json:"freeGoodPromotionIds,omitempty"`
	// FreeGoodsBadge is resolved during reconciliation from the first granting
	// promotion. Empty when no badge applies.
	FreeGoodsBadge string `json:"freeGoodsBadge,omitempty"`
}

// Basket is the ordered collection of lines for one shopper session.
type Basket struct {
	Content []Line `json:"content"`
}

// PromotionType classifies how a promotion rewards the shopper.
type PromotionType string

const (
	TypeFreeGoods       PromotionType = "freegoods"
	TypeFreeGoodsBundle PromotionType = "freegoodsbundle"
)

// AppliedPromotions is the selector's result for one basket refresh. It is
// constructed fresh per refresh and never persisted.
type AppliedPromotions struct {
	Basket                     Basket
	PromotionIDs               []int64
	PromotionTypes             map[int64]PromotionType
	FreeGoodsArticleIDs        map[int64][]int64
	FreeGoodsBundleMaxQuantity map[int64]int32
	FreeGoodsBadges            map[int64]string
	PromotionsUsedTooOften     []int64
	PromotionsDoNotMatch       []int64
}

// VoucherCandidate is one promotion bound to a submitted voucher code.
type VoucherCandidate struct {
	PromotionID  int64  `json:"promotionId"`
	Name         string `json:"name"`
	Number       string `json:"number"`
	ShippingFree bool   `json:"shippingFree"`
	ArticleID    int64  `json:"articleId"`
	VoucherID    int64  `json:"voucherId"`
	Code         string `json:"code"`
	Mode         int16  `json:"mode"`
}

// FreeGood is one article offered as a promotion reward.
type FreeGood struct {
	ArticleID   int64  `json:"articleId"`
	Name        string `json:"name"`
	OrderNumber string `json:"orderNumber"`
	PriceGross  int64  `json:"priceGross"`
	InStock     int32  `json:"inStock"`
	LastStock   bool   `json:"lastStock"`
	MaxQuantity int32  `json:"maxQuantity"`
}

// OrderItem is one line of a created order as passed to the finalizer.
type OrderItem struct {
	ArticleID   int64
	PromotionID int64
	CustomerID  int64
}

// VoucherBinding is a pending voucher/promotion application awaiting order
// creation.
type VoucherBinding struct {
	VoucherID   int64  `json:"voucherId"`
	PromotionID int64  `json:"promotionId"`
	Code        string `json:"code"`
}

// PinnedFreeGood records a basket line whose free-good grant must survive the
// selector rebuilding the row.
type PinnedFreeGood struct {
	LineID       int64   `json:"lineId"`
	PromotionIDs []int64 `json:"promotionIds"`
}

// ShopContext identifies the shop scope a basket is priced in.
type ShopContext struct {
	ShopID          int64
	CustomerGroupID int64
	CurrencyFactor  float64
}

// Storage is the persistence boundary consumed by the engine. Implementations
// validate row shapes at this boundary and return typed records.
type Storage interface {
	// BasketLines returns every line for the session joined with its
	// promotion attributes and free-good grants, ordered by line id.
	BasketLines(ctx context.Context, sessionID string) ([]Line, error)
	// ArticleLines returns only ordinary article lines (mode 0).
	ArticleLines(ctx context.Context, sessionID string) ([]Line, error)
	// VoucherLines returns synthetic lines (modes 2 and 4) whose promotion is
	// backed by a voucher.
	VoucherLines(ctx context.Context, sessionID string) ([]Line, error)
	DeleteLine(ctx context.Context, sessionID string, lineID int64) error
	// ResetDiscountAttributes zeroes accumulated discount amounts on all
	// attribute rows of the session.
	ResetDiscountAttributes(ctx context.Context, sessionID string) error
	// DeletePromotionLines removes promotion-inserted lines and their
	// attribute rows.
	DeletePromotionLines(ctx context.Context, sessionID string) error
	DeleteSurchargeLines(ctx context.Context, sessionID string, orderNumbers []string) error
	InsertDiscountLine(ctx context.Context, line Line, promotionID int64) (int64, error)
	PromotionIDsByLine(ctx context.Context, lineIDs []int64) (map[int64]int64, error)
	SetFreeGoodPromotions(ctx context.Context, sessionID string, lineID int64, promotionIDs []int64) error
	VoucherCandidates(ctx context.Context, code string) ([]VoucherCandidate, error)
	CashVoucherCode(ctx context.Context, code string, customerID int64) error
	InsertUsageRecord(ctx context.Context, promotionID, customerID, orderID int64) error
}

// Sessions is the per-shopper session state consumed by the engine.
type Sessions interface {
	VoucherBindings(ctx context.Context, sessionID string) ([]VoucherBinding, error)
	SetVoucherBinding(ctx context.Context, sessionID string, binding VoucherBinding) error
	ClearVoucherBindings(ctx context.Context, sessionID string) error

	VoucherLookup(ctx context.Context, sessionID string) (*VoucherCandidate, error)
	SetVoucherLookup(ctx context.Context, sessionID string, candidate VoucherCandidate) error
	ClearVoucherLookup(ctx context.Context, sessionID string) error

	PinnedFreeGoods(ctx context.Context, sessionID string) ([]PinnedFreeGood, error)
	SetPinnedFreeGoods(ctx context.Context, sessionID string, pinned []PinnedFreeGood) error
	ClearPinnedFreeGoods(ctx context.Context, sessionID string) error

	AppliedPromotionIDs(ctx context.Context, sessionID string) ([]int64, error)
	SetAppliedPromotionIDs(ctx context.Context, sessionID string, ids []int64) error
	ClearAppliedPromotionIDs(ctx context.Context, sessionID string) error

	LastBasketHash(ctx context.Context, sessionID string) (string, error)
	SetLastBasketHash(ctx context.Context, sessionID string, hash string) error

	CustomerID(ctx context.Context, sessionID string) (int64, error)
	SetCustomerID(ctx context.Context, sessionID string, customerID int64) error

	ClearAll(ctx context.Context, sessionID string) error
}

// Selector is the external promotion rule engine.
type Selector interface {
	Apply(ctx context.Context, basket Basket, customerGroupID, customerID, shopID int64, voucherIDs []int64) (AppliedPromotions, error)
}

// ProductService resolves free-good article data including stock.
type ProductService interface {
	GetFreeGoods(ctx context.Context, articleIDs []int64, promotionID int64) ([]FreeGood, error)
}

// ContextProvider exposes the current shop scope for a session.
type ContextProvider interface {
	ShopContext(ctx context.Context, sessionID string) (ShopContext, error)
}

// CurrencyProvider exposes the active currency conversion factor.
type CurrencyProvider interface {
	Factor() float64
}

// Presenter receives presentation-facing state. Values are write-only from the
// engine's point of view.
type Presenter interface {
	Assign(key string, value any)
}

// Messages resolves localized shopper-facing texts.
type Messages interface {
	Get(namespace, key, fallback string) string
}
