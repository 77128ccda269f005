package promotion_test

import (
	"context"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/promotion-engine/internal/promotion"
	"github.com/noah-isme/promotion-engine/internal/session"
)

type usageRecord struct {
	PromotionID int64
	CustomerID  int64
	OrderID     int64
}

// fakeStore is an in-memory promotion.Storage and promotion.ProductService.
type fakeStore struct {
	nextID        int64
	lines         map[int64]promotion.Line
	attrs         map[int64]int64
	grants        map[int64][]int64
	resetCalls    int
	candidates    map[string][]promotion.VoucherCandidate
	voucherPromos map[int64]bool
	cashed        map[string]int64
	usage         []usageRecord
	goods         map[int64]promotion.FreeGood
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lines:         map[int64]promotion.Line{},
		attrs:         map[int64]int64{},
		grants:        map[int64][]int64{},
		candidates:    map[string][]promotion.VoucherCandidate{},
		voucherPromos: map[int64]bool{},
		cashed:        map[string]int64{},
		goods:         map[int64]promotion.FreeGood{},
	}
}

func (f *fakeStore) addLine(line promotion.Line) int64 {
	f.nextID++
	line.ID = f.nextID
	f.lines[line.ID] = line
	return line.ID
}

func (f *fakeStore) sessionLines(sessionID string, keep func(promotion.Line) bool) []promotion.Line {
	ids := make([]int64, 0, len(f.lines))
	for id := range f.lines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []promotion.Line
	for _, id := range ids {
		line := f.lines[id]
		if line.SessionID != sessionID {
			continue
		}
		line.PromotionID = f.attrs[id]
		line.FreeGoodPromotionIDs = f.grants[id]
		if keep == nil || keep(line) {
			out = append(out, line)
		}
	}
	return out
}

func (f *fakeStore) BasketLines(_ context.Context, sessionID string) ([]promotion.Line, error) {
	return f.sessionLines(sessionID, nil), nil
}

func (f *fakeStore) ArticleLines(_ context.Context, sessionID string) ([]promotion.Line, error) {
	return f.sessionLines(sessionID, func(l promotion.Line) bool { return l.Mode == promotion.ModeArticle }), nil
}

func (f *fakeStore) VoucherLines(_ context.Context, sessionID string) ([]promotion.Line, error) {
	return f.sessionLines(sessionID, func(l promotion.Line) bool {
		if l.Mode != promotion.ModeFreeGood && l.Mode != promotion.ModeDiscount {
			return false
		}
		return f.voucherPromos[l.PromotionID]
	}), nil
}

func (f *fakeStore) DeleteLine(_ context.Context, sessionID string, lineID int64) error {
	if line, ok := f.lines[lineID]; ok && line.SessionID == sessionID {
		delete(f.lines, lineID)
		delete(f.attrs, lineID)
		delete(f.grants, lineID)
	}
	return nil
}

func (f *fakeStore) ResetDiscountAttributes(context.Context, string) error {
	f.resetCalls++
	return nil
}

func (f *fakeStore) DeletePromotionLines(_ context.Context, sessionID string) error {
	for id, line := range f.lines {
		if line.SessionID == sessionID && f.attrs[id] > 0 {
			delete(f.lines, id)
			delete(f.attrs, id)
			delete(f.grants, id)
		}
	}
	return nil
}

func (f *fakeStore) DeleteSurchargeLines(_ context.Context, sessionID string, orderNumbers []string) error {
	numbers := map[string]bool{}
	for _, n := range orderNumbers {
		numbers[n] = true
	}
	for id, line := range f.lines {
		if line.SessionID != sessionID {
			continue
		}
		if (line.Mode == promotion.ModeSurcharge || line.Mode == promotion.ModeDiscount) && numbers[line.OrderNumber] {
			delete(f.lines, id)
			delete(f.attrs, id)
		}
	}
	return nil
}

func (f *fakeStore) InsertDiscountLine(_ context.Context, line promotion.Line, promotionID int64) (int64, error) {
	id := f.addLine(line)
	f.attrs[id] = promotionID
	return id, nil
}

func (f *fakeStore) PromotionIDsByLine(_ context.Context, lineIDs []int64) (map[int64]int64, error) {
	out := map[int64]int64{}
	for _, id := range lineIDs {
		if pid, ok := f.attrs[id]; ok {
			out[id] = pid
		}
	}
	return out, nil
}

func (f *fakeStore) SetFreeGoodPromotions(_ context.Context, _ string, lineID int64, promotionIDs []int64) error {
	f.grants[lineID] = promotionIDs
	return nil
}

func (f *fakeStore) VoucherCandidates(_ context.Context, code string) ([]promotion.VoucherCandidate, error) {
	return f.candidates[code], nil
}

func (f *fakeStore) CashVoucherCode(_ context.Context, code string, customerID int64) error {
	f.cashed[code] = customerID
	return nil
}

func (f *fakeStore) InsertUsageRecord(_ context.Context, promotionID, customerID, orderID int64) error {
	f.usage = append(f.usage, usageRecord{PromotionID: promotionID, CustomerID: customerID, OrderID: orderID})
	return nil
}

func (f *fakeStore) GetFreeGoods(_ context.Context, articleIDs []int64, _ int64) ([]promotion.FreeGood, error) {
	var out []promotion.FreeGood
	for _, id := range articleIDs {
		if g, ok := f.goods[id]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

// stubSelector reports a fixed promotion result over whatever basket it is
// handed.
type stubSelector struct {
	applied promotion.AppliedPromotions
}

func (s stubSelector) Apply(_ context.Context, basket promotion.Basket, _, _, _ int64, _ []int64) (promotion.AppliedPromotions, error) {
	applied := s.applied
	applied.Basket = basket
	return applied, nil
}

func newTestEngine(t *testing.T) (*promotion.Engine, *fakeStore, *session.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fake := newFakeStore()
	sessions := &session.Store{R: client, TTL: time.Hour}
	engine := &promotion.Engine{
		Store:      fake,
		Sessions:   sessions,
		Selector:   promotion.PassthroughSelector{},
		Products:   fake,
		Shop:       promotion.StaticShop{ID: 1, GroupID: 1, CurrencyFactor: 1},
		Currency:   promotion.StaticShop{CurrencyFactor: 1},
		Messages:   promotion.StaticMessages{},
		Surcharges: []string{"PAYMENTSURCHARGEABSOLUTE", "SHIPPINGDISCOUNT", "PAYMENTSURCHARGE", "DISCOUNT"},
		Logger:     zerolog.Nop(),
	}
	return engine, fake, sessions
}

func refreshBasket(t *testing.T, engine *promotion.Engine, fake *fakeStore, sessionID string) (promotion.Basket, *promotion.View) {
	t.Helper()
	ctx := context.Background()
	rf, err := engine.BeginRefresh(ctx, sessionID)
	require.NoError(t, err)
	require.NoError(t, rf.BeforeBasketRead(ctx))
	lines, err := fake.BasketLines(ctx, sessionID)
	require.NoError(t, err)
	basket, view, err := rf.AfterBasketRead(ctx, promotion.Basket{Content: lines})
	require.NoError(t, err)
	return basket, view
}

func TestRefreshGateMemoizesFingerprint(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	lineID := fake.addLine(promotion.Line{SessionID: sid, ArticleID: 100, PriceGross: 1999, Quantity: 1, CurrencyFactor: 1})

	rf, err := engine.BeginRefresh(ctx, sid)
	require.NoError(t, err)
	require.True(t, rf.Needed())

	refreshBasket(t, engine, fake, sid)

	rf, err = engine.BeginRefresh(ctx, sid)
	require.NoError(t, err)
	require.False(t, rf.Needed())

	line := fake.lines[lineID]
	line.Quantity = 2
	fake.lines[lineID] = line

	rf, err = engine.BeginRefresh(ctx, sid)
	require.NoError(t, err)
	require.True(t, rf.Needed())
}

func TestBeforeBasketReadResetsStaleArtifacts(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	fake.addLine(promotion.Line{SessionID: sid, ArticleID: 100, PriceGross: 1000, Quantity: 1})
	promoLine := fake.addLine(promotion.Line{SessionID: sid, Mode: promotion.ModeDiscount, PriceGross: -500, Quantity: 1})
	fake.attrs[promoLine] = 7

	rf, err := engine.BeginRefresh(ctx, sid)
	require.NoError(t, err)
	require.NoError(t, rf.BeforeBasketRead(ctx))

	require.Equal(t, 1, fake.resetCalls)
	_, exists := fake.lines[promoLine]
	require.False(t, exists, "promotion line should be removed by the reset")
}

func TestBeforeBasketReadKeepsPinnedFreeGoods(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	lineID := fake.addLine(promotion.Line{SessionID: sid, ArticleID: 100, PriceGross: 1000, Quantity: 1})
	fake.grants[lineID] = []int64{10}
	promoLine := fake.addLine(promotion.Line{SessionID: sid, Mode: promotion.ModeDiscount, PriceGross: -500, Quantity: 1})
	fake.attrs[promoLine] = 10

	rf, err := engine.BeginRefresh(ctx, sid)
	require.NoError(t, err)
	require.NoError(t, rf.BeforeBasketRead(ctx))

	require.Zero(t, fake.resetCalls)
	_, exists := fake.lines[promoLine]
	require.True(t, exists, "pinned free goods must keep promotion artifacts alive")
}

func TestEmptyBasketDropsSurchargesAndAppliedState(t *testing.T) {
	engine, fake, sessions := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	surcharge := fake.addLine(promotion.Line{SessionID: sid, Mode: promotion.ModeSurcharge, OrderNumber: "PAYMENTSURCHARGE", PriceGross: 250, Quantity: 1})
	require.NoError(t, sessions.SetAppliedPromotionIDs(ctx, sid, []int64{5, 6}))

	rf, err := engine.BeginRefresh(ctx, sid)
	require.NoError(t, err)
	_, view, err := rf.AfterBasketRead(ctx, promotion.Basket{})
	require.NoError(t, err)

	_, exists := fake.lines[surcharge]
	require.False(t, exists, "surcharge line must not survive an empty basket")

	applied, err := sessions.AppliedPromotionIDs(ctx, sid)
	require.NoError(t, err)
	require.Empty(t, applied)
	require.Empty(t, view.AppliedPromotionIDs)
}

func TestSubmitVoucherNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	result, err := engine.SubmitVoucher(context.Background(), "s1", "NOPE")
	require.NoError(t, err)
	require.False(t, result.Found)
	require.False(t, result.Rejected)
}

func TestSubmitVoucherLastCandidateWins(t *testing.T) {
	engine, fake, sessions := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	fake.candidates["MULTI"] = []promotion.VoucherCandidate{
		{PromotionID: 10, VoucherID: 1, Code: "MULTI", Number: "prom-10"},
		{PromotionID: 20, VoucherID: 2, Code: "MULTI", Number: "prom-20"},
	}

	result, err := engine.SubmitVoucher(ctx, sid, "MULTI")
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Equal(t, int64(20), result.Candidate.PromotionID)

	lookup, err := sessions.VoucherLookup(ctx, sid)
	require.NoError(t, err)
	require.NotNil(t, lookup)
	require.Equal(t, int64(20), lookup.PromotionID)
}

func TestVoucherDiscountLineInsertion(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	anchor := fake.addLine(promotion.Line{SessionID: sid, ArticleID: 100, Name: "Widget", PriceGross: 1999, PriceNet: 1680, TaxRateBps: 1900, Quantity: 1, CurrencyFactor: 1})
	fake.grants[anchor] = []int64{10}
	fake.candidates["SAVE10"] = []promotion.VoucherCandidate{
		{PromotionID: 10, VoucherID: 1, Code: "SAVE10", Name: "Ten Off", Number: "prom-10", ShippingFree: true},
	}
	fake.voucherPromos[10] = true

	result, err := engine.SubmitVoucher(ctx, sid, "SAVE10")
	require.NoError(t, err)
	require.True(t, result.Found)
	require.False(t, result.Rejected)

	refreshBasket(t, engine, fake, sid)

	voucherLines, err := fake.VoucherLines(ctx, sid)
	require.NoError(t, err)
	require.Len(t, voucherLines, 1)
	discount := voucherLines[0]
	require.Equal(t, promotion.ModeDiscount, discount.Mode)
	require.Equal(t, int64(-1999), discount.PriceGross)
	require.Equal(t, int64(-1680), discount.PriceNet)
	require.Equal(t, "Ten Off", discount.Name)
	require.Equal(t, "prom-10", discount.OrderNumber)
	require.True(t, discount.ShippingFree)
	require.Equal(t, int64(10), discount.PromotionID)
}

func TestSecondVoucherIsRejected(t *testing.T) {
	engine, fake, sessions := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	engine.Messages = promotion.StaticMessages{
		"frontend/basket/internalMessages": {
			"VoucherFailureOnlyOnes": "nur ein Gutschein",
		},
	}

	anchor := fake.addLine(promotion.Line{SessionID: sid, ArticleID: 100, PriceGross: 1999, Quantity: 1, CurrencyFactor: 1})
	fake.grants[anchor] = []int64{10}
	fake.candidates["FIRST"] = []promotion.VoucherCandidate{{PromotionID: 10, VoucherID: 1, Code: "FIRST"}}
	fake.candidates["SECOND"] = []promotion.VoucherCandidate{{PromotionID: 20, VoucherID: 2, Code: "SECOND"}}
	fake.voucherPromos[10] = true
	fake.voucherPromos[20] = true

	result, err := engine.SubmitVoucher(ctx, sid, "FIRST")
	require.NoError(t, err)
	require.False(t, result.Rejected)

	refreshBasket(t, engine, fake, sid)

	result, err = engine.SubmitVoucher(ctx, sid, "SECOND")
	require.NoError(t, err)
	require.True(t, result.Found)
	require.True(t, result.Rejected)
	require.Equal(t, "nur ein Gutschein", result.Message)

	bindings, err := sessions.VoucherBindings(ctx, sid)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	require.Equal(t, int64(1), bindings[0].VoucherID)

	voucherLines, err := fake.VoucherLines(ctx, sid)
	require.NoError(t, err)
	require.Len(t, voucherLines, 1)
}

func TestSurplusVoucherLinesAreTrimmed(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	first := fake.addLine(promotion.Line{SessionID: sid, Mode: promotion.ModeDiscount, PriceGross: -500, Quantity: 1})
	fake.attrs[first] = 10
	second := fake.addLine(promotion.Line{SessionID: sid, Mode: promotion.ModeDiscount, PriceGross: -300, Quantity: 1})
	fake.attrs[second] = 20
	fake.voucherPromos[10] = true
	fake.voucherPromos[20] = true

	result, err := engine.AfterVoucherAdded(ctx, sid)
	require.NoError(t, err)
	require.True(t, result.Rejected)

	_, firstExists := fake.lines[first]
	_, secondExists := fake.lines[second]
	require.True(t, firstExists, "first voucher line keeps its discount")
	require.False(t, secondExists, "surplus voucher lines must be removed")
}

func TestRemoveVoucherClearsState(t *testing.T) {
	engine, fake, sessions := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	promoLine := fake.addLine(promotion.Line{SessionID: sid, Mode: promotion.ModeDiscount, PriceGross: -500, Quantity: 1})
	fake.attrs[promoLine] = 10
	require.NoError(t, sessions.SetVoucherBinding(ctx, sid, promotion.VoucherBinding{VoucherID: 1, PromotionID: 10, Code: "SAVE10"}))
	require.NoError(t, sessions.SetVoucherLookup(ctx, sid, promotion.VoucherCandidate{PromotionID: 10}))

	require.NoError(t, engine.RemoveVoucher(ctx, sid))

	_, exists := fake.lines[promoLine]
	require.False(t, exists)
	bindings, err := sessions.VoucherBindings(ctx, sid)
	require.NoError(t, err)
	require.Empty(t, bindings)
	lookup, err := sessions.VoucherLookup(ctx, sid)
	require.NoError(t, err)
	require.Nil(t, lookup)
}

func TestFreeGoodsBundleCapRespectsStock(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	sid := "s1"

	fake.addLine(promotion.Line{SessionID: sid, ArticleID: 100, PriceGross: 1000, Quantity: 1})
	fake.goods[200] = promotion.FreeGood{ArticleID: 200, Name: "Scarce", InStock: 3, LastStock: true}
	fake.goods[201] = promotion.FreeGood{ArticleID: 201, Name: "Plenty", InStock: 1, LastStock: false}

	engine.Selector = stubSelector{applied: promotion.AppliedPromotions{
		PromotionIDs:               []int64{5},
		PromotionTypes:             map[int64]promotion.PromotionType{5: promotion.TypeFreeGoodsBundle},
		FreeGoodsArticleIDs:        map[int64][]int64{5: {200, 201}},
		FreeGoodsBundleMaxQuantity: map[int64]int32{5: 5},
	}}

	_, view := refreshBasket(t, engine, fake, sid)

	require.True(t, view.FreeGoodsHasQuantitySelect)
	require.Len(t, view.FreeGoods, 2)
	byArticle := map[int64]promotion.FreeGood{}
	for _, g := range view.FreeGoods {
		byArticle[g.ArticleID] = g
	}
	require.Equal(t, int32(3), byArticle[200].MaxQuantity, "stock-tracked article is capped by stock")
	require.Equal(t, int32(5), byArticle[201].MaxQuantity, "untracked article keeps the configured cap")
}

func TestPlainFreeGoodsPassThrough(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	sid := "s1"

	fake.addLine(promotion.Line{SessionID: sid, ArticleID: 100, PriceGross: 1000, Quantity: 1})
	fake.goods[200] = promotion.FreeGood{ArticleID: 200, Name: "Gift", InStock: 1, LastStock: true}

	engine.Selector = stubSelector{applied: promotion.AppliedPromotions{
		PromotionIDs:        []int64{5},
		PromotionTypes:      map[int64]promotion.PromotionType{5: promotion.TypeFreeGoods},
		FreeGoodsArticleIDs: map[int64][]int64{5: {200}},
	}}

	_, view := refreshBasket(t, engine, fake, sid)

	require.False(t, view.FreeGoodsHasQuantitySelect)
	require.Len(t, view.FreeGoods, 1)
	require.Equal(t, int32(0), view.FreeGoods[0].MaxQuantity)
}

func TestOnOrderCreatedCashesFirstMatchOnce(t *testing.T) {
	engine, fake, sessions := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	require.NoError(t, sessions.SetVoucherBinding(ctx, sid, promotion.VoucherBinding{VoucherID: 1, PromotionID: 10, Code: "SAVE10"}))

	items := []promotion.OrderItem{
		{ArticleID: 50, PromotionID: 0, CustomerID: 42},
		{ArticleID: 0, PromotionID: 10, CustomerID: 42},
		{ArticleID: 0, PromotionID: 10, CustomerID: 43},
	}
	require.NoError(t, engine.OnOrderCreated(ctx, sid, 900, items))

	require.Equal(t, int64(42), fake.cashed["SAVE10"])
	require.Len(t, fake.usage, 1)
	require.Equal(t, usageRecord{PromotionID: 10, CustomerID: 42, OrderID: 900}, fake.usage[0])

	bindings, err := sessions.VoucherBindings(ctx, sid)
	require.NoError(t, err)
	require.Empty(t, bindings)

	// re-delivery of the order event must not cash again
	require.NoError(t, engine.OnOrderCreated(ctx, sid, 900, items))
	require.Len(t, fake.usage, 1)
}

func TestOnOrderCreatedUnmatchedKeepsBinding(t *testing.T) {
	engine, fake, sessions := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	require.NoError(t, sessions.SetVoucherBinding(ctx, sid, promotion.VoucherBinding{VoucherID: 1, PromotionID: 10, Code: "SAVE10"}))

	items := []promotion.OrderItem{{ArticleID: 50, PromotionID: 0, CustomerID: 42}}
	require.NoError(t, engine.OnOrderCreated(ctx, sid, 901, items))

	require.Empty(t, fake.cashed)
	require.Empty(t, fake.usage)
	bindings, err := sessions.VoucherBindings(ctx, sid)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
}

func TestBasketHashIsContentSensitive(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	lineID := fake.addLine(promotion.Line{SessionID: sid, ArticleID: 100, PriceGross: 1999, Quantity: 1, CurrencyFactor: 1})

	first, err := engine.BasketHash(ctx, sid)
	require.NoError(t, err)
	again, err := engine.BasketHash(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, first, again)

	line := fake.lines[lineID]
	line.Quantity = 3
	fake.lines[lineID] = line
	changed, err := engine.BasketHash(ctx, sid)
	require.NoError(t, err)
	require.NotEqual(t, first, changed)

	fake.grants[lineID] = []int64{10}
	granted, err := engine.BasketHash(ctx, sid)
	require.NoError(t, err)
	require.NotEqual(t, changed, granted)
}

func TestBasketHashIgnoresUnrelatedSessionState(t *testing.T) {
	engine, fake, sessions := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	fake.addLine(promotion.Line{SessionID: sid, ArticleID: 100, PriceGross: 1999, Quantity: 1, CurrencyFactor: 1})

	before, err := engine.BasketHash(ctx, sid)
	require.NoError(t, err)

	require.NoError(t, sessions.SetVoucherLookup(ctx, sid, promotion.VoucherCandidate{PromotionID: 9, ArticleID: 300, Code: "CODE"}))
	require.NoError(t, sessions.SetVoucherBinding(ctx, sid, promotion.VoucherBinding{VoucherID: 4, Code: "CODE"}))
	require.NoError(t, sessions.SetAppliedPromotionIDs(ctx, sid, []int64{5, 6}))

	after, err := engine.BasketHash(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestResetIsIdempotentAcrossRefreshes(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	fake.addLine(promotion.Line{SessionID: sid, ArticleID: 100, PriceGross: 1000, Quantity: 1})
	promoLine := fake.addLine(promotion.Line{SessionID: sid, Mode: promotion.ModeDiscount, PriceGross: -500, Quantity: 1})
	fake.attrs[promoLine] = 7

	rf, err := engine.BeginRefresh(ctx, sid)
	require.NoError(t, err)
	require.NoError(t, rf.BeforeBasketRead(ctx))
	require.Equal(t, 1, fake.resetCalls)

	snapshot := map[int64]promotion.Line{}
	for id, line := range fake.lines {
		snapshot[id] = line
	}

	rf, err = engine.BeginRefresh(ctx, sid)
	require.NoError(t, err)
	require.NoError(t, rf.BeforeBasketRead(ctx))
	require.Equal(t, 2, fake.resetCalls)
	require.Equal(t, snapshot, fake.lines)
}

func TestPresenterReceivesPublishedState(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	sid := "s1"

	fake.addLine(promotion.Line{SessionID: sid, ArticleID: 100, PriceGross: 1000, Quantity: 1})
	fake.goods[200] = promotion.FreeGood{ArticleID: 200, Name: "Gift", InStock: 10}

	engine.Selector = stubSelector{applied: promotion.AppliedPromotions{
		PromotionIDs:           []int64{5},
		PromotionsUsedTooOften: []int64{7},
		PromotionTypes:         map[int64]promotion.PromotionType{5: promotion.TypeFreeGoods},
		FreeGoodsArticleIDs:    map[int64][]int64{5: {200}},
	}}
	presenter := promotion.MapPresenter{}
	engine.Presenter = presenter

	_, view := refreshBasket(t, engine, fake, sid)

	require.Equal(t, view.AppliedPromotionIDs, presenter["availablePromotions"])
	require.Equal(t, []int64{5}, presenter["availablePromotions"])
	require.Equal(t, []int64{7}, presenter["promotionsUsedTooOften"])
	require.Contains(t, presenter, "promotionsDoNotMatch")
	require.Equal(t, view.FreeGoods, presenter["freeGoods"])
	require.Equal(t, false, presenter["freeGoodsHasQuantitySelect"])
	require.NotContains(t, presenter, "promotionVoucherIds")
}

func TestVoucherLookupSupersedesSelectorFreeGoods(t *testing.T) {
	engine, fake, sessions := newTestEngine(t)
	ctx := context.Background()
	sid := "s1"

	fake.goods[200] = promotion.FreeGood{ArticleID: 200, Name: "Selector gift", InStock: 10}
	fake.goods[300] = promotion.FreeGood{ArticleID: 300, Name: "Voucher gift", InStock: 10}

	engine.Selector = stubSelector{applied: promotion.AppliedPromotions{
		PromotionTypes: map[int64]promotion.PromotionType{
			5: promotion.TypeFreeGoods,
			9: promotion.TypeFreeGoodsBundle,
		},
		FreeGoodsArticleIDs: map[int64][]int64{5: {200}},
	}}
	require.NoError(t, sessions.SetVoucherLookup(ctx, sid, promotion.VoucherCandidate{PromotionID: 9, ArticleID: 300, Mode: 2}))

	rf, err := engine.BeginRefresh(ctx, sid)
	require.NoError(t, err)
	require.NoError(t, rf.BeforeBasketRead(ctx))
	_, view, err := rf.AfterBasketRead(ctx, promotion.Basket{})
	require.NoError(t, err)

	require.Len(t, view.FreeGoods, 1, "a surviving voucher lookup replaces selector grants")
	require.Equal(t, int64(300), view.FreeGoods[0].ArticleID)
	require.Equal(t, int32(2), view.FreeGoods[0].MaxQuantity)
	require.True(t, view.FreeGoodsHasQuantitySelect)
}
