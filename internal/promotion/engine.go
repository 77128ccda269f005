package promotion

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Engine orchestrates basket-promotion reconciliation for shopper sessions.
// All state that varies per request lives on the Refresh returned by
// BeginRefresh; the Engine itself is safe to share.
type Engine struct {
	Store    Storage
	Sessions Sessions
	Selector Selector
	Products ProductService
	Shop     ContextProvider
	Currency CurrencyProvider
	Messages Messages
	// Surcharges lists the ordernumbers of surcharge/discount lines removed
	// when the basket becomes empty.
	Surcharges []string
	Presenter  Presenter
	Logger     zerolog.Logger
}

func (e *Engine) check() error {
	if e == nil || e.Store == nil || e.Sessions == nil || e.Selector == nil {
		return errors.New("promotion engine not configured")
	}
	return nil
}

// Refresh is one reconciliation pass over a single shopper basket. The held
// flag is the reentrancy guard: while an AfterBasketRead pass rewrites the
// basket, nested hook invocations become no-ops instead of recursing.
type Refresh struct {
	engine    *Engine
	sessionID string
	held      bool
	needed    bool
}

// BeginRefresh computes the current basket fingerprint and compares it against
// the session's memoized one. The returned Refresh carries the reentrancy flag
// for the lifetime of the request.
func (e *Engine) BeginRefresh(ctx context.Context, sessionID string) (*Refresh, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	current, err := e.BasketHash(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fingerprint basket: %w", err)
	}
	last, err := e.Sessions.LastBasketHash(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load last fingerprint: %w", err)
	}
	return &Refresh{
		engine:    e,
		sessionID: sessionID,
		needed:    last == "" || last != current,
	}, nil
}

// Needed reports whether this pass will touch the basket at all.
func (rf *Refresh) Needed() bool {
	return rf != nil && rf.needed
}

// BeforeBasketRead strips stale promotion artifacts before the basket is
// loaded. A no-op while the guard is held or the fingerprint is unchanged.
func (rf *Refresh) BeforeBasketRead(ctx context.Context) error {
	if rf == nil || rf.held || !rf.needed {
		return nil
	}
	e := rf.engine
	lines, err := e.Store.ArticleLines(ctx, rf.sessionID)
	if err != nil {
		return fmt.Errorf("load article lines: %w", err)
	}
	if len(pinnedFreeGoods(lines)) == 0 {
		if err := e.resetPromotions(ctx, rf.sessionID); err != nil {
			return err
		}
	}
	return nil
}

// resetPromotions zeroes discount attributes and removes promotion-inserted
// lines. Safe to call when no promotion artifacts exist.
func (e *Engine) resetPromotions(ctx context.Context, sessionID string) error {
	if err := e.Store.ResetDiscountAttributes(ctx, sessionID); err != nil {
		return fmt.Errorf("reset discount attributes: %w", err)
	}
	if err := e.Store.DeletePromotionLines(ctx, sessionID); err != nil {
		return fmt.Errorf("delete promotion lines: %w", err)
	}
	return nil
}

// pinnedFreeGoods returns the free-good grants of the session's article lines
// when every article line carries one. A single unpinned line means promotion
// state is stale and must be reset.
func pinnedFreeGoods(lines []Line) []PinnedFreeGood {
	if len(lines) == 0 {
		return nil
	}
	pinned := make([]PinnedFreeGood, 0, len(lines))
	for _, line := range lines {
		if len(line.FreeGoodPromotionIDs) == 0 {
			return nil
		}
		pinned = append(pinned, PinnedFreeGood{LineID: line.ID, PromotionIDs: line.FreeGoodPromotionIDs})
	}
	return pinned
}

func (e *Engine) assign(key string, value any) {
	if e.Presenter != nil {
		e.Presenter.Assign(key, value)
	}
}
