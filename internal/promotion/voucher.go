package promotion

import (
	"context"
	"fmt"

	"github.com/noah-isme/promotion-engine/internal/obs"
)

// Message catalogue coordinates for the single-voucher rejection.
const (
	voucherMessageNamespace = "frontend/basket/internalMessages"
	voucherMessageKey       = "VoucherFailureOnlyOnes"
	voucherMessageFallback  = "Only one voucher can be processed in order"
)

// VoucherResult reports the outcome of a voucher submission. Rejections are
// result values surfaced to the shopper, not errors.
type VoucherResult struct {
	Found     bool              `json:"found"`
	Rejected  bool              `json:"rejected"`
	Message   string            `json:"message,omitempty"`
	Candidate *VoucherCandidate `json:"candidate,omitempty"`
}

// SubmitVoucher resolves a voucher code into its bound promotion and, when
// accepted, records the pending binding for order creation. The previous
// lookup cache is always cleared first: last submission wins.
func (e *Engine) SubmitVoucher(ctx context.Context, sessionID, code string) (VoucherResult, error) {
	if err := e.check(); err != nil {
		return VoucherResult{}, err
	}
	if err := e.Sessions.ClearVoucherLookup(ctx, sessionID); err != nil {
		return VoucherResult{}, fmt.Errorf("clear voucher lookup: %w", err)
	}

	candidates, err := e.Store.VoucherCandidates(ctx, code)
	if err != nil {
		return VoucherResult{}, fmt.Errorf("resolve voucher %q: %w", code, err)
	}
	if len(candidates) == 0 {
		obs.CountVoucherSubmit("not_found")
		return VoucherResult{}, nil
	}
	// a code bound to several promotions resolves to the last candidate
	candidate := candidates[len(candidates)-1]
	if err := e.Sessions.SetVoucherLookup(ctx, sessionID, candidate); err != nil {
		return VoucherResult{}, fmt.Errorf("cache voucher lookup: %w", err)
	}

	result, err := e.AfterVoucherAdded(ctx, sessionID)
	if err != nil {
		return VoucherResult{}, err
	}
	if result.Rejected {
		obs.CountVoucherSubmit("rejected")
		return result, nil
	}

	if err := e.Sessions.SetVoucherBinding(ctx, sessionID, VoucherBinding{
		VoucherID:   candidate.VoucherID,
		PromotionID: candidate.PromotionID,
		Code:        candidate.Code,
	}); err != nil {
		return VoucherResult{}, fmt.Errorf("record voucher binding: %w", err)
	}
	obs.CountVoucherSubmit("accepted")
	e.Logger.Info().
		Str("session_id", sessionID).
		Int64("voucher_id", candidate.VoucherID).
		Int64("promotion_id", candidate.PromotionID).
		Msg("voucher accepted")
	return VoucherResult{Found: true, Candidate: &candidate}, nil
}

// AfterVoucherAdded enforces the single-active-voucher invariant after a
// voucher entered the basket. Surplus synthetic lines are removed; the first
// voucher line stays so the active voucher keeps its discount.
func (e *Engine) AfterVoucherAdded(ctx context.Context, sessionID string) (VoucherResult, error) {
	bindings, err := e.Sessions.VoucherBindings(ctx, sessionID)
	if err != nil {
		return VoucherResult{}, fmt.Errorf("load voucher bindings: %w", err)
	}
	voucherLines, err := e.Store.VoucherLines(ctx, sessionID)
	if err != nil {
		return VoucherResult{}, fmt.Errorf("load voucher lines: %w", err)
	}
	for i, line := range voucherLines {
		if i == 0 {
			continue
		}
		if err := e.Store.DeleteLine(ctx, sessionID, line.ID); err != nil {
			return VoucherResult{}, fmt.Errorf("delete surplus voucher line %d: %w", line.ID, err)
		}
	}
	if len(voucherLines) > 1 || (len(bindings) > 0 && len(voucherLines) >= 1) {
		message := voucherMessageFallback
		if e.Messages != nil {
			message = e.Messages.Get(voucherMessageNamespace, voucherMessageKey, voucherMessageFallback)
		}
		return VoucherResult{Found: true, Rejected: true, Message: message}, nil
	}
	return VoucherResult{Found: true}, nil
}

// RemoveVoucher clears the active voucher: promotion lines are deleted and all
// voucher-related session state is dropped.
func (e *Engine) RemoveVoucher(ctx context.Context, sessionID string) error {
	if err := e.check(); err != nil {
		return err
	}
	if err := e.Store.DeletePromotionLines(ctx, sessionID); err != nil {
		return fmt.Errorf("delete promotion lines: %w", err)
	}
	if err := e.Sessions.ClearVoucherBindings(ctx, sessionID); err != nil {
		return fmt.Errorf("clear voucher bindings: %w", err)
	}
	if err := e.Sessions.ClearVoucherLookup(ctx, sessionID); err != nil {
		return fmt.Errorf("clear voucher lookup: %w", err)
	}
	if err := e.Sessions.ClearAppliedPromotionIDs(ctx, sessionID); err != nil {
		return fmt.Errorf("clear applied promotions: %w", err)
	}
	return nil
}
