// Package session keeps per-shopper promotion state in Redis. Keys are scoped
// to the shopper session and expire with it; nothing here outlives checkout.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/promotion-engine/internal/promotion"
)

const (
	fieldVoucherBindings = "voucherBindings"
	fieldVoucherLookup   = "voucherLookup"
	fieldPinnedFreeGoods = "pinnedFreeGoods"
	fieldAppliedIDs      = "appliedPromotions"
	fieldLastBasketHash  = "lastBasketHash"
	fieldCustomerID      = "customerId"
)

var fields = []string{
	fieldVoucherBindings,
	fieldVoucherLookup,
	fieldPinnedFreeGoods,
	fieldAppliedIDs,
	fieldLastBasketHash,
	fieldCustomerID,
}

// Store implements promotion.Sessions on top of Redis.
type Store struct {
	R   *redis.Client
	TTL time.Duration
}

func (s *Store) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func (s *Store) key(sessionID, field string) string {
	return "promo:" + sessionID + ":" + field
}

func (s *Store) getJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.R.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("session: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", key, err)
	}
	return s.R.Set(ctx, key, raw, s.ttl()).Err()
}

func (s *Store) unset(ctx context.Context, key string) error {
	return s.R.Del(ctx, key).Err()
}

// VoucherBindings returns pending voucher/promotion bindings sorted by
// voucher id.
func (s *Store) VoucherBindings(ctx context.Context, sessionID string) ([]promotion.VoucherBinding, error) {
	var bindings []promotion.VoucherBinding
	if _, err := s.getJSON(ctx, s.key(sessionID, fieldVoucherBindings), &bindings); err != nil {
		return nil, err
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].VoucherID < bindings[j].VoucherID })
	return bindings, nil
}

// SetVoucherBinding adds or replaces the binding for its voucher id.
func (s *Store) SetVoucherBinding(ctx context.Context, sessionID string, binding promotion.VoucherBinding) error {
	bindings, err := s.VoucherBindings(ctx, sessionID)
	if err != nil {
		return err
	}
	replaced := false
	for i := range bindings {
		if bindings[i].VoucherID == binding.VoucherID {
			bindings[i] = binding
			replaced = true
			break
		}
	}
	if !replaced {
		bindings = append(bindings, binding)
	}
	return s.setJSON(ctx, s.key(sessionID, fieldVoucherBindings), bindings)
}

// ClearVoucherBindings drops all pending bindings.
func (s *Store) ClearVoucherBindings(ctx context.Context, sessionID string) error {
	return s.unset(ctx, s.key(sessionID, fieldVoucherBindings))
}

// VoucherLookup returns the cached candidate of the most recent code
// submission, or nil when none is cached.
func (s *Store) VoucherLookup(ctx context.Context, sessionID string) (*promotion.VoucherCandidate, error) {
	var candidate promotion.VoucherCandidate
	ok, err := s.getJSON(ctx, s.key(sessionID, fieldVoucherLookup), &candidate)
	if err != nil || !ok {
		return nil, err
	}
	return &candidate, nil
}

// SetVoucherLookup caches the candidate of the latest code submission.
func (s *Store) SetVoucherLookup(ctx context.Context, sessionID string, candidate promotion.VoucherCandidate) error {
	return s.setJSON(ctx, s.key(sessionID, fieldVoucherLookup), candidate)
}

// ClearVoucherLookup drops the cached lookup.
func (s *Store) ClearVoucherLookup(ctx context.Context, sessionID string) error {
	return s.unset(ctx, s.key(sessionID, fieldVoucherLookup))
}

// PinnedFreeGoods returns the remembered free-good rows used for staleness
// detection.
func (s *Store) PinnedFreeGoods(ctx context.Context, sessionID string) ([]promotion.PinnedFreeGood, error) {
	var pinned []promotion.PinnedFreeGood
	if _, err := s.getJSON(ctx, s.key(sessionID, fieldPinnedFreeGoods), &pinned); err != nil {
		return nil, err
	}
	return pinned, nil
}

// SetPinnedFreeGoods remembers the current free-good rows.
func (s *Store) SetPinnedFreeGoods(ctx context.Context, sessionID string, pinned []promotion.PinnedFreeGood) error {
	return s.setJSON(ctx, s.key(sessionID, fieldPinnedFreeGoods), pinned)
}

// ClearPinnedFreeGoods forgets the remembered free-good rows.
func (s *Store) ClearPinnedFreeGoods(ctx context.Context, sessionID string) error {
	return s.unset(ctx, s.key(sessionID, fieldPinnedFreeGoods))
}

// AppliedPromotionIDs returns the promotion ids surfaced to presentation.
func (s *Store) AppliedPromotionIDs(ctx context.Context, sessionID string) ([]int64, error) {
	var ids []int64
	if _, err := s.getJSON(ctx, s.key(sessionID, fieldAppliedIDs), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SetAppliedPromotionIDs stores the promotion ids surfaced to presentation.
func (s *Store) SetAppliedPromotionIDs(ctx context.Context, sessionID string, ids []int64) error {
	return s.setJSON(ctx, s.key(sessionID, fieldAppliedIDs), ids)
}

// ClearAppliedPromotionIDs drops the surfaced promotion ids.
func (s *Store) ClearAppliedPromotionIDs(ctx context.Context, sessionID string) error {
	return s.unset(ctx, s.key(sessionID, fieldAppliedIDs))
}

// LastBasketHash returns the memoized basket fingerprint, empty when unset.
func (s *Store) LastBasketHash(ctx context.Context, sessionID string) (string, error) {
	value, err := s.R.Get(ctx, s.key(sessionID, fieldLastBasketHash)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetLastBasketHash memoizes the basket fingerprint.
func (s *Store) SetLastBasketHash(ctx context.Context, sessionID string, hash string) error {
	return s.R.Set(ctx, s.key(sessionID, fieldLastBasketHash), hash, s.ttl()).Err()
}

// CustomerID returns the logged-in customer for the session, 0 for guests.
func (s *Store) CustomerID(ctx context.Context, sessionID string) (int64, error) {
	value, err := s.R.Get(ctx, s.key(sessionID, fieldCustomerID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session: parse customer id: %w", err)
	}
	return id, nil
}

// SetCustomerID records the logged-in customer for the session.
func (s *Store) SetCustomerID(ctx context.Context, sessionID string, customerID int64) error {
	return s.R.Set(ctx, s.key(sessionID, fieldCustomerID), strconv.FormatInt(customerID, 10), s.ttl()).Err()
}

// ClearAll drops every promotion key of the session. Used on checkout
// completion and basket abandonment.
func (s *Store) ClearAll(ctx context.Context, sessionID string) error {
	keys := make([]string, 0, len(fields))
	for _, field := range fields {
		keys = append(keys, s.key(sessionID, field))
	}
	return s.R.Del(ctx, keys...).Err()
}
