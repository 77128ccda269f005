package promotion

import "context"

// StaticShop serves a fixed shop context and currency factor. Suitable for
// single-shop deployments and tests; multi-shop hosts supply their own
// ContextProvider.
type StaticShop struct {
	ID             int64
	GroupID        int64
	CurrencyFactor float64
}

// ShopContext implements ContextProvider.
func (s StaticShop) ShopContext(context.Context, string) (ShopContext, error) {
	factor := s.CurrencyFactor
	if factor == 0 {
		factor = 1
	}
	return ShopContext{ShopID: s.ID, CustomerGroupID: s.GroupID, CurrencyFactor: factor}, nil
}

// Factor implements CurrencyProvider.
func (s StaticShop) Factor() float64 {
	if s.CurrencyFactor == 0 {
		return 1
	}
	return s.CurrencyFactor
}

// StaticMessages resolves localized texts from an in-memory catalogue keyed by
// namespace then key, falling back to the caller's default.
type StaticMessages map[string]map[string]string

// Get implements Messages.
func (m StaticMessages) Get(namespace, key, fallback string) string {
	if ns, ok := m[namespace]; ok {
		if text, ok := ns[key]; ok && text != "" {
			return text
		}
	}
	return fallback
}

// MapPresenter collects assigned presentation state into a plain map.
type MapPresenter map[string]any

// Assign implements Presenter.
func (p MapPresenter) Assign(key string, value any) {
	p[key] = value
}

// PassthroughSelector applies no promotion rules: the basket is returned
// unchanged and nothing is granted. Used until a rule engine is attached.
type PassthroughSelector struct{}

// Apply implements Selector.
func (PassthroughSelector) Apply(_ context.Context, basket Basket, _, _, _ int64, _ []int64) (AppliedPromotions, error) {
	return AppliedPromotions{Basket: basket}, nil
}
