// Package basket exposes the HTTP surface that drives the promotion engine's
// lifecycle hooks: basket reads, line management, voucher submission, and
// order creation.
package basket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/promotion-engine/internal/common"
	"github.com/noah-isme/promotion-engine/internal/lock"
	"github.com/noah-isme/promotion-engine/internal/pricing"
	"github.com/noah-isme/promotion-engine/internal/promotion"
	"github.com/noah-isme/promotion-engine/internal/session"
	"github.com/noah-isme/promotion-engine/internal/store"
)

// Handler wires the promotion engine to HTTP.
type Handler struct {
	Store    *store.Store
	Engine   *promotion.Engine
	Sessions *session.Store
	Validate *validator.Validate
	Locker   lock.Locker
	// VoucherGuard rate-limits code submissions when set.
	VoucherGuard func(http.Handler) http.Handler
	TaxBps       int
	Logger       zerolog.Logger
}

// Routes registers the basket endpoints on the provided router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/baskets", h.CreateSession)
	r.Get("/baskets/{sessionID}", h.Get)
	r.Post("/baskets/{sessionID}/lines", h.AddLine)
	r.Delete("/baskets/{sessionID}/lines/{lineID}", h.RemoveLine)
	if h.VoucherGuard != nil {
		r.With(h.VoucherGuard).Post("/baskets/{sessionID}/voucher", h.SubmitVoucher)
	} else {
		r.Post("/baskets/{sessionID}/voucher", h.SubmitVoucher)
	}
	r.Delete("/baskets/{sessionID}/voucher", h.RemoveVoucher)
	r.Post("/orders/{sessionID}", h.CreateOrder)
}

// CreateSession mints a fresh shopper session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.NewString()
	h.rememberCustomer(r, sessionID)
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]string{"sessionId": sessionID}})
}

// Get runs a full reconciliation pass and returns the transformed basket.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "session id required", nil)
		return
	}
	h.rememberCustomer(r, sessionID)

	rf, err := h.Engine.BeginRefresh(ctx, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := rf.BeforeBasketRead(ctx); err != nil {
		h.writeError(w, err)
		return
	}
	lines, err := h.Store.BasketLines(ctx, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	basket, view, err := rf.AfterBasketRead(ctx, promotion.Basket{Content: lines})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if view == nil {
		// fingerprint unchanged; surface the memoized promotion state
		applied, err := h.Sessions.AppliedPromotionIDs(ctx, sessionID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		view = &promotion.View{AppliedPromotionIDs: applied}
	}

	items := make([]pricing.Item, 0, len(basket.Content))
	for _, line := range basket.Content {
		items = append(items, pricing.Item{Qty: int(line.Quantity), UnitPrice: line.PriceGross})
	}
	summary := pricing.Compute(items, h.TaxBps, 0)

	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"sessionId":  sessionID,
			"content":    basket.Content,
			"promotions": view,
			"pricing":    summary,
		},
	})
}

type addLinePayload struct {
	ArticleID   int64  `json:"articleId" validate:"required,gt=0"`
	Name        string `json:"name" validate:"required"`
	OrderNumber string `json:"orderNumber"`
	PriceGross  int64  `json:"priceGross" validate:"gte=0"`
	PriceNet    int64  `json:"priceNet" validate:"gte=0"`
	TaxRateBps  int32  `json:"taxRateBps" validate:"gte=0"`
	Quantity    int32  `json:"quantity" validate:"required,gt=0"`
}

// AddLine inserts an ordinary article line.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var payload addLinePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "invalid line", err.Error())
		return
	}
	h.rememberCustomer(r, sessionID)
	customerID, _ := h.Sessions.CustomerID(r.Context(), sessionID)

	lineID, err := h.Store.InsertArticleLine(r.Context(), promotion.Line{
		SessionID:      sessionID,
		CustomerID:     customerID,
		ArticleID:      payload.ArticleID,
		Name:           payload.Name,
		OrderNumber:    payload.OrderNumber,
		PriceGross:     payload.PriceGross,
		PriceNet:       payload.PriceNet,
		TaxRateBps:     payload.TaxRateBps,
		Quantity:       payload.Quantity,
		CurrencyFactor: 1,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"lineId": lineID}})
}

// RemoveLine deletes a basket line.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil || lineID <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid line id", nil)
		return
	}
	if err := h.Store.DeleteLine(r.Context(), sessionID, lineID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type voucherPayload struct {
	Code string `json:"code" validate:"required"`
}

// SubmitVoucher resolves a voucher code and records the pending binding.
func (h *Handler) SubmitVoucher(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var payload voucherPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "voucher code required", nil)
		return
	}
	h.rememberCustomer(r, sessionID)

	result, err := h.Engine.SubmitVoucher(r.Context(), sessionID, strings.TrimSpace(payload.Code))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !result.Found {
		common.JSONError(w, http.StatusNotFound, "VOUCHER_NOT_FOUND", "voucher code matches no promotion", nil)
		return
	}
	if result.Rejected {
		common.JSONError(w, http.StatusUnprocessableEntity, "VOUCHER_REJECTED", result.Message, nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// RemoveVoucher clears the active voucher from the basket.
func (h *Handler) RemoveVoucher(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.Engine.RemoveVoucher(r.Context(), sessionID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createOrderPayload struct {
	OrderID int64 `json:"orderId" validate:"required,gt=0"`
}

// CreateOrder finalizes the basket into an order: the pending voucher binding
// is redeemed and the session's basket state is cleared.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")
	var payload createOrderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "order id required", nil)
		return
	}
	h.rememberCustomer(r, sessionID)

	err := h.Locker.WithLock(ctx, lock.SessionKey(sessionID), 10*time.Second, func(ctx context.Context) error {
		lines, err := h.Store.BasketLines(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return common.NewAppError("BASKET_EMPTY", "basket has no lines", http.StatusUnprocessableEntity, nil)
		}
		customerID, err := h.Sessions.CustomerID(ctx, sessionID)
		if err != nil {
			return err
		}
		items := make([]promotion.OrderItem, 0, len(lines))
		for _, line := range lines {
			items = append(items, promotion.OrderItem{
				ArticleID:   line.ArticleID,
				PromotionID: line.PromotionID,
				CustomerID:  customerID,
			})
		}
		if err := h.Engine.OnOrderCreated(ctx, sessionID, payload.OrderID, items); err != nil {
			return err
		}
		for _, line := range lines {
			if err := h.Store.DeleteLine(ctx, sessionID, line.ID); err != nil {
				return err
			}
		}
		return h.Sessions.ClearAll(ctx, sessionID)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"orderId": payload.OrderID}})
}

// rememberCustomer records the authenticated customer for the session when
// the host forwards one.
func (h *Handler) rememberCustomer(r *http.Request, sessionID string) {
	raw := strings.TrimSpace(r.Header.Get("X-Customer-ID"))
	if raw == "" {
		return
	}
	customerID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || customerID <= 0 {
		return
	}
	if err := h.Sessions.SetCustomerID(r.Context(), sessionID, customerID); err != nil {
		h.Logger.Warn().Err(err).Str("session_id", sessionID).Msg("remember customer")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, nil)
		return
	}
	h.Logger.Error().Err(err).Msg("basket handler")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
