// Package api is the HTTP boundary of the fulfillment service.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/example/ec-fulfillment/internal/api/middleware"
	"github.com/example/ec-fulfillment/internal/catalog"
	"github.com/example/ec-fulfillment/internal/command"
	"github.com/example/ec-fulfillment/internal/domain/errs"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/example/ec-fulfillment/internal/query"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "X-Razorpay-Signature"

const maxWebhookBody = 1 << 20

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
	products     *catalog.Service
	contacts     *notification.Directory
	logger       *zap.Logger
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, logger *zap.Logger) *Handlers {
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
		logger:       logger.Named("api"),
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// scopeUserID is the caller's id, or empty for admins so lookups span users.
func scopeUserID(r *http.Request) string {
	if middleware.IsAdmin(r.Context()) {
		return ""
	}
	return middleware.GetUserID(r.Context())
}

// Cart Handlers

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.queryHandler.GetCart(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	c, err := h.cmdHandler.AddToCart(r.Context(), command.AddToCart{
		UserID:    middleware.GetUserID(r.Context()),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.cmdHandler.UpdateCartItem(r.Context(), command.UpdateCartItem{
		UserID:    middleware.GetUserID(r.Context()),
		ProductID: chi.URLParam(r, "productID"),
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.cmdHandler.RemoveFromCart(r.Context(), command.RemoveFromCart{
		UserID:    middleware.GetUserID(r.Context()),
		ProductID: chi.URLParam(r, "productID"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.cmdHandler.ClearCart(r.Context(), command.ClearCart{UserID: middleware.GetUserID(r.Context())})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Order Handlers

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateOrder
	if err := decode(r, &cmd); err != nil {
		h.fail(w, r, err)
		return
	}
	cmd.UserID = middleware.GetUserID(r.Context())

	o, err := h.cmdHandler.CreateOrder(r.Context(), cmd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := order.ListOptions{}
	opts.Page, _ = strconv.Atoi(q.Get("page"))
	opts.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	if s := q.Get("status"); s != "" {
		status, err := order.ParseStatus(s)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		opts.Status = status
	}

	page, err := h.queryHandler.ListOrdersByUser(r.Context(), middleware.GetUserID(r.Context()), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.queryHandler.GetOrder(r.Context(), chi.URLParam(r, "id"), scopeUserID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	o, err := h.queryHandler.GetOrderByNumber(r.Context(), chi.URLParam(r, "number"), scopeUserID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.cmdHandler.CancelOrder(r.Context(), command.CancelOrder{
		OrderID: chi.URLParam(r, "id"),
		UserID:  scopeUserID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var cmd command.UpdateOrderStatus
	if err := decode(r, &cmd); err != nil {
		h.fail(w, r, err)
		return
	}
	cmd.OrderID = chi.URLParam(r, "id")

	o, err := h.cmdHandler.UpdateOrderStatus(r.Context(), cmd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) UnsettledOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.queryHandler.ListUnsettledOrders(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"orders": orders, "count": len(orders)})
}

func (h *Handlers) SettleStock(w http.ResponseWriter, r *http.Request) {
	o, err := h.cmdHandler.SettleStock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// Payment Handlers

func (h *Handlers) CreatePayment(w http.ResponseWriter, r *http.Request) {
	co, err := h.cmdHandler.CreatePayment(r.Context(), command.CreatePayment{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  middleware.GetUserID(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, co)
}

func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var cmd command.VerifyPayment
	if err := decode(r, &cmd); err != nil {
		h.fail(w, r, err)
		return
	}
	cmd.UserID = middleware.GetUserID(r.Context())

	p, err := h.cmdHandler.VerifyPayment(r.Context(), cmd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) GetPaymentByOrder(w http.ResponseWriter, r *http.Request) {
	p, err := h.queryHandler.GetPaymentByOrder(r.Context(), chi.URLParam(r, "orderID"), scopeUserID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Webhook authenticates by HMAC only. Signature failures answer 401.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	result, err := h.cmdHandler.HandleWebhook(r.Context(), command.HandleWebhook{
		Body:      body,
		Signature: r.Header.Get(SignatureHeader),
	})
	if err != nil {
		status := statusFor(err)
		if errs.KindOf(err) == errs.SignatureInvalid {
			status = http.StatusUnauthorized
		}
		h.respondError(w, r, status, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Inventory Handlers

func (h *Handlers) GetStock(w http.ResponseWriter, r *http.Request) {
	level, err := h.queryHandler.GetStock(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, level)
}

func (h *Handlers) GetAvailability(w http.ResponseWriter, r *http.Request) {
	av, err := h.queryHandler.GetAvailability(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, av)
}

func (h *Handlers) CreateStock(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateStock
	if err := decode(r, &cmd); err != nil {
		h.fail(w, r, err)
		return
	}
	cmd.Actor = middleware.GetUserID(r.Context())

	rec, err := h.cmdHandler.CreateStock(r.Context(), cmd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (h *Handlers) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var cmd command.AdjustStock
	if err := decode(r, &cmd); err != nil {
		h.fail(w, r, err)
		return
	}
	cmd.Actor = middleware.GetUserID(r.Context())

	rec, err := h.cmdHandler.AdjustStock(r.Context(), cmd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *Handlers) LowStock(w http.ResponseWriter, r *http.Request) {
	levels, err := h.queryHandler.ListLowStock(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": levels, "count": len(levels)})
}

func (h *Handlers) Movements(w http.ResponseWriter, r *http.Request) {
	moves, err := h.queryHandler.GetMovements(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, moves)
}

func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := h.queryHandler.Reconcile(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}
