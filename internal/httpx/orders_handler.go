package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// StatusCache is the read-through cache behind GET /orders/{id}/status.
// Every write goes through SetIfNewer, so a fill from an older store read
// cannot replace the view a later status change wrote.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (orders.StatusView, bool, error)
	SetIfNewer(ctx context.Context, v orders.StatusView) error
	Invalidate(ctx context.Context, orderID string) error
}

// IdempotencyIndex is a fast path in front of the store's idempotency check.
type IdempotencyIndex interface {
	Lookup(ctx context.Context, userID, key string) (string, bool, error)
	Remember(ctx context.Context, userID, key, orderID string) error
	Forget(ctx context.Context, userID, key string) error
}

// OrdersHandler serves the customer and admin order routes. Cache and Idem
// are optional.
type OrdersHandler struct {
	Service *orders.Service
	Cache   StatusCache
	Idem    IdempotencyIndex
	Log     *logrus.Logger
}

type createOrderReq struct {
	Items           []orders.ItemInput `json:"items"`
	ShippingAddress string             `json:"shippingAddress"`
	PaymentMethod   string             `json:"paymentMethod"`
	ShippingFee     *decimal.Decimal   `json:"shippingFee"`
	Note            string             `json:"note"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOwnOrders)
		r.Get("/orders/{id}", h.getOwnOrder)
		r.Get("/orders/{id}/status", h.getOrderStatus)
		r.Put("/orders/{id}/cancel", h.cancelOrder)
	})

	r.Route("/admin/orders", func(r chi.Router) {
		r.Use(requireAdmin)
		r.Get("/", h.adminListOrders)
		r.Get("/stats", h.adminStats)
		r.Get("/{id}", h.adminGetOrder)
		r.Put("/{id}/status", h.adminUpdateStatus)
		r.Delete("/{id}", h.adminDeleteOrder)
	})
}

func traced(r *http.Request) context.Context {
	return orders.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	user := identityFrom(r).UserID
	key := r.Header.Get(HeaderIdempotencyKey)
	ctx := traced(r)

	if replay, ok := h.replay(ctx, user, key); ok {
		writeJSON(w, http.StatusOK, replay)
		return
	}

	opts := orders.DefaultOptions()
	if req.ShippingFee != nil {
		opts.ShippingFee = *req.ShippingFee
	}
	opts.Note = req.Note
	opts.IdempotencyKey = key

	out, err := h.Service.CreateOrder(ctx, orders.CreateOrderInput{
		UserID:          user,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Options:         opts,
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	if key != "" && h.Idem != nil {
		if err := h.Idem.Remember(ctx, user, key, out.ID); err != nil {
			h.Log.WithError(err).WithField("order_id", out.ID).Warn("remember idempotency key")
		}
	}
	if out.Idempotent {
		writeJSON(w, http.StatusOK, out)
		return
	}
	h.cacheStatus(ctx, orders.StatusView{
		ID:            out.ID,
		UserID:        user,
		OrderStatus:   out.OrderStatus,
		PaymentStatus: out.PaymentStatus,
		UpdatedAt:     out.CreatedAt,
	})
	writeJSON(w, http.StatusCreated, out)
}

// replay answers a repeated checkout from the Redis index without opening a
// store transaction. Any miss or error falls through to the store path.
func (h *OrdersHandler) replay(ctx context.Context, user, key string) (orders.CreatedOrder, bool) {
	if key == "" || h.Idem == nil {
		return orders.CreatedOrder{}, false
	}
	id, ok, err := h.Idem.Lookup(ctx, user, key)
	if err != nil {
		h.Log.WithError(err).Warn("idempotency lookup")
		return orders.CreatedOrder{}, false
	}
	if !ok {
		return orders.CreatedOrder{}, false
	}
	o, err := h.Service.GetOrder(ctx, id, user)
	if errors.Is(err, orders.ErrOrderNotFound) {
		// the order was deleted since; the store decides again
		if err := h.Idem.Forget(ctx, user, key); err != nil {
			h.Log.WithError(err).Warn("forget idempotency key")
		}
		return orders.CreatedOrder{}, false
	}
	if err != nil {
		return orders.CreatedOrder{}, false
	}
	out := o.Summary()
	out.Idempotent = true
	return out, true
}

func (h *OrdersHandler) listOwnOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r, false)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	f.UserID = identityFrom(r).UserID
	page, err := h.Service.ListOrders(r.Context(), f)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *OrdersHandler) getOwnOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.GetOrder(r.Context(), chi.URLParam(r, "id"), identityFrom(r).UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")
	user := identityFrom(r).UserID

	// 1) cache
	if h.Cache != nil {
		v, ok, err := h.Cache.Get(ctx, orderID)
		if err != nil {
			h.Log.WithError(err).WithField("order_id", orderID).Warn("status cache read")
		}
		if ok && v.UserID == user {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	// 2) store
	o, err := h.Service.GetOrder(ctx, orderID, user)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	v := o.StatusView()
	h.cacheStatus(ctx, v)
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.CancelOrder(traced(r), chi.URLParam(r, "id"), identityFrom(r).UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	h.cacheStatus(r.Context(), res.StatusView())
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Service.ListProducts(r.Context())
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if ps == nil {
		ps = []inventory.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, v orders.StatusView) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.SetIfNewer(ctx, v); err != nil {
		h.Log.WithError(err).WithField("order_id", v.ID).Warn("status cache write")
	}
}

func (h *OrdersHandler) invalidate(ctx context.Context, orderID string) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Invalidate(ctx, orderID); err != nil {
		h.Log.WithError(err).WithField("order_id", orderID).Warn("status cache invalidate")
	}
}

func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", orders.ErrInvalidInput, name)
	}
	return n, nil
}
