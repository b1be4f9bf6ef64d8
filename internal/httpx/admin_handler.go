package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func (h *OrdersHandler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r, true)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	page, err := h.Service.ListOrders(r.Context(), f)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *OrdersHandler) adminStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.Stats(r.Context())
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *OrdersHandler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.GetOrder(r.Context(), chi.URLParam(r, "id"), "")
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) adminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var upd orders.StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		badRequest(w, "invalid json")
		return
	}
	res, err := h.Service.UpdateStatus(traced(r), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	h.cacheStatus(r.Context(), res.StatusView())
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) adminDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Service.DeleteOrder(traced(r), id); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// parseListFilter reads paging and status filters; the admin view also
// accepts userId, amount range and date range.
func parseListFilter(r *http.Request, admin bool) (orders.ListFilter, error) {
	q := r.URL.Query()
	var (
		f   orders.ListFilter
		err error
	)
	if f.Page, err = queryInt(r, "page"); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		return f, err
	}
	f.OrderStatus = orders.Status(q.Get("status"))
	f.PaymentStatus = orders.PaymentStatus(q.Get("paymentStatus"))
	if !admin {
		return f, nil
	}

	f.UserID = q.Get("userId")
	if f.MinAmount, err = queryDecimal(r, "minAmount"); err != nil {
		return f, err
	}
	if f.MaxAmount, err = queryDecimal(r, "maxAmount"); err != nil {
		return f, err
	}
	if f.From, err = queryTime(r, "startDate", false); err != nil {
		return f, err
	}
	if f.To, err = queryTime(r, "endDate", true); err != nil {
		return f, err
	}
	return f, nil
}

func queryDecimal(r *http.Request, name string) (decimal.NullDecimal, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %s must be a number", orders.ErrInvalidInput, name)
	}
	return decimal.NewNullDecimal(d), nil
}

// queryTime accepts RFC 3339 or a bare date. A bare end date covers the
// whole day.
func queryTime(r *http.Request, name string, endOfDay bool) (*time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a date", orders.ErrInvalidInput, name)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
