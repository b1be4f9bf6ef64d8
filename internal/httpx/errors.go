package httpx

import (
	"errors"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrDuplicateRequest):
		return http.StatusConflict
	case orders.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps the order error taxonomy onto HTTP. Infrastructure
// errors are logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, r *http.Request, log *logrus.Logger, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeJSON(w, code, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
