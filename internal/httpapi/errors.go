package httpapi

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

// Классы ошибок, которые возникают только на HTTP-границе.
const (
	kindIdempotencyKeyReused   = "idempotency_key_reused"
	kindIdempotencyKeyInFlight = "idempotency_key_in_flight"
)

const (
	messageTransient = "temporary store failure, retry later"
	messageInternal  = "internal error"
)

// statusForKind сопоставляет класс ошибки с HTTP-статусом.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindCustomerNotFound, domain.KindProductNotFound, domain.KindOrderNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientStock, domain.KindOrderFinalized:
		return http.StatusConflict
	case domain.KindTransientStoreFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// renderError возвращает статус и тело ответа для ошибки движка или read-side.
// Текст сбоев хранилища наружу не попадает.
func renderError(err error) (int, errorBody) {
	kind := domain.KindOf(err)
	message := err.Error()
	switch kind {
	case domain.KindTransientStoreFailure:
		message = messageTransient
	case domain.KindInvariantViolation:
		message = messageInternal
	}
	return statusForKind(kind), errorBody{Error: errorDetail{Kind: string(kind), Message: message}}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeErrorKind(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, body := renderError(err)
	if code >= http.StatusInternalServerError {
		h.requestLogger(r).WithError(err).WithField("kind", body.Error.Kind).Error("request failed")
	}
	writeJSON(w, code, body)
}

func (h *Handler) requestLogger(r *http.Request) *log.Entry {
	return h.logger.WithFields(log.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"request_id": requestID(r),
	})
}
