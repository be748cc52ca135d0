package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
	"github.com/vladislavdragonenkov/ordertx/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordertx/internal/service/query"
)

// createOrder обрабатывает POST /api/orders.
// С Idempotency-Key первый ответ сохраняется и отдаётся на повторы с тем же телом;
// после временного сбоя ключ освобождается.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: read body: %v", domain.ErrInvalidRequest, err))
		return
	}

	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" || h.guard == nil {
		code, body, _ := h.executeCreate(r, raw)
		writeRaw(w, code, body)
		return
	}

	decision, err := h.guard.Begin(r.Context(), key, raw)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %w", domain.ErrTransientStoreFailure, err))
		return
	}

	logger := h.requestLogger(r).WithField("idempotency_key", key)
	switch decision.Outcome {
	case idempotency.OutcomeMismatch:
		logger.Warn("idempotency key reused with different payload")
		writeErrorKind(w, http.StatusUnprocessableEntity, kindIdempotencyKeyReused,
			"idempotency key was already used with a different request body")
		return
	case idempotency.OutcomeInFlight:
		writeErrorKind(w, http.StatusConflict, kindIdempotencyKeyInFlight,
			"request with this idempotency key is still being processed")
		return
	case idempotency.OutcomeReplay:
		logger.WithField("status", decision.Record.HTTPStatus).Info("idempotent response replayed")
		w.Header().Set(HeaderIdempotentReplay, "true")
		writeRaw(w, decision.Record.HTTPStatus, decision.Record.ResponseBody)
		return
	}

	code, body, kind := h.executeCreate(r, raw)
	if kind == domain.KindTransientStoreFailure {
		h.guard.Release(r.Context(), key)
	} else if err := h.guard.Complete(r.Context(), key, body, code); err != nil {
		logger.WithError(err).Warn("failed to store idempotent response")
	}
	writeRaw(w, code, body)
}

// executeCreate выполняет создание заказа и возвращает готовый ответ и класс ошибки.
func (h *Handler) executeCreate(r *http.Request, raw []byte) (int, []byte, domain.ErrorKind) {
	var req createOrderRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return h.errorResponse(r, fmt.Errorf("%w: malformed json: %v", domain.ErrInvalidRequest, err))
	}

	result, err := h.commands.CreateOrder(r.Context(), req.toDomain())
	if err != nil {
		return h.errorResponse(r, err)
	}

	body, err := json.Marshal(newCreateOrderResponse(result))
	if err != nil {
		h.requestLogger(r).WithError(err).Error("failed to encode response")
		body, _ = json.Marshal(errorBody{Error: errorDetail{Kind: string(domain.KindInvariantViolation), Message: messageInternal}})
		return http.StatusInternalServerError, body, domain.KindInvariantViolation
	}
	return http.StatusCreated, body, ""
}

func (h *Handler) errorResponse(r *http.Request, err error) (int, []byte, domain.ErrorKind) {
	code, payload := renderError(err)
	if code >= http.StatusInternalServerError {
		h.requestLogger(r).WithError(err).WithField("kind", payload.Error.Kind).Error("request failed")
	}
	body, _ := json.Marshal(payload)
	return code, body, domain.ErrorKind(payload.Error.Kind)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views, err := h.queries.GetAll(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderListResponse(views))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.queries.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(view))
}

func (h *Handler) listCustomerOrders(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views, err := h.queries.GetByCustomer(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderListResponse(views))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: malformed json: %v", domain.ErrInvalidRequest, err))
		return
	}
	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	change, err := h.commands.UpdateStatus(r.Context(), chi.URLParam(r, "id"), target)
	if err != nil {
		h.logRejection(r, err)
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusChangeResponse{
		OrderID:       change.OrderID,
		From:          change.From,
		To:            change.To,
		StockRestored: change.StockRestored,
	})
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	result, err := h.commands.DeleteOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteOrderResponse{
		OrderID:       result.OrderID,
		StockRestored: result.StockRestored,
	})
}

func (h *Handler) logRejection(r *http.Request, err error) {
	var transition *domain.TransitionError
	if errors.As(err, &transition) {
		h.requestLogger(r).WithFields(log.Fields{
			"order_id": transition.OrderID,
			"from":     transition.From,
			"to":       transition.To,
		}).Debug("status transition rejected")
	}
}

// listOptions разбирает ?limit=; пустое значение означает без ограничения.
func listOptions(r *http.Request) (query.ListOptions, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return query.ListOptions{}, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return query.ListOptions{}, fmt.Errorf("%w: limit must be a non-negative integer, got %q", domain.ErrInvalidRequest, raw)
	}
	return query.ListOptions{Limit: limit}, nil
}
