// Package webhook принимает уведомления платёжного шлюза в двух вариантах
// формы: iframe и платёжная ссылка. Шлюз повторяет уведомление, пока не
// получит ответ "OK", поэтому любая неуспешная обработка отдаётся ошибкой.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/prepaccess/internal/gateway"
	"github.com/magabrotheeeer/prepaccess/internal/http/response"
	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/services/activation"
	"github.com/magabrotheeeer/prepaccess/internal/services/webhook"
)

type Service interface {
	Handle(ctx context.Context, variant gateway.Variant, p gateway.Payload) (*webhook.Outcome, error)
}

type Handler struct {
	log     *slog.Logger
	variant gateway.Variant
	service Service
}

// New создаёт обработчик для одного варианта формы уведомления.
func New(log *slog.Logger, variant gateway.Variant, service Service) *Handler {
	return &Handler{log: log, variant: variant, service: service}
}

// ServeHTTP godoc
// @Summary Уведомление платёжного шлюза
// @Tags Payments
// @Accept x-www-form-urlencoded
// @Produce plain
// @Param merchant_oid formData string true "Идентификатор платежа"
// @Param status formData string true "success или failed"
// @Param total_amount formData string true "Сумма в минимальных единицах"
// @Param hash formData string true "Подпись"
// @Param callback_id formData string false "Идентификатор оформления (ссылка)"
// @Success 200 {string} string "OK"
// @Failure 400 {object} response.ErrorResponse "Неверная подпись или сумма"
// @Failure 404 {object} response.ErrorResponse "Оформление не найдено"
// @Failure 422 {object} response.ErrorResponse "План не найден"
// @Failure 500 {object} response.ErrorResponse "Ошибка обработки"
// @Router /payments/webhook/iframe [post]
// @Router /payments/webhook/link [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("variant", string(h.variant)),
	)

	if err := r.ParseForm(); err != nil {
		log.Warn("failed to parse webhook form", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid form"))
		return
	}

	payload := gateway.Payload{
		MerchantOID: r.PostForm.Get("merchant_oid"),
		Status:      r.PostForm.Get("status"),
		TotalAmount: r.PostForm.Get("total_amount"),
		Hash:        r.PostForm.Get("hash"),
		CallbackID:  r.PostForm.Get("callback_id"),
		PaymentType: r.PostForm.Get("payment_type"),
		Currency:    r.PostForm.Get("currency"),
		FailedCode:  r.PostForm.Get("failed_reason_code"),
		FailedMsg:   r.PostForm.Get("failed_reason_msg"),
	}

	outcome, err := h.service.Handle(r.Context(), h.variant, payload)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error("webhook processing failed", sl.Err(err))
		} else {
			log.Warn("webhook rejected", slog.Int("status", status), sl.Err(err))
		}
		render.Status(r, status)
		render.JSON(w, r, response.Error(msg))
		return
	}

	log.Info("webhook processed",
		slog.String("checkout_id", outcome.CheckoutID),
		slog.String("subscription_id", outcome.SubscriptionID),
		slog.Bool("already_processed", outcome.AlreadyProcessed),
		slog.Bool("failed", outcome.Failed),
	)
	render.PlainText(w, r, "OK")
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, webhook.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid signature"
	case errors.Is(err, webhook.ErrAmountMismatch):
		return http.StatusBadRequest, "amount mismatch"
	case errors.Is(err, webhook.ErrUnknownStatus):
		return http.StatusBadRequest, "unknown payment status"
	case errors.Is(err, webhook.ErrUnknownCheckout):
		return http.StatusNotFound, "checkout not found"
	case errors.Is(err, activation.ErrPlanNotFound):
		return http.StatusUnprocessableEntity, "plan not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
