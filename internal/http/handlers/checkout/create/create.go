// Package create реализует создание оплаты тарифного плана. В ответе
// возвращается идентификатор оформления и адрес страницы оплаты шлюза.
package create

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/prepaccess/internal/gateway"
	"github.com/magabrotheeeer/prepaccess/internal/http/middlewarectx"
	"github.com/magabrotheeeer/prepaccess/internal/http/response"
	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/services/checkout"
)

type Service interface {
	Create(ctx context.Context, customer checkout.Customer, req models.CheckoutRequest) (*models.Checkout, error)
}

type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New()}
}

// ServeHTTP godoc
// @Summary Оплата тарифного плана
// @Tags Checkout
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CheckoutRequest true "План и вариант оплаты"
// @Success 201 {object} response.Response
// @Failure 404 {object} response.ErrorResponse "План не найден"
// @Failure 502 {object} response.ErrorResponse "Шлюз отклонил запрос"
// @Router /checkout [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.checkout.create"
	uid := middlewarectx.UserUIDFromContext(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user_uid", uid),
	)

	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Warn("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	c, err := h.service.Create(r.Context(), checkout.Customer{
		UID:   uid,
		Email: middlewarectx.EmailFromContext(r.Context()),
		IP:    middlewarectx.ClientIP(r),
	}, req)
	switch {
	case errors.Is(err, checkout.ErrPlanNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("plan not found"))
		return
	case errors.Is(err, gateway.ErrRejected):
		log.Error("gateway rejected checkout", sl.Err(err))
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, response.Error("payment gateway rejected the request"))
		return
	case err != nil:
		log.Error("failed to create checkout", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"checkout_id": c.ID,
		"variant":     c.Variant,
		"pay_url":     c.PayURL,
	}))
}
