// Package read возвращает статус оформления текущего пользователя.
package read

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/prepaccess/internal/http/middlewarectx"
	"github.com/magabrotheeeer/prepaccess/internal/http/response"
	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/services/checkout"
)

type Service interface {
	Get(ctx context.Context, uid, id string) (*models.Checkout, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Статус оформления
// @Tags Checkout
// @Produce json
// @Security BearerAuth
// @Param id path string true "Идентификатор оформления"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse "Оформление не найдено"
// @Router /checkout/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.checkout.read"
	uid := middlewarectx.UserUIDFromContext(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user_uid", uid),
	)

	c, err := h.service.Get(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, checkout.ErrCheckoutNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("checkout not found"))
			return
		}
		log.Error("failed to read checkout", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"checkout": c,
	}))
}
