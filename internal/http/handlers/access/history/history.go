// Package history возвращает историю подписок и платежей текущего пользователя.
package history

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/prepaccess/internal/http/middlewarectx"
	"github.com/magabrotheeeer/prepaccess/internal/http/response"
	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/services/access"
)

type Service interface {
	History(ctx context.Context, uid string) (*access.History, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary История подписок и платежей
// @Tags Access
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /me/history [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.history"
	uid := middlewarectx.UserUIDFromContext(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user_uid", uid),
	)

	history, err := h.service.History(r.Context(), uid)
	if err != nil {
		if errors.Is(err, access.ErrUserNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("user not found"))
			return
		}
		log.Error("failed to load history", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	render.JSON(w, r, response.StatusOKWithData(history))
}
