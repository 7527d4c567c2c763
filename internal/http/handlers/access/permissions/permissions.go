// Package permissions возвращает вычисленный набор прав текущего пользователя.
package permissions

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
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/services/access"
)

type Service interface {
	Status(ctx context.Context, uid string) (models.PermissionStatus, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Права текущего пользователя
// @Tags Access
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /me/permissions [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.permissions"
	uid := middlewarectx.UserUIDFromContext(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user_uid", uid),
	)

	status, err := h.service.Status(r.Context(), uid)
	if err != nil {
		if errors.Is(err, access.ErrUserNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("user not found"))
			return
		}
		log.Error("failed to resolve permissions", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	render.JSON(w, r, response.StatusOKWithData(status))
}
