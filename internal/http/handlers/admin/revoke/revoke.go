// Package revoke реализует отзыв выданного администратором права.
package revoke

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/prepaccess/internal/http/response"
	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/services/catalog"
)

type Service interface {
	Revoke(ctx context.Context, userUID, toolID string) (*models.User, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Отзыв права на инструмент
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param uid path string true "UID пользователя"
// @Param toolID path string true "Инструмент"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse "Пользователь или выдача не найдены"
// @Router /admin/users/{uid}/permissions/{toolID} [delete]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.revoke"
	userUID, toolID := chi.URLParam(r, "uid"), chi.URLParam(r, "toolID")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user_uid", userUID),
		slog.String("tool_id", toolID),
	)

	user, err := h.service.Revoke(r.Context(), userUID, toolID)
	switch {
	case errors.Is(err, catalog.ErrUserNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	case errors.Is(err, catalog.ErrGrantNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("grant not found"))
		return
	case errors.Is(err, catalog.ErrTooManyRetries):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("concurrent update, retry later"))
		return
	case err != nil:
		log.Error("failed to revoke permission", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("permission revoked")
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"user": user,
	}))
}
