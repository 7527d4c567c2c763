// Package tool реализует проверку доступа текущего пользователя к инструменту.
package tool

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
	"github.com/magabrotheeeer/prepaccess/internal/services/access"
)

type Service interface {
	CheckTool(ctx context.Context, uid, toolID string) (bool, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Проверка доступа к инструменту
// @Tags Access
// @Produce json
// @Security BearerAuth
// @Param toolID path string true "Идентификатор инструмента"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.ErrorResponse "Доступ запрещён"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Router /tools/{toolID}/access [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.tool"
	toolID := chi.URLParam(r, "toolID")
	uid := middlewarectx.UserUIDFromContext(r.Context())

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user_uid", uid),
		slog.String("tool_id", toolID),
	)

	allowed, err := h.service.CheckTool(r.Context(), uid, toolID)
	if err != nil {
		if errors.Is(err, access.ErrUserNotFound) {
			log.Warn("user from token not found")
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("user not found"))
			return
		}
		log.Error("failed to check tool access", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	if !allowed {
		log.Info("tool access denied")
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, response.Error("no access to tool"))
		return
	}
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"tool_id": toolID,
		"allowed": true,
	}))
}
