// Package grant реализует выдачу права на инструмент администратором.
package grant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/prepaccess/internal/http/middlewarectx"
	"github.com/magabrotheeeer/prepaccess/internal/http/response"
	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/services/catalog"
)

type Service interface {
	Grant(ctx context.Context, adminUID, userUID string, req models.GrantRequest) (*models.User, error)
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
// @Summary Выдача права на инструмент
// @Description Повторная выдача того же инструмента заменяет срок действия.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param uid path string true "UID пользователя"
// @Param request body models.GrantRequest true "Инструмент и срок"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /admin/users/{uid}/permissions [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.grant"
	userUID := chi.URLParam(r, "uid")
	adminUID := middlewarectx.UserUIDFromContext(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("admin_uid", adminUID),
		slog.String("user_uid", userUID),
	)

	var req models.GrantRequest
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

	user, err := h.service.Grant(r.Context(), adminUID, userUID, req)
	switch {
	case errors.Is(err, catalog.ErrUserNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	case errors.Is(err, catalog.ErrExpiryInPast):
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error(catalog.ErrExpiryInPast.Error()))
		return
	case errors.Is(err, catalog.ErrTooManyRetries):
		log.Warn("grant conflicted with concurrent updates", sl.Err(err))
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("concurrent update, retry later"))
		return
	case err != nil:
		log.Error("failed to grant permission", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("permission granted", slog.String("tool_id", req.ToolID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"user": user,
	}))
}
