// Package sweep запускает внеочередной проход по истёкшим подпискам.
package sweep

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/prepaccess/internal/http/response"
	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/services/sweeper"
)

type Service interface {
	Sweep(ctx context.Context) (sweeper.Report, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// Report итог прохода в ответе.
type Report struct {
	ExpiredSubscriptions int      `json:"expired_subscriptions"`
	Skipped              int      `json:"skipped"`
	RevokedGrants        int      `json:"revoked_grants"`
	EndedTrials          int      `json:"ended_trials"`
	Errors               []string `json:"errors"`
}

// ServeHTTP godoc
// @Summary Проход по истёкшим подпискам
// @Description Ошибки отдельных записей не прерывают проход и возвращаются в отчёте.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /admin/sweep [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.sweep"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	report, err := h.service.Sweep(r.Context())
	if err != nil {
		log.Warn("sweep finished with errors", sl.Err(err))
	}

	out := Report{
		ExpiredSubscriptions: report.ExpiredSubscriptions,
		Skipped:              report.Skipped,
		RevokedGrants:        report.RevokedGrants,
		EndedTrials:          report.EndedTrials,
		Errors:               make([]string, 0, len(report.Errors)),
	}
	for _, e := range report.Errors {
		out.Errors = append(out.Errors, e.Error())
	}
	render.JSON(w, r, response.StatusOKWithData(out))
}
