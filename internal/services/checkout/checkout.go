// Package checkout создаёт оплату плана через платёжный шлюз.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/prepaccess/internal/gateway"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

var (
	ErrPlanNotFound     = errors.New("plan not found")
	ErrCheckoutNotFound = errors.New("checkout not found")
)

type Repository interface {
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	CreateCheckout(ctx context.Context, c *models.Checkout) error
	GetCheckout(ctx context.Context, id string) (*models.Checkout, error)
}

// Gateway клиент платёжного шлюза.
type Gateway interface {
	CreateLink(ctx context.Context, req gateway.LinkRequest) (*gateway.LinkResponse, error)
	CreateIframeToken(ctx context.Context, req gateway.IframeRequest) (*gateway.IframeResponse, error)
}

// Customer данные плательщика, которые требует шлюз.
type Customer struct {
	UID   string
	Email string
	IP    string
}

type Service struct {
	log      *slog.Logger
	repo     Repository
	gateway  Gateway
	currency string
}

func New(log *slog.Logger, repo Repository, gw Gateway, currency string) *Service {
	return &Service{log: log, repo: repo, gateway: gw, currency: currency}
}

// Create создаёт оплату плана и сохраняет её идентификатор корреляции.
// По этому идентификатору уведомление шлюза находит пользователя и план.
func (s *Service) Create(ctx context.Context, customer Customer, req models.CheckoutRequest) (*models.Checkout, error) {
	const op = "checkout.Create"

	plan, err := s.repo.GetPlan(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, storage.ErrPlanNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrPlanNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("%s: %w", op, ErrPlanNotFound)
	}

	variant := gateway.VariantLink
	if req.Variant != "" {
		variant, err = gateway.ParseVariant(req.Variant)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	currency := plan.Currency
	if currency == "" {
		currency = s.currency
	}

	c := &models.Checkout{
		ID:       NewCorrelationID(),
		UserUID:  customer.UID,
		PlanID:   plan.ID,
		Variant:  string(variant),
		Amount:   plan.Price,
		Currency: currency,
		Status:   models.CheckoutPending,
	}

	switch variant {
	case gateway.VariantLink:
		link, err := s.gateway.CreateLink(ctx, gateway.LinkRequest{
			Name:       plan.DisplayName,
			Price:      plan.Price,
			Currency:   currency,
			Email:      customer.Email,
			CallbackID: c.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.LinkID = link.ID
		c.PayURL = link.URL
	case gateway.VariantIframe:
		token, err := s.gateway.CreateIframeToken(ctx, gateway.IframeRequest{
			MerchantOID: c.ID,
			Email:       customer.Email,
			UserIP:      customer.IP,
			Name:        plan.DisplayName,
			Amount:      plan.Price,
			Currency:    currency,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.PayURL = token.URL
	}

	if err := s.repo.CreateCheckout(ctx, c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("checkout created",
		slog.String("checkout_id", c.ID),
		slog.String("user_uid", c.UserUID),
		slog.String("plan_id", c.PlanID),
		slog.String("variant", c.Variant),
	)
	return c, nil
}

// Get возвращает оформление, если оно принадлежит пользователю uid.
func (s *Service) Get(ctx context.Context, uid, id string) (*models.Checkout, error) {
	const op = "checkout.Get"

	c, err := s.repo.GetCheckout(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrCheckoutNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrCheckoutNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if c.UserUID != uid {
		return nil, fmt.Errorf("%s: %w", op, ErrCheckoutNotFound)
	}
	return c, nil
}

// NewCorrelationID возвращает буквенно-цифровой идентификатор: шлюз не
// принимает в merchant_oid другие символы.
func NewCorrelationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
