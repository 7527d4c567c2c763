// Package webhook обрабатывает уведомления платёжного шлюза: проверяет
// подпись, находит оформление по идентификатору корреляции и активирует
// подписку.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/magabrotheeeer/prepaccess/internal/gateway"
	"github.com/magabrotheeeer/prepaccess/internal/lib/sl"
	"github.com/magabrotheeeer/prepaccess/internal/metrics"
	"github.com/magabrotheeeer/prepaccess/internal/models"
	"github.com/magabrotheeeer/prepaccess/internal/services/activation"
	"github.com/magabrotheeeer/prepaccess/internal/storage"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnknownCheckout  = errors.New("unknown checkout")
	ErrAmountMismatch   = errors.New("amount mismatch")
	ErrUnknownStatus    = errors.New("unknown payment status")
)

type Verifier interface {
	Verify(variant gateway.Variant, p gateway.Payload) bool
}

type Checkouts interface {
	GetCheckout(ctx context.Context, id string) (*models.Checkout, error)
	CompleteCheckout(ctx context.Context, id, status, paymentID string, now time.Time) (bool, error)
}

type Activator interface {
	Activate(ctx context.Context, userID, planID string, meta models.PaymentMeta) (*activation.Result, error)
}

// Outcome результат обработки уведомления.
type Outcome struct {
	CheckoutID       string
	SubscriptionID   string
	Failed           bool
	AlreadyProcessed bool
}

type Service struct {
	log       *slog.Logger
	verifier  Verifier
	checkouts Checkouts
	activator Activator
	now       func() time.Time
}

func New(log *slog.Logger, verifier Verifier, checkouts Checkouts, activator Activator) *Service {
	return &Service{
		log:       log,
		verifier:  verifier,
		checkouts: checkouts,
		activator: activator,
		now:       time.Now,
	}
}

// Handle обрабатывает уведомление указанного варианта. Без корректной
// подписи состояние не меняется.
func (s *Service) Handle(ctx context.Context, variant gateway.Variant, p gateway.Payload) (*Outcome, error) {
	const op = "webhook.Handle"
	log := s.log.With(
		sl.Op(op),
		slog.String("variant", string(variant)),
		slog.String("merchant_oid", p.MerchantOID),
	)

	if !s.verifier.Verify(variant, p) {
		log.Warn("webhook signature verification failed")
		s.outcome(variant, metrics.OutcomeInvalidSignature)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	}

	checkoutID := p.MerchantOID
	if variant == gateway.VariantLink {
		checkoutID = p.CallbackID
	}
	checkout, err := s.checkouts.GetCheckout(ctx, checkoutID)
	if err != nil {
		if errors.Is(err, storage.ErrCheckoutNotFound) {
			log.Warn("webhook for unknown checkout", slog.String("checkout_id", checkoutID))
			s.outcome(variant, metrics.OutcomeUnknownCheckout)
			return nil, fmt.Errorf("%s: %w", op, ErrUnknownCheckout)
		}
		s.outcome(variant, metrics.OutcomeError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log = log.With(slog.String("checkout_id", checkout.ID), slog.String("user_uid", checkout.UserUID))

	amount, err := strconv.ParseInt(p.TotalAmount, 10, 64)
	if err != nil || amount != checkout.Amount {
		log.Warn("webhook amount does not match checkout",
			slog.String("total_amount", p.TotalAmount),
			slog.Int64("expected", checkout.Amount),
		)
		s.outcome(variant, metrics.OutcomeAmountMismatch)
		return nil, fmt.Errorf("%s: %w", op, ErrAmountMismatch)
	}

	switch p.Status {
	case gateway.StatusFailed:
		if _, err := s.checkouts.CompleteCheckout(ctx, checkout.ID, models.CheckoutFailed, p.MerchantOID, s.now().UTC()); err != nil {
			s.outcome(variant, metrics.OutcomeError)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("payment failed",
			slog.String("failed_reason_code", p.FailedCode),
			slog.String("failed_reason_msg", p.FailedMsg),
		)
		s.outcome(variant, metrics.OutcomeFailedPayment)
		return &Outcome{CheckoutID: checkout.ID, Failed: true}, nil

	case gateway.StatusSuccess:
		currency := p.Currency
		if currency == "" {
			currency = checkout.Currency
		}
		res, err := s.activator.Activate(ctx, checkout.UserUID, checkout.PlanID, models.PaymentMeta{
			PaymentID:  p.MerchantOID,
			CheckoutID: checkout.ID,
			LinkID:     checkout.LinkID,
			Amount:     amount,
			Currency:   currency,
		})
		if err != nil {
			if errors.Is(err, activation.ErrPlanNotFound) {
				s.outcome(variant, metrics.OutcomePlanNotFound)
			} else {
				s.outcome(variant, metrics.OutcomeError)
			}
			log.Error("activation failed", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if res.AlreadyProcessed {
			s.outcome(variant, metrics.OutcomeAlreadyProcessed)
			return &Outcome{CheckoutID: checkout.ID, AlreadyProcessed: true}, nil
		}
		s.outcome(variant, metrics.OutcomeActivated)
		return &Outcome{CheckoutID: checkout.ID, SubscriptionID: res.Subscription.ID}, nil

	default:
		log.Warn("webhook with unknown status", slog.String("status", p.Status))
		s.outcome(variant, metrics.OutcomeError)
		return nil, fmt.Errorf("%s: %w", op, ErrUnknownStatus)
	}
}

func (s *Service) outcome(variant gateway.Variant, outcome string) {
	metrics.WebhooksTotal.WithLabelValues(string(variant), outcome).Inc()
}
