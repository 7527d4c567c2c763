package models

import "time"

// Статусы подписки.
const (
	SubscriptionTrial     = "trial"
	SubscriptionActive    = "active"
	SubscriptionExpired   = "expired"
	SubscriptionCancelled = "cancelled"
	// SubscriptionNone используется только в кешированном статусе пользователя.
	SubscriptionNone = "none"
)

// Subscription конкретный экземпляр плана пользователя на отрезке времени.
type Subscription struct {
	ID          string    `json:"id"`
	UserUID     string    `json:"user_uid"`
	PlanID      string    `json:"plan_id"`
	Status      string    `json:"status"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Permissions []string  `json:"permissions"`
	PaymentID   string    `json:"payment_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SubscriptionPayment неизменяемая запись об успешной транзакции шлюза.
type SubscriptionPayment struct {
	ID               string    `json:"id"`
	UserUID          string    `json:"user_uid"`
	PlanID           string    `json:"plan_id"`
	SubscriptionID   string    `json:"subscription_id"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	GatewayLinkID    string    `json:"gateway_link_id,omitempty"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	Permissions      []string  `json:"permissions"`
	CreatedAt        time.Time `json:"created_at"`
}

// PaymentStatusSuccess статус успешного платежа.
const PaymentStatusSuccess = "success"

// PaymentMeta данные уведомления шлюза, необходимые для активации.
type PaymentMeta struct {
	PaymentID  string // merchant_oid, ключ идемпотентности
	CheckoutID string
	LinkID     string
	Amount     int64
	Currency   string
}
