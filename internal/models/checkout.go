package models

import "time"

// Статусы оформления заказа.
const (
	CheckoutPending = "pending"
	CheckoutPaid    = "paid"
	CheckoutFailed  = "failed"
)

// Checkout связывает идентификатор корреляции с пользователем и планом.
// Запись создаётся в момент создания платёжной ссылки или iframe-токена:
// для ссылки ID передаётся шлюзу как callback_id, для iframe как merchant_oid.
// Webhook находит пользователя по этому идентификатору, а не разбирает строку заказа.
type Checkout struct {
	ID        string    `json:"id"`
	UserUID   string    `json:"user_uid"`
	PlanID    string    `json:"plan_id"`
	Variant   string    `json:"variant"`
	LinkID    string    `json:"link_id,omitempty"`
	PayURL    string    `json:"pay_url,omitempty"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	PaymentID string    `json:"payment_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckoutRequest запрос на создание оплаты плана.
type CheckoutRequest struct {
	PlanID  string `json:"plan_id" validate:"required"`
	Variant string `json:"variant" validate:"omitempty,oneof=iframe link"`
}
