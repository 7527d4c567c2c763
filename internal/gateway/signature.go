// Package gateway содержит проверку подписи уведомлений платёжного шлюза
// и клиент API создания платёжных ссылок и iframe-токенов.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// Variant вариант формы уведомления шлюза. Порядок полей в строке для
// подписи у вариантов разный и является частью внешнего контракта.
type Variant string

const (
	// VariantIframe merchant_oid + salt + status + total_amount.
	VariantIframe Variant = "iframe"
	// VariantLink callback_id + merchant_oid + salt + status + total_amount.
	VariantLink Variant = "link"
)

// Статусы платежа в уведомлении.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrUnknownVariant возвращается для неизвестного варианта формы уведомления.
var ErrUnknownVariant = errors.New("unknown payload variant")

// Payload поля уведомления шлюза.
type Payload struct {
	MerchantOID string // идентификатор заказа/платежа
	Status      string
	TotalAmount string // в минимальных единицах валюты
	Hash        string // base64 HMAC-SHA256
	CallbackID  string // только для VariantLink
	PaymentType string
	Currency    string
	FailedCode  string
	FailedMsg   string
}

// Verifier проверяет подписи уведомлений общим ключом и солью мерчанта.
type Verifier struct {
	key  []byte
	salt string
}

// NewVerifier создает Verifier.
func NewVerifier(merchantKey, merchantSalt string) *Verifier {
	return &Verifier{
		key:  []byte(merchantKey),
		salt: merchantSalt,
	}
}

// Verify сверяет подпись уведомления. Возвращает false при отсутствии
// обязательных полей, неизвестном варианте или несовпадении подписи.
func (v *Verifier) Verify(variant Variant, p Payload) bool {
	if v == nil || len(v.key) == 0 || p.Hash == "" {
		return false
	}
	expected, err := v.Sign(variant, p)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(p.Hash))
}

// Sign вычисляет подпись уведомления для указанного варианта.
func (v *Verifier) Sign(variant Variant, p Payload) (string, error) {
	canonical, err := v.canonical(variant, p)
	if err != nil {
		return "", err
	}
	return v.sum(canonical), nil
}

func (v *Verifier) canonical(variant Variant, p Payload) (string, error) {
	if p.MerchantOID == "" || p.Status == "" || p.TotalAmount == "" {
		return "", errors.New("missing required field")
	}
	switch variant {
	case VariantIframe:
		return p.MerchantOID + v.salt + p.Status + p.TotalAmount, nil
	case VariantLink:
		if p.CallbackID == "" {
			return "", errors.New("missing callback_id")
		}
		return p.CallbackID + p.MerchantOID + v.salt + p.Status + p.TotalAmount, nil
	default:
		return "", ErrUnknownVariant
	}
}

// token подписывает произвольные поля запроса к API шлюза: поля
// склеиваются в заданном порядке, в конец добавляется соль.
func (v *Verifier) token(fields ...string) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f)
	}
	b.WriteString(v.salt)
	return v.sum(b.String())
}

func (v *Verifier) sum(msg string) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseVariant разбирает имя варианта.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantIframe, VariantLink:
		return Variant(s), nil
	default:
		return "", ErrUnknownVariant
	}
}
