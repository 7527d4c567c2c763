// Package storage содержит ошибки уровня хранилища, общие для репозитория и сервисов.
package storage

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user already exists")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrPlanExists           = errors.New("plan already exists")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrCheckoutNotFound     = errors.New("checkout not found")
	// ErrAlreadyProcessed платёж с таким идентификатором шлюза уже записан.
	ErrAlreadyProcessed = errors.New("payment already processed")
	// ErrVersionConflict запись пользователя изменилась после чтения.
	ErrVersionConflict = errors.New("version conflict")
)
