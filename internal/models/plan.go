package models

import "time"

// Plan тарифный план каталога.
type Plan struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DisplayName  string    `json:"display_name"`
	Price        int64     `json:"price"` // в минимальных единицах валюты
	Currency     string    `json:"currency"`
	DurationDays int       `json:"duration_days"`
	Features     []string  `json:"features"`
	Permissions  []string  `json:"permissions"`
	IsDefault    bool      `json:"is_default"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PlanRequest используется для приёма данных плана из JSON-запроса администратора.
type PlanRequest struct {
	ID           string   `json:"id" validate:"required,max=64"`
	Name         string   `json:"name" validate:"required"`
	DisplayName  string   `json:"display_name" validate:"required"`
	Price        int64    `json:"price" validate:"gte=0"`
	Currency     string   `json:"currency" validate:"required"`
	DurationDays int      `json:"duration_days" validate:"required,gt=0"`
	Features     []string `json:"features"`
	Permissions  []string `json:"permissions" validate:"required,min=1"`
	IsDefault    bool     `json:"is_default"`
	IsActive     bool     `json:"is_active"`
}
