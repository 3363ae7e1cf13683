package model

import "github.com/shopspring/decimal"

// Provider is what the directory knows about a bookable professional.
type Provider struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Timezone string    `json:"timezone,omitempty"`
	Services []Service `json:"services"`
}

type Service struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	BaseFee     decimal.Decimal `json:"baseFee"`
	Currency    string          `json:"currency"`
}
