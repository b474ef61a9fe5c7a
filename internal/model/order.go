package model

import "time"

// Order represents an exchange order.
type Order struct {
	OrderID         string    `json:"order_id"`
	Symbol          string    `json:"symbol"`
	Exchange        string    `json:"exchange"`
	TransactionType string    `json:"transaction_type"` // BUY, SELL
	OrderType       string    `json:"order_type"`       // MARKET, LIMIT, STOP_LOSS
	Qty             float64   `json:"qty"`              // base units
	Price           float64   `json:"price"`            // limit price (0 for market)
	TriggerPrice    float64   `json:"trigger_price"`    // stop trigger price
	Status          string    `json:"status"`           // PLACED, OPEN, FILLED, REJECTED, CANCELLED
	FilledQty       float64   `json:"filled_qty"`
	AvgPrice        float64   `json:"avg_price"` // fill average
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
