// Package order 负责订单模型、本地约束校验以及每周期的撤单-重挂同步。
package order

import (
	"theo-quoter/market"
	"theo-quoter/strategy"
)

// Status represents order lifecycle as seen by the quoter.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusAck      Status = "ACK"
	StatusRejected Status = "REJECTED"
	StatusCanceled Status = "CANCELED"
)

// TypeLimit 是唯一使用的订单类型。
const TypeLimit = "LIMIT"

// Order is a limit order derived from a QuoteIntent.
type Order struct {
	ID         string
	ClientID   string
	Instrument string
	Side       market.Side
	Price      float64
	Volume     int64
	Type       string
	Kind       strategy.IntentKind
	Status     Status
	LastError  string
}

// FromIntent 由下单意图构造限价单。
func FromIntent(q strategy.QuoteIntent, clientID string) Order {
	return Order{
		ClientID:   clientID,
		Instrument: q.Instrument,
		Side:       q.Side,
		Price:      q.Price,
		Volume:     q.Volume,
		Type:       TypeLimit,
		Kind:       q.Kind,
		Status:     StatusNew,
	}
}

// InsertResult is the exchange acknowledgement of one insert.
type InsertResult struct {
	OrderID string
	Success bool
	Reason  string
}
