// Package widgets builds the data payloads behind the embeddable chart
// widgets. Widget values are display-only, so points carry float64 instead
// of the decimal type used by the ledger.
package widgets

import "errors"

// Period is the lookback window for a widget series.
type Period string

const (
	Period24h Period = "24h"
	Period7d  Period = "7d"
	Period30d Period = "30d"
	Period1y  Period = "1y"
)

// ErrUnknownPeriod is returned for a period outside the supported set.
var ErrUnknownPeriod = errors.New("unknown widget period")

// PricePoint is one observation in a price series.
type PricePoint struct {
	Timestamp int64   `json:"timestamp" msgpack:"ts"`
	Price     float64 `json:"price" msgpack:"p"`
}

// PriceWidget is the payload for the token price widgets. SMA is a moving
// average overlay aligned with Points; its first smaWindow-1 entries are zero.
type PriceWidget struct {
	Points    []PricePoint `json:"prices" msgpack:"prices"`
	SMA       []float64    `json:"sma" msgpack:"sma"`
	Current   float64      `json:"current" msgpack:"current"`
	ChangePct float64      `json:"changePct" msgpack:"change_pct"`
}

// CallBucket is an hourly count of contract calls.
type CallBucket struct {
	Timestamp int64 `json:"timestamp" msgpack:"ts"`
	Calls     int   `json:"calls" msgpack:"calls"`
}

// CallVolumeWidget is the payload for the contract-call volume widget.
type CallVolumeWidget struct {
	Buckets []CallBucket `json:"buckets" msgpack:"buckets"`
	Total   int          `json:"total" msgpack:"total"`
}

// ValuePoint is one observation in a portfolio value series.
type ValuePoint struct {
	Timestamp int64   `json:"timestamp" msgpack:"ts"`
	ValueUSD  float64 `json:"valueUsd" msgpack:"v"`
}

// PortfolioWidget is the payload for the portfolio value widget.
type PortfolioWidget struct {
	Points    []ValuePoint `json:"points" msgpack:"points"`
	Current   float64      `json:"current" msgpack:"current"`
	ChangePct float64      `json:"changePct" msgpack:"change_pct"`
}
