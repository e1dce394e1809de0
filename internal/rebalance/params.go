// Package rebalance normalizes rebalance requests and shapes their results.
package rebalance

import (
	"github.com/shopspring/decimal"
)

// DefaultTimeoutMinutes applies when the request carries no usable timeout.
const DefaultTimeoutMinutes = 5

// Request is the sparse rebalance request as received from a caller.
// Every field is optional; nil means "not specified".
type Request struct {
	Avoid          []string         `json:"avoid,omitempty"`
	InThrough      *string          `json:"in_through,omitempty"`
	OutThrough     *string          `json:"out_through,omitempty"`
	Node           *string          `json:"node,omitempty"`
	MaxFee         *int64           `json:"max_fee,omitempty"`
	MaxFeeRate     *int64           `json:"max_fee_rate,omitempty"`
	MaxRebalance   *decimal.Decimal `json:"max_rebalance,omitempty"`
	OutInbound     *decimal.Decimal `json:"out_inbound,omitempty"`
	TimeoutMinutes *int             `json:"timeout_minutes,omitempty"`
}

// Params is the canonical parameter set handed to the rebalance operation.
// MaxRebalance and OutInbound carry decimal text to keep large amounts exact.
type Params struct {
	OutChannels    []string `json:"out_channels"`
	Avoid          []string `json:"avoid,omitempty"`
	InThrough      string   `json:"in_through,omitempty"`
	OutThrough     string   `json:"out_through,omitempty"`
	Node           string   `json:"node,omitempty"`
	MaxFee         *int64   `json:"max_fee,omitempty"`
	MaxFeeRate     *int64   `json:"max_fee_rate,omitempty"`
	MaxRebalance   string   `json:"max_rebalance,omitempty"`
	OutInbound     string   `json:"out_inbound,omitempty"`
	TimeoutMinutes int      `json:"timeout_minutes"`
}

// Normalize applies the defaulting and coercion rules field by field.
// It is total: every Request yields a Params.
func Normalize(req Request) Params {
	params := Params{
		OutChannels:    []string{},
		Avoid:          req.Avoid,
		TimeoutMinutes: DefaultTimeoutMinutes,
	}

	if s := presentString(req.InThrough); s != "" {
		params.InThrough = s
	}
	if s := presentString(req.OutThrough); s != "" {
		params.OutThrough = s
	}
	if s := presentString(req.Node); s != "" {
		params.Node = s
	}

	if req.MaxFee != nil && *req.MaxFee > 0 {
		v := *req.MaxFee
		params.MaxFee = &v
	}
	if req.MaxFeeRate != nil && *req.MaxFeeRate > 0 {
		v := *req.MaxFeeRate
		params.MaxFeeRate = &v
	}

	if req.TimeoutMinutes != nil && *req.TimeoutMinutes != 0 {
		params.TimeoutMinutes = *req.TimeoutMinutes
	}

	params.MaxRebalance = positiveDecimalText(req.MaxRebalance)
	params.OutInbound = positiveDecimalText(req.OutInbound)

	return params
}

func presentString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func positiveDecimalText(d *decimal.Decimal) string {
	if d == nil || !d.IsPositive() {
		return ""
	}
	return d.String()
}
