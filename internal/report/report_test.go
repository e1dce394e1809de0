package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strp(s string) *string { return &s }

func TestBuildUnfiltered(t *testing.T) {
	params := Build(Request{}, Settings{})

	assert.True(t, params.IsCSV)
	assert.Equal(t, DefaultRateProvider, params.RateProvider)
	assert.Nil(t, params.Category)
	assert.Nil(t, params.Currency)
	assert.Nil(t, params.Fiat)
	assert.Nil(t, params.Month)
	assert.Nil(t, params.Year)
	assert.Empty(t, params.Filters())
}

func TestBuildForwardsFilters(t *testing.T) {
	req := Request{
		Category: strp("forwards"),
		Currency: strp("BTC"),
		Fiat:     strp("EUR"),
		Month:    strp("3"),
		Year:     strp("2024"),
	}

	params := Build(req, Settings{RateProvider: "coincap"})

	assert.Equal(t, "coincap", params.RateProvider)
	assert.Equal(t, "forwards", *params.Category)
	assert.Equal(t, map[string]string{
		"category": "forwards",
		"currency": "BTC",
		"fiat":     "EUR",
		"month":    "3",
		"year":     "2024",
	}, params.Filters())
}

func TestBuildKeepsEmptyStrings(t *testing.T) {
	params := Build(Request{Month: strp("")}, Settings{})

	if assert.NotNil(t, params.Month) {
		assert.Equal(t, "", *params.Month)
	}
}
