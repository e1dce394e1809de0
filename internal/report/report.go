// Package report builds accounting report requests.
package report

// DefaultRateProvider is the fiat rate source used when none is configured.
const DefaultRateProvider = "coingecko"

// Request carries the optional report filters. Nil means absent.
type Request struct {
	Category *string `json:"category,omitempty"`
	Currency *string `json:"currency,omitempty"`
	Fiat     *string `json:"fiat,omitempty"`
	Month    *string `json:"month,omitempty"`
	Year     *string `json:"year,omitempty"`
}

// Settings are the fixed, server-side report options.
type Settings struct {
	RateProvider string
}

// Params is what the report operation receives.
type Params struct {
	IsCSV        bool    `json:"is_csv"`
	RateProvider string  `json:"rate_provider"`
	Category     *string `json:"category,omitempty"`
	Currency     *string `json:"currency,omitempty"`
	Fiat         *string `json:"fiat,omitempty"`
	Month        *string `json:"month,omitempty"`
	Year         *string `json:"year,omitempty"`
}

// Build forwards the filters next to the fixed settings. No validation is done.
func Build(req Request, settings Settings) Params {
	provider := settings.RateProvider
	if provider == "" {
		provider = DefaultRateProvider
	}

	return Params{
		IsCSV:        true,
		RateProvider: provider,
		Category:     req.Category,
		Currency:     req.Currency,
		Fiat:         req.Fiat,
		Month:        req.Month,
		Year:         req.Year,
	}
}

// Filters returns the present filters keyed by name, for logging.
func (p Params) Filters() map[string]string {
	out := make(map[string]string, 5)
	add := func(key string, v *string) {
		if v != nil {
			out[key] = *v
		}
	}
	add("category", p.Category)
	add("currency", p.Currency)
	add("fiat", p.Fiat)
	add("month", p.Month)
	add("year", p.Year)
	return out
}
