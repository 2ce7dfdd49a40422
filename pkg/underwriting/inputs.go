package underwriting

import (
	"math"
	"strconv"
	"strings"
)

// InputKeys lists the BOE input fields in form order.
var InputKeys = []string{
	"asking_price",
	"deposit_pct",
	"interest_rate",
	"ltc",
	"capex_budget",
	"soft_cost_pct",
	"reserves",
	"seller_noi_from_om",
	"gross_income",
	"operating_expenses",
	"y1_noi",
	"market_cap_rate",
	"y1_exit_cap_rate",
}

// Draft is a set of BOE inputs as typed by a user, before parsing.
type Draft map[string]string

// DefaultDraft returns the inputs used for a quick workspace run.
func DefaultDraft() Draft {
	return Draft{
		"asking_price":       "10000000",
		"deposit_pct":        "0.05",
		"interest_rate":      "0.06",
		"ltc":                "0.7",
		"capex_budget":       "1000000",
		"soft_cost_pct":      "0",
		"reserves":           "0",
		"seller_noi_from_om": "500000",
		"gross_income":       "1000000",
		"operating_expenses": "300000",
		"y1_noi":             "700000",
		"market_cap_rate":    "0.05",
		"y1_exit_cap_rate":   "0.05",
	}
}

// DraftToInputs converts a draft into the request payload. Blank and
// non-numeric values are dropped so the engine applies its own defaults.
func DraftToInputs(d Draft) map[string]float64 {
	out := make(map[string]float64, len(d))
	for k, v := range d {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			continue
		}
		out[k] = n
	}
	return out
}
