package strategy

// FXRateProvider converts between instrument and account currencies. The
// broker's OpenAPI does not expose a spot-FX endpoint reachable from this
// subsystem, so this follows original_source/src/account_info.py's
// get_fx_rate: a same-currency identity plus a small static table,
// defaulting to 1.0 for any unconfigured pair.
type FXRateProvider interface {
	Rate(from, to string) float64
}

// StaticFXRates is the default FXRateProvider, grounded on
// original_source/src/account_info.py's hardcoded "Mock Rates for Logic
// Check" table.
type StaticFXRates struct{}

func (StaticFXRates) Rate(from, to string) float64 {
	if from == to {
		return 1.0
	}
	switch {
	case from == "USD" && to == "EUR":
		return 0.90
	case from == "EUR" && to == "USD":
		return 1.11
	default:
		return 1.0
	}
}

const (
	fxFrictionPct  = 0.005  // 0.5% of round-trip notional (spec §4.F)
	slippageBps    = 0.0005 // 5 basis points on exit notional (spec §4.F)
)

// netProfit implements the spec §4.F profit-guard math exactly:
//
//	gross_instr = (exit − entry) × qty
//	gross_acct  = gross_instr × fx(instrument_ccy → account_ccy)
//	commission  = cost_oracle(uic, qty, (entry+exit)/2)
//	fx_cost     = instrument_ccy ≠ account_ccy ? (entry·qty + exit·qty) × fx × 0.005 : 0
//	slippage    = include_slippage ? exit·qty·fx × 0.0005 : 0
//	net         = gross_acct − commission − fx_cost − slippage
//
// Grounded on original_source/src/account_info.py's calculate_net_profit.
func netProfit(entry, exit, qty, commission, fxRate float64, instrumentCcy, accountCcy string, includeSlippage bool) float64 {
	grossInstr := (exit - entry) * qty
	grossAcct := grossInstr * fxRate

	var fxCost float64
	if instrumentCcy != accountCcy {
		totalVolumeInstr := entry*qty + exit*qty
		fxCost = totalVolumeInstr * fxRate * fxFrictionPct
	}

	var slippage float64
	if includeSlippage {
		exitValueAcct := exit * qty * fxRate
		slippage = exitValueAcct * slippageBps
	}

	return grossAcct - commission - fxCost - slippage
}
