// Package symbols maps exchange instrument names onto the uppercase,
// separator-free form used in alerts and dedupe keys.
package symbols

import (
	"strings"

	"liqwatch/internal/models"
)

// Normalize converts an exchange-specific instrument name to the common
// form. Examples:
//
//	okx       BTC-USDT-SWAP -> BTCUSDT
//	binance   btcusdt       -> BTCUSDT
//	coinglass btc           -> BTC
func Normalize(exchange, sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	switch strings.ToLower(exchange) {
	case models.ExchangeOKX:
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	default:
		// binance and coinglass already use the desired format
	}
	return sym
}
