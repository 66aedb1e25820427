package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// contractSpec describes one SWAP instrument. Linear contracts are sized in
// the base coin, inverse contracts in the quote currency (USD).
type contractSpec struct {
	value   float64
	inverse bool
}

type instrumentsResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID string `json:"instId"`
		CtVal  string `json:"ctVal"`
		CtType string `json:"ctType"`
	} `json:"data"`
}

// fetchInstruments loads contract values for every SWAP instrument.
func fetchInstruments(ctx context.Context, client *http.Client, endpoint string) (map[string]contractSpec, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse instruments url: %w", err)
	}
	q := u.Query()
	q.Set("instType", "SWAP")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch okx instruments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch okx instruments: status %d", resp.StatusCode)
	}

	var body instrumentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode okx instruments: %w", err)
	}
	if body.Code != "0" {
		return nil, fmt.Errorf("okx instruments error %s: %s", body.Code, body.Msg)
	}

	specs := make(map[string]contractSpec, len(body.Data))
	for _, d := range body.Data {
		v, err := strconv.ParseFloat(d.CtVal, 64)
		if err != nil || v <= 0 {
			continue
		}
		specs[d.InstID] = contractSpec{value: v, inverse: strings.EqualFold(d.CtType, "inverse")}
	}
	return specs, nil
}

// baseQuantity converts a size in contracts to base coin units.
func (c contractSpec) baseQuantity(contracts, price float64) float64 {
	if c.inverse {
		if price <= 0 {
			return 0
		}
		return contracts * c.value / price
	}
	return contracts * c.value
}
