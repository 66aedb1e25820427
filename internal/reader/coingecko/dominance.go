package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appconfig "liqwatch/config"
	"liqwatch/internal/models"
	"liqwatch/logger"
)

const maxBody = 1 << 20

// ErrAssetMissing is returned when the global payload has no share for the
// configured asset.
var ErrAssetMissing = errors.New("asset missing from market_cap_percentage")

type globalResponse struct {
	Data struct {
		MarketCapPercentage map[string]float64 `json:"market_cap_percentage"`
		UpdatedAt           int64              `json:"updated_at"`
	} `json:"data"`
}

// Coingecko_DOM_Reader reads an asset's share of total market cap from the
// CoinGecko global endpoint.
type Coingecko_DOM_Reader struct {
	config appconfig.DominanceConfig
	client *http.Client
	log    *logger.Log
	now    func() time.Time
}

func Coingecko_DOM_NewReader(cfg *appconfig.Config, client *http.Client) *Coingecko_DOM_Reader {
	return &Coingecko_DOM_Reader{
		config: cfg.Source.Coingecko.Dominance,
		client: client,
		log:    logger.GetLogger(),
		now:    time.Now,
	}
}

func (r *Coingecko_DOM_Reader) Name() string { return "coingecko_dominance" }

// Fetch returns the current dominance reading.
func (r *Coingecko_DOM_Reader) Fetch(ctx context.Context) (models.DominanceReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.URL, nil)
	if err != nil {
		return models.DominanceReport{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return models.DominanceReport{}, fmt.Errorf("request global metrics: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return models.DominanceReport{}, fmt.Errorf("read global metrics: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.DominanceReport{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var global globalResponse
	if err := json.Unmarshal(body, &global); err != nil {
		return models.DominanceReport{}, fmt.Errorf("decode global metrics: %w", err)
	}

	asset := strings.ToLower(r.config.Asset)
	pct, ok := global.Data.MarketCapPercentage[asset]
	if !ok {
		return models.DominanceReport{}, fmt.Errorf("%s: %w", asset, ErrAssetMissing)
	}

	observed := r.now().UTC()
	if global.Data.UpdatedAt > 0 {
		observed = time.Unix(global.Data.UpdatedAt, 0).UTC()
	}

	r.log.WithComponent("coingecko_dom_reader").WithFields(logger.Fields{
		"asset":      asset,
		"percentage": pct,
	}).Debug("dominance reading fetched")

	return models.DominanceReport{Asset: asset, Percentage: pct, ObservedAt: observed}, nil
}
