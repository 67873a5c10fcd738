package venue

import (
	"fmt"
	"os"

	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// CatalogEntry is one venue in a YAML catalog file
type CatalogEntry struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Kind         string   `yaml:"kind"`
	Assets       []string `yaml:"assets"`
	OrderTypes   []string `yaml:"order_types"`
	LatencyMs    float64  `yaml:"latency_ms"`
	FillRate     float64  `yaml:"fill_rate"`
	SlippageBps  float64  `yaml:"slippage_bps"`
	Uptime       float64  `yaml:"uptime"`
	MakerFee     float64  `yaml:"maker_fee"`
	TakerFee     float64  `yaml:"taker_fee"`
	MinOrderSize float64  `yaml:"min_order_size"`
	Status       string   `yaml:"status"`
}

// Catalog is the root of a venue catalog file
type Catalog struct {
	Venues []CatalogEntry `yaml:"venues"`
}

// Venue converts the entry into a domain venue
func (e CatalogEntry) Venue() types.Venue {
	v := types.Venue{
		ID:              e.ID,
		Name:            e.Name,
		Kind:            types.VenueKind(e.Kind),
		SupportedAssets: append([]string(nil), e.Assets...),
		AvgLatencyMs:    e.LatencyMs,
		FillRate:        e.FillRate,
		AvgSlippage:     e.SlippageBps / 10000,
		Uptime:          e.Uptime,
		Fees: types.Fees{
			Maker: decimal.NewFromFloat(e.MakerFee),
			Taker: decimal.NewFromFloat(e.TakerFee),
		},
		MinOrderSize: decimal.NewFromFloat(e.MinOrderSize),
		Status:       types.VenueStatus(e.Status),
	}
	for _, t := range e.OrderTypes {
		v.SupportedOrderTypes = append(v.SupportedOrderTypes, types.OrderType(t))
	}
	return v
}

// ParseCatalog decodes catalog YAML
func ParseCatalog(data []byte) ([]types.Venue, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse venue catalog: %w", err)
	}
	venues := make([]types.Venue, 0, len(c.Venues))
	for _, e := range c.Venues {
		venues = append(venues, e.Venue())
	}
	return venues, nil
}

// LoadCatalog reads a catalog file and registers every venue in it
func LoadCatalog(path string, r *Registry) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read venue catalog %s: %w", path, err)
	}
	venues, err := ParseCatalog(data)
	if err != nil {
		return 0, err
	}
	for _, v := range venues {
		if err := r.Register(v); err != nil {
			return 0, fmt.Errorf("venue %s: %w", v.ID, err)
		}
	}
	return len(venues), nil
}
