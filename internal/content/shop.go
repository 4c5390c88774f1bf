package content

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Shop struct {
	Key       string       `yaml:"key"`
	BuyMargin float64      `yaml:"buy_margin"` // fraction of value paid when buying from players
	Stock     []StockEntry `yaml:"stock"`
}

type StockEntry struct {
	Item  string `yaml:"item"`
	Price int    `yaml:"price"`
}

type shopFile struct {
	Shops []*Shop `yaml:"shops"`
}

type ShopTable struct {
	byKey map[string]*Shop
}

func LoadShopTable(path string) (*ShopTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shops %s: %w", path, err)
	}
	var f shopFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse shops %s: %w", path, err)
	}
	byKey := make(map[string]*Shop, len(f.Shops))
	for _, s := range f.Shops {
		if s.Key == "" {
			return nil, fmt.Errorf("shops %s: entry with empty key", path)
		}
		if _, dup := byKey[s.Key]; dup {
			return nil, fmt.Errorf("shops %s: duplicate key %q", path, s.Key)
		}
		if s.BuyMargin <= 0 {
			s.BuyMargin = 0.5
		}
		byKey[s.Key] = s
	}
	return &ShopTable{byKey: byKey}, nil
}

func (t *ShopTable) Get(key string) *Shop { return t.byKey[key] }
func (t *ShopTable) Count() int           { return len(t.byKey) }

// PriceOf returns the listed price for an item, or 0 when not stocked.
func (s *Shop) PriceOf(item string) int {
	for _, e := range s.Stock {
		if e.Item == item {
			return e.Price
		}
	}
	return 0
}
