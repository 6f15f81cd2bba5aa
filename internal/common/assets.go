package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// AssetConfig lists a token's networks in debit priority order.
type AssetConfig struct {
	Symbol   string   `yaml:"symbol"`
	Networks []string `yaml:"networks"`
}

type AssetsConfig struct {
	Assets []AssetConfig `yaml:"assets"`
}

// PlanConfig is an investment plan as written in the plans file.
type PlanConfig struct {
	Name          string `yaml:"name"`
	DailyReturn   string `yaml:"daily_return"`
	DurationHours int    `yaml:"duration_hours"`
	MinAmount     string `yaml:"min_amount"`
	MaxAmount     string `yaml:"max_amount"`
	Locked        bool   `yaml:"freeze_principal"`
	SortOrder     int    `yaml:"sort_order"`
}

type PlansConfig struct {
	Plans []PlanConfig `yaml:"plans"`
}

func resolvePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return filepath.Join(wd, file), nil
}

func readYAML(file string, out any) error {
	path, err := resolvePath(file)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", file, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unable to parse %s: %w", file, err)
	}
	return nil
}

func LoadAssetConfig(assetsFile string) ([]AssetConfig, error) {
	var config AssetsConfig
	if err := readYAML(assetsFile, &config); err != nil {
		return nil, err
	}

	for i, asset := range config.Assets {
		if asset.Symbol == "" {
			return nil, fmt.Errorf("asset at index %d missing symbol", i)
		}
		if len(asset.Networks) == 0 {
			return nil, fmt.Errorf("asset %s has no networks", asset.Symbol)
		}
	}

	return config.Assets, nil
}

// LoadNetworkPriority builds the per-token debit order from the assets file
// and returns every configured asset for scanning. A missing file falls
// back to the built-in priority.
func LoadNetworkPriority(assetsFile string) (models.NetworkPriority, []models.Asset, error) {
	if assetsFile == "" {
		return defaultPriority()
	}
	if path, err := resolvePath(assetsFile); err == nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return defaultPriority()
		}
	}

	assets, err := LoadAssetConfig(assetsFile)
	if err != nil {
		return nil, nil, err
	}
	return BuildNetworkPriority(assets)
}

func BuildNetworkPriority(assets []AssetConfig) (models.NetworkPriority, []models.Asset, error) {
	priority := make(models.NetworkPriority)
	var all []models.Asset
	for _, ac := range assets {
		token := models.Token(strings.ToUpper(ac.Symbol))
		for _, n := range ac.Networks {
			asset, err := models.AssetFor(token, models.Network(strings.ToUpper(n)))
			if err != nil {
				return nil, nil, err
			}
			priority[token] = append(priority[token], asset)
			all = append(all, asset)
		}
	}
	return priority, all, nil
}

func defaultPriority() (models.NetworkPriority, []models.Asset, error) {
	priority := models.DefaultNetworkPriority()
	return priority, models.AllAssets(), nil
}

// LoadPlans reads investment plans for seeding.
func LoadPlans(plansFile string) ([]models.Plan, error) {
	var config PlansConfig
	if err := readYAML(plansFile, &config); err != nil {
		return nil, err
	}

	plans := make([]models.Plan, 0, len(config.Plans))
	for i, pc := range config.Plans {
		if pc.Name == "" {
			return nil, fmt.Errorf("plan at index %d missing name", i)
		}
		daily, err := decimal.NewFromString(pc.DailyReturn)
		if err != nil {
			return nil, fmt.Errorf("plan %s: invalid daily_return: %w", pc.Name, err)
		}
		minAmount, err := decimal.NewFromString(pc.MinAmount)
		if err != nil {
			return nil, fmt.Errorf("plan %s: invalid min_amount: %w", pc.Name, err)
		}
		maxAmount, err := decimal.NewFromString(pc.MaxAmount)
		if err != nil {
			return nil, fmt.Errorf("plan %s: invalid max_amount: %w", pc.Name, err)
		}
		if maxAmount.LessThan(minAmount) {
			return nil, fmt.Errorf("plan %s: max_amount below min_amount", pc.Name)
		}
		if pc.Locked && pc.DurationHours <= 0 {
			return nil, fmt.Errorf("plan %s: locked plans need duration_hours", pc.Name)
		}
		plans = append(plans, models.Plan{
			Name:          pc.Name,
			DailyReturn:   daily,
			DurationHours: pc.DurationHours,
			MinAmount:     minAmount,
			MaxAmount:     maxAmount,
			Locked:        pc.Locked,
			Active:        true,
			SortOrder:     pc.SortOrder,
		})
	}
	return plans, nil
}
