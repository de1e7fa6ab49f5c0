package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"ladder-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// strategyFile 是策略参数文件的格式。数值用字符串书写以保留精度,
// expires_in 是相对创建时间的有效期, e.g. "24h"。
type strategyFile struct {
	MakerAsset     string `yaml:"maker_asset"`
	TakerAsset     string `yaml:"taker_asset"`
	StrategyType   string `yaml:"strategy_type"`
	StartPrice     string `yaml:"start_price"`
	SpacingPercent string `yaml:"spacing_percent"`
	OrderSize      string `yaml:"order_size"`
	SizeUnit       string `yaml:"size_unit"`
	NumOrders      int    `yaml:"num_orders"`
	RepostMode     string `yaml:"repost_mode"`
	Budget         string `yaml:"budget"`
	StopLoss       string `yaml:"stop_loss"`
	TakeProfit     string `yaml:"take_profit"`
	ExpiresIn      string `yaml:"expires_in"`
	FlipToSell     bool   `yaml:"flip_to_sell"`
	FlipPercentage string `yaml:"flip_percentage"`
}

func loadStrategyFile(path string, now time.Time) (models.StrategyParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.StrategyParams{}, err
	}
	var f strategyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return models.StrategyParams{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return f.params(now)
}

func (f strategyFile) params(now time.Time) (models.StrategyParams, error) {
	p := models.StrategyParams{
		MakerAsset:   f.MakerAsset,
		TakerAsset:   f.TakerAsset,
		StrategyType: models.StrategyType(strings.ToUpper(f.StrategyType)),
		SizeUnit:     models.SizeUnit(strings.ToUpper(f.SizeUnit)),
		NumOrders:    f.NumOrders,
		RepostMode:   models.RepostMode(strings.ToUpper(f.RepostMode)),
		FlipToSell:   f.FlipToSell,
	}
	fields := []struct {
		name     string
		raw      string
		dst      *decimal.Decimal
		required bool
	}{
		{"start_price", f.StartPrice, &p.StartPrice, true},
		{"spacing_percent", f.SpacingPercent, &p.SpacingPercent, true},
		{"order_size", f.OrderSize, &p.OrderSize, true},
		{"budget", f.Budget, &p.Budget, true},
		{"stop_loss", f.StopLoss, &p.StopLoss, false},
		{"take_profit", f.TakeProfit, &p.TakeProfit, false},
		{"flip_percentage", f.FlipPercentage, &p.FlipPercentage, false},
	}
	for _, fd := range fields {
		if fd.raw == "" {
			if fd.required {
				return p, fmt.Errorf("%s is required", fd.name)
			}
			*fd.dst = decimal.Zero
			continue
		}
		v, err := decimal.NewFromString(fd.raw)
		if err != nil {
			return p, fmt.Errorf("%s: %w", fd.name, err)
		}
		*fd.dst = v
	}

	if f.ExpiresIn == "" {
		return p, fmt.Errorf("expires_in is required")
	}
	ttl, err := time.ParseDuration(f.ExpiresIn)
	if err != nil {
		return p, fmt.Errorf("expires_in: %w", err)
	}
	p.ExpiryTime = now.Add(ttl)
	return p, nil
}
