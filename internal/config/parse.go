package config

import (
	"log"
	"strconv"
	"strings"

	"crypto-systemv1/internal/indicator"
)

// DefaultExchange is assumed when a market spec carries no exchange prefix.
const DefaultExchange = "BINANCE"

// ParseTFs parses a comma-separated list of timeframe lengths in seconds,
// e.g. "60,300,900". Invalid or non-positive entries are skipped.
func ParseTFs(s string) []int {
	parts := strings.Split(s, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

// ParseMarkets parses "EXCHANGE:SYMBOL,..." into "exchange:symbol" keys.
// A bare symbol gets the default exchange: "BTCUSDT" → "BINANCE:BTCUSDT".
func ParseMarkets(s string) []string {
	if s == "" {
		return nil
	}
	var keys []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.SplitN(part, ":", 2)
		if len(tokens) == 1 {
			keys = append(keys, DefaultExchange+":"+strings.ToUpper(tokens[0]))
			continue
		}
		ex := strings.ToUpper(strings.TrimSpace(tokens[0]))
		sym := strings.ToUpper(strings.TrimSpace(tokens[1]))
		if ex == "" || sym == "" {
			continue
		}
		keys = append(keys, ex+":"+sym)
	}
	return keys
}

// Symbols extracts the symbol part of each "exchange:symbol" key.
func Symbols(marketKeys []string) []string {
	syms := make([]string, 0, len(marketKeys))
	for _, k := range marketKeys {
		if i := strings.IndexByte(k, ':'); i >= 0 {
			syms = append(syms, k[i+1:])
		} else {
			syms = append(syms, k)
		}
	}
	return syms
}

// ParseIndicatorSpecs parses "TYPE:PERIOD[:PERIOD2],..." into indicator
// configs. Two-parameter types take both numbers: "EWO:5:35" is a 5/35
// oscillator, "STOCHRSI:14:14" is RSI period then stochastic window.
// Returns defaults if input is empty.
func ParseIndicatorSpecs(s string) []indicator.IndicatorConfig {
	if s == "" {
		return []indicator.IndicatorConfig{
			{Type: "SMA", Period: 20},
			{Type: "SMA", Period: 50},
			{Type: "EMA", Period: 9},
			{Type: "EMA", Period: 21},
			{Type: "RSI", Period: 14},
			{Type: "ATR", Period: 14},
			{Type: "EWO", Period: 5, Period2: 35},
			{Type: "STOCHRSI", Period: 14, Period2: 14},
		}
	}

	var configs []indicator.IndicatorConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.Split(part, ":")
		if len(tokens) < 2 || len(tokens) > 3 {
			log.Printf("[config] skipping invalid indicator spec: %q", part)
			continue
		}
		typ := strings.ToUpper(strings.TrimSpace(tokens[0]))
		period, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
		if err != nil || period <= 0 {
			log.Printf("[config] skipping invalid indicator spec: %q", part)
			continue
		}
		cfg := indicator.IndicatorConfig{Type: typ, Period: period}
		if len(tokens) == 3 {
			p2, err := strconv.Atoi(strings.TrimSpace(tokens[2]))
			if err != nil || p2 <= 0 {
				log.Printf("[config] skipping invalid indicator spec: %q", part)
				continue
			}
			cfg.Period2 = p2
		}
		configs = append(configs, cfg)
	}
	if len(configs) == 0 {
		log.Println("[config] WARNING: no valid indicators parsed, using defaults")
		return ParseIndicatorSpecs("")
	}
	log.Printf("[config] loaded %d indicator specs", len(configs))
	return configs
}

// BuildTFConfigs pairs every timeframe with the same indicator set.
func BuildTFConfigs(tfs []int, specs []indicator.IndicatorConfig) []indicator.TFIndicatorConfig {
	configs := make([]indicator.TFIndicatorConfig, len(tfs))
	for i, tf := range tfs {
		configs[i] = indicator.TFIndicatorConfig{TF: tf, Indicators: specs}
	}
	return configs
}
