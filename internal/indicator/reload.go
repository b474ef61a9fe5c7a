package indicator

import (
	"fmt"
	"log"
)

// ReloadConfigs swaps in a new configuration while keeping accumulated
// state wherever the indicator survives the change: identical TFs keep
// their instances untouched, changed TFs migrate instance-by-instance,
// and brand-new TFs cold-start. Returns how many market states were
// preserved and how many slots will need a backfill.
//
// newConfigs must already be validated (ValidateConfigs) — the admin API
// and the PubSub reload path both validate before calling.
func (e *Engine) ReloadConfigs(newConfigs []TFIndicatorConfig) (preserved, created int) {
	oldCfg := make(map[int]TFIndicatorConfig, len(e.tfConfigs))
	oldSets := make(map[int]map[string]*indicatorSet, len(e.tfConfigs))
	for i, cfg := range e.tfConfigs {
		oldCfg[cfg.TF] = cfg
		oldSets[cfg.TF] = e.byTF[i]
	}

	nextByTF := make([]map[string]*indicatorSet, len(newConfigs))
	for i, next := range newConfigs {
		prev, tfKnown := oldCfg[next.TF]
		prevSets := oldSets[next.TF]

		switch {
		case !tfKnown || prevSets == nil:
			nextByTF[i] = make(map[string]*indicatorSet, 64)
			created++
			log.Printf("[reload] TF=%d: new timeframe, cold-starting", next.TF)

		case sameIndicatorSet(prev.Indicators, next.Indicators):
			nextByTF[i] = prevSets
			preserved += len(prevSets)
			log.Printf("[reload] TF=%d: unchanged, preserved %d market states", next.TF, len(prevSets))

		default:
			moved := make(map[string]*indicatorSet, len(prevSets))
			for marketKey, old := range prevSets {
				moved[marketKey] = old.migrate(next.Indicators)
				preserved++
			}
			nextByTF[i] = moved
			created++ // the added indicators need backfill
			log.Printf("[reload] TF=%d: migrated %d market states (added new indicators)", next.TF, len(moved))
		}
	}

	e.tfConfigs = newConfigs
	e.byTF = nextByTF
	e.tfSlot = make(map[int]int, len(newConfigs))
	for i, cfg := range newConfigs {
		e.tfSlot[cfg.TF] = i
	}

	log.Printf("[reload] ✅ config reloaded: %d configs, %d preserved, %d new",
		len(newConfigs), preserved, created)

	return preserved, created
}

// migrate carries live instances forward into a changed config, matching by
// display name so accumulated warmup survives. Dropped indicators are left
// behind; additions start fresh.
func (old *indicatorSet) migrate(next []IndicatorConfig) *indicatorSet {
	keep := make(map[string]Indicator, len(old.inds))
	for i, spec := range old.specs {
		keep[spec.DisplayName()] = old.inds[i]
	}

	out := &indicatorSet{
		inds:  make([]Indicator, 0, len(next)),
		specs: make([]IndicatorConfig, 0, len(next)),
	}
	for _, spec := range next {
		ind, ok := keep[spec.DisplayName()]
		if !ok {
			var err error
			ind, err = buildIndicator(spec)
			if err != nil {
				log.Printf("[reload] WARNING: skipping invalid indicator %s: %v", spec.DisplayName(), err)
				continue
			}
		}
		out.inds = append(out.inds, ind)
		out.specs = append(out.specs, spec)
	}
	return out
}

// sameIndicatorSet reports whether two config slices name the same
// indicators, order-independent.
func sameIndicatorSet(a, b []IndicatorConfig) bool {
	if len(a) != len(b) {
		return false
	}
	names := make(map[string]bool, len(a))
	for _, ic := range a {
		names[ic.DisplayName()] = true
	}
	for _, ic := range b {
		if !names[ic.DisplayName()] {
			return false
		}
	}
	return true
}

// ValidateConfigs checks a set of TFIndicatorConfigs for errors.
// Every indicator is constructed once as validation, so the checks can
// never diverge from what the constructors actually enforce.
func ValidateConfigs(configs []TFIndicatorConfig) error {
	seen := make(map[int]bool)
	for _, cfg := range configs {
		if cfg.TF <= 0 {
			return fmt.Errorf("invalid TF=%d: must be positive", cfg.TF)
		}
		if seen[cfg.TF] {
			return fmt.Errorf("duplicate TF=%d", cfg.TF)
		}
		seen[cfg.TF] = true

		for _, ind := range cfg.Indicators {
			if _, err := buildIndicator(ind); err != nil {
				return fmt.Errorf("TF=%d: %w", cfg.TF, err)
			}
		}
	}
	return nil
}
