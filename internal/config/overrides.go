package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/redteamingai/proxy/internal/pricing"
	"github.com/redteamingai/proxy/internal/scanner"
)

// PricingOverrideFile is the expected basename of the pricing override
// file inside the watched config directory.
const PricingOverrideFile = "pricing.yaml"

// InjectionDictionaryOverrideFile is the expected basename of the
// injection-phrase supplement file inside the watched config directory.
const InjectionDictionaryOverrideFile = "injection_dictionary.yaml"

// pricingOverrideDoc is the on-disk shape of pricing.yaml: a flat map of
// model name to {input, output} per-token USD rates.
type pricingOverrideDoc struct {
	Models map[string]struct {
		Input  float64 `yaml:"input"`
		Output float64 `yaml:"output"`
	} `yaml:"models"`
}

// injectionDictionaryDoc is the on-disk shape of injection_dictionary.yaml:
// a flat list of additional phrases to check for, on top of the built-in
// dictionary.
type injectionDictionaryDoc struct {
	Phrases []string `yaml:"phrases"`
}

// LoadPricingOverrides reads path and applies it via pricing.SetOverrides.
// A missing file is not an error — it simply means no overrides are active
// yet; pricing.SetOverrides(nil) is called so any stale rate overrides are
// cleared.
func LoadPricingOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			pricing.SetOverrides(nil)
			return nil
		}
		return fmt.Errorf("config: reading pricing override %s: %w", path, err)
	}

	var doc pricingOverrideDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: parsing pricing override %s: %w", path, err)
	}

	rates := make(map[string]pricing.Rate, len(doc.Models))
	for model, r := range doc.Models {
		rates[model] = pricing.Rate{Input: r.Input, Output: r.Output}
	}
	pricing.SetOverrides(rates)
	return nil
}

// LoadInjectionDictionaryOverrides reads path and applies it via
// scanner.SetExtraPhrases. A missing file clears any stale supplement.
func LoadInjectionDictionaryOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			scanner.SetExtraPhrases(nil)
			return nil
		}
		return fmt.Errorf("config: reading injection dictionary override %s: %w", path, err)
	}

	var doc injectionDictionaryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: parsing injection dictionary override %s: %w", path, err)
	}
	scanner.SetExtraPhrases(doc.Phrases)
	return nil
}
