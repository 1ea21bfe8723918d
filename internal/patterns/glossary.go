package patterns

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Glossary extends the built-in keyword lists with team vocabulary:
//
//	blocking: ["launch stopper", "showstopper"]
//	negative: ["block editor"]
type Glossary struct {
	Blocking []string `yaml:"blocking"`
	Negative []string `yaml:"negative"`
}

func LoadGlossary(path string) (*Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read glossary: %w", err)
	}
	var g Glossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse glossary yaml: %w", err)
	}
	return &g, nil
}

// Apply adds the glossary phrases to opts on top of the default lists.
func (g *Glossary) Apply(opts Options) Options {
	if g == nil {
		return opts
	}
	if len(g.Blocking) > 0 {
		base := opts.BlockingKeywords
		if len(base) == 0 {
			base = DefaultBlockingKeywords
		}
		opts.BlockingKeywords = mergePhrases(base, g.Blocking)
	}
	if len(g.Negative) > 0 {
		base := opts.NegativeKeywords
		if len(base) == 0 {
			base = DefaultNegativeKeywords
		}
		opts.NegativeKeywords = mergePhrases(base, g.Negative)
	}
	return opts
}

func mergePhrases(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, p := range list {
			key := strings.ToLower(strings.TrimSpace(p))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, p)
		}
	}
	return out
}
