package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// MatchStyle is how an ArchitectureRule's Pattern is compared.
type MatchStyle string

const (
	MatchExact    MatchStyle = "exact"
	MatchPrefix   MatchStyle = "prefix"
	MatchSuffix   MatchStyle = "suffix"
	MatchWildcard MatchStyle = "wildcard"
)

// ArchitectureRule maps a config.json architectures[] entry to a type.
type ArchitectureRule struct {
	Pattern  string
	Style    MatchStyle
	Priority int
	Type     models.ModelType
}

// ConfigRule maps an exact config.json model_type value to a type.
type ConfigRule struct {
	ModelType string
	Type      models.ModelType
}

func (r ArchitectureRule) matches(arch string) bool {
	switch r.Style {
	case MatchExact:
		return arch == r.Pattern
	case MatchPrefix:
		return strings.HasPrefix(arch, r.Pattern)
	case MatchSuffix:
		return strings.HasSuffix(arch, r.Pattern)
	case MatchWildcard:
		ok, _ := filepath.Match(r.Pattern, arch)
		return ok
	default:
		return false
	}
}

// modelConfig is the subset of config.json the resolver consults.
type modelConfig struct {
	Architectures []string `json:"architectures"`
	ModelType     string   `json:"model_type"`
}

// ResolutionResult carries the resolved type, its confidence, the source
// tag used for diagnostics, and any review reasons (§4.2).
type ResolutionResult struct {
	Type           models.ModelType
	Confidence     float64
	Source         string
	ReviewReasons  []string
	NeedsReview    bool
}

// MediumSignal is an additional, lower-weight vote (pipeline-tag hint,
// hub-supplied type) that can corroborate or contradict the hard signals.
type MediumSignal struct {
	Type   models.ModelType
	Agrees bool
}

// ResolveModelType runs the §4.2 scoring algorithm against a model
// directory's config.json, using rule tables owned by the search index.
func ResolveModelType(ctx context.Context, rules RuleSource, modelDir string, medium []MediumSignal) (ResolutionResult, error) {
	cfg, err := readModelConfig(modelDir)
	if err != nil {
		// Missing/unreadable config.json just means no hard signals.
		cfg = &modelConfig{}
	}

	archRules, err := rules.ArchitectureRules(ctx)
	if err != nil {
		return ResolutionResult{}, err
	}
	cfgRules, err := rules.ConfigModelTypeRules(ctx)
	if err != nil {
		return ResolutionResult{}, err
	}

	votes := map[models.ModelType]bool{}
	hardSignalCount := 0

	for _, arch := range cfg.Architectures {
		if t, ok := bestArchMatch(archRules, arch); ok {
			votes[t] = true
			hardSignalCount++
		}
	}
	if cfg.ModelType != "" {
		for _, r := range cfgRules {
			if r.ModelType == cfg.ModelType {
				votes[r.Type] = true
				hardSignalCount++
				break
			}
		}
	}

	if len(votes) >= 2 {
		return ResolutionResult{
			Type: models.Unknown, Confidence: 0, Source: "hard-conflict",
			ReviewReasons: []string{"model-type-conflict"}, NeedsReview: true,
		}, nil
	}
	if len(votes) == 0 {
		return ResolutionResult{Type: models.Unknown, Confidence: 0, Source: "unresolved"}, nil
	}

	var resolved models.ModelType
	for t := range votes {
		resolved = t
	}

	score := 0.70
	if hardSignalCount >= 2 {
		score += 0.20
	}
	for _, m := range medium {
		if m.Type != resolved {
			continue
		}
		if m.Agrees {
			score += 0.10
		} else {
			score -= 0.20
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	res := ResolutionResult{Type: resolved, Confidence: score, Source: "resolved"}
	if score < 0.60 {
		res.Type = models.Unknown
		res.Source = "low-confidence"
	}
	if score >= 0.60 && score < 0.85 {
		res.NeedsReview = true
		res.ReviewReasons = append(res.ReviewReasons, "model-type-low-confidence")
	}
	return res, nil
}

// bestArchMatch applies the §4.2 tie-break: priority, then longer
// pattern, then lexical order.
func bestArchMatch(rules []ArchitectureRule, arch string) (models.ModelType, bool) {
	var candidates []ArchitectureRule
	for _, r := range rules {
		if r.matches(arch) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if len(a.Pattern) != len(b.Pattern) {
			return len(a.Pattern) > len(b.Pattern)
		}
		return a.Pattern < b.Pattern
	})
	return candidates[0].Type, true
}

func readModelConfig(modelDir string) (*modelConfig, error) {
	b, err := os.ReadFile(filepath.Join(modelDir, "config.json"))
	if err != nil {
		return nil, err
	}
	var cfg modelConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
