package heuristic

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

type ClassificationRule struct {
	Type     string   `yaml:"type"`
	Patterns []string `yaml:"patterns"`
}

type TagKeyword struct {
	Match string `yaml:"match"`
	Tag   string `yaml:"tag"`
}

// Rules holds the data tables of the heuristic classifier.
type Rules struct {
	Classifications []ClassificationRule `yaml:"classifications"`
	Subjects        []string             `yaml:"subjects"`
	TagKeywords     []TagKeyword         `yaml:"tag_keywords"`
}

func DefaultRules() Rules {
	rules, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("heuristic: embedded rules are invalid: %v", err))
	}
	return rules
}

// LoadRules reads a rules file; an empty path yields the embedded defaults.
func LoadRules(path string) (Rules, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read heuristic rules: %w", err)
	}
	return ParseRules(raw)
}

func ParseRules(raw []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse heuristic rules: %w", err)
	}
	if err := rules.validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r Rules) validate() error {
	if len(r.Classifications) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "validate heuristic rules", fmt.Errorf("no classification rules"))
	}
	for idx, rule := range r.Classifications {
		docType := domain.ParseDocType(rule.Type)
		if docType == domain.DocTypeOther {
			return domain.WrapError(domain.ErrInvalidInput, "validate heuristic rules", fmt.Errorf("rule %d: unknown type %q", idx, rule.Type))
		}
		if len(rule.Patterns) == 0 {
			return domain.WrapError(domain.ErrInvalidInput, "validate heuristic rules", fmt.Errorf("rule %d: no patterns", idx))
		}
	}
	for idx, kw := range r.TagKeywords {
		if strings.TrimSpace(kw.Match) == "" {
			return domain.WrapError(domain.ErrInvalidInput, "validate heuristic rules", fmt.Errorf("tag keyword %d: empty match", idx))
		}
	}
	return nil
}

type compiledRule struct {
	docType  domain.DocType
	patterns []string
}

type compiledKeyword struct {
	re  *regexp.Regexp
	tag string
}

type compiledSubject struct {
	re   *regexp.Regexp
	name string
}

func (r Rules) compile() ([]compiledRule, []compiledSubject, []compiledKeyword) {
	classRules := make([]compiledRule, 0, len(r.Classifications))
	for _, rule := range r.Classifications {
		patterns := make([]string, 0, len(rule.Patterns))
		for _, p := range rule.Patterns {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				patterns = append(patterns, p)
			}
		}
		classRules = append(classRules, compiledRule{docType: domain.ParseDocType(rule.Type), patterns: patterns})
	}

	subjects := make([]compiledSubject, 0, len(r.Subjects))
	for _, s := range r.Subjects {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		subjects = append(subjects, compiledSubject{re: wordPattern(s), name: s})
	}

	keywords := make([]compiledKeyword, 0, len(r.TagKeywords))
	for _, kw := range r.TagKeywords {
		match := strings.ToLower(strings.TrimSpace(kw.Match))
		tag := strings.TrimSpace(kw.Tag)
		if tag == "" {
			tag = match
		}
		keywords = append(keywords, compiledKeyword{re: wordPattern(match), tag: tag})
	}
	return classRules, subjects, keywords
}

func wordPattern(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
}
