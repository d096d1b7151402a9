package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Rule binds a platform code to the keywords and URL patterns that identify
// it. Rules are evaluated in slice order; the first match wins, so the order
// of the rule set is part of the configuration contract.
type Rule struct {
	Code     string   `json:"code"`
	Keywords []string `json:"keywords"`
	Patterns []string `json:"patterns"`
}

type compiledRule struct {
	code     string
	keywords []string
	patterns []*regexp.Regexp
}

// Classifier resolves inbound message text to a platform code.
type Classifier struct {
	rules []compiledRule
}

// New compiles an ordered rule set. Keywords are matched case-insensitively
// as substrings before any pattern is tried for that rule.
func New(rules []Rule) (*Classifier, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Code == "" {
			return nil, fmt.Errorf("classifier rule with empty platform code")
		}
		cr := compiledRule{code: r.Code}
		for _, kw := range r.Keywords {
			cr.keywords = append(cr.keywords, strings.ToLower(kw))
		}
		for _, p := range r.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("classifier rule %q: bad pattern %q: %w", r.Code, p, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		compiled = append(compiled, cr)
	}
	return &Classifier{rules: compiled}, nil
}

// Load builds a classifier from a JSON rules file, or from the built-in
// default table when path is empty.
func Load(path string) (*Classifier, error) {
	if path == "" {
		return New(DefaultRules())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier rules: %w", err)
	}
	var rules []Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse classifier rules: %w", err)
	}
	return New(rules)
}

// Classify returns the code of the first rule matching text, in rule order.
// The second return is false when no rule matches.
func (c *Classifier) Classify(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.code, true
			}
		}
		for _, re := range r.patterns {
			if re.MatchString(text) {
				return r.code, true
			}
		}
	}
	return "", false
}

// Codes returns the platform codes in evaluation order.
func (c *Classifier) Codes() []string {
	out := make([]string, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.code
	}
	return out
}
