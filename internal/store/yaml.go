package store

import (
	"encoding/json"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/solatis/crawlgate/internal/types"
)

// ErrInvalidRuleFile is returned for YAML that is not a rule file.
var ErrInvalidRuleFile = errors.New("invalid rule file")

// ruleFile is the authoring format:
//
//	publisherId: pub-1
//	rules:
//	  - name: gpt standard
//	    priority: 100
//	    conditions:
//	      - {type: bot_id, operator: contains, value: GPT}
//	    actions:
//	      - {type: set_price, value: 0.05, parameters: {currency: USD}}
//
// A bare list of rules is also accepted. Rules inherit the file's
// publisherId and default to isActive: true.
type ruleFile struct {
	PublisherID string `yaml:"publisherId"`
	Rules       []any  `yaml:"rules"`
}

// LoadYAMLFile reads rules from a YAML file.
func LoadYAMLFile(path string) ([]types.PricingRule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open rule file")
	}
	defer f.Close()

	rules, err := LoadYAML(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return rules, nil
}

// LoadYAML decodes a rule file. Each rule is re-encoded as JSON and decoded
// through the same path as stored rules, so enum tokens and scalar values
// behave identically in both sources.
func LoadYAML(r io.Reader) ([]types.PricingRule, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []types.PricingRule{}, nil
		}
		return nil, errors.Wrap(err, "parse yaml")
	}

	var file ruleFile
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&file.Rules); err != nil {
			return nil, errors.Wrap(err, "decode rules")
		}
	case yaml.MappingNode:
		if err := root.Decode(&file); err != nil {
			return nil, errors.Wrap(err, "decode rule file")
		}
	default:
		return nil, errors.Wrap(ErrInvalidRuleFile, "expected a mapping or a list of rules")
	}

	out := make([]types.PricingRule, 0, len(file.Rules))
	for i, raw := range file.Rules {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidRuleFile, "rule %d is not a mapping", i)
		}
		if _, set := m["publisherId"]; !set && file.PublisherID != "" {
			m["publisherId"] = file.PublisherID
		}
		if _, set := m["isActive"]; !set {
			m["isActive"] = true
		}

		b, err := json.Marshal(m)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %d", i)
		}
		var rule types.PricingRule
		if err := json.Unmarshal(b, &rule); err != nil {
			return nil, errors.Wrapf(err, "rule %d", i)
		}
		out = append(out, rule)
	}
	return out, nil
}
