// pkg/utils/yaml.go - utility functions for working with YAML.

package utils

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// LiteralString marshals as a literal block scalar so multi-line text stays
// readable in YAML output.
type LiteralString string

// MarshalYAML implements the yaml.Marshaler interface.
func (ls LiteralString) MarshalYAML() (interface{}, error) {
	if ls == "" {
		return "", nil
	}
	return &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!str",
		Value: string(ls),
		Style: yaml.LiteralStyle,
	}, nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (ls *LiteralString) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("cannot unmarshal %v into LiteralString", node.Kind)
	}
	*ls = LiteralString(node.Value)
	return nil
}
