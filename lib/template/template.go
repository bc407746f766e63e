// Package template models a synthesized CloudFormation template: the logical
// resource map, the outputs, and the serialized body submitted for stack creation.
package template

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	TypeFunction = "AWS::Lambda::Function"
	TypeLayer    = "AWS::Lambda::LayerVersion"
	TypeLogGroup = "AWS::Logs::LogGroup"

	TypeWaitConditionHandle = "AWS::CloudFormation::WaitConditionHandle"
)

// Resource is a single logical resource of the template.
type Resource struct {
	Type       string         `json:"Type"`
	Properties map[string]any `json:"Properties,omitempty"`
}

// Output is a stack output declaration.
type Output struct {
	Description string `json:"Description,omitempty"`
	Value       any    `json:"Value"`
}

// Template is built once per deploy and not changed afterwards.
type Template struct {
	Resources map[string]Resource
	Outputs   map[string]Output

	raw map[string]any
}

type document struct {
	Resources map[string]Resource `json:"Resources"`
	Outputs   map[string]Output   `json:"Outputs"`
}

// Parse decodes a JSON template document.
func Parse(data []byte) (*Template, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding template: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding template resources: %w", err)
	}
	if doc.Resources == nil {
		doc.Resources = map[string]Resource{}
	}
	if doc.Outputs == nil {
		doc.Outputs = map[string]Output{}
	}
	return &Template{Resources: doc.Resources, Outputs: doc.Outputs, raw: raw}, nil
}

// FromValue converts the in-memory template an assembly artifact returns.
func FromValue(v any) (*Template, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding template: %w", err)
	}
	return Parse(data)
}

// Body renders the template as YAML.
func (t *Template) Body() (string, error) {
	out, err := yaml.Marshal(t.raw)
	if err != nil {
		return "", fmt.Errorf("encoding template body: %w", err)
	}
	return string(out), nil
}

// ResourcesOfType returns the sorted logical ids of resources with the given type.
func (t *Template) ResourcesOfType(resourceType string) []string {
	ids := lo.Filter(lo.Keys(t.Resources), func(id string, _ int) bool {
		return t.Resources[id].Type == resourceType
	})
	sort.Strings(ids)
	return ids
}

// FunctionResources returns the logical ids of every Lambda function.
func (t *Template) FunctionResources() []string {
	return t.ResourcesOfType(TypeFunction)
}

// OutputKeys returns the sorted output keys.
func (t *Template) OutputKeys() []string {
	keys := lo.Keys(t.Outputs)
	sort.Strings(keys)
	return keys
}
