// Package metrics models the point-in-time measurements that can be attached
// to a jKool event: named, typed properties grouped into snapshots.
package metrics

import "encoding/json"

// Property is a single named, typed value inside a Snapshot. It is immutable
// once constructed.
type Property struct {
	name         string
	value        any
	propertyType string
}

// NewProperty returns a property holding value under name. propertyType is
// the collector-side type label (for example "string", "integer", "decimal").
func NewProperty(name string, value any, propertyType string) Property {
	return Property{name: name, value: value, propertyType: propertyType}
}

// Name returns the property name.
func (p Property) Name() string { return p.name }

// Value returns the property value.
func (p Property) Value() any { return p.value }

// Type returns the property type label.
func (p Property) Type() string { return p.propertyType }

// MarshalJSON renders the property as {"name","value","type"}.
func (p Property) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
		Type  string `json:"type"`
	}{p.name, p.value, p.propertyType})
}
