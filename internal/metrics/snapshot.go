package metrics

import "encoding/json"

// SnapshotType is the fixed "type" value of an encoded snapshot.
const SnapshotType = "SNAPSHOT"

// Snapshot is a named, timestamped group of properties tied to a parent event
// through its tracking id.
type Snapshot struct {
	name       string
	timeUsec   int64
	parentID   string
	category   string
	properties []Property
}

// SnapshotOption sets one of the optional snapshot fields.
type SnapshotOption func(*Snapshot)

// WithParentID links the snapshot to the tracking id of its parent event.
func WithParentID(id string) SnapshotOption {
	return func(s *Snapshot) { s.parentID = id }
}

// WithCategory sets the snapshot category.
func WithCategory(category string) SnapshotOption {
	return func(s *Snapshot) { s.category = category }
}

// WithProperties seeds the property list. An empty, non-nil slice still
// counts as set and is encoded as an empty array.
func WithProperties(props ...Property) SnapshotOption {
	return func(s *Snapshot) {
		s.properties = append(make([]Property, 0, len(props)), props...)
	}
}

// NewSnapshot returns a snapshot named name taken at timeUsec microseconds
// since the Unix epoch.
func NewSnapshot(name string, timeUsec int64, opts ...SnapshotOption) *Snapshot {
	s := &Snapshot{name: name, timeUsec: timeUsec}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddProperty appends a property, creating the list on first use.
func (s *Snapshot) AddProperty(name string, value any, propertyType string) {
	s.properties = append(s.properties, NewProperty(name, value, propertyType))
}

// Name returns the snapshot name.
func (s *Snapshot) Name() string { return s.name }

// TimeUsec returns the snapshot timestamp in microseconds.
func (s *Snapshot) TimeUsec() int64 { return s.timeUsec }

// ParentID returns the parent tracking id, or "" when unset.
func (s *Snapshot) ParentID() string { return s.parentID }

// Category returns the category, or "" when unset.
func (s *Snapshot) Category() string { return s.category }

// Properties returns a copy of the property list. It is nil when no property
// list was ever set.
func (s *Snapshot) Properties() []Property {
	if s.properties == nil {
		return nil
	}
	return append([]Property(nil), s.properties...)
}

// MarshalJSON renders the snapshot with only the optional keys that were set.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	values := map[string]any{
		"name":      s.name,
		"time-usec": s.timeUsec,
		"type":      SnapshotType,
	}
	if s.parentID != "" {
		values["parent-id"] = s.parentID
	}
	if s.category != "" {
		values["category"] = s.category
	}
	if s.properties != nil {
		values["properties"] = s.properties
	}
	return json.Marshal(values)
}
