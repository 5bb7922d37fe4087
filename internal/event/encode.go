package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Encode renders r as a UTF-8 JSON object.
//
// The reserved fields operation, type, time-usec, msg-text and severity are
// written first; tags are merged afterwards under their hyphenated names and
// overwrite a reserved field of the same name. time-usec is the creation time
// truncated to whole seconds, expressed in microseconds. Snapshot and Property
// values encode to their object forms wherever they appear.
func Encode(r Record) ([]byte, error) {
	created := r.Created
	if created.IsZero() {
		created = time.Now()
	}

	payload := make(map[string]any, 5+len(r.Tags))
	payload["operation"] = r.Name
	payload["type"] = EventType
	payload["time-usec"] = created.Unix() * 1_000_000
	payload["msg-text"] = r.Message
	payload["severity"] = SeverityName(r.Level)

	for _, tag := range r.Tags {
		payload[FieldName(tag.Name)] = tag.Value
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event: encode %q: %w", r.Name, err)
	}
	return data, nil
}
