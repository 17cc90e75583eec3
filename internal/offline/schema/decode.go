package schema

import (
	"encoding/json"
	"fmt"
)

// DecodeRecord turns one remote document into a Record.
func DecodeRecord(data json.RawMessage) (*Record, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return FromDocument(doc)
}

// DecodeRecords turns a remote array of documents into Records.
func DecodeRecords(data json.RawMessage) ([]*Record, error) {
	var docs []map[string]any
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode record list: %w", err)
	}
	records := make([]*Record, 0, len(docs))
	for i, doc := range docs {
		rec, err := FromDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
