package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Content is the in-memory form of a collection. Records is used by map
// collections and Entries by sequence collections.
type Content struct {
	Shape   Shape
	Records map[string]json.RawMessage
	Entries []json.RawMessage
}

// Empty returns the default content for shape.
func Empty(shape Shape) Content {
	if shape == ShapeSequence {
		return Content{Shape: ShapeSequence, Entries: []json.RawMessage{}}
	}
	return Content{Shape: ShapeMap, Records: map[string]json.RawMessage{}}
}

// Clone deep-copies c so a transaction callback can mutate it freely.
func (c Content) Clone() Content {
	out := Content{Shape: c.Shape}
	if c.Records != nil {
		out.Records = make(map[string]json.RawMessage, len(c.Records))
		for k, v := range c.Records {
			out.Records[k] = append(json.RawMessage(nil), v...)
		}
	}
	if c.Entries != nil {
		out.Entries = make([]json.RawMessage, len(c.Entries))
		for i, v := range c.Entries {
			out.Entries[i] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func (c Content) Len() int {
	if c.Shape == ShapeSequence {
		return len(c.Entries)
	}
	return len(c.Records)
}

// Keys returns the record keys in sorted order.
func (c Content) Keys() []string {
	keys := make([]string, 0, len(c.Records))
	for k := range c.Records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalize fills a nil container and rejects content of the wrong shape.
func (c Content) normalize(shape Shape) (Content, error) {
	if c.Shape == "" {
		c.Shape = shape
	}
	if c.Shape != shape {
		return Content{}, fmt.Errorf("shape %s does not match schema shape %s", c.Shape, shape)
	}
	switch shape {
	case ShapeMap:
		if len(c.Entries) > 0 {
			return Content{}, fmt.Errorf("map collection carries sequence entries")
		}
		c.Entries = nil
		if c.Records == nil {
			c.Records = map[string]json.RawMessage{}
		}
	case ShapeSequence:
		if len(c.Records) > 0 {
			return Content{}, fmt.Errorf("sequence collection carries map records")
		}
		c.Records = nil
		if c.Entries == nil {
			c.Entries = []json.RawMessage{}
		}
	}
	return c, nil
}

// encode renders the on-disk document: a JSON object for maps and a JSON
// array for sequences.
func (c Content) encode() ([]byte, error) {
	var v any = c.Records
	if c.Shape == ShapeSequence {
		v = c.Entries
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func decodeContent(shape Shape, b []byte) (Content, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return Empty(shape), nil
	}
	out := Empty(shape)
	var err error
	if shape == ShapeSequence {
		err = json.Unmarshal(b, &out.Entries)
	} else {
		err = json.Unmarshal(b, &out.Records)
	}
	if err != nil {
		return Content{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out.normalize(shape)
}

// GetRecord decodes the record stored under key.
func GetRecord[T any](c Content, key string) (T, bool, error) {
	var v T
	raw, ok := c.Records[key]
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, true, fmt.Errorf("decode record %q: %w", key, err)
	}
	return v, true, nil
}

// SetRecord encodes v and stores it under key.
func SetRecord[T any](c *Content, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %q: %w", key, err)
	}
	if c.Records == nil {
		c.Records = map[string]json.RawMessage{}
	}
	c.Records[key] = raw
	return nil
}

// DeleteRecord removes key and reports whether it was present.
func DeleteRecord(c *Content, key string) bool {
	if _, ok := c.Records[key]; !ok {
		return false
	}
	delete(c.Records, key)
	return true
}

// DecodeRecords decodes every record of a map collection.
func DecodeRecords[T any](c Content) (map[string]T, error) {
	out := make(map[string]T, len(c.Records))
	for k, raw := range c.Records {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode record %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// AppendEntry encodes v and appends it to a sequence collection.
func AppendEntry[T any](c *Content, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	c.Entries = append(c.Entries, raw)
	return nil
}

// DecodeEntries decodes a sequence collection in order.
func DecodeEntries[T any](c Content) ([]T, error) {
	out := make([]T, 0, len(c.Entries))
	for i, raw := range c.Entries {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
