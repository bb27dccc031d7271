package value

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalJSON implements json.Marshaler.
func (m Map) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(ToAny(m))
}

// UnmarshalJSON implements json.Unmarshaler. A JSON null decodes to an
// empty map.
func (m *Map) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = Map{}
		return nil
	}
	var raw map[string]any
	if err := decodeNumbers(data, &raw); err != nil {
		return err
	}
	out, err := MapFromAny(raw)
	if err != nil {
		return err
	}
	*m = out
	return nil
}

// MarshalJSON implements json.Marshaler.
func (l List) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(ToAny(l))
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *List) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := decodeNumbers(data, &raw); err != nil {
		return err
	}
	conv, err := FromAny(raw)
	if err != nil {
		return err
	}
	list, _ := conv.(List)
	*l = list
	return nil
}

// ParseMap decodes a JSON object into a Map. Empty input yields an empty map.
func ParseMap(data []byte) (Map, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Map{}, nil
	}
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding value map: %w", err)
	}
	return m, nil
}

// decodeNumbers decodes with UseNumber and converts every number to float64,
// rejecting literals outside the float64 range.
func decodeNumbers(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return normalizeNumbers(dst)
}

func normalizeNumbers(dst any) error {
	switch t := dst.(type) {
	case *map[string]any:
		for k, v := range *t {
			conv, err := normalize(v)
			if err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			(*t)[k] = conv
		}
	case *[]any:
		for i, v := range *t {
			conv, err := normalize(v)
			if err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
			(*t)[i] = conv
		}
	}
	return nil
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return f, nil
	case map[string]any:
		if err := normalizeNumbers(&t); err != nil {
			return nil, err
		}
		return t, nil
	case []any:
		if err := normalizeNumbers(&t); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return v, nil
	}
}
