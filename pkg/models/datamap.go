package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
)

// DataMap is the open parameter-name -> value mapping carried by every reading.
// Parameter sets are not fixed per device; new names may appear at any time, and
// values arrive either as JSON numbers or as strings (the plain webhook form is
// string-typed end to end). Stored as a JSON column.
type DataMap map[string]any

func (m DataMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *DataMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into DataMap", value)
	}
	return json.Unmarshal(b, m)
}

// Numeric coerces a DataMap value to float64. Strings are parsed; everything
// else that is not a number reports false.
func Numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ParamList is a JSON-encoded list of parameter names, used by chart axis
// definitions.
type ParamList []string

func (p ParamList) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *ParamList) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ParamList", value)
	}
	return json.Unmarshal(b, p)
}
