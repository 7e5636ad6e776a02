package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Param is a single named report parameter.
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Params is an ordered set of report parameters.
//
// The JSON form is an object. Decoding keeps the key order of the payload, so the
// order users typed is the order reports and notifications show.
type Params []Param

// ParamsFromMap builds Params from a map, sorted by name.
func ParamsFromMap(m map[string]interface{}) Params {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make(Params, 0, len(names))
	for _, name := range names {
		params = append(params, Param{Name: name, Value: formatParamValue(m[name])})
	}
	return params
}

// Get returns the value of the named parameter.
func (p Params) Get(name string) (string, bool) {
	for _, param := range p {
		if param.Name == name {
			return param.Value, true
		}
	}
	return "", false
}

// Set replaces the named parameter or appends it at the end.
func (p Params) Set(name, value string) Params {
	for i := range p {
		if p[i].Name == name {
			p[i].Value = value
			return p
		}
	}
	return append(p, Param{Name: name, Value: value})
}

// Clone returns a copy that never aliases p. A nil receiver yields an empty set.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	copy(out, p)
	return out
}

// MarshalJSON encodes params as a JSON object in order.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, param := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(param.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(param.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping its key order. Non-string scalar
// values are kept in their JSON text form (1, true, 2.5).
func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("params must be a JSON object")
	}

	out := Params{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected params key %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("param %q: %w", name, err)
		}
		value, err := decodeParamValue(raw)
		if err != nil {
			return fmt.Errorf("param %q: %w", name, err)
		}
		out = out.Set(name, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*p = out
	return nil
}

// Value implements the driver.Valuer interface for Params
func (p Params) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return p.MarshalJSON()
}

// Scan implements the sql.Scanner interface for Params
func (p *Params) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Params", value)
	}

	return p.UnmarshalJSON(bytes)
}

// GormDataType keeps params in a text-compatible column on every dialect.
func (Params) GormDataType() string {
	return "text"
}

func decodeParamValue(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	return string(trimmed), nil
}

func formatParamValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}
