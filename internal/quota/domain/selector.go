package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	pkgdb "github.com/smallbiznis/insightzen/pkg/db"
)

const (
	SelectorGender       = "gender"
	SelectorAgeBand      = "age_band"
	SelectorProvinceCode = "province_code"
)

// Selector is the equality predicate a cell applies to sample contacts.
// The typed fields match columns; Extra matches keys of the contact's
// extra attributes.
type Selector struct {
	Gender       string
	AgeBand      string
	ProvinceCode string
	Extra        map[string]string
}

// Map flattens the selector into the wire and storage shape.
func (s Selector) Map() map[string]string {
	out := make(map[string]string, len(s.Extra)+3)
	for key, value := range s.Extra {
		out[key] = value
	}
	if s.Gender != "" {
		out[SelectorGender] = s.Gender
	}
	if s.AgeBand != "" {
		out[SelectorAgeBand] = s.AgeBand
	}
	if s.ProvinceCode != "" {
		out[SelectorProvinceCode] = s.ProvinceCode
	}
	return out
}

// Key is a canonical form used to enforce selector uniqueness per scheme.
func (s Selector) Key() string {
	m := s.Map()
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(m[key]))
	}
	return b.String()
}

// ExtraKeys returns the extra attribute names in sorted order.
func (s Selector) ExtraKeys() []string {
	keys := make([]string, 0, len(s.Extra))
	for key := range s.Extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s Selector) Validate() error {
	for key := range s.Extra {
		if !pkgdb.ValidJSONKey(key) {
			return fmt.Errorf("%w: %q", ErrInvalidSelector, key)
		}
		switch key {
		case SelectorGender, SelectorAgeBand, SelectorProvinceCode:
			return fmt.Errorf("%w: %q belongs to a typed field", ErrInvalidSelector, key)
		}
	}
	return nil
}

// SelectorFromMap splits a flat mapping into typed fields and extras. A
// typed key given with an empty value is rejected; omit the key to match any.
func SelectorFromMap(values map[string]string) (Selector, error) {
	sel := Selector{}
	for rawKey, value := range values {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		value = strings.TrimSpace(value)
		switch key {
		case SelectorGender, SelectorAgeBand, SelectorProvinceCode:
			if value == "" {
				return Selector{}, fmt.Errorf("%w: %q needs a value", ErrInvalidSelector, rawKey)
			}
		}
		switch key {
		case SelectorGender:
			sel.Gender = value
		case SelectorAgeBand:
			sel.AgeBand = value
		case SelectorProvinceCode:
			sel.ProvinceCode = value
		default:
			if !pkgdb.ValidJSONKey(key) {
				return Selector{}, fmt.Errorf("%w: %q", ErrInvalidSelector, rawKey)
			}
			if sel.Extra == nil {
				sel.Extra = make(map[string]string)
			}
			sel.Extra[key] = value
		}
	}
	return sel, nil
}

func (s Selector) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

// UnmarshalJSON accepts a flat object of scalar values.
func (s *Selector) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}
	values := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			values[key] = v
		case json.Number:
			values[key] = v.String()
		case bool:
			values[key] = strconv.FormatBool(v)
		default:
			return fmt.Errorf("%w: %q must be a scalar", ErrInvalidSelector, key)
		}
	}
	sel, err := SelectorFromMap(values)
	if err != nil {
		return err
	}
	*s = sel
	return nil
}
