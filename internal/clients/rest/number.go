package rest

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Float decodes brokerage numerics that arrive as strings ("12.5"),
// numbers or null
type Float float64

// UnmarshalJSON implements json.Unmarshaler
func (f *Float) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = Float(v)
		return nil
	}

	var v *float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v != nil {
		*f = Float(*v)
	}
	return nil
}

// Value returns the plain float
func (f Float) Value() float64 {
	return float64(f)
}
