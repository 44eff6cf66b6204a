package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Numeric holds a request field that clients send either as a JSON number
// or as a numeric string. Coercion happens in Decimal so that a bad value
// can be reported against the field it came from.
type Numeric struct {
	raw     string
	present bool
}

func NewNumeric(raw string) Numeric {
	raw = strings.TrimSpace(raw)
	return Numeric{raw: raw, present: raw != ""}
}

func (n Numeric) Present() bool { return n.present }

func (n Numeric) String() string { return n.raw }

// Decimal returns zero for an absent value and an error for anything
// that is not a number.
func (n Numeric) Decimal() (decimal.Decimal, error) {
	if !n.present {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(n.raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q is not a number", n.raw)
	}
	return d, nil
}

func (n *Numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = Numeric{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NewNumeric(s)
		return nil
	}
	*n = Numeric{raw: string(data), present: true}
	return nil
}

func (n Numeric) MarshalJSON() ([]byte, error) {
	if !n.present {
		return []byte("null"), nil
	}
	if _, err := decimal.NewFromString(n.raw); err == nil {
		return []byte(n.raw), nil
	}
	return json.Marshal(n.raw)
}

// Ref is an identifier sent as a string or a number.
type Ref string

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*r = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Ref(strings.TrimSpace(s))
	default:
		var num json.Number
		if err := json.Unmarshal(data, &num); err != nil {
			return fmt.Errorf("reference must be a string or number: %w", err)
		}
		*r = Ref(num.String())
	}
	return nil
}
