package tradier

import (
	"bytes"
	"encoding/json"
)

// oneOrMany decodes Tradier's collections, which arrive as null, "null",
// a single object or an array depending on size
type oneOrMany[T any] []T

func (m *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`"null"`)) {
		*m = nil
		return nil
	}
	if b[0] == '[' {
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*m = many
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*m = []T{one}
	return nil
}

type placeResponse struct {
	Order struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"order"`
}

type order struct {
	ID                int64   `json:"id"`
	Symbol            string  `json:"symbol"`
	Side              string  `json:"side"`
	Status            string  `json:"status"`
	Quantity          float64 `json:"quantity"`
	ExecQuantity      float64 `json:"exec_quantity"`
	AvgFillPrice      float64 `json:"avg_fill_price"`
	ReasonDescription string  `json:"reason_description"`
}

type orderResponse struct {
	Order order `json:"order"`
}

// envelope decodes {"<key>": one-or-many} wrappers that Tradier
// replaces with the string "null" when empty
type envelope[T any] struct {
	Items oneOrMany[T]
}

func (e *envelope[T]) unmarshal(b []byte, key string) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		e.Items = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return e.Items.UnmarshalJSON(raw[key])
}

type orderList struct{ envelope[order] }

func (l *orderList) UnmarshalJSON(b []byte) error { return l.unmarshal(b, "order") }

type positionList struct{ envelope[position] }

func (l *positionList) UnmarshalJSON(b []byte) error { return l.unmarshal(b, "position") }

type ordersResponse struct {
	Orders orderList `json:"orders"`
}

type balancesResponse struct {
	Balances struct {
		TotalEquity float64 `json:"total_equity"`
		TotalCash   float64 `json:"total_cash"`
	} `json:"balances"`
}

type position struct {
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	CostBasis float64 `json:"cost_basis"`
}

type positionsResponse struct {
	Positions positionList `json:"positions"`
}

type clockResponse struct {
	Clock struct {
		State       string `json:"state"`
		Description string `json:"description"`
	} `json:"clock"`
}
