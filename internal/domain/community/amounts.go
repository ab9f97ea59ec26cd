package community

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// AmountMap is an insertion-ordered map from user id to amount.
type AmountMap struct {
	keys   []int64
	values map[int64]decimal.Decimal
}

func NewAmountMap() *AmountMap {
	return &AmountMap{values: make(map[int64]decimal.Decimal)}
}

// Add increases the entry for userID, creating it at the end of the order.
func (m *AmountMap) Add(userID int64, amount decimal.Decimal) {
	if m.values == nil {
		m.values = make(map[int64]decimal.Decimal)
	}
	current, ok := m.values[userID]
	if !ok {
		m.keys = append(m.keys, userID)
	}
	m.values[userID] = current.Add(amount)
}

func (m *AmountMap) Get(userID int64) (decimal.Decimal, bool) {
	if m == nil {
		return decimal.Zero, false
	}
	v, ok := m.values[userID]
	return v, ok
}

func (m *AmountMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the user ids in insertion order.
func (m *AmountMap) Keys() []int64 {
	if m == nil {
		return nil
	}
	out := make([]int64, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *AmountMap) Total() decimal.Decimal {
	total := decimal.Zero
	if m == nil {
		return total
	}
	for _, k := range m.keys {
		total = total.Add(m.values[k])
	}
	return total
}

func (m *AmountMap) Clone() *AmountMap {
	out := NewAmountMap()
	if m == nil {
		return out
	}
	for _, k := range m.keys {
		out.Add(k, m.values[k])
	}
	return out
}

type amountEntry struct {
	UserID int64           `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// MarshalJSON encodes the map as an ordered list of entries.
func (m *AmountMap) MarshalJSON() ([]byte, error) {
	entries := make([]amountEntry, 0, m.Len())
	if m != nil {
		for _, k := range m.keys {
			entries = append(entries, amountEntry{UserID: k, Amount: m.values[k]})
		}
	}
	return json.Marshal(entries)
}

func (m *AmountMap) UnmarshalJSON(data []byte) error {
	var entries []amountEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	m.keys = nil
	m.values = make(map[int64]decimal.Decimal, len(entries))
	for _, e := range entries {
		m.Add(e.UserID, e.Amount)
	}
	return nil
}
