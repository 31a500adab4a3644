package api

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"expensewatch/internal/core"

	"github.com/pkg/errors"
)

const dateLayout = "2006-01-02"

// expenseWire is the loosest shape the backend has been seen to send.
// Every field is raw so one bad value never rejects the whole record.
type expenseWire struct {
	ExpenseID    json.RawMessage `json:"expense_id"`
	ID           json.RawMessage `json:"id"`
	Amount       json.RawMessage `json:"amount"`
	Description  json.RawMessage `json:"description"`
	CreatedAt    json.RawMessage `json:"created_at"`
	Date         json.RawMessage `json:"date"`
	CategoryID   json.RawMessage `json:"category_id"`
	CategoryName json.RawMessage `json:"category_name"`
	Category     json.RawMessage `json:"category"`
}

type categoryWire struct {
	CategoryID json.RawMessage `json:"category_id"`
	ID         json.RawMessage `json:"id"`
	Name       json.RawMessage `json:"name"`
}

type expensePayload struct {
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Date        string      `json:"date,omitempty"`
}

func newExpensePayload(in core.ExpenseInput) (expensePayload, error) {
	if err := in.Validate(); err != nil {
		return expensePayload{}, errors.Wrap(ErrInvalidInput, err.Error())
	}
	p := expensePayload{
		Amount:      json.Number(in.Amount.String()),
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
	}
	if in.Date != nil && !in.Date.IsZero() {
		p.Date = in.Date.Format(dateLayout)
	}
	return p, nil
}

func decodeExpenses(body []byte, loc *time.Location) ([]core.ExpenseRecord, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, errors.Wrap(ErrMalformedResponse, "expense list is not a JSON array")
	}
	out := make([]core.ExpenseRecord, 0, len(items))
	for _, raw := range items {
		out = append(out, decodeExpense(raw, loc))
	}
	return out, nil
}

// decodeExpense never fails: anything that is not an object becomes an
// empty record so it still counts towards totals and the record count.
func decodeExpense(raw json.RawMessage, loc *time.Location) core.ExpenseRecord {
	var w expenseWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return core.ExpenseRecord{}
	}

	rec := core.ExpenseRecord{}
	rec.ID, _ = firstText(w.ExpenseID, w.ID)
	rec.Description, _ = rawText(w.Description)
	if s, ok := rawText(w.Amount); ok {
		rec.Amount = core.ParseAmount(s)
	}
	for _, field := range []json.RawMessage{w.CreatedAt, w.Date} {
		s, ok := rawText(field)
		if !ok {
			continue
		}
		if t, ok := core.ParseTimestamp(s, loc); ok {
			rec.OccurredAt = &t
			break
		}
	}

	var nested categoryWire
	nestedName, nestedID := "", ""
	if isObject(w.Category) && json.Unmarshal(w.Category, &nested) == nil {
		nestedName, _ = rawText(nested.Name)
		nestedID, _ = firstText(nested.CategoryID, nested.ID)
	}
	rec.CategoryID, _ = rawText(w.CategoryID)
	if rec.CategoryID == "" {
		rec.CategoryID = nestedID
	}

	// category.name, then category_name, then a bare category string.
	rec.CategoryName = nestedName
	if rec.CategoryName == "" {
		rec.CategoryName, _ = rawText(w.CategoryName)
	}
	if rec.CategoryName == "" && !isObject(w.Category) {
		rec.CategoryName, _ = rawText(w.Category)
	}
	return rec
}

func decodeCategories(body []byte) ([]core.Category, error) {
	var items []categoryWire
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, errors.Wrap(ErrMalformedResponse, "category list is not a JSON array")
	}
	out := make([]core.Category, 0, len(items))
	for _, item := range items {
		name, _ := rawText(item.Name)
		if name == "" {
			continue
		}
		id, _ := firstText(item.CategoryID, item.ID)
		out = append(out, core.Category{ID: id, Name: name})
	}
	return out, nil
}

// rawText returns a JSON string's value or a JSON number's literal text.
// null, objects, arrays, booleans and empty strings report false.
func rawText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return n.String(), true
	}
	return "", false
}

func firstText(fields ...json.RawMessage) (string, bool) {
	for _, f := range fields {
		if s, ok := rawText(f); ok {
			return s, true
		}
	}
	return "", false
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
