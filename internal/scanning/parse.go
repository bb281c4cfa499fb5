package scanning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zombor/receipt-ledger/internal/category"
)

// Shape is the top-level form of a backend's JSON output
type Shape int

const (
	ShapeEmpty Shape = iota
	ShapeObject
	ShapeObjectList
	ShapeUnparsable
)

func (s Shape) String() string {
	switch s {
	case ShapeEmpty:
		return "empty"
	case ShapeObject:
		return "object"
	case ShapeObjectList:
		return "object-list"
	default:
		return "unparsable"
	}
}

// Normalized is the result of normalizing one backend response. Record is
// never nil; for any Shape other than ShapeObject and ShapeObjectList it is
// the default record with nothing filled in.
type Normalized struct {
	Record *Record
	Shape  Shape
}

// Alias tables, canonical name first. Lookups take the first key present.
var (
	merchantKeys = []string{"store_name", "상호명", "상호", "가맹점명", "가맹점", "매장명", "merchant", "store", "vendor"}
	dateKeys     = []string{"date", "날짜", "거래일자", "거래일", "일자", "transaction_date"}
	totalKeys    = []string{"total_amount", "total", "합계", "총액", "합계금액", "결제금액", "총금액", "amount", "grand_total"}
	categoryKeys = []string{"category", "카테고리", "분류"}
	incomeKeys   = []string{"is_income", "수입여부", "수입"}
	itemsKeys    = []string{"items", "품목", "품목목록", "line_items"}

	itemNameKeys     = []string{"name", "이름", "품목명", "품목", "상품명", "item"}
	itemQuantityKeys = []string{"quantity", "수량", "qty"}
	itemUnitKeys     = []string{"unit_price", "단가"}
	itemTotalKeys    = []string{"total_price", "가격", "금액", "price", "amount"}
)

// merchant values backends emit when they found nothing
var placeholderMerchants = map[string]bool{
	"unknown": true, "null": true, "none": true, "n/a": true, "상호명": true, "store name": true,
}

// ExtractJSON finds the JSON value in arbitrary backend output. The substring
// from the first '{' to the last '}' is tried first; failing that, a leading
// and trailing code fence is stripped and the rest parsed once. As a last
// resort the first object that decodes at any '{' is taken, whatever follows.
func ExtractJSON(raw string) (any, error) {
	text := strings.TrimSpace(raw)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		if v, err := decodeJSON(text[start : end+1]); err == nil {
			return v, nil
		}
	}

	stripped := stripFence(text)
	if stripped == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedOutput)
	}
	v, err := decodeJSON(stripped)
	if err == nil {
		return v, nil
	}
	if obj, ok := firstObject(text); ok {
		return obj, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
}

// firstObject decodes one value at each '{' in turn and returns the first
// that is an object. Text after the value is ignored.
func firstObject(text string) (map[string]any, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err == nil && obj != nil {
			return obj, true
		}
	}
	return nil, false
}

func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```JSON")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// Normalize extracts and canonicalizes a backend response. Only output with
// no JSON at all is an error; unexpected shapes produce the default record.
func Normalize(raw string) (Normalized, error) {
	v, err := ExtractJSON(raw)
	if err != nil {
		return Normalized{Record: NewRecord(), Shape: ShapeUnparsable}, err
	}
	return NormalizeValue(v), nil
}

// NormalizeValue resolves the shape of an already decoded value and maps it
// onto a Record.
func NormalizeValue(v any) Normalized {
	switch t := v.(type) {
	case nil:
		return Normalized{Record: NewRecord(), Shape: ShapeEmpty}
	case map[string]any:
		return Normalized{Record: recordFromObject(t), Shape: ShapeObject}
	case []any:
		if len(t) == 0 {
			return Normalized{Record: NewRecord(), Shape: ShapeEmpty}
		}
		if obj, ok := t[0].(map[string]any); ok {
			return Normalized{Record: recordFromObject(obj), Shape: ShapeObjectList}
		}
	}
	return Normalized{Record: NewRecord(), Shape: ShapeUnparsable}
}

func lookup(obj map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func recordFromObject(obj map[string]any) *Record {
	r := NewRecord()

	if v, ok := lookup(obj, merchantKeys); ok {
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" && !placeholderMerchants[strings.ToLower(s)] {
				r.Merchant = stringPtr(s)
			}
		}
	}

	if v, ok := lookup(obj, dateKeys); ok {
		if s, ok := v.(string); ok {
			if d, ok := NormalizeDate(s); ok {
				r.Date = stringPtr(d)
			}
		}
	}

	// first total alias that coerces wins
	for _, k := range totalKeys {
		if amount, ok := CoerceAmount(obj[k]); ok {
			r.TotalAmount = floatPtr(amount)
			break
		}
	}

	if v, ok := lookup(obj, categoryKeys); ok {
		if s, ok := v.(string); ok {
			r.Category = category.ParseOr(s)
		}
	}

	if v, ok := lookup(obj, incomeKeys); ok {
		r.IsIncome = coerceBool(v)
	}
	if r.Category.IsIncome() {
		r.IsIncome = true
	}

	if v, ok := lookup(obj, itemsKeys); ok {
		if list, ok := v.([]any); ok {
			for _, entry := range list {
				r.Items = append(r.Items, itemFromValue(entry))
			}
		}
	}

	return r
}

// itemFromValue never drops an entry; a malformed one becomes an item with
// an empty name so positions line up with the backend's list.
func itemFromValue(v any) LineItem {
	item := LineItem{Quantity: 1}
	obj, ok := v.(map[string]any)
	if !ok {
		return item
	}
	if name, ok := lookup(obj, itemNameKeys); ok {
		if s, ok := name.(string); ok {
			item.Name = strings.TrimSpace(s)
		}
	}
	if q, ok := lookup(obj, itemQuantityKeys); ok {
		item.Quantity = coerceQuantity(q)
	}
	if u, ok := lookup(obj, itemUnitKeys); ok {
		if f, ok := CoerceAmount(u); ok {
			item.UnitPrice = f
		}
	}
	for _, k := range itemTotalKeys {
		if f, ok := CoerceAmount(obj[k]); ok {
			item.TotalPrice = f
			break
		}
	}
	return item
}

func coerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1", "예", "수입":
			return true
		}
	case json.Number:
		return t.String() == "1"
	}
	return false
}
