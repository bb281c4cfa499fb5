package scanning

import (
	"strings"

	"github.com/zombor/receipt-ledger/internal/category"
)

// Prompts holds the instructions sent at each stage. Zero fields fall back to
// the defaults below.
type Prompts struct {
	Transcribe     string
	StructureText  string // must contain {text}
	StructureImage string
}

func (p Prompts) withDefaults() Prompts {
	if p.Transcribe == "" {
		p.Transcribe = transcribePrompt
	}
	if p.StructureText == "" {
		p.StructureText = structureTextPrompt
	}
	if p.StructureImage == "" {
		p.StructureImage = structureImagePrompt
	}
	return p
}

func (p Prompts) structureText(text string) string {
	return strings.ReplaceAll(p.StructureText, "{text}", text)
}

// receiptSchemaHint is the canonical output shape every structuring backend is
// asked for.
const receiptSchemaHint = `{"store_name": "Store Name", "date": "YYYY-MM-DD", "total_amount": 0, "category": "other", "is_income": false, "items": [{"name": "Item", "quantity": 1, "unit_price": 0, "total_price": 0}]}`

const transcribePrompt = `Transcribe every piece of text visible on this receipt, top to bottom, one line per printed line.

Important:
- Copy the text exactly as printed, including Korean, numbers, dates and separators
- Do not summarize, translate, reorder or format anything
- If a word is cut off, write the visible part only
- Do not add any commentary`

var taxonomyList = func() string {
	var b strings.Builder
	b.WriteString("Expense categories (is_income: false): ")
	b.WriteString(joinCategories(category.Expense()))
	b.WriteString("\nIncome categories (is_income: true): ")
	b.WriteString(joinCategories(category.Income()))
	return b.String()
}()

func joinCategories(cs []category.Category) string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = string(c)
	}
	return strings.Join(ids, ", ")
}

var structureRules = `1. **Store Name**: the merchant or business name, usually the largest text at the top of the receipt.

2. **Date**: the transaction date in ISO 8601 format (YYYY-MM-DD).

3. **Total Amount**: the final amount paid (합계, 총액, 결제금액, TOTAL). Digits only, no separators or currency symbols.

4. **Items**: every purchased line with name, quantity, unit price and total price.

5. **Category**: exactly one of the categories below, chosen from the store name and items.
` + taxonomyList + `

Return ONLY valid JSON in this exact format:
` + receiptSchemaHint + `

Important:
- If you cannot find a field, use null for that field
- Fix obvious OCR digit mistakes from context (e.g. "IO00" is 1000)
- is_income is false for ordinary purchase receipts
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

var structureTextPrompt = `You are given the OCR text of a receipt. Extract the following information:

[OCR TEXT]
{text}
[END]

` + structureRules

var structureImagePrompt = `You are analyzing a receipt or invoice image. Carefully read all text in the image and extract the following information:

` + structureRules
