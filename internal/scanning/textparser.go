package scanning

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/width"

	"github.com/zombor/receipt-ledger/internal/category"
)

// Line is one line of OCR output
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// TextParser builds a Record from OCR lines with pattern matching alone; no
// inference backend is involved.
type TextParser struct {
	classifier    *category.Classifier
	minConfidence float64
}

// TextParserOption configures a TextParser
type TextParserOption func(*TextParser)

// WithMinConfidence drops lines whose confidence is below c.
func WithMinConfidence(c float64) TextParserOption {
	return func(p *TextParser) { p.minConfidence = c }
}

// NewTextParser creates a TextParser. A nil classifier leaves every record in
// the default category.
func NewTextParser(classifier *category.Classifier, opts ...TextParserOption) *TextParser {
	p := &TextParser{classifier: classifier}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

const merchantScanLines = 7

var (
	merchantStopwords = []string{
		"영수증", "카드", "현금", "합계", "총액", "부가세", "과세", "면세",
		"전화", "주소", "사업자", "대표", "거래", "승인", "카드번호",
		"일시", "신용", "체크", "결제", "취소", "반품", "교환",
	}
	itemStopwords = []string{
		"합계", "총액", "소계", "부가세", "과세", "면세", "결제",
		"받은", "거스름", "승인", "카드", "현금", "total",
	}

	symbolsOnlyRe    = regexp.MustCompile(`^[\d\s\p{P}\p{S}]+$`)
	telRe            = regexp.MustCompile(`(?i)\btel\b`)
	phoneRe          = regexp.MustCompile(`\d{2,4}[-\s]?\d{3,4}[-\s]?\d{4}`)
	businessNumberRe = regexp.MustCompile(`\d{3}[-\s]?\d{2}[-\s]?\d{5}`)
	decorationRe     = regexp.MustCompile(`^[\*\-=#~_\s]+|[\*\-=#~_\s]+$`)
	allDigitsRe      = regexp.MustCompile(`^[\d\s]+$`)

	itemFullRe   = regexp.MustCompile(`^(.+?)\s+(\d+)\s+([0-9,]+)\s+([0-9,]+)$`)
	itemSimpleRe = regexp.MustCompile(`^(.+?)\s+([0-9,]+)$`)

	// Total keyword families. \s between characters tolerates OCR splitting
	// a label, and may span a line break.
	totalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`총\s*금\s*액[\s:：]*([0-9,]+)`),
		regexp.MustCompile(`합\s*계[\s:：]*([0-9,]+)`),
		regexp.MustCompile(`결\s*제\s*금\s*액[\s:：]*([0-9,]+)`),
		regexp.MustCompile(`판\s*매\s*금\s*액[\s:：]*([0-9,]+)`),
		regexp.MustCompile(`총\s*액[\s:：]*([0-9,]+)`),
		regexp.MustCompile(`(?i)total[\s:：]*([0-9,]+)`),
		regexp.MustCompile(`합\s*계\s*금\s*액[\s:：]*([0-9,]+)`),
		regexp.MustCompile(`받\s*을\s*금\s*액[\s:：]*([0-9,]+)`),
		regexp.MustCompile(`실\s*결\s*제[\s:：]*([0-9,]+)`),
		regexp.MustCompile(`소\s*계[\s:：]*([0-9,]+)`),
		regexp.MustCompile(`승\s*인\s*금\s*액[\s:：]*([0-9,]+)`),
	}
	receivedRe  = regexp.MustCompile(`받\s*은\s*(?:돈|금\s*액)[\s:：]*([0-9,]+)`)
	changeRe    = regexp.MustCompile(`거\s*스\s*름\s*돈?[\s:：]*([0-9,]+)`)
	bareWonRe   = regexp.MustCompile(`([0-9,]+)\s*원`)
	minBareWon  = 100.0
	minItemWon  = 100.0
	minNameRune = 2
)

// ParseText parses newline separated text, every line at confidence 1.
func (p *TextParser) ParseText(raw string) *Record {
	return p.Parse(SplitLines(raw))
}

// SplitLines turns raw text into lines of full confidence.
func SplitLines(raw string) []Line {
	var lines []Line
	for _, l := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		lines = append(lines, Line{Text: l, Confidence: 1})
	}
	return lines
}

// Parse extracts merchant, date, total and items from OCR lines and
// classifies the result.
func (p *TextParser) Parse(lines []Line) *Record {
	var texts []string
	for _, l := range lines {
		if l.Confidence < p.minConfidence {
			continue
		}
		t := strings.TrimSpace(width.Fold.String(l.Text))
		if t == "" {
			continue
		}
		texts = append(texts, t)
	}
	raw := strings.Join(texts, "\n")

	r := NewRecord()
	r.RawText = raw

	if name, ok := findMerchant(texts); ok {
		r.Merchant = stringPtr(name)
	}
	if d, ok := findDate(raw); ok {
		r.Date = stringPtr(d)
	}
	if total, ok := findTotal(raw); ok {
		r.TotalAmount = floatPtr(total)
	}
	for _, t := range texts {
		if item, ok := parseItem(t); ok {
			r.Items = append(r.Items, item)
		}
	}

	r.ApplyCategory(p.classifier)
	return r.Finalize()
}

// findMerchant returns the first plausible store name among the leading
// lines. Priced lines are items, never the merchant.
func findMerchant(texts []string) (string, bool) {
	for i, t := range texts {
		if i >= merchantScanLines {
			break
		}
		if utf8.RuneCountInString(t) < 2 || symbolsOnlyRe.MatchString(t) {
			continue
		}
		if containsAny(strings.ToLower(t), merchantStopwords) {
			continue
		}
		if telRe.MatchString(t) || phoneRe.MatchString(t) || businessNumberRe.MatchString(t) {
			continue
		}
		if _, priced := parseItem(t); priced {
			continue
		}
		if cleaned := decorationRe.ReplaceAllString(t, ""); cleaned != "" {
			return cleaned, true
		}
	}
	return "", false
}

// findTotal returns the largest amount found next to a total keyword, or
// received minus change when both are printed. Without any keyword match it
// falls back to the largest "<number>원" of at least 100.
func findTotal(text string) (float64, bool) {
	candidates := map[float64]bool{}
	for _, p := range totalPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			if v, ok := parseWon(m[1]); ok && v > 0 {
				candidates[v] = true
			}
		}
	}

	received, okR := firstWon(receivedRe, text)
	change, okC := firstWon(changeRe, text)
	if okR && okC && received > change {
		candidates[received-change] = true
	}

	if len(candidates) == 0 {
		for _, m := range bareWonRe.FindAllStringSubmatch(text, -1) {
			if v, ok := parseWon(m[1]); ok && v >= minBareWon {
				candidates[v] = true
			}
		}
	}

	best, found := 0.0, false
	for v := range candidates {
		if !found || v > best {
			best, found = v, true
		}
	}
	return best, found
}

func firstWon(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseWon(m[1])
}

// parseWon parses "12,500" style amounts.
func parseWon(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseItem(line string) (LineItem, bool) {
	if containsAny(strings.ToLower(line), itemStopwords) {
		return LineItem{}, false
	}

	if m := itemFullRe.FindStringSubmatch(line); m != nil {
		name := strings.TrimSpace(m[1])
		qty, _ := strconv.Atoi(m[2])
		unit, okU := parseWon(m[3])
		total, okT := parseWon(m[4])
		if name != "" && okU && okT && total > 0 {
			if qty < 1 {
				qty = 1
			}
			return LineItem{Name: name, Quantity: qty, UnitPrice: unit, TotalPrice: total}, true
		}
		return LineItem{}, false
	}

	if m := itemSimpleRe.FindStringSubmatch(line); m != nil {
		name := strings.TrimSpace(m[1])
		total, ok := parseWon(m[2])
		if !ok || total < minItemWon {
			return LineItem{}, false
		}
		if utf8.RuneCountInString(name) < minNameRune || allDigitsRe.MatchString(name) {
			return LineItem{}, false
		}
		return LineItem{Name: name, Quantity: 1, UnitPrice: total, TotalPrice: total}, true
	}
	return LineItem{}, false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
