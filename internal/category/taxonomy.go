// Package category holds the closed receipt taxonomy and the keyword
// classifier that maps merchant names and receipt text onto it.
package category

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Category is one member of the taxonomy.
type Category string

// Expense categories, in declaration order. Order matters: the classifier
// breaks score ties in favour of the category declared first.
const (
	Food          Category = "food"
	Transport     Category = "transport"
	Housing       Category = "housing"
	Telecom       Category = "telecom"
	ApparelBeauty Category = "apparel/beauty"
	Household     Category = "household"
	Health        Category = "health"
	Leisure       Category = "leisure/culture"
	Subscriptions Category = "subscriptions"
	Education     Category = "education"
	GiftsEvents   Category = "gifts/events"
	Finance       Category = "finance"
	Childcare     Category = "childcare"
	Pets          Category = "pets"
	Automotive    Category = "automotive"
	Insurance     Category = "insurance"
	TaxUtilities  Category = "tax/utilities"
	Other         Category = "other"
)

// Income categories.
const (
	Salary            Category = "salary"
	Bonus             Category = "bonus"
	Freelance         Category = "freelance"
	Business          Category = "business"
	Investment        Category = "investment"
	Dividend          Category = "dividend"
	Interest          Category = "interest"
	RentReceived      Category = "rent-received"
	SideIncome        Category = "side-income"
	Pension           Category = "pension"
	Refund            Category = "refund"
	Scholarship       Category = "scholarship"
	Resale            Category = "resale"
	InsurancePayout   Category = "insurance-payout"
	Severance         Category = "severance"
	GovernmentSupport Category = "government-support"
	OtherIncome       Category = "other-income"
)

var expense = []Category{
	Food, Transport, Housing, Telecom, ApparelBeauty, Household, Health,
	Leisure, Subscriptions, Education, GiftsEvents, Finance, Childcare, Pets,
	Automotive, Insurance, TaxUtilities, Other,
}

var income = []Category{
	Salary, Bonus, Freelance, Business, Investment, Dividend, Interest,
	RentReceived, SideIncome, Pension, Refund, Scholarship, Resale,
	InsurancePayout, Severance, GovernmentSupport, OtherIncome,
}

// labels maps the Korean labels used in backend prompts, and a few English
// spellings backends like to invent, onto taxonomy members.
var labels = map[string]Category{
	"식비":     Food,
	"교통비":    Transport,
	"교통":     Transport,
	"주거비":    Housing,
	"통신비":    Telecom,
	"의류/미용":  ApparelBeauty,
	"생활용품":   Household,
	"건강/의료":  Health,
	"여가/문화":  Leisure,
	"구독서비스":  Subscriptions,
	"교육":     Education,
	"경조사/선물": GiftsEvents,
	"금융":     Finance,
	"육아/자녀":  Childcare,
	"반려동물":   Pets,
	"자동차":    Automotive,
	"보험":     Insurance,
	"세금/공과금": TaxUtilities,
	"기타":     Other,

	"월급":     Salary,
	"급여":     Salary,
	"수당":     Salary,
	"상여금":    Bonus,
	"프리랜서수입": Freelance,
	"사업소득":   Business,
	"투자수익":   Investment,
	"배당금":    Dividend,
	"이자수익":   Interest,
	"임대소득":   RentReceived,
	"부수입":    SideIncome,
	"연금":     Pension,
	"환급금":    Refund,
	"장학금":    Scholarship,
	"중고판매":   Resale,
	"보험금수령":  InsurancePayout,
	"퇴직금":    Severance,
	"정부지원금":  GovernmentSupport,
	"기타수입":   OtherIncome,

	"transportation": Transport,
	"groceries":      Food,
	"dining":         Food,
	"healthcare":     Health,
	"entertainment":  Leisure,
	"utilities":      TaxUtilities,
	"shopping":       Household,
	"uncategorized":  Other,
}

var members = func() map[Category]bool {
	m := make(map[Category]bool, len(expense)+len(income))
	for _, c := range expense {
		m[c] = true
	}
	for _, c := range income {
		m[c] = true
	}
	return m
}()

// All returns every taxonomy member, expense categories first, in
// declaration order.
func All() []Category {
	out := make([]Category, 0, len(expense)+len(income))
	out = append(out, expense...)
	return append(out, income...)
}

// Expense returns the expense categories in declaration order.
func Expense() []Category {
	return append([]Category(nil), expense...)
}

// Income returns the income categories in declaration order.
func Income() []Category {
	return append([]Category(nil), income...)
}

// Valid reports whether c is a taxonomy member.
func (c Category) Valid() bool {
	return members[c]
}

// IsIncome reports whether c is an income category.
func (c Category) IsIncome() bool {
	for _, in := range income {
		if c == in {
			return true
		}
	}
	return false
}

// IsGeneric reports whether c carries no information, meaning the classifier
// is allowed to replace it.
func (c Category) IsGeneric() bool {
	return c == "" || c == Other
}

// Parse resolves a backend supplied label onto the taxonomy. IDs, Korean
// labels and a few English aliases are accepted; anything else is reported
// as not found.
func Parse(label string) (Category, bool) {
	key := strings.ToLower(strings.TrimSpace(norm.NFKC.String(label)))
	if key == "" {
		return "", false
	}
	if c := Category(key); c.Valid() {
		return c, true
	}
	if c, ok := labels[key]; ok {
		return c, true
	}
	// "의류 / 미용" and "apparel / beauty" style spacing
	compact := strings.Join(strings.Fields(key), "")
	if c := Category(compact); c.Valid() {
		return c, true
	}
	if c, ok := labels[compact]; ok {
		return c, true
	}
	return "", false
}

// ParseOr resolves label like Parse and falls back to Other.
func ParseOr(label string) Category {
	if c, ok := Parse(label); ok {
		return c
	}
	return Other
}
