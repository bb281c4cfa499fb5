package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-ledger/internal/category"
)

var _ = Describe("TextParser", func() {
	var (
		parser *TextParser
		lines  []Line
		record *Record
	)

	BeforeEach(func() {
		parser = NewTextParser(category.NewClassifier(nil))
	})

	JustBeforeEach(func() {
		record = parser.Parse(lines)
	})

	When("parsing a simple receipt", func() {
		BeforeEach(func() {
			lines = []Line{
				{Text: "ABC Mart", Confidence: 0.98},
				{Text: "2024.03.01", Confidence: 0.95},
				{Text: "아메리카노 2 4,500 9,000", Confidence: 0.9},
				{Text: "합계 9,000", Confidence: 0.97},
			}
		})

		It("finds the merchant", func() {
			Expect(record.Merchant).NotTo(BeNil())
			Expect(*record.Merchant).To(Equal("ABC Mart"))
		})

		It("finds the date", func() {
			Expect(*record.Date).To(Equal("2024-03-01"))
		})

		It("finds the single line item", func() {
			Expect(record.Items).To(Equal([]LineItem{
				{Name: "아메리카노", Quantity: 2, UnitPrice: 4500, TotalPrice: 9000},
			}))
		})

		It("finds the total", func() {
			Expect(*record.TotalAmount).To(Equal(9000.0))
		})

		It("classifies from the items", func() {
			Expect(record.Category).To(Equal(category.Food))
		})

		It("keeps the text for diagnostics", func() {
			Expect(record.RawText).To(ContainSubstring("합계 9,000"))
		})
	})

	When("the header is noise", func() {
		BeforeEach(func() {
			lines = []Line{
				{Text: "** 영수증 **", Confidence: 1},
				{Text: "02-123-4567", Confidence: 1},
				{Text: "사업자 123-45-67890", Confidence: 1},
				{Text: "123-45-67890", Confidence: 1},
				{Text: "----", Confidence: 1},
				{Text: "== 스타벅스 강남점 ==", Confidence: 1},
			}
		})

		It("skips stoplisted, numeric and phone lines and trims decoration", func() {
			Expect(*record.Merchant).To(Equal("스타벅스 강남점"))
			Expect(record.Category).To(Equal(category.Food))
		})
	})

	When("a Latin store name contains tel", func() {
		BeforeEach(func() {
			lines = []Line{
				{Text: "Hotel Shilla", Confidence: 1},
				{Text: "2024.03.01", Confidence: 1},
				{Text: "룸서비스 45,000", Confidence: 1},
				{Text: "합계 45,000", Confidence: 1},
			}
		})

		It("keeps it as the merchant", func() {
			Expect(*record.Merchant).To(Equal("Hotel Shilla"))
			Expect(record.Category).To(Equal(category.Leisure))
		})

		It("keeps the priced line as an item", func() {
			Expect(record.Items).To(HaveLen(1))
			Expect(record.Items[0].Name).To(Equal("룸서비스"))
			Expect(record.Items[0].TotalPrice).To(Equal(45000.0))
		})
	})

	When("the header carries a TEL label", func() {
		BeforeEach(func() {
			lines = []Line{
				{Text: "TEL 안내", Confidence: 1},
				{Text: "김밥천국 역삼점", Confidence: 1},
			}
		})

		It("skips it", func() {
			Expect(*record.Merchant).To(Equal("김밥천국 역삼점"))
		})
	})

	When("the first usable line is priced", func() {
		BeforeEach(func() {
			lines = []Line{
				{Text: "떡볶이 4,000", Confidence: 1},
				{Text: "합계 4,000", Confidence: 1},
			}
		})

		It("treats it as an item, not the merchant", func() {
			Expect(record.Merchant).To(BeNil())
			Expect(record.Items).To(HaveLen(1))
			Expect(record.Items[0].Name).To(Equal("떡볶이"))
		})
	})

	When("the merchant is beyond the first seven lines", func() {
		BeforeEach(func() {
			lines = nil
			for i := 0; i < 7; i++ {
				lines = append(lines, Line{Text: "카드 승인", Confidence: 1})
			}
			lines = append(lines, Line{Text: "Late Store", Confidence: 1})
		})

		It("gives up", func() {
			Expect(record.Merchant).To(BeNil())
		})
	})

	When("received and change are printed", func() {
		BeforeEach(func() {
			lines = []Line{
				{Text: "합계 10,000", Confidence: 1},
				{Text: "받은돈 15,000", Confidence: 1},
				{Text: "거스름 5,000", Confidence: 1},
			}
		})

		It("takes the maximum after deduplication", func() {
			Expect(*record.TotalAmount).To(Equal(10000.0))
		})

		It("does not turn payment lines into items", func() {
			Expect(record.Items).To(BeEmpty())
		})
	})

	When("several total keywords disagree", func() {
		BeforeEach(func() {
			lines = []Line{
				{Text: "소계 9,000", Confidence: 1},
				{Text: "부가세 900", Confidence: 1},
				{Text: "결제금액 9,900", Confidence: 1},
			}
		})

		It("returns the largest", func() {
			Expect(*record.TotalAmount).To(Equal(9900.0))
		})
	})

	When("the keyword is split by OCR", func() {
		BeforeEach(func() {
			lines = []Line{{Text: "합 계 : 12,000", Confidence: 1}}
		})

		It("still matches", func() {
			Expect(*record.TotalAmount).To(Equal(12000.0))
		})
	})

	When("only bare won amounts exist", func() {
		BeforeEach(func() {
			lines = []Line{
				{Text: "쿠폰 50원", Confidence: 1},
				{Text: "4,500원 입니다", Confidence: 1},
			}
		})

		It("falls back to the largest of at least 100", func() {
			Expect(*record.TotalAmount).To(Equal(4500.0))
		})
	})

	When("nothing looks like a total", func() {
		BeforeEach(func() {
			lines = []Line{{Text: "Thank you", Confidence: 1}}
		})

		It("leaves the total empty", func() {
			Expect(record.TotalAmount).To(BeNil())
			Expect(record.Date).To(BeNil())
			Expect(record.Category).To(Equal(category.Other))
			Expect(record.Items).NotTo(BeNil())
		})
	})

	When("two-field item lines appear", func() {
		BeforeEach(func() {
			lines = []Line{
				{Text: "GS25 역삼점", Confidence: 1},
				{Text: "삼각김밥 1,200", Confidence: 1},
				{Text: "껌 50", Confidence: 1},
				{Text: "A 5,000", Confidence: 1},
				{Text: "12 3,000", Confidence: 1},
			}
		})

		It("keeps only plausible items", func() {
			Expect(record.Items).To(Equal([]LineItem{
				{Name: "삼각김밥", Quantity: 1, UnitPrice: 1200, TotalPrice: 1200},
			}))
		})
	})

	When("a two digit year is printed", func() {
		BeforeEach(func() {
			lines = []Line{{Text: "거래일시 24-03-05 13:22", Confidence: 1}}
		})

		It("normalizes it to this century", func() {
			Expect(*record.Date).To(Equal("2024-03-05"))
		})
	})

	When("the date is written in words", func() {
		BeforeEach(func() {
			lines = []Line{{Text: "2024년 3월 5일", Confidence: 1}}
		})

		It("reads it", func() {
			Expect(*record.Date).To(Equal("2024-03-05"))
		})
	})

	When("text is full-width", func() {
		BeforeEach(func() {
			lines = []Line{{Text: "ＴＯＴＡＬ １２，０００", Confidence: 1}}
		})

		It("folds it before matching", func() {
			Expect(*record.TotalAmount).To(Equal(12000.0))
		})
	})

	When("a confidence floor is set", func() {
		BeforeEach(func() {
			parser = NewTextParser(nil, WithMinConfidence(0.5))
			lines = []Line{
				{Text: "Blurry Mess", Confidence: 0.2},
				{Text: "Clear Store", Confidence: 0.9},
			}
		})

		It("ignores lines below it", func() {
			Expect(*record.Merchant).To(Equal("Clear Store"))
		})
	})

	It("parses raw text the same way", func() {
		r := parser.ParseText("ABC Mart\n2024.03.01\n아메리카노 2 4,500 9,000\n합계 9,000\n")
		Expect(*r.Merchant).To(Equal("ABC Mart"))
		Expect(*r.TotalAmount).To(Equal(9000.0))
		Expect(r.Items).To(HaveLen(1))
	})
})
