package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-ledger/internal/category"
	"github.com/zombor/receipt-ledger/internal/scanning"
)

var _ = Describe("BoltDB", func() {
	var (
		dbPath string
		db     *BoltDB
	)

	newReceipt := func(id string, createdAt time.Time) *Receipt {
		merchant, total := "이마트 성수점", 45000.0
		return &Receipt{
			ID: id,
			Record: &scanning.Record{
				Merchant:    &merchant,
				TotalAmount: &total,
				Category:    category.Household,
				Items:       []scanning.LineItem{{Name: "우유", Quantity: 2, UnitPrice: 2500, TotalPrice: 5000}},
			},
			Source:      SourceImage,
			Stage:       scanning.StageStructureImage,
			Attempts:    3,
			Filename:    id + "_receipt.jpg",
			ContentType: "image/jpeg",
			CreatedAt:   createdAt,
		}
	}

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveReceipt", func() {
		var (
			receipt *Receipt
			err     error
		)

		BeforeEach(func() {
			receipt = newReceipt("test-id", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
		})

		JustBeforeEach(func() {
			err = db.SaveReceipt(receipt)
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should round-trip the record", func() {
			saved, getErr := db.GetReceipt("test-id")
			Expect(getErr).NotTo(HaveOccurred())
			Expect(*saved.Record.Merchant).To(Equal("이마트 성수점"))
			Expect(*saved.Record.TotalAmount).To(Equal(45000.0))
			Expect(saved.Record.Category).To(Equal(category.Household))
			Expect(saved.Record.Items).To(HaveLen(1))
			Expect(saved.Stage).To(Equal(scanning.StageStructureImage))
			Expect(saved.CreatedAt.Equal(receipt.CreatedAt)).To(BeTrue())
		})

		When("saving the same ID again", func() {
			It("replaces the receipt", func() {
				receipt.Attempts = 1
				Expect(db.SaveReceipt(receipt)).To(Succeed())
				all, listErr := db.ListReceipts()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(all).To(HaveLen(1))
				Expect(all[0].Attempts).To(Equal(1))
			})
		})
	})

	Describe("GetReceipt", func() {
		When("the receipt does not exist", func() {
			It("returns ErrNotFound", func() {
				_, err := db.GetReceipt("missing")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("ListReceipts", func() {
		When("empty", func() {
			It("returns an empty, non-nil slice", func() {
				receipts, err := db.ListReceipts()
				Expect(err).NotTo(HaveOccurred())
				Expect(receipts).NotTo(BeNil())
				Expect(receipts).To(BeEmpty())
			})
		})

		When("several receipts exist", func() {
			BeforeEach(func() {
				base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
				Expect(db.SaveReceipt(newReceipt("a", base))).To(Succeed())
				Expect(db.SaveReceipt(newReceipt("b", base.Add(2*time.Hour)))).To(Succeed())
				Expect(db.SaveReceipt(newReceipt("c", base.Add(time.Hour)))).To(Succeed())
			})

			It("returns them newest first", func() {
				receipts, err := db.ListReceipts()
				Expect(err).NotTo(HaveOccurred())
				ids := []string{}
				for _, r := range receipts {
					ids = append(ids, r.ID)
				}
				Expect(ids).To(Equal([]string{"b", "c", "a"}))
			})
		})
	})

	Describe("DeleteReceipt", func() {
		BeforeEach(func() {
			Expect(db.SaveReceipt(newReceipt("gone", time.Now()))).To(Succeed())
		})

		It("removes the receipt", func() {
			Expect(db.DeleteReceipt("gone")).To(Succeed())
			_, err := db.GetReceipt("gone")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("reports unknown IDs", func() {
			Expect(db.DeleteReceipt("never")).To(MatchError(ErrNotFound))
		})
	})

	Describe("reopening", func() {
		It("keeps data across restarts", func() {
			Expect(db.SaveReceipt(newReceipt("persisted", time.Now()))).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.GetReceipt("persisted")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
