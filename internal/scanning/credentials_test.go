package scanning

import (
	"slices"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CredentialPool", func() {
	var pool *CredentialPool

	When("empty", func() {
		BeforeEach(func() {
			pool = NewCredentialPool(nil)
		})

		It("selects nothing", func() {
			_, ok := pool.Select(SelectRandom)
			Expect(ok).To(BeFalse())
			_, ok = pool.Select(SelectFirst)
			Expect(ok).To(BeFalse())
		})

		It("has no order", func() {
			Expect(pool.ShuffledOrder()).To(BeEmpty())
		})
	})

	When("given blanks and duplicates", func() {
		BeforeEach(func() {
			pool = NewCredentialPool([]string{"k1", " ", "k2", "k1", " k3 "})
		})

		It("keeps each credential once", func() {
			Expect(pool.Len()).To(Equal(3))
			Expect(pool.ShuffledOrder()).To(ConsistOf("k1", "k2", "k3"))
		})

		It("selects the first in configured order", func() {
			first, ok := pool.Select(SelectFirst)
			Expect(ok).To(BeTrue())
			Expect(first).To(Equal("k1"))
		})

		It("selects randomly among held credentials", func() {
			for i := 0; i < 50; i++ {
				c, ok := pool.Select(SelectRandom)
				Expect(ok).To(BeTrue())
				Expect(c).To(BeElementOf("k1", "k2", "k3"))
			}
		})
	})

	It("eventually uses every credential first", func() {
		pool = NewCredentialPool([]string{"a", "b", "c"})
		firsts := map[string]bool{}
		for i := 0; i < 500 && len(firsts) < 3; i++ {
			firsts[pool.ShuffledOrder()[0]] = true
		}
		Expect(firsts).To(HaveLen(3))
	})

	It("returns a fresh slice every time", func() {
		pool = NewCredentialPool([]string{"a", "b"}, WithShuffler(func([]string) {}))
		order := pool.ShuffledOrder()
		order[0] = "mutated"
		Expect(pool.ShuffledOrder()).To(Equal([]string{"a", "b"}))
	})

	It("uses the injected shuffler", func() {
		pool = NewCredentialPool([]string{"a", "b", "c"}, WithShuffler(slices.Reverse[[]string]))
		Expect(pool.ShuffledOrder()).To(Equal([]string{"c", "b", "a"}))
	})

	It("is safe for concurrent use", func() {
		pool = NewCredentialPool([]string{"a", "b", "c"})
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(pool.ShuffledOrder()).To(HaveLen(3))
				_, ok := pool.Select(SelectRandom)
				Expect(ok).To(BeTrue())
			}()
		}
		wg.Wait()
	})

	It("masks credentials for diagnostics", func() {
		Expect(maskCredential("AIzaSyABCDEF1234")).To(Equal("****1234"))
		Expect(maskCredential("abc")).To(Equal("****"))
		Expect(maskCredential("")).To(BeEmpty())
	})
})
