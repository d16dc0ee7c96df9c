package tlb

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Level", func() {
	It("should parse level names", func() {
		for _, name := range []string{"L1", "l1"} {
			l, err := ParseLevel(name)
			Expect(err).ToNot(HaveOccurred())
			Expect(l).To(Equal(LevelL1))
		}

		l, err := ParseLevel("L3")
		Expect(err).ToNot(HaveOccurred())
		Expect(l).To(Equal(LevelL3))
	})

	It("should reject the walk and unknown levels", func() {
		_, err := ParseLevel("walk")
		Expect(err).To(HaveOccurred())

		_, err = ParseLevel("L4")
		Expect(err).To(HaveOccurred())
	})

	It("should name every level", func() {
		Expect(LevelWalk.String()).To(Equal("walk"))
		Expect(Level(7).String()).To(Equal("level(7)"))
	})
})
