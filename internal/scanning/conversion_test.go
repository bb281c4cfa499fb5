package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func pngOfSize(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		img.Set(x, h/2, color.Black)
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("PrepareImage", func() {
	It("shrinks large images to the maximum edge and encodes JPEG", func() {
		out, mimeType, err := PrepareImage(pngOfSize(4096, 1024), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(mimeType).To(Equal("image/jpeg"))

		cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Width).To(Equal(2048))
		Expect(cfg.Height).To(Equal(512))
	})

	It("leaves small images at their size", func() {
		out, _, err := PrepareImage(pngOfSize(300, 600), "IMAGE/PNG; charset=binary")
		Expect(err).NotTo(HaveOccurred())

		cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Width).To(Equal(300))
		Expect(cfg.Height).To(Equal(600))
	})

	It("sniffs the type when none is given", func() {
		_, mimeType, err := PrepareImage(pngOfSize(10, 10), "application/octet-stream")
		Expect(err).NotTo(HaveOccurred())
		Expect(mimeType).To(Equal("image/jpeg"))
	})

	It("rejects data that is not an image", func() {
		_, _, err := PrepareImage([]byte("definitely not an image"), "")
		Expect(err).To(MatchError(ErrInvalidImage))
		Expect(err.Error()).To(ContainSubstring("unsupported image format"))
	})
})

var _ = Describe("isHEICFormat", func() {
	DescribeTable("brands",
		func(data []byte, want bool) {
			Expect(isHEICFormat(data)).To(Equal(want))
		},
		Entry("heic", []byte("\x00\x00\x00\x18ftypheic"), true),
		Entry("mif1", []byte("\x00\x00\x00\x18ftypmif1"), true),
		Entry("mp4", []byte("\x00\x00\x00\x18ftypisom"), false),
		Entry("short", []byte("ftyp"), false),
	)
})
