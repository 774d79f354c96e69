// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package byteslicereader

import (
	"encoding/binary"
	"io"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("R", func() {
	var r *R

	BeforeEach(func() {
		r = &R{}
	})

	Context("Read", func() {
		buf := make([]byte, 1024)

		Context("with no data", func() {
			It("should read 0 bytes and return EOF", func() {
				v, err := r.Read(buf)

				Expect(v).To(Equal(0))
				Expect(err).To(Equal(io.EOF))
			})
		})

		Context("with multiple bytes of data", func() {
			BeforeEach(func() {
				r.Buffer = []byte{0, 1, 2, 3}
			})

			It("Reads part of the buffer on first read, remainder on second", func() {
				buf := make([]byte, 3)

				By("Reads the first part of the buffer")
				v, err := r.Read(buf)
				Expect(v).To(Equal(3))
				Expect(err).ToNot(HaveOccurred())
				Expect(buf[:v]).To(Equal([]byte{0, 1, 2}))

				By("Reads the remainder")
				v, err = r.Read(buf)
				Expect(v).To(Equal(1))
				Expect(err).ToNot(HaveOccurred())
				Expect(buf[:v]).To(Equal([]byte{3}))

				By("Reads again after the end, returns EOF")
				v, err = r.Read(buf)
				Expect(v).To(Equal(0))
				Expect(err).To(Equal(io.EOF))
			})
		})
	})

	Context("ReadByte", func() {
		It("should read the data, then return EOF", func() {
			r.Buffer = []byte{7, 8}

			v, err := r.ReadByte()
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(Equal(byte(7)))

			v, err = r.ReadByte()
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(Equal(byte(8)))

			_, err = r.ReadByte()
			Expect(err).To(Equal(io.EOF))
		})
	})

	Context("SetOffset and Skip", func() {
		BeforeEach(func() {
			r.Buffer = []byte{0, 1, 2, 3}
		})

		It("can position at the very end of the buffer", func() {
			Expect(r.SetOffset(4)).To(Succeed())
			Expect(r.Remaining()).To(Equal(0))
		})

		It("refuses offsets outside of the buffer", func() {
			Expect(r.SetOffset(5)).ToNot(Succeed())
			Expect(r.SetOffset(-1)).ToNot(Succeed())
		})

		It("skips forward and refuses to skip past the end", func() {
			Expect(r.Skip(3)).To(Succeed())
			Expect(r.Offset()).To(Equal(3))
			Expect(r.Skip(2)).To(Equal(ErrShortBuffer))
			Expect(r.Offset()).To(Equal(3))
		})
	})

	Context("Peek and Next", func() {
		BeforeEach(func() {
			r.Buffer = []byte{0, 1, 2, 3}
			r.pos = 1
		})

		It("peeks without advancing", func() {
			Expect(r.Peek(2)).To(Equal([]byte{1, 2}))
			Expect(r.Peek(1024)).To(Equal([]byte{1, 2, 3}))
			Expect(r.Offset()).To(Equal(1))
		})

		It("returns references into the buffer by default", func() {
			v, err := r.Next(2)
			Expect(err).ToNot(HaveOccurred())
			v[0] = 0xFF
			Expect(r.Buffer[1]).To(Equal(byte(0xFF)))
		})

		It("returns copies when AlwaysCopy is set", func() {
			r.AlwaysCopy = true
			v, err := r.Next(2)
			Expect(err).ToNot(HaveOccurred())
			v[0] = 0xFF
			Expect(r.Buffer[1]).To(Equal(byte(1)))
		})

		It("does not advance on a short Next", func() {
			_, err := r.Next(4)
			Expect(err).To(Equal(ErrShortBuffer))
			Expect(r.Offset()).To(Equal(1))
		})
	})

	Context("fixed-width integers", func() {
		BeforeEach(func() {
			r.Buffer = []byte{
				0x01,
				0x02, 0x01,
				0x04, 0x03, 0x02, 0x01,
				0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
			}
		})

		It("decodes little endian values in sequence", func() {
			u8, err := r.Uint8()
			Expect(err).ToNot(HaveOccurred())
			Expect(u8).To(Equal(uint8(1)))

			u16, err := r.Uint16(binary.LittleEndian)
			Expect(err).ToNot(HaveOccurred())
			Expect(u16).To(Equal(uint16(0x0102)))

			u32, err := r.Uint32(binary.LittleEndian)
			Expect(err).ToNot(HaveOccurred())
			Expect(u32).To(Equal(uint32(0x01020304)))

			u64, err := r.Uint64(binary.LittleEndian)
			Expect(err).ToNot(HaveOccurred())
			Expect(u64).To(Equal(uint64(0x0102030405060708)))

			_, err = r.Uint8()
			Expect(err).To(Equal(ErrShortBuffer))
		})

		It("honors big endian order", func() {
			r.pos = 1
			u16, err := r.Uint16(binary.BigEndian)
			Expect(err).ToNot(HaveOccurred())
			Expect(u16).To(Equal(uint16(0x0201)))
		})
	})

	Context("Prefixed32", func() {
		It("reads a length-prefixed byte string", func() {
			r.Buffer = []byte{3, 0, 0, 0, 'a', 'b', 'c', 'd'}

			v, err := r.Prefixed32(binary.LittleEndian)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(v)).To(Equal("abc"))
			Expect(r.Remaining()).To(Equal(1))
		})

		It("rewinds when the declared length overruns the buffer", func() {
			r.Buffer = []byte{9, 0, 0, 0, 'a'}

			_, err := r.Prefixed32(binary.LittleEndian)
			Expect(err).To(Equal(ErrShortBuffer))
			Expect(r.Offset()).To(Equal(0))
		})
	})

	Context("Sub", func() {
		It("carves out an independent reader and advances the parent", func() {
			r.Buffer = []byte{1, 2, 3, 4, 5}

			sub, err := r.Sub(3)
			Expect(err).ToNot(HaveOccurred())
			Expect(sub.Remaining()).To(Equal(3))
			Expect(r.Remaining()).To(Equal(2))

			v, err := sub.Next(3)
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(Equal([]byte{1, 2, 3}))
		})
	})
})

func TestByteSliceReader(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing a byteslicereader.R")
}
