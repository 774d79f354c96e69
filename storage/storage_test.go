// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package storage

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/danjacques/gorosbag/bag"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Compressor", func() {
	var c *Compressor

	BeforeEach(func() {
		c = NewCompressor(0)
	})

	AfterEach(func() {
		c.Close()
	})

	It("round-trips independent frames", func() {
		payload := bytes.Repeat([]byte("rosbag "), 100)

		frame, err := c.Compress(nil, payload)
		Expect(err).ToNot(HaveOccurred())
		Expect(len(frame)).To(BeNumerically("<", len(payload)))

		out, err := c.Decompress(nil, frame)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal(payload))
	})

	It("reports corrupt frames as compression errors", func() {
		_, err := c.Decompress(nil, []byte{0x28, 0xB5, 0x2F, 0xFD, 0xFF, 0xFF})
		Expect(bag.IsKind(err, bag.KindCompression)).To(BeTrue())
	})
})

var _ = Describe("File compression", func() {
	var tdir string

	BeforeEach(func() {
		var err error
		tdir, err = ioutil.TempDir("", "storage_test")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(tdir)).To(Succeed())
	})

	It("round-trips a file", func() {
		src := filepath.Join(tdir, "in.db3")
		data := bytes.Repeat([]byte{0, 1, 2, 3, 4, 5, 6, 7}, 4096)
		Expect(ioutil.WriteFile(src, data, 0644)).To(Succeed())

		Expect(CompressFile(src, src+bag.CompressedFileExt, 3)).To(Succeed())
		Expect(DecompressFile(src+bag.CompressedFileExt, filepath.Join(tdir, "out.db3"))).To(Succeed())

		out, err := ioutil.ReadFile(filepath.Join(tdir, "out.db3"))
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal(data))
	})

	It("rejects a file that is not zstd", func() {
		src := filepath.Join(tdir, "bogus.zstd")
		Expect(ioutil.WriteFile(src, []byte("not compressed at all"), 0644)).To(Succeed())

		err := DecompressFile(src, filepath.Join(tdir, "out"))
		Expect(bag.IsKind(err, bag.KindCompression)).To(BeTrue())
	})
})

var _ = Describe("Stats", func() {
	It("aggregates counts and time range", func() {
		s := NewStats()
		s.Record(1, 200)
		s.Record(2, 100)
		s.Add(1, 3, 150, 400)
		s.Add(3, 0, 0, 1000)

		Expect(s.Normalize()).To(Equal(&Stats{
			MessageCount: 5,
			Counts:       map[int]int64{1: 4, 2: 1},
			StartTime:    100,
			EndTime:      400,
		}))
	})

	It("has a zero time range when empty", func() {
		s := NewStats().Normalize()
		Expect(s.StartTime).To(BeZero())
		Expect(s.EndTime).To(BeZero())
	})
})

var _ = Describe("Options", func() {
	It("fills compression settings from embedded metadata", func() {
		md := &bag.Metadata{
			CompressionMode:   bag.CompressionMessage,
			CompressionFormat: bag.CompressionFormatZstd,
		}

		var opts Options
		Expect(opts.CompressMessages()).To(BeFalse())

		opts = opts.WithEmbedded(md)
		Expect(opts.CompressMessages()).To(BeTrue())
		Expect(opts.CompressFiles()).To(BeFalse())
	})
})

func TestStorage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Storage Suite")
}
