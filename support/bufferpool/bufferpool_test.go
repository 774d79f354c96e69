// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package bufferpool

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Pool", func() {
	It("hands out buffers of the configured size", func() {
		p := Pool{Size: 16}
		b := p.Get()
		Expect(b.Bytes()).To(HaveLen(16))
		Expect(p.Allocated()).To(Equal(int64(1)))

		b.Release()
		b.Release()

		// A second Get may reuse the released buffer, but never allocates more
		// than one buffer per outstanding Get.
		b1, b2 := p.Get(), p.Get()
		Expect(b1.Bytes()).To(HaveLen(16))
		Expect(b2.Bytes()).To(HaveLen(16))
		Expect(p.Allocated()).To(BeNumerically("<=", 3))
		b1.Release()
		b2.Release()
	})
})

func TestBufferPool(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "bufferpool Suite")
}
