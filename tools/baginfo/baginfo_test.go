// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package baginfo

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/tools/baggen"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("baginfo", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = ioutil.TempDir("", "baginfo_test")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(tempDir)).To(Succeed())
	})

	It("prints metadata, topic counts and the time range", func() {
		path := filepath.Join(tempDir, "gen")
		Expect(baggen.Run([]string{"--count", "2", "--start", "1000000000", path},
			ioutil.Discard, ioutil.Discard)).To(Succeed())

		var stdout bytes.Buffer
		Expect(Run([]string{path}, &stdout, ioutil.Discard)).To(Succeed())

		out := stdout.String()
		Expect(out).To(ContainSubstring("Files:              gen_0.db3\n"))
		Expect(out).To(ContainSubstring("Storage id:         sqlite3\n"))
		Expect(out).To(ContainSubstring("Messages:           6\n"))
		Expect(out).To(ContainSubstring("Duration:           100ms\n"))
		Expect(out).To(ContainSubstring("Start:              1970-01-01T00:00:01Z (1000000000)\n"))
		Expect(out).To(ContainSubstring("End:                1970-01-01T00:00:01.1Z (1100000000)\n"))
		Expect(out).To(ContainSubstring(
			"Topic: /counter | Type: std_msgs/msg/Int32 | Count: 2 | Serialization Format: cdr\n"))
		Expect(out).To(ContainSubstring("  generator: baggen\n"))
	})

	It("omits the time range of an empty bag", func() {
		var stdout bytes.Buffer
		md := bag.Metadata{Version: 9, StorageIdentifier: bag.StorageMCAP}
		Expect(Print(&stdout, filepath.Join(tempDir, "missing"), &md)).To(Succeed())
		Expect(stdout.String()).ToNot(ContainSubstring("Start:"))
		Expect(stdout.String()).To(ContainSubstring("Bag size:           0 B\n"))
	})

	It("fails on a missing bag", func() {
		err := Run([]string{filepath.Join(tempDir, "missing")}, ioutil.Discard, ioutil.Discard)
		Expect(bag.KindOf(err)).To(Equal(bag.KindBagNotFound))
	})
})

func TestBagInfo(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "baginfo Suite")
}
