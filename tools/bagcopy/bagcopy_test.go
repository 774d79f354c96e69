// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package bagcopy

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/rosbag"
	"github.com/danjacques/gorosbag/tools/baggen"
	"github.com/danjacques/gorosbag/tools/toolcfg"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("bagcopy", func() {
	var tempDir, src, dest string

	BeforeEach(func() {
		var err error
		tempDir, err = ioutil.TempDir("", "bagcopy_test")
		Expect(err).ToNot(HaveOccurred())

		src, dest = filepath.Join(tempDir, "src"), filepath.Join(tempDir, "dest")
		Expect(baggen.Run([]string{"--count", "4", "--start", "100", "--interval", "100", src},
			ioutil.Discard, ioutil.Discard)).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(tempDir)).To(Succeed())
	})

	open := func(path string) *bag.Metadata {
		r, err := (&rosbag.Config{}).Open(path)
		Expect(err).ToNot(HaveOccurred())
		defer r.Close()
		return r.Metadata()
	}

	It("copies a filtered selection into another backend", func() {
		var stdout bytes.Buffer
		Expect(Run([]string{
			"--exclude", baggen.PoseTopic,
			"--start", "200", "--end", "300",
			"--storage", "mcap", "--compression-mode", "message",
			src, dest,
		}, &stdout, ioutil.Discard)).To(Succeed())
		Expect(stdout.String()).To(Equal("Copied 4 message(s) on 2 topic(s) to " + dest + " (0 skipped).\n"))

		md := open(dest)
		Expect(md.StorageIdentifier).To(Equal(bag.StorageMCAP))
		Expect(md.CompressionMode).To(Equal(bag.CompressionMessage))
		Expect(md.StartingTime).To(Equal(int64(200)))
		Expect(md.Duration).To(Equal(int64(100)))
		Expect(md.CustomData).To(HaveKeyWithValue("generator", "baggen"))

		var topics []string
		for _, t := range md.Topics {
			topics = append(topics, t.Topic)
		}
		Expect(topics).To(ConsistOf(baggen.Int32Topic, baggen.StringTopic))
	})

	It("copies only the named topics", func() {
		Expect(Run([]string{"--topics", baggen.PoseTopic, src, dest}, ioutil.Discard, ioutil.Discard)).To(Succeed())
		md := open(dest)
		Expect(md.MessageCount).To(Equal(int64(4)))
		Expect(md.Topics).To(HaveLen(1))
		Expect(md.Topics[0].MessageType).To(Equal("geometry_msgs/msg/PoseStamped"))
	})

	It("lists topics", func() {
		var stdout bytes.Buffer
		Expect(Run([]string{"--list-topics", src}, &stdout, ioutil.Discard)).To(Succeed())
		Expect(stdout.String()).To(ContainSubstring("/counter\tstd_msgs/msg/Int32\t4\n"))
		Expect(dest).ToNot(BeAnExistingFile())
	})

	It("rejects unknown topics and empty selections", func() {
		err := Run([]string{"--topics", "/nope", src, dest}, ioutil.Discard, ioutil.Discard)
		Expect(errors.Is(err, toolcfg.ErrUsage)).To(BeTrue())

		err = Run([]string{"--topics", baggen.PoseTopic, "--exclude", baggen.PoseTopic, src, dest},
			ioutil.Discard, ioutil.Discard)
		Expect(errors.Is(err, toolcfg.ErrUsage)).To(BeTrue())
		Expect(dest).ToNot(BeAnExistingFile())
	})

	It("refuses to overwrite an existing bag", func() {
		Expect(os.Mkdir(dest, 0755)).To(Succeed())
		err := Run([]string{src, dest}, ioutil.Discard, ioutil.Discard)
		Expect(bag.KindOf(err)).To(Equal(bag.KindAlreadyExists))
	})
})

func TestBagCopy(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "bagcopy Suite")
}
