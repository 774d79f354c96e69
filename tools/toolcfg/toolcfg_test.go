// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package toolcfg

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/support/logging"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Tool configuration", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = ioutil.TempDir("", "toolcfg_test")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(tempDir)).To(Succeed())
		Expect(os.Unsetenv("GOROSBAG_CHUNK_SIZE")).To(Succeed())
	})

	It("uses defaults without flags", func() {
		t := New("tool", "<bag>", true)
		Expect(t.Parse([]string{"a"})).To(Succeed())
		Expect(t.ExpectArgs(1)).To(Equal([]string{"a"}))

		cfg, err := t.Config(logging.Nop)
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Storage).To(Equal(bag.StorageSQLite3))
		Expect(cfg.CompressionMode).To(Equal(bag.CompressionNone))
		Expect(cfg.Definitions).To(BeNil())
	})

	It("layers the config file, the environment and flags", func() {
		path := filepath.Join(tempDir, "config.toml")
		Expect(ioutil.WriteFile(path, []byte(
			"storage = \"mcap\"\n"+
				"compression-mode = \"message\"\n"+
				"chunk-size = 10\n"+
				"max-file-size = 99\n"), 0644)).To(Succeed())
		Expect(os.Setenv("GOROSBAG_CHUNK_SIZE", "20")).To(Succeed())

		t := New("tool", "<bag>", true)
		t.UseDefinitions()
		Expect(t.Parse([]string{"--config", path, "--compression-mode", "file"})).To(Succeed())

		cfg, err := t.Config(logging.Nop)
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Storage).To(Equal(bag.StorageMCAP))
		Expect(cfg.CompressionMode).To(Equal(bag.CompressionFile))
		Expect(cfg.ChunkSize).To(Equal(20))
		Expect(cfg.MaxFileSize).To(Equal(int64(99)))
		Expect(cfg.Definitions).ToNot(BeNil())
	})

	It("rejects bad enum values", func() {
		t := New("tool", "<bag>", true)
		Expect(t.Parse([]string{"--storage", "bogus"})).ToNot(Succeed())
	})

	It("reports positional argument mismatches as usage errors", func() {
		t := New("tool", "<bag>", false)
		Expect(t.Parse(nil)).To(Succeed())
		_, err := t.ExpectArgs(1)
		Expect(errors.Is(err, ErrUsage)).To(BeTrue())
	})
})

func TestToolCfg(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "toolcfg Suite")
}
