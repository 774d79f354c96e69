// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package stagingdir

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Staging directory", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = ioutil.TempDir("", "stagingdir_test")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(tempDir)).To(Succeed())
	})

	writeFile := func(sd *D) {
		Expect(ioutil.WriteFile(sd.Path("a_0.db3"), []byte("data"), 0644)).To(Succeed())
	}

	It("commits its contents to the destination", func() {
		sd, err := New(tempDir, "bag")
		Expect(err).ToNot(HaveOccurred())
		writeFile(sd)

		dest := filepath.Join(tempDir, "out")
		Expect(sd.Commit(dest)).To(Succeed())
		Expect(filepath.Join(dest, "a_0.db3")).To(BeARegularFile())

		// Finished directories can be destroyed safely, but not reused.
		Expect(sd.Destroy()).To(Succeed())
		Expect(dest).To(BeADirectory())
		Expect(sd.Commit(dest)).To(MatchError(ErrFinished))
		Expect(func() { sd.Path("x") }).To(Panic())
	})

	It("refuses to replace an existing destination", func() {
		sd, err := New(tempDir, "bag")
		Expect(err).ToNot(HaveOccurred())
		defer sd.Destroy()

		dest := filepath.Join(tempDir, "out")
		Expect(os.Mkdir(dest, 0755)).To(Succeed())
		err = sd.Commit(dest)
		Expect(errors.Is(err, os.ErrExist)).To(BeTrue())
		Expect(sd.Path()).To(BeADirectory())
	})

	It("removes its contents on destroy", func() {
		sd, err := New(tempDir, "bag")
		Expect(err).ToNot(HaveOccurred())
		writeFile(sd)

		path := sd.Path()
		Expect(sd.Destroy()).To(Succeed())
		Expect(path).ToNot(BeAnExistingFile())
	})
})

func TestStagingDir(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "stagingdir Suite")
}
