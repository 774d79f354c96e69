// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package stagingdir manages scratch directories that hold bag contents while
// they are being built or decompressed.
package stagingdir

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ErrFinished is returned when a committed or destroyed D is used.
var ErrFinished = errors.New("staging directory is finished")

// D is a staging directory.
//
// A D ends in exactly one of two ways: Commit renames it to its final
// location, and Destroy removes it with its contents. Destroy after Commit is
// a no-op, so Destroy can always be deferred.
type D struct {
	path string
}

// New creates a staging directory in parent, named with prefix. If parent is
// empty, the system temporary directory is used.
func New(parent, prefix string) (*D, error) {
	path, err := ioutil.TempDir(parent, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "creating staging directory")
	}
	return &D{path: path}, nil
}

// Path joins components onto the staging directory's path.
//
// Path panics if the directory is finished.
func (sd *D) Path(components ...string) string {
	if sd.path == "" {
		panic(ErrFinished)
	}
	return filepath.Join(append([]string{sd.path}, components...)...)
}

// Destroy removes the staging directory and its contents.
func (sd *D) Destroy() error {
	if sd.path == "" {
		return nil
	}
	if err := os.RemoveAll(sd.path); err != nil {
		return errors.Wrapf(err, "removing staging directory %q", sd.path)
	}
	sd.path = ""
	return nil
}

// Commit renames the staging directory to dest.
//
// Commit never replaces an existing dest; bags are not overwritten. The
// rename is atomic when dest is on the same filesystem as the staging
// directory.
func (sd *D) Commit(dest string) error {
	if sd.path == "" {
		return ErrFinished
	}
	if _, err := os.Lstat(dest); err == nil {
		return errors.Wrapf(os.ErrExist, "committing to %q", dest)
	}

	if err := os.Rename(sd.path, dest); err != nil {
		return errors.Wrapf(err, "moving %q to %q", sd.path, dest)
	}
	sd.path = ""
	return nil
}
