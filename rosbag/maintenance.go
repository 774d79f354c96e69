// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package rosbag

import (
	"io"
	"os"
	"path/filepath"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/support/stagingdir"

	"github.com/pkg/errors"
)

// CopyResult summarizes a Copy.
type CopyResult struct {
	// Metadata is the metadata of the new bag.
	Metadata *bag.Metadata
	// Skipped is the number of unreadable items that were left out.
	Skipped int
}

// Copy writes the messages of the bag at src that f selects to a new bag at
// dest, using cfg's storage and compression settings.
//
// The copy is built in a staging directory and moved to dest once it is
// complete. Unreadable messages are logged and skipped.
func (cfg *Config) Copy(src, dest string, f bag.Filter) (*CopyResult, error) {
	if _, err := os.Lstat(dest); err == nil {
		return nil, bag.Errorf(bag.KindAlreadyExists, dest, "bag path exists")
	}

	r, err := cfg.Open(src)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// Stage next to dest, so that the commit is a rename.
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = filepath.Dir(dest)
	}
	sd, err := stagingdir.New(tempDir, "."+filepath.Base(dest))
	if err != nil {
		return nil, bag.NewError(bag.KindStorage, dest, errors.Wrap(err, "creating staging directory"))
	}
	defer func() {
		_ = sd.Destroy()
	}()

	w, err := cfg.newWriter(sd.Path(), filepath.Base(dest))
	if err != nil {
		return nil, err
	}
	defer func() {
		if w != nil {
			_ = w.Close()
		}
	}()

	// Register selected connections up front, preserving their QoS and
	// definitions.
	for _, t := range r.Topics() {
		if !f.MatchesTopic(t.Topic) {
			continue
		}
		if _, err := w.AddConnection(t.Connection); err != nil {
			return nil, err
		}
	}
	for k, v := range r.Metadata().CustomData {
		w.SetCustomData(k, v)
	}

	c, err := r.Messages(f)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var res CopyResult
	for {
		msg, err := c.Next()
		switch err {
		case nil:
		case io.EOF:
			if err := w.Close(); err != nil {
				return nil, err
			}
			res.Metadata = w.mb.Build()
			w = nil

			if err := sd.Commit(dest); err != nil {
				if errors.Is(err, os.ErrExist) {
					return nil, bag.NewError(bag.KindAlreadyExists, dest, err)
				}
				return nil, bag.NewError(bag.KindStorage, dest, err)
			}
			cfg.logger().Infof("Copied %d message(s) from %q to %q (%d skipped).",
				res.Metadata.MessageCount, src, dest, res.Skipped)
			return &res, nil
		default:
			res.Skipped++
			copyErrors.Inc()
			cfg.logger().Warnf("Skipping unreadable item in %q: %s", src, err)
			continue
		}

		conn, _ := r.Connection(msg.ConnectionID)
		if err := w.Write(conn.Topic, conn.MessageType, msg.Timestamp, msg.Data); err != nil {
			return nil, err
		}
	}
}

// Rebuild recomputes the metadata file of the bag directory at path from
// the contents of its storage files, replacing any existing one.
//
// Settings that storage does not record, such as custom data, are kept from
// the existing metadata file when it can be read.
func (cfg *Config) Rebuild(path string) (*bag.Metadata, error) {
	r, err := cfg.open(path, false)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	md := r.Metadata().Clone()
	if old, err := bag.LoadMetadata(path); err == nil {
		md.CustomData = old.CustomData
		md.ROSDistro = old.ROSDistro
		if md.CompressionMode == bag.CompressionNone {
			md.CompressionFormat, md.CompressionMode = old.CompressionFormat, old.CompressionMode
		}
	}
	md.Version = bag.LatestVersion

	if err := md.Write(filepath.Join(path, bag.MetadataFileName)); err != nil {
		return nil, bag.NewError(bag.KindStorage, path, errors.Wrap(err, "writing metadata"))
	}
	bagsRebuilt.Inc()
	cfg.logger().Infof("Rebuilt metadata of %q: %d message(s) on %d topic(s).",
		path, md.MessageCount, len(md.Topics))
	return md, nil
}

// Validate checks that the bag at path opens and that its metadata agrees
// with its storage files.
func (cfg *Config) Validate(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return bag.NewError(bag.KindBagNotFound, path, err)
		}
		return bag.NewError(bag.KindStorage, path, err)
	}
	if !st.IsDir() {
		return bag.Errorf(bag.KindUsage, path, "is not a directory")
	}

	r, err := cfg.Open(path)
	if err != nil {
		return err
	}
	return r.Close()
}

// Delete deletes the bag directory at path.
func Delete(path string) error { return os.RemoveAll(path) }
