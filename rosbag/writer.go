// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package rosbag

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/storage"
	"github.com/danjacques/gorosbag/support/logging"

	"github.com/pkg/errors"
)

// Writer writes a bag.
//
// Writer must be created using Config.Create. It writes storage files
// directly into the bag directory; there is no rollback, and a bag whose
// writer was not closed can be repaired with Config.Rebuild.
type Writer struct {
	cfg  *Config
	log  logging.L
	path string
	name string

	storageID bag.StorageID
	opts      storage.Options
	mb        *bag.MetadataBuilder

	// sw is the storage file being written, and swRel its path relative to
	// the bag directory.
	sw    storage.Writer
	swRel string
	// fileIndex is the index of sw among the bag's storage files.
	fileIndex int
	// fileCounts holds the messages written to sw, by connection ID.
	fileCounts map[int]int64

	closed bool
}

// Create creates a new bag directory at path and opens a Writer for it.
//
// If anything exists at path, Create fails with a bag.KindAlreadyExists
// error.
func (cfg *Config) Create(path string) (*Writer, error) {
	if _, err := os.Lstat(path); err == nil {
		return nil, bag.Errorf(bag.KindAlreadyExists, path, "bag path exists")
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, bag.NewError(bag.KindStorage, path, errors.Wrap(err, "creating bag directory"))
	}

	w, err := cfg.newWriter(path, filepath.Base(path))
	if err != nil {
		_ = os.RemoveAll(path)
		return nil, err
	}
	return w, nil
}

// newWriter opens a Writer in the existing directory dir. Storage files are
// named after name.
func (cfg *Config) newWriter(dir, name string) (*Writer, error) {
	format, mode := cfg.compression()
	w := Writer{
		cfg:       cfg,
		log:       cfg.logger(),
		path:      dir,
		name:      name,
		storageID: cfg.storageID(),
		opts:      cfg.writeOptions(),
		mb:        bag.NewMetadataBuilder(cfg.storageID(), format, mode),
	}
	w.mb.SetROSDistro(cfg.rosDistro())

	if err := w.openFile(); err != nil {
		return nil, err
	}
	bagsCreated.Inc()
	return &w, nil
}

// Path returns the path of the bag directory.
func (w *Writer) Path() string { return w.path }

// NumMessages returns the number of messages written so far.
func (w *Writer) NumMessages() int64 { return w.mb.NumMessages() }

// NumBytes returns the number of payload bytes written so far.
func (w *Writer) NumBytes() int64 { return w.mb.NumBytes() }

// Connections returns the bag's connections, in ID order.
func (w *Writer) Connections() []bag.Connection { return w.mb.Connections() }

// SetCustomData records a custom_data entry in the bag's metadata.
func (w *Writer) SetCustomData(key, value string) { w.mb.SetCustomData(key, value) }

// compressesFiles returns true if finished storage files are compressed as a
// whole. MCAP compresses its chunks instead.
func (w *Writer) compressesFiles() bool {
	return w.opts.CompressFiles() && w.storageID == bag.StorageSQLite3
}

// openFile starts the next storage file, registering every known
// connection with it.
func (w *Writer) openFile() error {
	rel := fmt.Sprintf("%s_%d%s", w.name, w.fileIndex, w.storageID.Ext())
	sw, err := createStorage(w.storageID, filepath.Join(w.path, rel), w.opts)
	if err != nil {
		return err
	}

	for _, conn := range w.mb.Connections() {
		if err := sw.AddConnection(conn); err != nil {
			_ = sw.Close()
			return err
		}
	}

	w.mb.AddFile(rel)
	w.sw, w.swRel = sw, rel
	w.fileCounts = make(map[int]int64)
	storageFilesCreated.Inc()
	w.log.Debugf("Opened storage file %q.", rel)
	return nil
}

// finishFile finalizes the current storage file, verifies its contents and
// compresses it if file compression is in effect.
func (w *Writer) finishFile() error {
	sw := w.sw
	w.sw = nil
	defer func() {
		_ = sw.Close()
	}()

	if w.compressesFiles() {
		w.mb.RenameCurrentFile(w.swRel + bag.CompressedFileExt)
	}

	st, err := sw.Finalize(w.mb.Build())
	if err != nil {
		return errors.Wrapf(err, "finalizing %q", w.swRel)
	}
	if err := sw.Close(); err != nil {
		return errors.Wrapf(err, "closing %q", w.swRel)
	}
	if err := w.checkCounts(st); err != nil {
		return err
	}

	if w.compressesFiles() {
		src := sw.Path()
		if err := storage.CompressFile(src, src+bag.CompressedFileExt, w.opts.CompressionLevel); err != nil {
			return errors.Wrapf(err, "compressing %q", w.swRel)
		}
		if err := os.Remove(src); err != nil {
			return bag.NewError(bag.KindStorage, src, err)
		}
	}

	w.fileIndex++
	return nil
}

// checkCounts compares the counts derived from storage with the messages
// written to the current file.
func (w *Writer) checkCounts(st *storage.Stats) error {
	for _, conn := range w.mb.Connections() {
		if have, want := st.Counts[conn.ID], w.fileCounts[conn.ID]; have != want {
			return bag.Errorf(bag.KindMetadataInconsistent, filepath.Join(w.path, w.swRel),
				"storage holds %d message(s) on %q, but %d were written", have, conn.Topic, want)
		}
	}
	return nil
}

func (w *Writer) checkOpen() error {
	if w.closed {
		return bag.NewError(bag.KindUsage, w.path, ErrNotOpen)
	}
	return nil
}

// AddConnection registers a connection for conn.Topic.
//
// conn's ID is assigned by the Writer; the registered connection is
// returned. If conn.SerializationFormat is empty, CDR is assumed. Adding a
// topic twice is a bag.KindUsage error.
func (w *Writer) AddConnection(conn bag.Connection) (*bag.Connection, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	if conn.Topic == "" || conn.MessageType == "" {
		return nil, bag.Errorf(bag.KindUsage, w.path, "connections need a topic and a message type")
	}
	if _, ok := w.mb.Connection(conn.Topic); ok {
		return nil, bag.Errorf(bag.KindUsage, w.path, "topic %q is already registered", conn.Topic)
	}
	if conn.SerializationFormat == "" {
		conn.SerializationFormat = bag.SerializationCDR
	}
	conn.ID = w.mb.NextConnectionID()

	if err := w.sw.AddConnection(conn); err != nil {
		return nil, err
	}
	w.mb.AddConnection(conn)

	c, _ := w.mb.Connection(conn.Topic)
	return c, nil
}

// connection returns the connection for topic, creating it if necessary.
func (w *Writer) connection(topic, msgType string) (*bag.Connection, error) {
	if c, ok := w.mb.Connection(topic); ok {
		if c.MessageType != msgType {
			return nil, bag.Errorf(bag.KindUsage, w.path, "topic %q has type %q, not %q",
				topic, c.MessageType, msgType)
		}
		return c, nil
	}

	conn := bag.Connection{Topic: topic, MessageType: msgType}
	if reg := w.cfg.Definitions; reg != nil {
		if def, err := reg.Definition(msgType); err == nil {
			conn.MessageDefinition = def
		} else {
			w.log.Debugf("No definition for %q: %s", msgType, err)
		}
	}
	return w.AddConnection(conn)
}

// Write writes a serialized message of type msgType on topic at timestamp
// ts, in nanoseconds since the epoch.
//
// The topic's connection is created on first use.
func (w *Writer) Write(topic, msgType string, ts int64, data []byte) error {
	if err := w.checkOpen(); err != nil {
		return err
	}

	conn, err := w.connection(topic, msgType)
	if err != nil {
		return err
	}

	if w.cfg.MaxFileSize > 0 && w.sw.Size() >= w.cfg.MaxFileSize && len(w.fileCounts) > 0 {
		if err := w.finishFile(); err != nil {
			return err
		}
		if err := w.openFile(); err != nil {
			return err
		}
	}

	if err := w.sw.WriteMessage(conn.ID, ts, data); err != nil {
		return err
	}
	w.mb.RecordMessage(conn.ID, ts, len(data))
	w.fileCounts[conn.ID]++

	messagesWritten.Inc()
	bytesWritten.Add(float64(len(data)))
	return nil
}

// Close finalizes the bag and writes its metadata file.
//
// The storage contents are checked against the messages written; a
// mismatch is a bag.KindMetadataInconsistent error, and no metadata file is
// written.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.finishFile(); err != nil {
		return err
	}

	md := w.mb.Build()
	if err := md.Write(filepath.Join(w.path, bag.MetadataFileName)); err != nil {
		return bag.NewError(bag.KindStorage, w.path, errors.Wrap(err, "writing metadata"))
	}
	w.log.Infof("Wrote bag %q: %d message(s) in %d file(s).", w.path, md.MessageCount, len(md.Files))
	return nil
}
