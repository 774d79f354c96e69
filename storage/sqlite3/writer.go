// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sqlite3

import (
	"database/sql"
	"os"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/storage"
	"github.com/danjacques/gorosbag/support/logging"

	"github.com/pkg/errors"
)

const insertMessage = `INSERT INTO messages (topic_id, timestamp, data) VALUES (?, ?, ?)`

// Writer creates a SQLite storage file.
//
// Inserts are grouped into transactions. A transaction is committed once it
// holds BatchMessages messages or BatchBytes bytes, and when the writer is
// finalized.
type Writer struct {
	path string
	opts storage.Options
	log  logging.L

	db   *sql.DB
	tx   *sql.Tx
	stmt *sql.Stmt

	pendingMessages int
	pendingBytes    int
	size            int64

	conns       map[int]struct{}
	definedType map[string]struct{}
	// counts holds the messages inserted per connection ID.
	counts map[int]int64

	comp      *storage.Compressor
	finalized bool
}

var _ storage.Writer = (*Writer)(nil)

// Create creates a new SQLite storage file at path.
func Create(path string, opts storage.Options) (*Writer, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, bag.Errorf(bag.KindAlreadyExists, path, "storage file exists")
	}

	if opts.BatchMessages <= 0 {
		opts.BatchMessages = DefaultBatchMessages
	}
	if opts.BatchBytes <= 0 {
		opts.BatchBytes = DefaultBatchBytes
	}
	if opts.ROSDistro == "" {
		opts.ROSDistro = bag.DefaultROSDistro
	}

	db, err := openDB(path)
	if err != nil {
		return nil, storageError(path, err, "creating database")
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	// All statements share the write transaction's connection.
	db.SetMaxOpenConns(1)
	for _, p := range []string{
		"PRAGMA journal_mode=MEMORY;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := db.Exec(p); err != nil {
			return nil, storageError(path, err, "configuring database")
		}
	}

	if _, err := db.Exec(createSchema); err != nil {
		return nil, storageError(path, err, "creating schema")
	}
	if _, err := db.Exec(`INSERT INTO schema (schema_version, ros_distro) VALUES (?, ?)`,
		SchemaVersion, opts.ROSDistro); err != nil {
		return nil, storageError(path, err, "recording schema version")
	}

	w := Writer{
		path:        path,
		opts:        opts,
		log:         logging.Must(opts.Logger),
		db:          db,
		conns:       make(map[int]struct{}),
		definedType: make(map[string]struct{}),
		counts:      make(map[int]int64),
	}
	if opts.CompressMessages() {
		w.comp = storage.NewCompressor(opts.CompressionLevel)
	}

	db = nil // Owned by w.
	return &w, nil
}

// Path implements storage.Writer.
func (w *Writer) Path() string { return w.path }

// Size implements storage.Writer.
func (w *Writer) Size() int64 { return w.size }

func (w *Writer) checkOpen() error {
	if w.db == nil || w.finalized {
		return bag.NewError(bag.KindUsage, w.path, bag.ErrClosed)
	}
	return nil
}

// begin ensures that a write transaction is open.
func (w *Writer) begin() error {
	if w.tx != nil {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(insertMessage)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	w.tx, w.stmt = tx, stmt
	return nil
}

// commit commits the open transaction, if any.
func (w *Writer) commit() error {
	if w.tx == nil {
		return nil
	}

	_ = w.stmt.Close()
	err := w.tx.Commit()
	w.tx, w.stmt = nil, nil
	if err != nil {
		return err
	}

	transactionsCommitted.Inc()
	w.log.Debugf("Committed %d message(s) (%d bytes) to %q.", w.pendingMessages, w.pendingBytes, w.path)
	w.pendingMessages, w.pendingBytes = 0, 0
	return nil
}

// AddConnection implements storage.Writer.
func (w *Writer) AddConnection(conn bag.Connection) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if _, ok := w.conns[conn.ID]; ok {
		return bag.Errorf(bag.KindUsage, w.path, "connection %d already registered", conn.ID)
	}
	if err := w.begin(); err != nil {
		return storageError(w.path, err, "beginning transaction")
	}

	if _, err := w.tx.Exec(`INSERT INTO topics
(id, name, type, serialization_format, offered_qos_profiles, type_description_hash)
VALUES (?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.Topic, conn.MessageType, conn.SerializationFormat,
		conn.OfferedQoSProfiles, conn.TypeDescriptionHash); err != nil {
		return storageError(w.path, err, "inserting topic")
	}

	if _, ok := w.definedType[conn.MessageType]; !ok {
		encoding := bag.DefinitionEncoding
		if conn.MessageDefinition == "" {
			encoding = "unknown"
		}
		if _, err := w.tx.Exec(`INSERT INTO message_definitions
(topic_type, encoding, encoded_message_definition, type_description_hash)
VALUES (?, ?, ?, ?)`,
			conn.MessageType, encoding, conn.MessageDefinition, conn.TypeDescriptionHash); err != nil {
			return storageError(w.path, err, "inserting message definition")
		}
		w.definedType[conn.MessageType] = struct{}{}
	}

	w.conns[conn.ID] = struct{}{}
	return nil
}

// WriteMessage implements storage.Writer.
func (w *Writer) WriteMessage(connID int, ts int64, data []byte) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if _, ok := w.conns[connID]; !ok {
		return bag.Errorf(bag.KindUsage, w.path, "unknown connection %d", connID)
	}

	if data == nil {
		data = []byte{}
	}
	if w.comp != nil {
		var err error
		if data, err = w.comp.Compress(nil, data); err != nil {
			return bag.NewError(bag.KindCompression, w.path, err)
		}
	}

	if err := w.begin(); err != nil {
		return storageError(w.path, err, "beginning transaction")
	}
	if _, err := w.stmt.Exec(connID, ts, data); err != nil {
		return storageError(w.path, err, "inserting message")
	}

	w.counts[connID]++
	messagesWritten.Inc()
	bytesWritten.Add(float64(len(data)))
	w.size += int64(len(data))
	w.pendingMessages++
	w.pendingBytes += len(data)

	if w.pendingMessages >= w.opts.BatchMessages || w.pendingBytes >= w.opts.BatchBytes {
		if err := w.commit(); err != nil {
			return storageError(w.path, err, "committing transaction")
		}
	}
	return nil
}

// Finalize implements storage.Writer.
//
// md is stored in the metadata table.
func (w *Writer) Finalize(md *bag.Metadata) (*storage.Stats, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}

	if md != nil {
		text, err := md.Marshal()
		if err != nil {
			return nil, errors.Wrap(err, "rendering metadata")
		}
		if err := w.begin(); err != nil {
			return nil, storageError(w.path, err, "beginning transaction")
		}
		if _, err := w.tx.Exec(`INSERT INTO metadata (metadata_version, metadata) VALUES (?, ?)`,
			md.Version, string(text)); err != nil {
			return nil, storageError(w.path, err, "inserting metadata")
		}
	}

	if err := w.commit(); err != nil {
		return nil, storageError(w.path, err, "committing transaction")
	}
	w.finalized = true

	st, err := collectStats(w.db)
	if err != nil {
		return nil, storageError(w.path, err, "counting messages")
	}
	if err := w.checkCounts(st); err != nil {
		return nil, err
	}
	return st, nil
}

// checkCounts compares the per-connection counters kept while inserting with
// the counts stored in the messages table.
func (w *Writer) checkCounts(st *storage.Stats) error {
	for id := range w.conns {
		if have, want := st.Counts[id], w.counts[id]; have != want {
			return bag.Errorf(bag.KindMetadataInconsistent, w.path,
				"messages table holds %d message(s) on connection %d, but %d were inserted", have, id, want)
		}
	}
	return nil
}

// Close implements storage.Writer.
func (w *Writer) Close() error {
	if w.db == nil {
		return nil
	}

	// There is no rollback: whatever was written is kept.
	commitErr := w.commit()
	if w.comp != nil {
		w.comp.Close()
	}

	closeErr := w.db.Close()
	w.db = nil
	if commitErr != nil {
		return storageError(w.path, commitErr, "committing transaction")
	}
	return storageError(w.path, closeErr, "closing database")
}
