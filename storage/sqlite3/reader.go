// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sqlite3

import (
	"database/sql"
	"io"
	"os"
	"strings"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/storage"
	"github.com/danjacques/gorosbag/support/logging"

	"github.com/pkg/errors"
)

// Reader reads a SQLite storage file.
type Reader struct {
	path string
	opts storage.Options
	log  logging.L

	db     *sql.DB
	layout *layout

	conns    []bag.Connection
	embedded *bag.Metadata

	comp    *storage.Compressor
	cursors map[*cursor]struct{}
}

var _ storage.Reader = (*Reader)(nil)

// Open opens the SQLite storage file at path.
func Open(path string, opts storage.Options) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, storageError(path, err, "opening database")
	}

	db, err := openDB(path)
	if err != nil {
		return nil, storageError(path, err, "opening database")
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	r := Reader{
		path:    path,
		log:     logging.Must(opts.Logger),
		db:      db,
		cursors: make(map[*cursor]struct{}),
	}
	if r.layout, err = detectLayout(db); err != nil {
		return nil, storageError(path, err, "detecting schema")
	}
	r.log.Debugf("Opened SQLite storage %q (schema version %d).", path, r.layout.version)

	if err := r.loadConnections(); err != nil {
		return nil, storageError(path, err, "loading topics")
	}
	if err := r.loadEmbeddedMetadata(); err != nil {
		// Embedded metadata is advisory; a bad record does not prevent reading.
		r.log.Warnf("Ignoring embedded metadata in %q: %s", path, err)
		r.embedded = nil
	}

	r.opts = opts.WithEmbedded(r.embedded)
	if r.opts.CompressMessages() {
		r.comp = storage.NewCompressor(0)
	}

	db = nil // Owned by r.
	return &r, nil
}

// Path implements storage.Reader.
func (r *Reader) Path() string { return r.path }

// SchemaVersion returns the schema version of the database.
func (r *Reader) SchemaVersion() int { return r.layout.version }

func (r *Reader) loadConnections() error {
	defs := make(map[string]string)
	if r.layout.hasDefinitions {
		rows, err := r.db.Query(`SELECT topic_type, encoding, encoded_message_definition FROM message_definitions ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var typ, enc, def string
			if err := rows.Scan(&typ, &enc, &def); err != nil {
				return err
			}
			if enc == bag.DefinitionEncoding {
				defs[typ] = def
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
	}

	cols := []string{"id", "name", "type", "serialization_format"}
	if r.layout.hasQoS {
		cols = append(cols, "offered_qos_profiles")
	} else {
		cols = append(cols, "''")
	}
	if r.layout.hasTypeHash {
		cols = append(cols, "type_description_hash")
	} else {
		cols = append(cols, "''")
	}

	rows, err := r.db.Query(`SELECT ` + strings.Join(cols, ", ") + ` FROM topics ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c bag.Connection
		if err := rows.Scan(&c.ID, &c.Topic, &c.MessageType, &c.SerializationFormat,
			&c.OfferedQoSProfiles, &c.TypeDescriptionHash); err != nil {
			return err
		}
		c.MessageDefinition = defs[c.MessageType]
		r.conns = append(r.conns, c)
	}
	return rows.Err()
}

func (r *Reader) loadEmbeddedMetadata() error {
	if !r.layout.hasMetadata {
		return nil
	}

	var text string
	switch err := r.db.QueryRow(`SELECT metadata FROM metadata ORDER BY id DESC LIMIT 1`).Scan(&text); err {
	case nil:
	case sql.ErrNoRows:
		return nil
	default:
		return err
	}

	md, err := bag.UnmarshalMetadata([]byte(text))
	if err != nil {
		return err
	}
	r.embedded = md
	return nil
}

// Connections implements storage.Reader.
func (r *Reader) Connections() []bag.Connection { return r.conns }

// EmbeddedMetadata implements storage.Reader.
func (r *Reader) EmbeddedMetadata() (*bag.Metadata, bool) { return r.embedded, r.embedded != nil }

// Stats implements storage.Reader.
func (r *Reader) Stats() (*storage.Stats, error) {
	if r.db == nil {
		return nil, bag.NewError(bag.KindUsage, r.path, bag.ErrClosed)
	}
	st, err := collectStats(r.db)
	if err != nil {
		return nil, storageError(r.path, err, "counting messages")
	}
	return st, nil
}

// Messages implements storage.Reader.
func (r *Reader) Messages(f bag.Filter) (storage.Cursor, error) {
	if r.db == nil {
		return nil, bag.NewError(bag.KindUsage, r.path, bag.ErrClosed)
	}
	if f.Empty() {
		return &cursor{}, nil
	}

	var (
		sb    strings.Builder
		args  []interface{}
		conds []string
	)
	sb.WriteString(`SELECT messages.topic_id, topics.name, messages.timestamp, messages.data
FROM messages JOIN topics ON messages.topic_id = topics.id`)

	if len(f.Topics) > 0 {
		conds = append(conds, "topics.name IN (?"+strings.Repeat(", ?", len(f.Topics)-1)+")")
		for _, t := range f.Topics {
			args = append(args, t)
		}
	}
	if f.HasStart {
		conds = append(conds, "messages.timestamp >= ?")
		args = append(args, f.Start)
	}
	if f.HasEnd {
		conds = append(conds, "messages.timestamp <= ?")
		args = append(args, f.End)
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY messages.timestamp, messages.id")

	rows, err := r.db.Query(sb.String(), args...)
	if err != nil {
		return nil, storageError(r.path, err, "querying messages")
	}

	c := &cursor{r: r, rows: rows}
	r.cursors[c] = struct{}{}
	return c, nil
}

// Close implements storage.Reader.
func (r *Reader) Close() error {
	if r.db == nil {
		return nil
	}

	for c := range r.cursors {
		_ = c.Close()
	}
	if r.comp != nil {
		r.comp.Close()
	}

	err := r.db.Close()
	r.db = nil
	return storageError(r.path, err, "closing database")
}

// cursor streams query results.
type cursor struct {
	r    *Reader
	rows *sql.Rows
}

func (c *cursor) Next() (*bag.Message, error) {
	if c.rows == nil {
		return nil, io.EOF
	}

	if !c.rows.Next() {
		err := c.rows.Err()
		_ = c.Close()
		if err != nil {
			readErrors.WithLabelValues("query").Inc()
			return nil, storageError(c.r.path, err, "reading messages")
		}
		return nil, io.EOF
	}

	var (
		msg  bag.Message
		data []byte
	)
	if err := c.rows.Scan(&msg.ConnectionID, &msg.Topic, &msg.Timestamp, &data); err != nil {
		readErrors.WithLabelValues("scan").Inc()
		return nil, storageError(c.r.path, err, "scanning message")
	}
	msg.StoredSize = len(data)

	if comp := c.r.comp; comp != nil {
		var err error
		if data, err = comp.Decompress(nil, data); err != nil {
			readErrors.WithLabelValues("compression").Inc()
			return nil, errors.Wrapf(err, "message on %q at %d", msg.Topic, msg.Timestamp)
		}
	}
	if data == nil {
		data = []byte{}
	}
	msg.Data = data

	messagesRead.Inc()
	return &msg, nil
}

func (c *cursor) Close() error {
	if c.rows == nil {
		return nil
	}
	err := c.rows.Close()
	c.rows = nil
	delete(c.r.cursors, c)
	return err
}
