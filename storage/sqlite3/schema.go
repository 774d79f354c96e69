// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package sqlite3 implements the rosbag2 SQLite storage format.
//
// Writers produce schema version 4. Readers accept versions 1 through 4; the
// columns and tables that older versions lack read as empty.
package sqlite3

import (
	"database/sql"
	"os"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/storage"

	"github.com/pkg/errors"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// SchemaVersion is the schema version that writers produce.
const SchemaVersion = 4

// Default write batching.
const (
	DefaultBatchMessages = 1000
	DefaultBatchBytes    = 8 * 1024 * 1024
)

const driverName = "sqlite"

const createSchema = `
CREATE TABLE schema(
	schema_version INTEGER PRIMARY KEY,
	ros_distro TEXT NOT NULL
);
CREATE TABLE metadata(
	id INTEGER PRIMARY KEY,
	metadata_version INTEGER NOT NULL,
	metadata TEXT NOT NULL
);
CREATE TABLE topics(
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	serialization_format TEXT NOT NULL,
	offered_qos_profiles TEXT NOT NULL,
	type_description_hash TEXT NOT NULL
);
CREATE TABLE message_definitions(
	id INTEGER PRIMARY KEY,
	topic_type TEXT NOT NULL,
	encoding TEXT NOT NULL,
	encoded_message_definition TEXT NOT NULL,
	type_description_hash TEXT NOT NULL
);
CREATE TABLE messages(
	id INTEGER PRIMARY KEY,
	topic_id INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	data BLOB NOT NULL
);
CREATE INDEX timestamp_idx ON messages (timestamp ASC);
`

// layout describes which optional parts of the schema a database has.
type layout struct {
	version int

	hasQoS         bool
	hasTypeHash    bool
	hasDefinitions bool
	hasMetadata    bool
}

func openDB(path string, pragmas ...string) (*sql.DB, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "applying %q", p)
		}
	}
	return db, nil
}

func storageError(path string, err error, op string) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(errors.Cause(err)) {
		return bag.NewError(bag.KindBagNotFound, path, err)
	}
	return bag.NewError(bag.KindStorage, path, errors.Wrap(err, op))
}

func hasTable(db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	return n > 0, err
}

func tableColumns(db *sql.DB, table string) (map[string]struct{}, error) {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = struct{}{}
	}
	return cols, rows.Err()
}

// detectLayout identifies the schema of db.
//
// Databases with a schema table report its version. Without one, the
// presence of topics.offered_qos_profiles means version 2, else 1.
func detectLayout(db *sql.DB) (*layout, error) {
	for _, t := range []string{"messages", "topics"} {
		ok, err := hasTable(db, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Errorf("missing required table %q", t)
		}
	}

	var l layout
	cols, err := tableColumns(db, "topics")
	if err != nil {
		return nil, err
	}
	_, l.hasQoS = cols["offered_qos_profiles"]
	_, l.hasTypeHash = cols["type_description_hash"]

	if l.hasDefinitions, err = hasTable(db, "message_definitions"); err != nil {
		return nil, err
	}
	if l.hasMetadata, err = hasTable(db, "metadata"); err != nil {
		return nil, err
	}

	hasSchema, err := hasTable(db, "schema")
	switch {
	case err != nil:
		return nil, err
	case hasSchema:
		if err := db.QueryRow(`SELECT schema_version FROM schema`).Scan(&l.version); err != nil {
			return nil, errors.Wrap(err, "reading schema version")
		}
	case l.hasQoS:
		l.version = 2
	default:
		l.version = 1
	}
	return &l, nil
}

type querier interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// collectStats aggregates message counts per topic.
func collectStats(q querier) (*storage.Stats, error) {
	rows, err := q.Query(`SELECT topic_id, COUNT(*), MIN(timestamp), MAX(timestamp)
FROM messages GROUP BY topic_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	st := storage.NewStats()
	for rows.Next() {
		var (
			topicID           int
			count, start, end int64
		)
		if err := rows.Scan(&topicID, &count, &start, &end); err != nil {
			return nil, err
		}
		st.Add(topicID, count, start, end)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return st.Normalize(), nil
}
