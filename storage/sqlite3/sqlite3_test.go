// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sqlite3

import (
	"database/sql"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

func readAll(c storage.Cursor) ([]*bag.Message, error) {
	defer c.Close()

	var msgs []*bag.Message
	for {
		msg, err := c.Next()
		switch err {
		case nil:
			msgs = append(msgs, msg)
		case io.EOF:
			return msgs, nil
		default:
			return msgs, err
		}
	}
}

func timestamps(msgs []*bag.Message) []int64 {
	var ts []int64
	for _, m := range msgs {
		ts = append(ts, m.Timestamp)
	}
	return ts
}

var _ = Describe("SQLite storage", func() {
	var (
		tdir string
		path string
	)

	connA := bag.Connection{
		ID:                  1,
		Topic:               "/a",
		MessageType:         "std_msgs/msg/Int32",
		SerializationFormat: bag.SerializationCDR,
		OfferedQoSProfiles:  "- depth: 10\n",
		MessageDefinition:   "int32 data\n",
	}
	connB := bag.Connection{
		ID:                  2,
		Topic:               "/b",
		MessageType:         "std_msgs/msg/String",
		SerializationFormat: bag.SerializationCDR,
	}

	BeforeEach(func() {
		var err error
		tdir, err = ioutil.TempDir("", "sqlite3_test")
		Expect(err).ToNot(HaveOccurred())
		path = filepath.Join(tdir, "bag_0.db3")
	})

	AfterEach(func() {
		Expect(os.RemoveAll(tdir)).To(Succeed())
	})

	writeBag := func(opts storage.Options, md *bag.Metadata) *storage.Stats {
		w, err := Create(path, opts)
		Expect(err).ToNot(HaveOccurred())
		defer w.Close()

		Expect(w.AddConnection(connA)).To(Succeed())
		Expect(w.AddConnection(connB)).To(Succeed())

		// Out of order, with a timestamp tie on 300.
		Expect(w.WriteMessage(1, 300, []byte{0, 1, 0, 0, 3, 0, 0, 0})).To(Succeed())
		Expect(w.WriteMessage(2, 100, []byte{0, 1, 0, 0, 1, 0, 0, 0, 'x', 0})).To(Succeed())
		Expect(w.WriteMessage(2, 300, []byte{0, 1, 0, 0, 1, 0, 0, 0, 'y', 0})).To(Succeed())
		Expect(w.WriteMessage(1, 200, []byte{0, 1, 0, 0, 2, 0, 0, 0})).To(Succeed())

		st, err := w.Finalize(md)
		Expect(err).ToNot(HaveOccurred())
		Expect(w.Close()).To(Succeed())
		return st
	}

	It("refuses to overwrite an existing file", func() {
		Expect(ioutil.WriteFile(path, nil, 0644)).To(Succeed())
		_, err := Create(path, storage.Options{})
		Expect(bag.IsKind(err, bag.KindAlreadyExists)).To(BeTrue())
	})

	It("reports a missing file", func() {
		_, err := Open(path, storage.Options{})
		Expect(bag.IsKind(err, bag.KindBagNotFound)).To(BeTrue())
	})

	It("rejects a database without bag tables", func() {
		db, err := sql.Open(driverName, path)
		Expect(err).ToNot(HaveOccurred())
		_, err = db.Exec(`CREATE TABLE unrelated(id INTEGER)`)
		Expect(err).ToNot(HaveOccurred())
		Expect(db.Close()).To(Succeed())

		_, err = Open(path, storage.Options{})
		Expect(bag.IsKind(err, bag.KindStorage)).To(BeTrue())
	})

	It("rejects unknown connections and use after finalize", func() {
		w, err := Create(path, storage.Options{})
		Expect(err).ToNot(HaveOccurred())
		defer w.Close()

		Expect(bag.IsKind(w.WriteMessage(7, 1, nil), bag.KindUsage)).To(BeTrue())
		Expect(w.AddConnection(connA)).To(Succeed())
		Expect(bag.IsKind(w.AddConnection(connA), bag.KindUsage)).To(BeTrue())

		_, err = w.Finalize(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(bag.IsKind(w.WriteMessage(1, 1, nil), bag.KindUsage)).To(BeTrue())
	})

	It("checks the messages table against the inserted counts", func() {
		w, err := Create(path, storage.Options{})
		Expect(err).ToNot(HaveOccurred())
		defer w.Close()

		Expect(w.AddConnection(connA)).To(Succeed())
		Expect(w.WriteMessage(1, 10, []byte{0})).To(Succeed())

		// A row the writer did not insert, in its pending transaction.
		_, err = w.tx.Exec(`INSERT INTO messages (topic_id, timestamp, data) VALUES (1, 20, x'00')`)
		Expect(err).ToNot(HaveOccurred())

		_, err = w.Finalize(nil)
		Expect(bag.IsKind(err, bag.KindMetadataInconsistent)).To(BeTrue())
	})

	It("orders timestamps before the epoch", func() {
		w, err := Create(path, storage.Options{})
		Expect(err).ToNot(HaveOccurred())
		defer w.Close()

		Expect(w.AddConnection(connA)).To(Succeed())
		Expect(w.WriteMessage(1, 50, []byte{0})).To(Succeed())
		Expect(w.WriteMessage(1, -100, []byte{1})).To(Succeed())
		st, err := w.Finalize(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(st.StartTime).To(Equal(int64(-100)))
		Expect(st.EndTime).To(Equal(int64(50)))
		Expect(w.Close()).To(Succeed())

		r, err := Open(path, storage.Options{})
		Expect(err).ToNot(HaveOccurred())
		defer r.Close()
		msgs, err := readAll(mustMessages(r, bag.Filter{}.WithStart(-200).WithEnd(0)))
		Expect(err).ToNot(HaveOccurred())
		Expect(timestamps(msgs)).To(Equal([]int64{-100}))
	})

	DescribeTable("round-trips messages",
		func(opts storage.Options) {
			md := bag.NewMetadataBuilder(bag.StorageSQLite3, opts.CompressionFormat, opts.CompressionMode).Build()
			st := writeBag(opts, md)
			Expect(st.MessageCount).To(Equal(int64(4)))
			Expect(st.Counts).To(Equal(map[int]int64{1: 2, 2: 2}))
			Expect(st.StartTime).To(Equal(int64(100)))
			Expect(st.EndTime).To(Equal(int64(300)))

			// Readers learn the compression mode from the embedded metadata.
			r, err := Open(path, storage.Options{})
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()

			Expect(r.SchemaVersion()).To(Equal(SchemaVersion))
			Expect(r.Connections()).To(Equal([]bag.Connection{connA, connB}))

			emb, ok := r.EmbeddedMetadata()
			Expect(ok).To(BeTrue())
			Expect(emb.CompressionMode).To(Equal(opts.CompressionMode))

			msgs, err := readAll(mustMessages(r, bag.Filter{}))
			Expect(err).ToNot(HaveOccurred())
			Expect(timestamps(msgs)).To(Equal([]int64{100, 200, 300, 300}))

			// Ties keep insertion order.
			Expect(msgs[2].Topic).To(Equal("/a"))
			Expect(msgs[3].Data).To(Equal([]byte{0, 1, 0, 0, 1, 0, 0, 0, 'y', 0}))
			if opts.CompressMessages() {
				Expect(msgs[3].StoredSize).ToNot(Equal(len(msgs[3].Data)))
			} else {
				Expect(msgs[3].StoredSize).To(Equal(len(msgs[3].Data)))
			}

			rst, err := r.Stats()
			Expect(err).ToNot(HaveOccurred())
			Expect(rst).To(Equal(st))
		},
		Entry("uncompressed", storage.Options{}),
		Entry("message compression", storage.Options{
			CompressionMode:   bag.CompressionMessage,
			CompressionFormat: bag.CompressionFormatZstd,
		}),
		Entry("small batches", storage.Options{BatchMessages: 1}),
	)

	Context("with a written bag", func() {
		var r *Reader

		BeforeEach(func() {
			writeBag(storage.Options{}, nil)

			var err error
			r, err = Open(path, storage.Options{})
			Expect(err).ToNot(HaveOccurred())
		})

		AfterEach(func() {
			Expect(r.Close()).To(Succeed())
		})

		It("has no embedded metadata", func() {
			_, ok := r.EmbeddedMetadata()
			Expect(ok).To(BeFalse())
		})

		DescribeTable("filters messages",
			func(f bag.Filter, expected []int64) {
				msgs, err := readAll(mustMessages(r, f))
				Expect(err).ToNot(HaveOccurred())
				Expect(timestamps(msgs)).To(Equal(expected))
			},
			Entry("inclusive start", bag.Filter{}.WithStart(200), []int64{200, 300, 300}),
			Entry("inclusive end", bag.Filter{}.WithEnd(200), []int64{100, 200}),
			Entry("single instant", bag.Filter{}.WithStart(300).WithEnd(300), []int64{300, 300}),
			Entry("topic", bag.Filter{}.WithTopics("/b"), []int64{100, 300}),
			Entry("topic and time", bag.Filter{}.WithTopics("/a").WithStart(250), []int64{300}),
			Entry("empty range", bag.Filter{}.WithStart(300).WithEnd(100), []int64(nil)),
			Entry("unknown topic", bag.Filter{}.WithTopics("/zzz"), []int64(nil)),
		)

		It("closes outstanding cursors on close", func() {
			c := mustMessages(r, bag.Filter{})
			_, err := c.Next()
			Expect(err).ToNot(HaveOccurred())

			Expect(r.Close()).To(Succeed())
			_, err = c.Next()
			Expect(err).To(Equal(io.EOF))

			_, err = r.Messages(bag.Filter{})
			Expect(bag.IsKind(err, bag.KindUsage)).To(BeTrue())
		})
	})

	It("reports corrupt compressed blobs per item", func() {
		w, err := Create(path, storage.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(w.AddConnection(connA)).To(Succeed())
		Expect(w.WriteMessage(1, 1, []byte("not a zstd frame"))).To(Succeed())
		Expect(w.WriteMessage(1, 2, []byte("also not one"))).To(Succeed())
		_, err = w.Finalize(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(w.Close()).To(Succeed())

		r, err := Open(path, storage.Options{
			CompressionMode:   bag.CompressionMessage,
			CompressionFormat: bag.CompressionFormatZstd,
		})
		Expect(err).ToNot(HaveOccurred())
		defer r.Close()

		c := mustMessages(r, bag.Filter{})
		defer c.Close()

		for i := 0; i < 2; i++ {
			_, err = c.Next()
			Expect(bag.IsKind(err, bag.KindCompression)).To(BeTrue())
		}
		_, err = c.Next()
		Expect(err).To(Equal(io.EOF))
	})

	DescribeTable("reads legacy schemas",
		func(schema string, version int, qos string) {
			db, err := sql.Open(driverName, path)
			Expect(err).ToNot(HaveOccurred())
			_, err = db.Exec(schema)
			Expect(err).ToNot(HaveOccurred())
			_, err = db.Exec(`INSERT INTO messages (topic_id, timestamp, data) VALUES (1, 42, x'00010000')`)
			Expect(err).ToNot(HaveOccurred())
			Expect(db.Close()).To(Succeed())

			r, err := Open(path, storage.Options{})
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()

			Expect(r.SchemaVersion()).To(Equal(version))
			Expect(r.Connections()).To(Equal([]bag.Connection{{
				ID:                  1,
				Topic:               "/legacy",
				MessageType:         "std_msgs/msg/Empty",
				SerializationFormat: "cdr",
				OfferedQoSProfiles:  qos,
			}}))

			msgs, err := readAll(mustMessages(r, bag.Filter{}))
			Expect(err).ToNot(HaveOccurred())
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Data).To(Equal([]byte{0, 1, 0, 0}))
		},
		Entry("version 1", `
CREATE TABLE topics(id INTEGER PRIMARY KEY, name TEXT NOT NULL, type TEXT NOT NULL,
	serialization_format TEXT NOT NULL);
CREATE TABLE messages(id INTEGER PRIMARY KEY, topic_id INTEGER NOT NULL,
	timestamp INTEGER NOT NULL, data BLOB NOT NULL);
INSERT INTO topics VALUES (1, '/legacy', 'std_msgs/msg/Empty', 'cdr');
`, 1, ""),
		Entry("version 2", `
CREATE TABLE topics(id INTEGER PRIMARY KEY, name TEXT NOT NULL, type TEXT NOT NULL,
	serialization_format TEXT NOT NULL, offered_qos_profiles TEXT NOT NULL);
CREATE TABLE messages(id INTEGER PRIMARY KEY, topic_id INTEGER NOT NULL,
	timestamp INTEGER NOT NULL, data BLOB NOT NULL);
INSERT INTO topics VALUES (1, '/legacy', 'std_msgs/msg/Empty', 'cdr', 'qos');
`, 2, "qos"),
		Entry("version 3", `
CREATE TABLE schema(schema_version INTEGER PRIMARY KEY, ros_distro TEXT NOT NULL);
CREATE TABLE metadata(id INTEGER PRIMARY KEY, metadata_version INTEGER NOT NULL, metadata TEXT NOT NULL);
CREATE TABLE topics(id INTEGER PRIMARY KEY, name TEXT NOT NULL, type TEXT NOT NULL,
	serialization_format TEXT NOT NULL, offered_qos_profiles TEXT NOT NULL);
CREATE TABLE messages(id INTEGER PRIMARY KEY, topic_id INTEGER NOT NULL,
	timestamp INTEGER NOT NULL, data BLOB NOT NULL);
INSERT INTO schema VALUES (3, 'humble');
INSERT INTO topics VALUES (1, '/legacy', 'std_msgs/msg/Empty', 'cdr', '');
`, 3, ""),
	)

	It("counts written messages and bytes", func() {
		before := testutil.ToFloat64(messagesWritten)
		beforeTx := testutil.ToFloat64(transactionsCommitted)
		writeBag(storage.Options{BatchMessages: 2}, nil)

		Expect(testutil.ToFloat64(messagesWritten) - before).To(Equal(4.0))
		Expect(testutil.ToFloat64(transactionsCommitted) - beforeTx).To(BeNumerically(">=", 2.0))
	})
})

func mustMessages(r *Reader, f bag.Filter) storage.Cursor {
	c, err := r.Messages(f)
	if err != nil {
		panic(err)
	}
	return c
}

func TestSQLite3(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SQLite3 Storage Suite")
}
