// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package rosbag

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/cdr"
	"github.com/danjacques/gorosbag/cdr/msgs"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

const (
	int32Type  = "std_msgs/msg/Int32"
	stringType = "std_msgs/msg/String"
)

var registry = msgs.NewRegistry()

func encode(typeName string, v cdr.Struct) []byte {
	data, err := registry.Encode(typeName, v)
	if err != nil {
		panic(err)
	}
	return data
}

// record is a message reduced to what equivalent bags agree on.
type record struct {
	Topic     string
	Timestamp int64
	Data      []byte
}

func readAll(r *Reader, f bag.Filter) ([]record, error) {
	c, err := r.Messages(f)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var recs []record
	for {
		msg, err := c.Next()
		switch err {
		case nil:
			recs = append(recs, record{msg.Topic, msg.Timestamp, msg.Data})
		case io.EOF:
			return recs, nil
		default:
			return recs, err
		}
	}
}

func timestamps(recs []record) []int64 {
	var ts []int64
	for _, r := range recs {
		ts = append(ts, r.Timestamp)
	}
	return ts
}

var _ = Describe("Bags", func() {
	var tdir string

	BeforeEach(func() {
		var err error
		tdir, err = ioutil.TempDir("", "rosbag_test")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(tdir)).To(Succeed())
	})

	bagPath := func(name string) string { return filepath.Join(tdir, name) }

	// writeMixed writes a two-topic bag with out-of-order timestamps.
	writeMixed := func(cfg *Config, path string) {
		w, err := cfg.Create(path)
		Expect(err).ToNot(HaveOccurred())
		defer w.Close()

		for i, ts := range []int64{50, 10, 40, 20, 30, 30} {
			if i%2 == 0 {
				Expect(w.Write("/ints", int32Type, ts, encode(int32Type, cdr.Struct{"data": i}))).To(Succeed())
			} else {
				Expect(w.Write("/strings", stringType, ts, encode(stringType, cdr.Struct{"data": "hello"}))).To(Succeed())
			}
		}
		Expect(w.Close()).To(Succeed())
	}

	DescribeTable("records and filters a single topic",
		func(cfg Config) {
			cfg.Definitions = registry
			path := bagPath("t")

			w, err := cfg.Create(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(w.Write("/t", int32Type, 100, encode(int32Type, cdr.Struct{"data": 1}))).To(Succeed())
			Expect(w.Write("/t", int32Type, 200, encode(int32Type, cdr.Struct{"data": 2}))).To(Succeed())
			Expect(w.Close()).To(Succeed())

			r, err := cfg.Open(path)
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()

			Expect(r.Topics()).To(HaveLen(1))
			Expect(r.Topics()[0].MessageCount).To(Equal(int64(2)))
			Expect(r.Topics()[0].MessageDefinition).To(Equal("int32 data\n"))
			Expect(r.Metadata().MessageCount).To(Equal(int64(2)))
			Expect(r.Metadata().StartingTime).To(Equal(int64(100)))
			Expect(r.Metadata().Duration).To(Equal(int64(100)))

			recs, err := readAll(r, bag.Filter{}.WithStart(150))
			Expect(err).ToNot(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].Timestamp).To(Equal(int64(200)))
			v, err := registry.Decode(int32Type, recs[0].Data)
			Expect(err).ToNot(HaveOccurred())
			Expect(v["data"]).To(Equal(int32(2)))

			recs, err = readAll(r, bag.Filter{})
			Expect(err).ToNot(HaveOccurred())
			var values []int32
			for _, rec := range recs {
				v, err := registry.Decode(int32Type, rec.Data)
				Expect(err).ToNot(HaveOccurred())
				values = append(values, v["data"].(int32))
			}
			Expect(values).To(Equal([]int32{1, 2}))
		},
		Entry("sqlite3", Config{Storage: bag.StorageSQLite3}),
		Entry("sqlite3, message compression", Config{
			Storage: bag.StorageSQLite3, CompressionMode: bag.CompressionMessage}),
		Entry("sqlite3, file compression", Config{
			Storage: bag.StorageSQLite3, CompressionMode: bag.CompressionFile}),
		Entry("mcap", Config{Storage: bag.StorageMCAP}),
		Entry("mcap, message compression", Config{
			Storage: bag.StorageMCAP, CompressionMode: bag.CompressionMessage}),
		Entry("mcap, file compression", Config{
			Storage: bag.StorageMCAP, CompressionMode: bag.CompressionFile}),
	)

	It("reads the same messages from every backend and compression mode", func() {
		var (
			reference []record
			refConns  []bag.Connection
		)
		for i, cfg := range []Config{
			{Storage: bag.StorageSQLite3},
			{Storage: bag.StorageMCAP},
			{Storage: bag.StorageSQLite3, CompressionMode: bag.CompressionFile},
			{Storage: bag.StorageMCAP, CompressionMode: bag.CompressionMessage},
			{Storage: bag.StorageMCAP, ChunkSize: 1},
		} {
			cfg := cfg
			path := bagPath(string(cfg.Storage) + "_" + string(rune('a'+i)))
			writeMixed(&cfg, path)

			r, err := cfg.Open(path)
			Expect(err).ToNot(HaveOccurred())
			recs, err := readAll(r, bag.Filter{})
			Expect(err).ToNot(HaveOccurred())
			conns := r.Connections()
			Expect(r.Close()).To(Succeed())

			Expect(timestamps(recs)).To(Equal([]int64{10, 20, 30, 30, 40, 50}))
			if reference == nil {
				reference, refConns = recs, conns
				continue
			}
			Expect(recs).To(Equal(reference))
			Expect(conns).To(Equal(refConns))
		}
	})

	Context("with a mixed bag", func() {
		var (
			cfg  Config
			path string
			r    *Reader
		)

		BeforeEach(func() {
			cfg = Config{Storage: bag.StorageMCAP}
			path = bagPath("mixed")
			writeMixed(&cfg, path)

			var err error
			r, err = cfg.Open(path)
			Expect(err).ToNot(HaveOccurred())
		})

		AfterEach(func() {
			Expect(r.Close()).To(Succeed())
		})

		It("keeps metadata counts in line with a full read", func() {
			recs, err := readAll(r, bag.Filter{})
			Expect(err).ToNot(HaveOccurred())
			Expect(r.Metadata().MessageCount).To(Equal(int64(len(recs))))

			perTopic := map[string]int64{}
			for _, rec := range recs {
				perTopic[rec.Topic]++
			}
			for _, t := range r.Topics() {
				Expect(t.MessageCount).To(Equal(perTopic[t.Topic]), t.Topic)
			}
		})

		DescribeTable("filters messages",
			func(f bag.Filter, expected []int64) {
				recs, err := readAll(r, f)
				Expect(err).ToNot(HaveOccurred())
				Expect(timestamps(recs)).To(Equal(expected))
			},
			Entry("everything", bag.Filter{}, []int64{10, 20, 30, 30, 40, 50}),
			Entry("inclusive bounds", bag.Filter{}.WithStart(20).WithEnd(40), []int64{20, 30, 30, 40}),
			Entry("topic", bag.Filter{}.WithTopics("/ints"), []int64{30, 40, 50}),
			Entry("topic and time", bag.Filter{}.WithTopics("/strings").WithEnd(20), []int64{10, 20}),
			Entry("empty range", bag.Filter{}.WithStart(40).WithEnd(20), []int64(nil)),
			Entry("unknown topic", bag.Filter{}.WithTopics("/nope"), []int64(nil)),
		)

		It("rejects use after close", func() {
			c, err := r.Messages(bag.Filter{})
			Expect(err).ToNot(HaveOccurred())

			Expect(r.Close()).To(Succeed())
			_, err = c.Next()
			Expect(err).To(Equal(io.EOF))

			_, err = r.Messages(bag.Filter{})
			Expect(bag.IsKind(err, bag.KindUsage)).To(BeTrue())
			Expect(errors.Is(err, ErrNotOpen)).To(BeTrue())
		})

		It("copies a filtered subset", func() {
			dest := bagPath("copy")
			cc := Config{Storage: bag.StorageSQLite3}
			res, err := cc.Copy(path, dest, bag.Filter{}.WithTopics("/ints").WithStart(35))
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Skipped).To(BeZero())
			Expect(res.Metadata.MessageCount).To(Equal(int64(2)))

			Expect(cc.Validate(dest)).To(Succeed())
			cr, err := cc.Open(dest)
			Expect(err).ToNot(HaveOccurred())
			defer cr.Close()

			Expect(cr.Metadata().StorageIdentifier).To(Equal(bag.StorageSQLite3))
			Expect(cr.Topics()).To(HaveLen(1))
			Expect(cr.Topics()[0].Topic).To(Equal("/ints"))
			recs, err := readAll(cr, bag.Filter{})
			Expect(err).ToNot(HaveOccurred())
			Expect(timestamps(recs)).To(Equal([]int64{40, 50}))

			_, err = cc.Copy(path, dest, bag.Filter{})
			Expect(bag.IsKind(err, bag.KindAlreadyExists)).To(BeTrue())
		})
	})

	It("splits storage files and merges them back", func() {
		cfg := Config{Storage: bag.StorageSQLite3, MaxFileSize: 20}
		path := bagPath("split")

		w, err := cfg.Create(path)
		Expect(err).ToNot(HaveOccurred())
		for i := 0; i < 6; i++ {
			// Interleave timestamps so files overlap in time.
			ts := int64(100 + (i%2)*1000 + i)
			Expect(w.Write("/t", int32Type, ts, encode(int32Type, cdr.Struct{"data": i}))).To(Succeed())
		}
		Expect(w.Close()).To(Succeed())

		md, err := bag.LoadMetadata(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(len(md.RelativeFilePaths)).To(BeNumerically(">", 1))
		Expect(md.RelativeFilePaths[0]).To(Equal("split_0.db3"))
		Expect(md.Files).To(HaveLen(len(md.RelativeFilePaths)))

		var total int64
		for _, f := range md.Files {
			total += f.MessageCount
		}
		Expect(total).To(Equal(int64(6)))

		r, err := cfg.Open(path)
		Expect(err).ToNot(HaveOccurred())
		defer r.Close()

		recs, err := readAll(r, bag.Filter{})
		Expect(err).ToNot(HaveOccurred())
		Expect(timestamps(recs)).To(Equal([]int64{100, 102, 104, 1101, 1103, 1105}))
	})

	It("stores whole-file compressed sqlite files", func() {
		cfg := Config{Storage: bag.StorageSQLite3, CompressionMode: bag.CompressionFile}
		path := bagPath("zstd")
		writeMixed(&cfg, path)

		md, err := bag.LoadMetadata(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(md.RelativeFilePaths).To(Equal([]string{"zstd_0.db3.zstd"}))
		Expect(md.CompressionFormat).To(Equal(bag.CompressionFormatZstd))
		_, err = os.Stat(filepath.Join(path, "zstd_0.db3"))
		Expect(os.IsNotExist(err)).To(BeTrue())

		// Staged copies are removed on close.
		cfg.TempDir = bagPath("staging")
		Expect(os.Mkdir(cfg.TempDir, 0755)).To(Succeed())
		r, err := cfg.Open(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(r.Metadata().MessageCount).To(Equal(int64(6)))
		Expect(r.Close()).To(Succeed())

		entries, err := ioutil.ReadDir(cfg.TempDir)
		Expect(err).ToNot(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})

	Context("opening", func() {
		var cfg Config

		BeforeEach(func() {
			cfg = Config{Storage: bag.StorageSQLite3}
		})

		It("reports a missing bag", func() {
			_, err := cfg.Open(bagPath("missing"))
			Expect(bag.IsKind(err, bag.KindBagNotFound)).To(BeTrue())
		})

		It("refuses to create over an existing path", func() {
			Expect(os.Mkdir(bagPath("exists"), 0755)).To(Succeed())
			_, err := cfg.Create(bagPath("exists"))
			Expect(bag.IsKind(err, bag.KindAlreadyExists)).To(BeTrue())
		})

		It("reports a missing storage file", func() {
			path := bagPath("b")
			writeMixed(&cfg, path)
			Expect(os.Remove(filepath.Join(path, "b_0.db3"))).To(Succeed())

			_, err := cfg.Open(path)
			Expect(bag.IsKind(err, bag.KindBagNotFound)).To(BeTrue())
		})

		It("rejects an unsupported metadata version", func() {
			path := bagPath("b")
			writeMixed(&cfg, path)

			md, err := bag.LoadMetadata(path)
			Expect(err).ToNot(HaveOccurred())
			md.Version = 10
			Expect(md.Write(filepath.Join(path, bag.MetadataFileName))).To(Succeed())

			_, err = cfg.Open(path)
			Expect(bag.IsKind(err, bag.KindUnsupportedVersion)).To(BeTrue())
		})

		It("rejects inconsistent metadata until the bag is rebuilt", func() {
			path := bagPath("b")
			writeMixed(&cfg, path)

			md, err := bag.LoadMetadata(path)
			Expect(err).ToNot(HaveOccurred())
			md.Topics[0].MessageCount++
			md.MessageCount++
			md.CustomData = map[string]string{"owner": "tests"}
			Expect(md.Write(filepath.Join(path, bag.MetadataFileName))).To(Succeed())

			_, err = cfg.Open(path)
			Expect(bag.IsKind(err, bag.KindMetadataInconsistent)).To(BeTrue())
			Expect(bag.IsKind(cfg.Validate(path), bag.KindMetadataInconsistent)).To(BeTrue())

			rebuilt, err := cfg.Rebuild(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(rebuilt.MessageCount).To(Equal(int64(6)))
			Expect(rebuilt.CustomData).To(HaveKeyWithValue("owner", "tests"))

			Expect(cfg.Validate(path)).To(Succeed())
		})

		It("derives metadata when the metadata file is missing", func() {
			path := bagPath("b")
			cfg.CompressionMode = bag.CompressionMessage
			writeMixed(&cfg, path)
			Expect(os.Remove(filepath.Join(path, bag.MetadataFileName))).To(Succeed())

			r, err := (&Config{}).Open(path)
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()

			md := r.Metadata()
			Expect(md.StorageIdentifier).To(Equal(bag.StorageSQLite3))
			Expect(md.CompressionMode).To(Equal(bag.CompressionMessage))
			Expect(md.MessageCount).To(Equal(int64(6)))
			Expect(md.Topics).To(HaveLen(2))

			recs, err := readAll(r, bag.Filter{}.WithTopics("/ints"))
			Expect(err).ToNot(HaveOccurred())
			Expect(timestamps(recs)).To(Equal([]int64{30, 40, 50}))
		})

		It("opens a single storage file", func() {
			path := bagPath("b")
			writeMixed(&Config{Storage: bag.StorageMCAP}, path)

			r, err := cfg.Open(filepath.Join(path, "b_0.mcap"))
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()
			Expect(r.Metadata().StorageIdentifier).To(Equal(bag.StorageMCAP))
			Expect(r.Metadata().MessageCount).To(Equal(int64(6)))
		})

		It("fails to open a truncated MCAP file", func() {
			path := bagPath("b")
			writeMixed(&Config{Storage: bag.StorageMCAP}, path)

			file := filepath.Join(path, "b_0.mcap")
			st, err := os.Stat(file)
			Expect(err).ToNot(HaveOccurred())
			Expect(os.Truncate(file, st.Size()/2)).To(Succeed())

			_, err = cfg.Open(path)
			Expect(bag.IsKind(err, bag.KindStorage)).To(BeTrue())
		})

		It("deletes a bag", func() {
			path := bagPath("b")
			writeMixed(&cfg, path)
			Expect(Delete(path)).To(Succeed())
			Expect(bag.IsKind(cfg.Validate(path), bag.KindBagNotFound)).To(BeTrue())
		})
	})

	Context("writing", func() {
		var w *Writer

		BeforeEach(func() {
			var err error
			w, err = (&Config{}).Create(bagPath("w"))
			Expect(err).ToNot(HaveOccurred())
		})

		AfterEach(func() {
			Expect(w.Close()).To(Succeed())
		})

		It("assigns connection IDs in order", func() {
			a, err := w.AddConnection(bag.Connection{Topic: "/a", MessageType: int32Type, OfferedQoSProfiles: "qos"})
			Expect(err).ToNot(HaveOccurred())
			Expect(a.ID).To(Equal(1))
			Expect(a.SerializationFormat).To(Equal(bag.SerializationCDR))

			Expect(w.Write("/b", stringType, 1, encode(stringType, cdr.Struct{}))).To(Succeed())
			Expect(w.Connections()).To(HaveLen(2))
			Expect(w.Connections()[1].ID).To(Equal(2))
		})

		It("rejects misuse", func() {
			_, err := w.AddConnection(bag.Connection{Topic: "/a"})
			Expect(bag.IsKind(err, bag.KindUsage)).To(BeTrue())

			Expect(w.Write("/a", int32Type, 1, nil)).To(Succeed())
			_, err = w.AddConnection(bag.Connection{Topic: "/a", MessageType: int32Type})
			Expect(bag.IsKind(err, bag.KindUsage)).To(BeTrue())
			Expect(bag.IsKind(w.Write("/a", stringType, 2, nil), bag.KindUsage)).To(BeTrue())

			Expect(w.Close()).To(Succeed())
			Expect(bag.IsKind(w.Write("/a", int32Type, 3, nil), bag.KindUsage)).To(BeTrue())
		})
	})

	It("registers and counts metrics", func() {
		reg := prometheus.NewRegistry()
		RegisterMonitoring(reg)

		before := testutil.ToFloat64(messagesWritten)
		writeMixed(&Config{}, bagPath("m"))
		Expect(testutil.ToFloat64(messagesWritten) - before).To(Equal(6.0))
	})
})

func TestRosbag(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Rosbag Suite")
}
