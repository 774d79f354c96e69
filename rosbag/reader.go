// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package rosbag

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/storage"
	"github.com/danjacques/gorosbag/support/logging"
	"github.com/danjacques/gorosbag/support/stagingdir"

	"github.com/pkg/errors"
)

// ErrNotOpen is wrapped by the bag.KindUsage errors of closed handles.
var ErrNotOpen = errors.New("bag is not open")

// storageFile is an open storage file of a bag.
type storageFile struct {
	// rel is the file's path, relative to the bag directory.
	rel string
	r   storage.Reader
	// connMap maps the file's connection IDs to bag connection IDs.
	connMap map[int]int
	stats   *storage.Stats
}

// Reader reads a bag.
type Reader struct {
	cfg  *Config
	log  logging.L
	path string

	md    *bag.Metadata
	files []*storageFile

	// staging holds decompressed copies of compressed storage files.
	staging *stagingdir.D

	cursors map[*Cursor]struct{}
	closed  bool
}

// Open opens the bag at path for reading.
//
// path may be a bag directory or a single storage file. A bag directory
// without a metadata file is described by scanning its storage files.
// Counts always come from the storage files; if the metadata file disagrees
// with them, Open fails with a bag.KindMetadataInconsistent error.
func (cfg *Config) Open(path string) (*Reader, error) {
	r, err := cfg.open(path, true)
	if err != nil {
		return nil, err
	}
	bagsOpened.Inc()
	return r, nil
}

func (cfg *Config) open(path string, useMetadataFile bool) (*Reader, error) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bag.NewError(bag.KindBagNotFound, path, err)
		}
		return nil, bag.NewError(bag.KindStorage, path, err)
	}

	r := Reader{
		cfg:     cfg,
		log:     cfg.logger(),
		path:    path,
		cursors: make(map[*Cursor]struct{}),
	}
	defer func() {
		if !r.closed && r.md == nil {
			_ = r.Close()
		}
	}()

	var (
		dir     = path
		rels    []string
		sideMD  *bag.Metadata
		storeID bag.StorageID
	)
	switch {
	case !st.IsDir():
		dir = filepath.Dir(path)
		rels = []string{filepath.Base(path)}

	case useMetadataFile:
		md, err := bag.LoadMetadata(path)
		switch {
		case err == nil:
			sideMD = md
			storeID = md.StorageIdentifier
			rels = md.RelativeFilePaths
		case os.IsNotExist(errors.Cause(err)):
		case bag.KindOf(err) != bag.KindUnknown:
			return nil, err
		default:
			return nil, bag.NewError(bag.KindStorage, filepath.Join(path, bag.MetadataFileName), err)
		}
	}
	if sideMD == nil && len(rels) == 0 {
		if rels, err = storageFiles(path); err != nil {
			return nil, bag.NewError(bag.KindStorage, path, err)
		}
		if len(rels) == 0 {
			return nil, bag.Errorf(bag.KindBagNotFound, path, "no storage files")
		}
	}

	opts := storage.Options{Logger: cfg.Logger}
	if sideMD != nil {
		opts.CompressionMode, opts.CompressionFormat = sideMD.CompressionMode, sideMD.CompressionFormat
	}
	for _, rel := range rels {
		if err := r.openFile(dir, rel, storeID, opts); err != nil {
			return nil, err
		}
	}

	md, err := r.buildMetadata(sideMD)
	if err != nil {
		return nil, err
	}
	r.md = md
	return &r, nil
}

// storageFiles lists the storage files in dir, ordered by split index.
func storageFiles(dir string) ([]string, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var rels []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := bag.StorageForPath(e.Name()); ok {
			rels = append(rels, e.Name())
		}
	}
	sort.SliceStable(rels, func(i, j int) bool {
		si, sj := splitIndex(rels[i]), splitIndex(rels[j])
		if si != sj {
			return si < sj
		}
		return rels[i] < rels[j]
	})
	return rels, nil
}

// splitIndex returns n for a storage file named "<name>_<n>.<ext>", or -1.
func splitIndex(name string) int {
	name = strings.TrimSuffix(name, bag.CompressedFileExt)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	idx := strings.LastIndexByte(name, '_')
	if idx < 0 {
		return -1
	}
	n, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return -1
	}
	return n
}

// openFile opens the storage file rel of the bag directory dir, staging a
// decompressed copy if it is compressed.
func (r *Reader) openFile(dir, rel string, id bag.StorageID, opts storage.Options) error {
	path := filepath.Join(dir, rel)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return bag.NewError(bag.KindBagNotFound, path, err)
		}
		return bag.NewError(bag.KindStorage, path, err)
	}

	// The file's extension wins over the bag's storage identifier.
	if fid, ok := bag.StorageForPath(rel); ok {
		id = fid
	}
	if id == "" {
		return bag.Errorf(bag.KindStorage, path, "cannot determine storage backend")
	}

	if strings.HasSuffix(rel, bag.CompressedFileExt) {
		staged, err := r.stage(path, strings.TrimSuffix(rel, bag.CompressedFileExt))
		if err != nil {
			return err
		}
		path = staged
	}

	sr, err := openStorage(id, path, opts)
	if err != nil {
		return err
	}
	r.files = append(r.files, &storageFile{rel: rel, r: sr, connMap: make(map[int]int)})
	return nil
}

// stage decompresses src into the staging directory as name.
func (r *Reader) stage(src, name string) (string, error) {
	if r.staging == nil {
		sd, err := stagingdir.New(r.cfg.TempDir, "rosbag")
		if err != nil {
			return "", bag.NewError(bag.KindStorage, src, errors.Wrap(err, "creating staging directory"))
		}
		r.staging = sd
	}

	dest := r.staging.Path(filepath.Base(name))
	if err := storage.DecompressFile(src, dest); err != nil {
		if bag.KindOf(err) == bag.KindUnknown {
			return "", bag.NewError(bag.KindStorage, src, err)
		}
		return "", err
	}
	filesDecompressed.Inc()
	r.log.Debugf("Decompressed %q into %q.", src, dest)
	return dest, nil
}

// buildMetadata unifies the connections of the storage files and derives
// the bag's statistics from them. If side is not nil, its counts must agree
// with the derived ones.
func (r *Reader) buildMetadata(side *bag.Metadata) (*bag.Metadata, error) {
	var md *bag.Metadata
	if side != nil {
		md = side.Clone()
	} else {
		md = r.derivedMetadata()
	}

	byTopic := make(map[string]int, len(md.Topics))
	for i := range md.Topics {
		byTopic[md.Topics[i].Topic] = i
		md.Topics[i].ID = i + 1
	}

	total := storage.NewStats()
	counts := make([]int64, len(md.Topics))
	md.Files = md.Files[:0]
	for _, f := range r.files {
		for _, conn := range f.r.Connections() {
			fileID := conn.ID
			idx, ok := byTopic[conn.Topic]
			if !ok {
				if side != nil {
					r.log.Warnf("Topic %q of %q is missing from the metadata file.", conn.Topic, f.rel)
				}
				idx = len(md.Topics)
				conn.ID = idx + 1
				md.Topics = append(md.Topics, bag.TopicInfo{Connection: conn})
				counts = append(counts, 0)
				byTopic[conn.Topic] = idx
			} else {
				fillConnection(&md.Topics[idx].Connection, &conn)
			}
			f.connMap[fileID] = md.Topics[idx].ID
		}

		st, err := f.r.Stats()
		if err != nil {
			return nil, err
		}
		f.stats = st
		for id, n := range st.Counts {
			if bid, ok := f.connMap[id]; ok {
				counts[bid-1] += n
			}
		}
		if st.MessageCount > 0 {
			total.Add(0, st.MessageCount, st.StartTime, st.EndTime)
		}
		md.Files = append(md.Files, bag.FileInfo{
			Path:         f.rel,
			StartingTime: st.StartTime,
			Duration:     st.EndTime - st.StartTime,
			MessageCount: st.MessageCount,
		})
	}
	total.Normalize()

	if side != nil {
		if side.MessageCount != total.MessageCount {
			return nil, bag.Errorf(bag.KindMetadataInconsistent, r.path,
				"metadata declares %d message(s), storage holds %d", side.MessageCount, total.MessageCount)
		}
		for i := range side.Topics {
			if have, want := counts[i], side.Topics[i].MessageCount; have != want {
				return nil, bag.Errorf(bag.KindMetadataInconsistent, r.path,
					"metadata declares %d message(s) on %q, storage holds %d", want, side.Topics[i].Topic, have)
			}
		}
	}

	for i := range md.Topics {
		md.Topics[i].MessageCount = counts[i]
	}
	md.MessageCount = total.MessageCount
	md.StartingTime = total.StartTime
	md.Duration = total.EndTime - total.StartTime
	md.RelativeFilePaths = make([]string, len(r.files))
	for i, f := range r.files {
		md.RelativeFilePaths[i] = f.rel
	}
	return md, nil
}

// derivedMetadata describes a bag without a metadata file, using the
// metadata embedded in its first storage file when there is one.
func (r *Reader) derivedMetadata() *bag.Metadata {
	md := bag.Metadata{
		Version:   bag.LatestVersion,
		ROSDistro: bag.DefaultROSDistro,
	}
	if len(r.files) > 0 {
		first := r.files[0]
		if emb, ok := first.r.EmbeddedMetadata(); ok {
			md.CompressionFormat, md.CompressionMode = emb.CompressionFormat, emb.CompressionMode
			md.ROSDistro = emb.ROSDistro
			md.CustomData = emb.CustomData
		} else if strings.HasSuffix(first.rel, bag.CompressedFileExt) {
			md.CompressionFormat, md.CompressionMode = bag.CompressionFormatZstd, bag.CompressionFile
		}
		md.StorageIdentifier, _ = bag.StorageForPath(first.rel)
	}
	return &md
}

// fillConnection copies the fields that c is missing from src.
func fillConnection(c, src *bag.Connection) {
	if c.MessageType == "" {
		c.MessageType = src.MessageType
	}
	if c.SerializationFormat == "" {
		c.SerializationFormat = src.SerializationFormat
	}
	if c.OfferedQoSProfiles == "" {
		c.OfferedQoSProfiles = src.OfferedQoSProfiles
	}
	if c.TypeDescriptionHash == "" {
		c.TypeDescriptionHash = src.TypeDescriptionHash
	}
	if c.MessageDefinition == "" {
		c.MessageDefinition = src.MessageDefinition
	}
}

// Path returns the path the bag was opened from.
func (r *Reader) Path() string { return r.path }

// Metadata returns the bag's metadata, with counts derived from storage.
//
// The returned value must not be modified.
func (r *Reader) Metadata() *bag.Metadata { return r.md }

// Topics returns every topic with its message count, in connection ID order.
func (r *Reader) Topics() []bag.TopicInfo { return r.md.Topics }

// Connections returns every connection, in ID order.
func (r *Reader) Connections() []bag.Connection { return r.md.Connections() }

// Connection returns the connection with the given ID.
func (r *Reader) Connection(id int) (*bag.Connection, bool) {
	if id < 1 || id > len(r.md.Topics) {
		return nil, false
	}
	return &r.md.Topics[id-1].Connection, true
}

// Messages returns a Cursor over the messages selected by f, in timestamp
// order. Messages of different storage files with equal timestamps are
// returned in file order.
func (r *Reader) Messages(f bag.Filter) (*Cursor, error) {
	if r.closed {
		return nil, bag.NewError(bag.KindUsage, r.path, ErrNotOpen)
	}

	c := Cursor{r: r}
	if !f.Empty() {
		for _, sf := range r.files {
			sc, err := sf.r.Messages(f)
			if err != nil {
				c.closeSources()
				return nil, err
			}
			c.sources = append(c.sources, &source{file: sf, c: sc})
		}
	}
	r.cursors[&c] = struct{}{}
	return &c, nil
}

// Close closes the bag, its storage files and any outstanding cursors.
//
// Close is idempotent.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	for c := range r.cursors {
		_ = c.Close()
	}

	var firstErr error
	for _, f := range r.files {
		if err := f.r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.staging != nil {
		if err := r.staging.Destroy(); err != nil && firstErr == nil {
			firstErr = bag.NewError(bag.KindStorage, r.path, err)
		}
	}
	return firstErr
}
