// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package bag

import (
	"bufio"
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// MetadataFileName is the name of the metadata file in a bag directory.
	MetadataFileName = "metadata.yaml"

	// MinVersion and LatestVersion bound the supported metadata versions.
	MinVersion    = 1
	LatestVersion = 9

	// DefaultROSDistro is recorded by writers that are not told otherwise.
	DefaultROSDistro = "rosbags"

	metadataRootKey = "rosbag2_bagfile_information"
)

// FileInfo describes a single storage file.
type FileInfo struct {
	Path         string
	StartingTime int64
	Duration     int64
	MessageCount int64
}

// Metadata is the bag-level summary.
type Metadata struct {
	// Version is the metadata format version, 1 through 9.
	Version int
	// StorageIdentifier names the storage backend.
	StorageIdentifier StorageID
	// RelativeFilePaths lists the storage files, relative to the bag.
	RelativeFilePaths []string

	// StartingTime is the earliest message timestamp.
	StartingTime int64
	// Duration is the latest message timestamp minus StartingTime.
	Duration int64
	// MessageCount is the total number of messages.
	MessageCount int64

	// Topics lists every connection, ordered by connection ID.
	Topics []TopicInfo

	CompressionFormat CompressionFormat
	CompressionMode   CompressionMode

	// Files holds per-file statistics (version 5 and later).
	Files []FileInfo

	CustomData map[string]string
	ROSDistro  string
}

// Connections returns the Connection of every topic.
func (md *Metadata) Connections() []Connection {
	conns := make([]Connection, len(md.Topics))
	for i := range md.Topics {
		conns[i] = md.Topics[i].Connection
	}
	return conns
}

// Topic returns the TopicInfo for the named topic.
func (md *Metadata) Topic(name string) (*TopicInfo, bool) {
	for i := range md.Topics {
		if md.Topics[i].Topic == name {
			return &md.Topics[i], true
		}
	}
	return nil, false
}

// EndTime returns the latest message timestamp.
func (md *Metadata) EndTime() int64 { return md.StartingTime + md.Duration }

// ValidateVersion returns a KindUnsupportedVersion error if md's version is
// outside the supported range.
func (md *Metadata) ValidateVersion() error {
	if md.Version < MinVersion || md.Version > LatestVersion {
		return Errorf(KindUnsupportedVersion, "", "metadata version %d is outside [%d, %d]",
			md.Version, MinVersion, LatestVersion)
	}
	return nil
}

// Clone returns a deep copy of md.
func (md *Metadata) Clone() *Metadata {
	c := *md
	c.RelativeFilePaths = append([]string(nil), md.RelativeFilePaths...)
	c.Topics = append([]TopicInfo(nil), md.Topics...)
	c.Files = append([]FileInfo(nil), md.Files...)
	if md.CustomData != nil {
		c.CustomData = make(map[string]string, len(md.CustomData))
		for k, v := range md.CustomData {
			c.CustomData[k] = v
		}
	}
	return &c
}

// yaml layout of metadata.yaml.
type (
	metadataDoc struct {
		Info metadataInfo `yaml:"rosbag2_bagfile_information"`
	}

	metadataInfo struct {
		Version                int                  `yaml:"version"`
		StorageIdentifier      string               `yaml:"storage_identifier"`
		RelativeFilePaths      []string             `yaml:"relative_file_paths"`
		Duration               yamlDuration         `yaml:"duration"`
		StartingTime           yamlTime             `yaml:"starting_time"`
		MessageCount           int64                `yaml:"message_count"`
		TopicsWithMessageCount []yamlTopicWithCount `yaml:"topics_with_message_count"`
		CompressionFormat      string               `yaml:"compression_format"`
		CompressionMode        string               `yaml:"compression_mode"`
		Files                  []yamlFile           `yaml:"files,omitempty"`
		CustomData             map[string]string    `yaml:"custom_data,omitempty"`
		ROSDistro              string               `yaml:"ros_distro,omitempty"`
	}

	yamlDuration struct {
		Nanoseconds int64 `yaml:"nanoseconds"`
	}

	yamlTime struct {
		NanosecondsSinceEpoch int64 `yaml:"nanoseconds_since_epoch"`
	}

	yamlTopicWithCount struct {
		TopicMetadata yamlTopic `yaml:"topic_metadata"`
		MessageCount  int64     `yaml:"message_count"`
	}

	yamlTopic struct {
		Name                string      `yaml:"name"`
		Type                string      `yaml:"type"`
		SerializationFormat string      `yaml:"serialization_format"`
		OfferedQoSProfiles  qosProfiles `yaml:"offered_qos_profiles"`
		TypeDescriptionHash string      `yaml:"type_description_hash,omitempty"`
	}

	yamlFile struct {
		Path         string       `yaml:"path"`
		StartingTime yamlTime     `yaml:"starting_time"`
		Duration     yamlDuration `yaml:"duration"`
		MessageCount int64        `yaml:"message_count"`
	}
)

// qosProfiles is opaque QoS data. Older bags store it as a string holding a
// YAML document; newer ones inline the YAML list. Both are kept as text.
type qosProfiles string

func (q *qosProfiles) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*q = qosProfiles(node.Value)
		return nil
	}

	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	*q = qosProfiles(data)
	return nil
}

// UnmarshalMetadata parses the contents of a metadata file.
//
// Metadata from older versions is migrated to the current in-memory layout;
// Version retains the version found in data.
func UnmarshalMetadata(data []byte) (*Metadata, error) {
	var doc metadataDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing metadata")
	}
	info := &doc.Info

	md := Metadata{Version: info.Version}
	if err := md.ValidateVersion(); err != nil {
		return nil, err
	}

	if err := migrateMetadata(info); err != nil {
		return nil, errors.Wrap(err, "migrating metadata")
	}

	var err error
	if md.StorageIdentifier, err = ParseStorageID(info.StorageIdentifier); err != nil {
		return nil, err
	}
	if md.CompressionFormat, err = ParseCompressionFormat(info.CompressionFormat); err != nil {
		return nil, NewError(KindCompression, "", err)
	}
	if md.CompressionMode, err = ParseCompressionMode(info.CompressionMode); err != nil {
		return nil, NewError(KindCompression, "", err)
	}

	md.RelativeFilePaths = info.RelativeFilePaths
	md.StartingTime = info.StartingTime.NanosecondsSinceEpoch
	md.Duration = info.Duration.Nanoseconds
	md.MessageCount = info.MessageCount
	md.CustomData = info.CustomData
	md.ROSDistro = info.ROSDistro

	md.Topics = make([]TopicInfo, len(info.TopicsWithMessageCount))
	for i, twc := range info.TopicsWithMessageCount {
		tm := twc.TopicMetadata
		md.Topics[i] = TopicInfo{
			Connection: Connection{
				ID:                  i + 1,
				Topic:               tm.Name,
				MessageType:         tm.Type,
				SerializationFormat: tm.SerializationFormat,
				OfferedQoSProfiles:  string(tm.OfferedQoSProfiles),
				TypeDescriptionHash: tm.TypeDescriptionHash,
			},
			MessageCount: twc.MessageCount,
		}
	}

	md.Files = make([]FileInfo, len(info.Files))
	for i, f := range info.Files {
		md.Files[i] = FileInfo{
			Path:         f.Path,
			StartingTime: f.StartingTime.NanosecondsSinceEpoch,
			Duration:     f.Duration.Nanoseconds,
			MessageCount: f.MessageCount,
		}
	}
	return &md, nil
}

// Marshal renders md as the contents of a metadata file.
func (md *Metadata) Marshal() ([]byte, error) {
	info := metadataInfo{
		Version:           md.Version,
		StorageIdentifier: string(md.StorageIdentifier),
		RelativeFilePaths: md.RelativeFilePaths,
		Duration:          yamlDuration{md.Duration},
		StartingTime:      yamlTime{md.StartingTime},
		MessageCount:      md.MessageCount,
		CompressionFormat: string(md.CompressionFormat),
		CompressionMode:   string(md.CompressionMode),
		CustomData:        md.CustomData,
		ROSDistro:         md.ROSDistro,
	}
	if info.RelativeFilePaths == nil {
		info.RelativeFilePaths = []string{}
	}

	info.TopicsWithMessageCount = make([]yamlTopicWithCount, len(md.Topics))
	for i, t := range md.Topics {
		info.TopicsWithMessageCount[i] = yamlTopicWithCount{
			TopicMetadata: yamlTopic{
				Name:                t.Topic,
				Type:                t.MessageType,
				SerializationFormat: t.SerializationFormat,
				OfferedQoSProfiles:  qosProfiles(t.OfferedQoSProfiles),
				TypeDescriptionHash: t.TypeDescriptionHash,
			},
			MessageCount: t.MessageCount,
		}
	}

	for _, f := range md.Files {
		info.Files = append(info.Files, yamlFile{
			Path:         f.Path,
			StartingTime: yamlTime{f.StartingTime},
			Duration:     yamlDuration{f.Duration},
			MessageCount: f.MessageCount,
		})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&metadataDoc{Info: info}); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoadMetadata loads the metadata file of the bag directory at path.
//
// If the file does not exist, the returned error satisfies os.IsNotExist
// through errors.Cause.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := ioutil.ReadFile(filepath.Join(path, MetadataFileName))
	if err != nil {
		return nil, err
	}
	return UnmarshalMetadata(data)
}

// Write writes md to the file at path.
func (md *Metadata) Write(path string) error {
	data, err := md.Marshal()
	if err != nil {
		return errors.Wrap(err, "rendering metadata")
	}

	fd, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if fd != nil {
			_ = fd.Close()
		}
	}()

	bio := bufio.NewWriter(fd)
	if _, err := bio.Write(data); err != nil {
		return err
	}
	if err := bio.Flush(); err != nil {
		return err
	}

	if err := fd.Close(); err != nil {
		return err
	}
	fd = nil // Don't close in defer.
	return nil
}
