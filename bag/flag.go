// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package bag

import (
	"strings"

	"github.com/spf13/pflag"
)

// CompressionModeFlag is a pflag.Value implementation that stores a
// compression mode.
type CompressionModeFlag CompressionMode

var _ pflag.Value = (*CompressionModeFlag)(nil)

func (cf *CompressionModeFlag) String() string { return CompressionMode(*cf).String() }

// Set implements pflag.Value.
func (cf *CompressionModeFlag) Set(v string) error {
	mode, err := ParseCompressionMode(v)
	if err != nil {
		return err
	}
	*cf = CompressionModeFlag(mode)
	return nil
}

// Type implements pflag.Value.
func (cf *CompressionModeFlag) Type() string { return "bag.CompressionMode" }

// Value returns the compression mode held by this flag.
func (cf CompressionModeFlag) Value() CompressionMode { return CompressionMode(cf) }

// CompressionModeFlagValues returns the list of possible values for a
// CompressionModeFlag.
func CompressionModeFlagValues() string {
	opts := make([]string, len(CompressionModes))
	for i, m := range CompressionModes {
		opts[i] = m.String()
	}
	return strings.Join(opts, ", ")
}

// StorageFlag is a pflag.Value implementation that stores a storage backend
// identifier.
type StorageFlag StorageID

var _ pflag.Value = (*StorageFlag)(nil)

func (sf *StorageFlag) String() string { return string(*sf) }

// Set implements pflag.Value.
func (sf *StorageFlag) Set(v string) error {
	id, err := ParseStorageID(v)
	if err != nil {
		return err
	}
	*sf = StorageFlag(id)
	return nil
}

// Type implements pflag.Value.
func (sf *StorageFlag) Type() string { return "bag.StorageID" }

// Value returns the storage identifier held by this flag.
func (sf StorageFlag) Value() StorageID { return StorageID(sf) }

// StorageFlagValues returns the list of possible values for a StorageFlag.
func StorageFlagValues() string {
	opts := make([]string, len(StorageIDs))
	for i, id := range StorageIDs {
		opts[i] = string(id)
	}
	return strings.Join(opts, ", ")
}
