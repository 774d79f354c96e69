// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package bag

import (
	"github.com/pkg/errors"
)

// migrateMetadata fills in, one version at a time, the fields that info's
// version predates, so that the rest of the package only handles the latest
// layout.
//
// info.Version is advanced to LatestVersion in the process.
func migrateMetadata(info *metadataInfo) error {
	for info.Version < LatestVersion {
		curVersion := info.Version

		switch curVersion {
		case 1, 2:
			// Compression settings arrived in version 3.
			info.CompressionFormat, info.CompressionMode = "", ""
			info.Version = 3

		case 4:
			// Version 5 added the per-file table. Older bags only record the file
			// names, so split statistics are unknown; a single file inherits the
			// bag totals.
			migrateMetadata4_5(info)

		case 5:
			// Version 6 added custom_data.
			if info.CustomData == nil {
				info.CustomData = map[string]string{}
			}
			info.Version = 6

		default:
			// The remaining versions only added fields whose empty values are
			// correct defaults.
			info.Version++
		}

		// Enforce that each migration step must advance the version.
		if info.Version <= curVersion {
			return errors.New("migration did not advance version")
		}
	}
	return nil
}

func migrateMetadata4_5(info *metadataInfo) {
	if len(info.Files) == 0 && len(info.RelativeFilePaths) == 1 {
		info.Files = []yamlFile{{
			Path:         info.RelativeFilePaths[0],
			StartingTime: info.StartingTime,
			Duration:     info.Duration,
			MessageCount: info.MessageCount,
		}}
	}
	info.Version = 5
}
