// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bag defines the data model shared by bag storage backends and the
// reader/writer orchestration: connections, topics, messages, filters, the
// persisted metadata record and the error taxonomy.
//
// A bag is a directory containing:
//
//   - One or more storage files, either SQLite databases (".db3") or MCAP
//     containers (".mcap"). Files compressed as a whole carry an additional
//     ".zstd" extension.
//   - A "metadata.yaml" file describing the storage files, their topics and
//     message counts, and the bag's compression settings.
//
// The metadata file is an index over the storage files. Everything it records
// can be recomputed from the storage files themselves, which is how bags with
// a missing or stale metadata file are repaired.
package bag
