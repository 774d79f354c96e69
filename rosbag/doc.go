// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package rosbag reads and writes ROS 2 bags.
//
// A bag is a directory holding one or more storage files and a metadata.yaml
// summary. Storage files use one of the backends in the storage package;
// rosbag selects the backend, splits and compresses files, keeps the
// summary consistent with the storage contents and merges the files of a bag
// into a single timestamp-ordered message stream.
//
// Handles are not safe for concurrent use.
package rosbag
