// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package main

import (
	"github.com/danjacques/gorosbag/tools/bagcopy"
)

func main() {
	bagcopy.Main()
}
