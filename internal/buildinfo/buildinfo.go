// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""

	// UserAgent is sent on every outbound request.
	UserAgent = fmt.Sprintf("seerrlite/%s (%s %s)", Version, runtime.GOOS, runtime.GOARCH)
)
