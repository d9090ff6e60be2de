/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import "fmt"

// Version is the current version of benchbook.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/benchbook/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Commit is the source revision, set at build time.
var Commit = "unknown"

// String renders the version for CLI output and trace resources.
func String() string {
	if Commit == "" || Commit == "unknown" {
		return Version
	}
	short := Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s)", Version, short)
}
