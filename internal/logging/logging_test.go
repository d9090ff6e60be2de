/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupWithWriterCopiesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", &buf)

	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %s", logger.GetLevel())
	}
	logger.Debug().Msg("hidden")
	logger.Info().Str("lab_id", "lab-1").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatal("debug line should be filtered at info level")
	}
	if !strings.Contains(out, `"lab_id":"lab-1"`) {
		t.Fatalf("expected structured field in output, got %q", out)
	}
}

func TestSetupDevelopmentIsDebug(t *testing.T) {
	logger := Setup("development")
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}
}
