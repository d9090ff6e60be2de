/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

type slotLabel string

func (s slotLabel) String() string { return "slot " + string(s) }

func TestSpanAttributes(t *testing.T) {
	zone := time.FixedZone("UTC+10", 10*3600)
	attrs := spanAttributes(map[string]any{
		"lab_id":   "lab-1",
		"start":    time.Date(2026, 3, 2, 9, 0, 0, 0, zone),
		"makespan": 34 * time.Minute,
		"branches": 2,
		"slot":     slotLabel("08:00"),
		"ignored":  struct{}{},
	})

	want := []attribute.KeyValue{
		attribute.Int("benchbook.branches", 2),
		attribute.String("benchbook.lab_id", "lab-1"),
		attribute.Int64("benchbook.makespan_minutes", 34),
		attribute.String("benchbook.slot", "slot 08:00"),
		attribute.String("benchbook.start", "2026-03-01T23:00:00Z"),
	}
	if len(attrs) != len(want) {
		t.Fatalf("got %d attributes, want %d: %v", len(attrs), len(want), attrs)
	}
	for i := range want {
		if attrs[i] != want[i] {
			t.Errorf("attribute %d = %v, want %v", i, attrs[i], want[i])
		}
	}
}

func TestNewSamplerHonorsParent(t *testing.T) {
	cases := map[float64]string{
		1:    "AlwaysOnSampler",
		2:    "AlwaysOnSampler",
		0:    "AlwaysOffSampler",
		-1:   "AlwaysOffSampler",
		0.25: "TraceIDRatioBased{0.25}",
	}
	for rate, root := range cases {
		desc := newSampler(rate).Description()
		if !strings.HasPrefix(desc, "ParentBased{root:"+root) {
			t.Errorf("rate %v: sampler %q, want parent-based over %s", rate, desc, root)
		}
	}
}

func TestResourceAttributesSkipEmpty(t *testing.T) {
	attrs := resourceAttributes(TracerConfig{ServiceName: "benchbook", ServiceVersion: "0.3.0"})
	if len(attrs) != 2 {
		t.Fatalf("expected service name and version only, got %v", attrs)
	}

	attrs = resourceAttributes(TracerConfig{
		ServiceName:    "benchbook",
		ServiceVersion: "0.3.0",
		InstanceID:     "node-a",
		Environment:    "production",
	})
	keys := map[attribute.Key]string{}
	for _, a := range attrs {
		keys[a.Key] = a.Value.AsString()
	}
	if keys["service.instance.id"] != "node-a" || keys["deployment.environment"] != "production" {
		t.Fatalf("unexpected resource attributes %v", keys)
	}
}

func TestDisabledTracerShutsDownCleanly(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{Enabled: false}, zerolog.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	_, span := StartSpan(context.Background(), "benchbook/test", "noop")
	if span.SpanContext().IsValid() {
		t.Fatal("expected a no-op span while tracing is disabled")
	}
	span.End()
}
