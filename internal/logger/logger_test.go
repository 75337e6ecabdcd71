package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitWriter_TagsServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "test-service", "debug")

	l := Component("holder")
	l.Info().Str("period", "M5").Msg("advance deferred")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "test-service" || line["component"] != "holder" || line["period"] != "M5" {
		t.Errorf("unexpected fields: %v", line)
	}
}

func TestInitWriter_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "svc", "loud")
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("global level = %v, want info", zerolog.GlobalLevel())
	}
	l := Component("x")
	l.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug line should be filtered, got %q", buf.String())
	}
}

func TestBatchID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if id := BatchID(ctx); id != "" {
		t.Errorf("expected empty batch id, got %q", id)
	}

	id := NewBatchID()
	if len(id) != 36 {
		t.Errorf("expected uuid, got %q", id)
	}
	ctx = WithBatchID(ctx, id)
	if got := BatchID(ctx); got != id {
		t.Errorf("BatchID = %q, want %q", got, id)
	}
}

func TestCtx_AttachesBatchID(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	ctx := WithBatchID(context.Background(), "run-1")

	l := Ctx(ctx, base)
	l.Info().Msg("flush")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatal(err)
	}
	if line["batch_id"] != "run-1" {
		t.Errorf("batch_id = %v", line["batch_id"])
	}
}
