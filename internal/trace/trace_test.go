package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelShouldEmit(t *testing.T) {
	tests := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeDriver, false},
		{LevelPhase, ScopeStage, true},
		{LevelPhase, ScopeUnit, false},
		{LevelDetail, ScopeUnit, true},
		{LevelDetail, ScopeSymbol, false},
		{LevelDebug, ScopeSymbol, true},
	}
	for _, tt := range tests {
		if got := tt.level.ShouldEmit(tt.scope); got != tt.want {
			t.Errorf("%s.ShouldEmit(%s) = %v, want %v", tt.level, tt.scope, got, tt.want)
		}
	}
}

func TestStreamTracerSpans(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDetail, FormatText)
	root := Begin(tr, ScopeDriver, "emit", 0)
	unit := Begin(tr, ScopeUnit, "unit:a", root.ID())
	Begin(tr, ScopeSymbol, "symbol:f", unit.ID()).End("")
	unit.WithExtra("stages", "4").End("ok")
	root.End("")

	out := buf.String()
	if strings.Contains(out, "symbol:f") {
		t.Error("symbol span recorded at detail level")
	}
	for _, want := range []string{"→ emit", "→ unit:a", "← unit:a (ok) {stages=4}", "← emit"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelPhase, FormatNDJSON)
	Point(tr, ScopeStage, "stage:mangle", "skipped", 0)
	var ev map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("invalid NDJSON %q: %v", buf.String(), err)
	}
	if ev["name"] != "stage:mangle" || ev["kind"] != "point" || ev["detail"] != "skipped" {
		t.Errorf("event = %v", ev)
	}
}

func TestRingWraps(t *testing.T) {
	r := NewRingTracer(2, LevelPhase)
	for _, name := range []string{"a", "b", "c"} {
		Point(r, ScopeStage, name, "", 0)
	}
	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].Name != "b" || snap[1].Name != "c" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestContextPropagation(t *testing.T) {
	if FromContext(context.Background()) != Nop {
		t.Error("empty context should yield Nop")
	}
	r := NewRingTracer(8, LevelPhase)
	ctx := WithParentSpan(WithTracer(context.Background(), r), 42)
	if FromContext(ctx) != Tracer(r) {
		t.Error("tracer not propagated")
	}
	if ParentSpan(ctx) != 42 {
		t.Errorf("ParentSpan = %d", ParentSpan(ctx))
	}
}

func TestNewModes(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New(Config{Level: LevelPhase, Mode: ModeBoth, Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	Point(tr, ScopeDriver, "hello", "", 0)
	if RingOf(tr) == nil || len(RingOf(tr).Snapshot()) != 1 {
		t.Error("both mode should keep a ring")
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Error("both mode should stream")
	}
	off, err := New(Config{Level: LevelOff})
	if err != nil || off.Enabled() {
		t.Errorf("off tracer = %v, %v", off, err)
	}
	if _, err := ParseMode("sideways"); err == nil {
		t.Error("expected ParseMode error")
	}
}
