package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sip-agent/internal/model"
	"sip-agent/internal/strategy"
)

func pullback() []model.Candle {
	var out []model.Candle
	add := func(c float64) {
		out = append(out, model.Candle{T: time.Unix(int64(len(out))*300, 0), C: c})
	}
	for i := 0; i < 250; i++ {
		add(100 + 0.5*float64(i))
	}
	last := out[len(out)-1].C
	for i := 1; i <= 3; i++ {
		add(last - 3*float64(i))
	}
	return out
}

func TestRun_ReportsFinalDip(t *testing.T) {
	var buf bytes.Buffer
	sum := run(&buf, pullback(), strategy.DefaultConfig())

	if sum.Candles != 253 || sum.Evaluated != 253-220+1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.GreenDip < 1 {
		t.Errorf("expected the final pullback to fire, got %+v", sum)
	}
	if !strings.Contains(buf.String(), "reason=green_dip") {
		t.Errorf("output:\n%s", buf.String())
	}
}

func TestRun_ShortHistoryEvaluatesNothing(t *testing.T) {
	var buf bytes.Buffer
	sum := run(&buf, pullback()[:100], strategy.DefaultConfig())
	if sum.Evaluated != 0 || buf.Len() != 0 {
		t.Errorf("summary = %+v output=%q", sum, buf.String())
	}
}

func TestReadCandles_BothShapes(t *testing.T) {
	dir := t.TempDir()
	bare := filepath.Join(dir, "bare.json")
	wrapped := filepath.Join(dir, "wrapped.json")
	os.WriteFile(bare, []byte(`[{"t":1,"o":1,"h":1,"l":1,"c":1.5,"v":0}]`), 0o600)
	os.WriteFile(wrapped, []byte(`{"candles":[{"t":1,"c":2.5}]}`), 0o600)

	for path, want := range map[string]float64{bare: 1.5, wrapped: 2.5} {
		c, err := readCandles(path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if len(c) != 1 || c[0].C != want {
			t.Errorf("%s: %+v", path, c)
		}
	}

	if _, err := readCandles(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
