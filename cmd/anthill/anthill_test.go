package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chazu/anthill/lib/natives"
	"github.com/chazu/anthill/manifest"
	"github.com/chazu/anthill/pkg/module"
)

func TestBytesPerRow(t *testing.T) {
	tests := []struct {
		cols int
		want int
	}{
		{0, 8},
		{40, 8},
		{80, 16},
		{100, 16},
		{120, 24},
		{200, 32},
	}
	for _, tt := range tests {
		if got := bytesPerRow(tt.cols); got != tt.want {
			t.Errorf("bytesPerRow(%d) = %d, want %d", tt.cols, got, tt.want)
		}
	}
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	dump(&buf, 0x10, []byte("ant\x00\x01hill!!!!!"), 8)
	want := "000010  61 6E 74 00 01 68 69 6C ant..hil\n" +
		"000018  6C 21 21 21 21 21       l!!!!!\n"
	if buf.String() != want {
		t.Errorf("dump =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestSelectNatives(t *testing.T) {
	std := natives.Standard(&bytes.Buffer{})

	all, err := selectNatives(std, nil)
	if err != nil {
		t.Fatalf("selectNatives(nil): %v", err)
	}
	if len(all) != len(std) {
		t.Errorf("nil list kept %d natives, want %d", len(all), len(std))
	}

	none, err := selectNatives(std, []string{})
	if err != nil {
		t.Fatalf("selectNatives([]): %v", err)
	}
	if len(none) != 0 {
		t.Errorf("empty list kept %d natives", len(none))
	}

	some, err := selectNatives(std, []string{natives.Println})
	if err != nil {
		t.Fatalf("selectNatives: %v", err)
	}
	if _, ok := some[natives.Println]; !ok || len(some) != 1 {
		t.Errorf("selectNatives = %v", some)
	}

	if _, err := selectNatives(std, []string{"launch_missiles"}); err == nil {
		t.Error("expected error for unknown native")
	}
}

func TestExecutorNames(t *testing.T) {
	p, err := demoProgram()
	if err != nil {
		t.Fatalf("demoProgram: %v", err)
	}

	m, err := manifest.Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := executorNames(m, p); strings.Join(got, ",") != "clock,report" {
		t.Errorf("without manifest executors = %v", got)
	}

	m, err = manifest.Parse([]byte(`
[executors.report]
cadence = "10ms"

[executors.audit]
cadence = "1s"
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := executorNames(m, p); strings.Join(got, ",") != "audit,report" {
		t.Errorf("with manifest executors = %v", got)
	}
}

func TestDemoRuns(t *testing.T) {
	p, err := demoProgram()
	if err != nil {
		t.Fatalf("demoProgram: %v", err)
	}
	path := t.TempDir() + "/demo" + module.FileExtension
	if err := module.WriteFile(path, p); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p, err = loadProgram(nil, path, "")
	if err != nil {
		t.Fatalf("loadProgram: %v", err)
	}

	m, err := manifest.Parse([]byte(`
[defaults]
cadence = "5ms"
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var out bytes.Buffer
	rt, err := newRuntime(m, p, &out, 4)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Launch(ctx, p); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), out.String())
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "clock at ") {
			t.Errorf("unexpected line %q", line)
		}
	}
	for _, e := range rt.Executors() {
		if e.Faults() != 0 {
			t.Errorf("executor %s: %d faults", e.Name(), e.Faults())
		}
	}
}

func TestCheckLock(t *testing.T) {
	p, err := demoProgram()
	if err != nil {
		t.Fatalf("demoProgram: %v", err)
	}
	m, err := manifest.Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m.Dir = t.TempDir()

	if err := checkLock(m, p); err != nil {
		t.Fatalf("first checkLock: %v", err)
	}
	if err := checkLock(m, p); err != nil {
		t.Fatalf("second checkLock: %v", err)
	}

	p.Targets["clock"][0].Bytecode[0] ^= 0xFF
	if err := checkLock(m, p); err == nil {
		t.Error("expected lock mismatch after changing bytecode")
	}
}
