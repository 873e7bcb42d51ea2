package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/anthill/pkg/module"
)

func TestLoadManifest(t *testing.T) {
	// Create a temporary directory with an anthill.toml
	dir := t.TempDir()
	tomlContent := `
[swarm]
name = "colony"
program = "build/colony.antp"

[defaults]
cadence = "250ms"
memory = 32768
stack = 4096
budget = 100000
natives = ["print", "println"]

[executors.alpha]
cadence = "50ms"
memory = 131072
trace = true

[executors.beta]
natives = []
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Swarm.Name != "colony" {
		t.Errorf("swarm name = %q, want colony", m.Swarm.Name)
	}
	if want := filepath.Join(m.Dir, "build", "colony.antp"); m.ProgramPath() != want {
		t.Errorf("program path = %q, want %q", m.ProgramPath(), want)
	}
	if names := m.ExecutorNames(); len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("executor names = %v", names)
	}

	alpha, err := m.Settings("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if alpha.Cadence != 50*time.Millisecond {
		t.Errorf("alpha cadence = %v, want 50ms", alpha.Cadence)
	}
	if alpha.Memory != 131072 || alpha.Stack != 4096 || alpha.Budget != 100000 {
		t.Errorf("alpha = %+v", alpha)
	}
	if !alpha.Trace {
		t.Error("alpha trace = false, want true")
	}
	if len(alpha.Natives) != 2 {
		t.Errorf("alpha natives = %v, want inherited defaults", alpha.Natives)
	}

	beta, err := m.Settings("beta")
	if err != nil {
		t.Fatal(err)
	}
	if beta.Cadence != 250*time.Millisecond || beta.Memory != 32768 || beta.Trace {
		t.Errorf("beta = %+v", beta)
	}
	if beta.Natives == nil || len(beta.Natives) != 0 {
		t.Errorf("beta natives = %v, want explicitly empty", beta.Natives)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	m, err := Parse([]byte(`
[swarm]
name = "minimal"
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	s, err := m.Settings("anything")
	if err != nil {
		t.Fatal(err)
	}
	if s.Cadence != 100*time.Millisecond || s.Memory != DefaultMemory || s.Stack != DefaultStack || s.Budget != 0 {
		t.Errorf("defaults = %+v", s)
	}
	if s.Name != "anything" {
		t.Errorf("name = %q", s.Name)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad cadence", "[defaults]\ncadence = \"soon\"\n"},
		{"negative cadence", "[executors.alpha]\ncadence = \"-1s\"\n"},
		{"stack too large", "[defaults]\nmemory = 1024\nstack = 1024\n"},
		{"program and stored", "[swarm]\nprogram = \"a.antp\"\nstored = \"a\"\n"},
		{"unknown key", "[swarm]\nnmae = \"typo\"\n"},
		{"reserved name", "[executors.defaults]\ncadence = \"1s\"\n"},
		{"bad name", "[executors.Alpha]\ncadence = \"1s\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.content)); !errors.Is(err, ErrInvalid) {
				t.Errorf("got %v, want ErrInvalid", err)
			}
		})
	}

	if _, err := Parse([]byte("[swarm\n")); err == nil {
		t.Error("expected a syntax error")
	}
}

func TestCheckName(t *testing.T) {
	for _, ok := range []string{"alpha", "a1", "fast-lane", "ant_farm"} {
		if err := CheckName(ok); err != nil {
			t.Errorf("CheckName(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "1st", "-x", "Alpha", "a b", "swarm", "Runtime"} {
		if err := CheckName(bad); err == nil {
			t.Errorf("CheckName(%q) accepted", bad)
		}
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	tomlContent := `[swarm]
name = "found-swarm"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Swarm.Name != "found-swarm" {
		t.Errorf("swarm name = %q, want found-swarm", m.Swarm.Name)
	}
	if m.LockFilePath() != filepath.Join(m.Dir, "anthill.lock") {
		t.Errorf("lock path = %q", m.LockFilePath())
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no anthill.toml exists")
	}
}

func lockSample(image []byte) *module.Program {
	p := module.NewProgram("locked")
	p.Add(&module.CompiledModule{Name: "a", Executor: "alpha", Bytecode: []byte{1}})
	p.Add(&module.CompiledModule{Name: "b", Executor: "alpha", Bytecode: image})
	return p
}

func TestLockFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, ".anthill", "anthill.lock")

	p := lockSample([]byte{2, 3})
	if err := WriteLock(lockPath, LockProgram(p)); err != nil {
		t.Fatalf("WriteLock failed: %v", err)
	}

	loaded, err := ReadLock(lockPath)
	if err != nil {
		t.Fatalf("ReadLock failed: %v", err)
	}
	if loaded.Program != "locked" || len(loaded.Modules) != 2 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if err := loaded.Verify(p); err != nil {
		t.Errorf("Verify of the same program: %v", err)
	}
	if err := loaded.Verify(lockSample([]byte{2, 4})); !errors.Is(err, ErrLockMismatch) {
		t.Errorf("Verify of a changed program: got %v, want ErrLockMismatch", err)
	}

	found := loaded.FindLockedModule("alpha", 1)
	if found == nil || found.Name != "b" {
		t.Errorf("FindLockedModule(alpha, 1) = %v", found)
	}
	if loaded.FindLockedModule("beta", 0) != nil {
		t.Error("FindLockedModule(beta, 0) should be nil")
	}
}

func TestReadLockNotFound(t *testing.T) {
	lf, err := ReadLock("/nonexistent/path/anthill.lock")
	if err != nil {
		t.Errorf("ReadLock should return nil,nil for missing file, got err: %v", err)
	}
	if lf != nil {
		t.Errorf("ReadLock should return nil for missing file, got %v", lf)
	}
}
