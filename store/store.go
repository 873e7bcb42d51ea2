// Package store keeps compiled programs in a SQLite database so a swarm can
// be launched by name instead of from a file.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chazu/anthill/pkg/module"
)

// ErrProgramNotFound indicates the requested program doesn't exist.
var ErrProgramNotFound = errors.New("program not found")

// Entry summarizes one stored program.
type Entry struct {
	Name      string
	Executors int
	Modules   int
	Size      int
	Updated   time.Time
}

// Store is a program table in one SQLite file.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens or creates the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		name      TEXT PRIMARY KEY,
		executors INTEGER NOT NULL,
		modules   INTEGER NOT NULL,
		data      BLOB NOT NULL,
		updated   INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// DefaultPath is $ANTHILL_DB, or ~/.anthill/programs.db.
func DefaultPath() (string, error) {
	if p := os.Getenv("ANTHILL_DB"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home dir: %w", err)
	}
	return filepath.Join(home, ".anthill", "programs.db"), nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores p under its name, replacing any previous version. The program
// is validated first.
func (s *Store) Put(p *module.Program) error {
	if p.Name == "" {
		return errors.New("saving program: program has no name")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("saving program %s: %w", p.Name, err)
	}
	data, err := module.Marshal(p)
	if err != nil {
		return fmt.Errorf("saving program %s: %w", p.Name, err)
	}

	modules := 0
	for _, name := range p.Executors() {
		modules += len(p.Modules(name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO programs (name, executors, modules, data, updated) VALUES (?, ?, ?, ?, ?)",
		p.Name, len(p.Targets), modules, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving program %s: %w", p.Name, err)
	}
	return nil
}

// Get loads the program called name.
func (s *Store) Get(name string) (*module.Program, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM programs WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, name)
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}
	p, err := module.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decoding program %s: %w", name, err)
	}
	return p, nil
}

// Delete removes the program called name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM programs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrProgramNotFound, name)
	}
	return nil
}

// List returns every stored program ordered by name.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query("SELECT name, executors, modules, length(data), updated FROM programs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var updated int64
		if err := rows.Scan(&e.Name, &e.Executors, &e.Modules, &e.Size, &updated); err != nil {
			return nil, fmt.Errorf("listing programs: %w", err)
		}
		e.Updated = time.Unix(updated, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}
