package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const archivePrefix = "archive_violations_"

// ArchiveInfo describes one archived database file
type ArchiveInfo struct {
	Name       string
	Path       string
	Violations int
	Size       int64
	ModTime    time.Time
}

// Archive snapshots the database into dir as archive_violations_<stamp>.db
// and then empties the live violations and sessions tables.
func (d *Database) Archive(dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := archivePrefix + now.Format("20060102_150405") + ".db"
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("archive %s already exists", name)
	}

	if _, err := d.db.Exec("VACUUM INTO ?", path); err != nil {
		return "", fmt.Errorf("failed to write archive: %w", err)
	}

	tx, err := d.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM violations"); err != nil {
		return "", fmt.Errorf("failed to clear violations: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sessions WHERE ended_at IS NOT NULL"); err != nil {
		return "", fmt.Errorf("failed to clear sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit archive: %w", err)
	}
	return path, nil
}

// ListArchives reports every archive in dir with its violation count
func ListArchives(dir string) ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var out []ArchiveInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), archivePrefix) || filepath.Ext(e.Name()) != ".db" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		path := filepath.Join(dir, e.Name())
		count, err := countArchive(path)
		if err != nil {
			return nil, err
		}
		out = append(out, ArchiveInfo{
			Name:       e.Name(),
			Path:       path,
			Violations: count,
			Size:       info.Size(),
			ModTime:    info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

func countArchive(path string) (int, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return 0, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM violations").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archive %s: %w", path, err)
	}
	return n, nil
}
