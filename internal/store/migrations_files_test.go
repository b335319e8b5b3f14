package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	for _, dialect := range []Dialect{Postgres, SQLite} {
		migrationsDir := filepath.Join("..", "..", "db", "migrations", string(dialect))
		entries, err := os.ReadDir(migrationsDir)
		if err != nil {
			t.Fatalf("read migrations dir: %v", err)
		}

		pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
		byVersion := map[string]map[string]bool{}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			match := pattern.FindStringSubmatch(entry.Name())
			if match == nil {
				continue
			}
			version := match[1]
			direction := match[2]
			if byVersion[version] == nil {
				byVersion[version] = map[string]bool{}
			}
			if byVersion[version][direction] {
				t.Fatalf("%s: duplicate %s migration file for version %s", dialect, direction, version)
			}
			byVersion[version][direction] = true
		}

		if len(byVersion) == 0 {
			t.Fatalf("%s: no migrations discovered", dialect)
		}

		for version, dirs := range byVersion {
			if !dirs["up"] || !dirs["down"] {
				t.Fatalf("%s: version %s must include both up and down files", dialect, version)
			}
		}
	}
}

func TestDialectsShipTheSameVersions(t *testing.T) {
	list := func(dialect Dialect) []string {
		entries, err := os.ReadDir(filepath.Join("..", "..", "db", "migrations", string(dialect)))
		if err != nil {
			t.Fatalf("read migrations dir: %v", err)
		}
		var names []string
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		return names
	}
	pg, lite := list(Postgres), list(SQLite)
	if len(pg) != len(lite) {
		t.Fatalf("postgres has %d files, sqlite has %d", len(pg), len(lite))
	}
	for i := range pg {
		if pg[i] != lite[i] {
			t.Fatalf("migration %d differs: %s vs %s", i, pg[i], lite[i])
		}
	}
}
