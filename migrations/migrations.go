// Package migrations holds the schema of the usage billing stores
package migrations

import (
	"embed"
	"io/fs"
	"sort"
)

//go:embed postgres/*.sql clickhouse/*.sql
var files embed.FS

// Postgres returns the postgres statements files in apply order
func Postgres() ([]string, error) {
	return read("postgres")
}

// ClickHouse returns the clickhouse statements files in apply order
func ClickHouse() ([]string, error) {
	return read("clickhouse")
}

func read(dir string) ([]string, error) {
	names, err := fs.Glob(files, dir+"/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	scripts := make([]string, 0, len(names))
	for _, name := range names {
		content, err := files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, string(content))
	}
	return scripts, nil
}
