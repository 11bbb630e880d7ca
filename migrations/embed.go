// Package migrations: встроенные SQL-миграции схемы чатов (порядок важен: 001, 002, ...).
package migrations

import (
	"embed"
	"io/fs"
	"sort"
)

//go:embed *.sql
var Files embed.FS

// Names возвращает имена .sql файлов в порядке применения.
func Names() ([]string, error) {
	names, err := fs.Glob(Files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
