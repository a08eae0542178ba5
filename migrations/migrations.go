// Package migrations embeds the per-service schemas applied by `migrate`.
package migrations

import (
	"embed"
	"fmt"
	"path"
)

//go:embed mysql/*.sql sqlite/*.sql clickhouse/*.sql
var files embed.FS

// Load returns the schema of a service ("order", "payment", "restaurant") for
// a driver ("mysql", "sqlite"), or the audit schema for driver "clickhouse".
func Load(driver, service string) (string, error) {
	b, err := files.ReadFile(path.Join(driver, service+".sql"))
	if err != nil {
		return "", fmt.Errorf("no %s schema for %q: %w", driver, service, err)
	}
	return string(b), nil
}
