// Package migrations embeds the SQL schema so tests and tools can apply it
// without a checkout on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
