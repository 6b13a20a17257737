// Package migrations holds the project store schema.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
