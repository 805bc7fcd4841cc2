// Package migrations holds the goose migrations of the message record store
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
