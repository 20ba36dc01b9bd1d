// Package migrations embeds the index schema migrations so the binary
// can bring its store up to date without shipping SQL files alongside.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
