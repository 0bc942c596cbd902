// Package migrations embeds the SQL migrations for the billing reference schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
