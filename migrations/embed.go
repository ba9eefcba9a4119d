// Package migrations embeds the SQL schema files consumed by the
// migrate command via the iofs source driver.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
