// Package migrations embeds the Postgres schema for the bookings ledger.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
