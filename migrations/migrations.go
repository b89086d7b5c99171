package migrations

import "embed"

// FS holds the schema for every supported driver, one directory per dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
