// Package all links every storage backend into the binary.
package all

import (
	_ "pimbridge/internal/storage/mssql"
	_ "pimbridge/internal/storage/postgres"
	_ "pimbridge/internal/storage/sqlite"
)
