package sqlstore

import "database/sql"

// DB exposes the handle so tests can corrupt or constrain tables directly.
func DB(s *Store) *sql.DB { return s.db }
