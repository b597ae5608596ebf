package sqlite

import (
	"database/sql"

	"github.com/engramd/engramd/internal/memory"
)

// Stores bundles the three store interfaces backed by one database.
type Stores struct {
	Store memory.Store
	Chats memory.ChatStore
	Users memory.UserStore
}

// Open opens a SQLite database at the given path and returns the stores
// backed by it, outside the module lifecycle. The caller is responsible for
// closing the returned *sql.DB when done.
//
// The database is created with WAL mode, a 5 s busy timeout, and a single
// connection (SQLite serialises writes). The schema is migrated automatically.
func Open(path string) (Stores, *sql.DB, error) {
	db, err := open(path, true, defaultBusyTimeout)
	if err != nil {
		return Stores{}, nil, err
	}

	return Stores{
		Store: &memStore{db: db},
		Chats: &chatStore{db: db},
		Users: &userStore{db: db},
	}, db, nil
}
