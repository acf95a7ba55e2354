package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/binaryitems"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/cases"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/dictionaries"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/notes"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/synchistory"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a connection or transaction.
// Case data repositories are additionally bound to a dictionary whose name
// has already been validated.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Dictionaries(db dbx.DBTX) dictionaries.Repository
	SyncHistory(db dbx.DBTX) synchistory.Repository
	Cases(db dbx.DBTX, dictionary string) cases.Repository
	Notes(db dbx.DBTX, dictionary string) notes.Repository
	BinaryItems(db dbx.DBTX, dictionary string) binaryitems.Repository
}
