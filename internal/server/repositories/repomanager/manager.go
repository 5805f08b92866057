package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/dirkeeper/internal/dbx"
	"github.com/dmitrijs2005/dirkeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/dirkeeper/internal/server/repositories/sessions"
)

// RepositoryManager hands out repositories bound to a DB handle or to an open
// transaction, so services can compose them inside dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	Sessions(db dbx.DBTX) sessions.Repository
}
