package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/lscinspector/internal/dbx"
	"github.com/dmitrijs2005/lscinspector/internal/server/repositories/files"
	"github.com/dmitrijs2005/lscinspector/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/lscinspector/internal/server/repositories/users"
	"github.com/dmitrijs2005/lscinspector/internal/server/repositories/weights"
)

// RepositoryManager vends repositories bound to a DBTX, so the same service
// code runs against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Weights(db dbx.DBTX) weights.Repository
	Files(db dbx.DBTX) files.Repository
}
