package di

import (
	"fmt"

	"github.com/aristath/degiro-portfolio/internal/clientdata"
	"github.com/aristath/degiro-portfolio/internal/modules/history"
	"github.com/aristath/degiro-portfolio/internal/modules/ledger"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the data access layer
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil || container.PortfolioDB == nil || container.ClientDataDB == nil {
		return fmt.Errorf("databases must be initialized before repositories")
	}

	container.LedgerRepo = ledger.NewRepository(container.PortfolioDB.Conn(), log)
	container.HistoryDB = history.NewHistoryDB(container.PortfolioDB.Conn(), log)
	container.ClientDataRepo = clientdata.NewRepository(container.ClientDataDB.Conn())

	log.Info().Msg("Repositories initialized")
	return nil
}
