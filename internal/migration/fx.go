package migration

import (
	apikeydomain "github.com/tollgate-ai/tollgate/internal/apikey/domain"
	appdomain "github.com/tollgate-ai/tollgate/internal/app/domain"
	identitydomain "github.com/tollgate-ai/tollgate/internal/identity/domain"
	ledgerdomain "github.com/tollgate-ai/tollgate/internal/ledger/domain"
	pricingdomain "github.com/tollgate-ai/tollgate/internal/pricing/domain"
	"github.com/tollgate-ai/tollgate/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, pricingRepo pricingdomain.Repository) error {
		if conn.Dialector.Name() == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Non-postgres targets are for local development; gorm's
			// migrator is close enough there.
			if err := conn.AutoMigrate(
				&appdomain.Application{},
				&appdomain.MarkupConfig{},
				&apikeydomain.APIKey{},
				&pricingdomain.ModelPrice{},
				&ledgerdomain.Transaction{},
				&ledgerdomain.CreditGrant{},
				&ledgerdomain.Revenue{},
				&identitydomain.RepoSlugMapping{},
				&identitydomain.GithubRepoLink{},
			); err != nil {
				return err
			}
		}

		return seed.EnsureDefaultPrices(conn, pricingRepo)
	}),
)
