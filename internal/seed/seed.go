package seed

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/yigit/hackhub/internal/backend"
)

// DemoUserEmail is the account created for local development
const DemoUserEmail = "demo@hackhub.dev"

var defaultBadges = []backend.Row{
	{"id": "starter", "name": "Starter", "description": "Earned your first points", "threshold": 10},
	{"id": "contributor", "name": "Contributor", "description": "Regular participant", "threshold": 50},
	{"id": "veteran", "name": "Veteran", "description": "Long-time member", "threshold": 150},
	{"id": "legend", "name": "Legend", "description": "Community legend", "threshold": 500},
}

var defaultForums = []backend.Row{
	{"id": "general", "name": "General", "description": "Anything hackathon related"},
	{"id": "show-and-tell", "name": "Show and Tell", "description": "Share what you built"},
	{"id": "help", "name": "Help", "description": "Ask the community"},
}

// CreateDefaultData inserts the badge catalog and the default forums, plus a
// demo user when withDemoUser is set. Rows that already exist are skipped,
// so it is safe to run on every start.
func CreateDefaultData(ctx context.Context, be backend.Backend, withDemoUser bool, lgr zerolog.Logger) error {
	lgr.Info().Msg("Checking/Creating default data (badges/forums)...")
	var finalErr error

	insert := func(table string, row backend.Row) {
		_, err := be.Insert(ctx, table, row)
		switch {
		case err == nil:
			lgr.Debug().Str("table", table).Str("id", row.String("id")).Msg("Default row created")
		case errors.Is(err, backend.ErrConflict):
		default:
			lgr.Error().Err(err).Str("table", table).Msg("Error creating default row")
			finalErr = errors.Join(finalErr, err)
		}
	}

	for _, b := range defaultBadges {
		insert(backend.TableBadges, b.Clone())
	}
	for _, f := range defaultForums {
		insert(backend.TableForums, f.Clone())
	}
	if withDemoUser {
		insert(backend.TableUsers, backend.Row{"id": "demo", "email": DemoUserEmail, "display_name": "Demo User"})
	}

	if finalErr == nil {
		lgr.Info().Msg("Default data is in place.")
	}
	return finalErr
}
