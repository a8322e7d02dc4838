package db

import (
	"github.com/pkg/errors"

	"github.com/kinshiphq/kinship/internal/profile"
	"github.com/kinshiphq/kinship/store"
	"github.com/kinshiphq/kinship/store/db/postgres"
	"github.com/kinshiphq/kinship/store/db/sqlite"
)

// NewDBDriver creates a new db driver based on the profile.
//
// PostgreSQL is the production driver: vector search runs inside the
// database via pgvector. SQLite is for development and tests; vectors are
// stored as JSON and ranked in-process, which is fine at this scale but
// has no index support.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
