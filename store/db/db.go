package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/tagcache/internal/profile"
	"github.com/hrygo/tagcache/store"
	"github.com/hrygo/tagcache/store/db/jsonfile"
	"github.com/hrygo/tagcache/store/db/postgres"
	"github.com/hrygo/tagcache/store/db/sqlite"
)

// NewDBDriver creates the persistence driver selected by the profile.
func NewDBDriver(p *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch p.Driver {
	case profile.DriverJSON, "":
		driver, err = jsonfile.NewDB(p)
	case profile.DriverSQLite:
		driver, err = sqlite.NewDB(p)
	case profile.DriverPostgres:
		driver, err = postgres.NewDB(p)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'json', 'sqlite' and 'postgres' are supported", p.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
