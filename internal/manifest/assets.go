package manifest

import (
	_ "embed"
)

//go:embed assets/pg_hba.conf
var pgHBAConf string

//go:embed assets/pg_ident.conf
var pgIdentConf string

//go:embed assets/postgresql.conf
var postgresqlConf string

//go:embed assets/createodoouser.sql
var createOdooUserSQL string
