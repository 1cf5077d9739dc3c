package project

import (
	"fmt"
	"strings"

	"github.com/ppreeper/oda/internal/manifest"
)

const odooBin = "odoo/odoo-bin"

// JoinModules flattens module arguments that may themselves be comma separated.
func JoinModules(args []string) string {
	var mods []string
	for _, a := range args {
		for _, m := range strings.Split(a, ",") {
			if m = strings.TrimSpace(m); m != "" {
				mods = append(mods, m)
			}
		}
	}
	return strings.Join(mods, ",")
}

// ModuleCommand installs, or upgrades when upgrade is set, modules without
// starting the HTTP server.
func ModuleCommand(modules []string, upgrade bool) ([]string, error) {
	mods := JoinModules(modules)
	if mods == "" {
		return nil, fmt.Errorf("no modules given")
	}
	flag := "-i"
	if upgrade {
		flag = "-u"
	}
	return []string{odooBin, "--no-http", "--stop-after-init", flag, mods}, nil
}

// ScaffoldCommand creates a module skeleton in the project addons.
func ScaffoldCommand(module string) ([]string, error) {
	if module == "" || strings.ContainsAny(module, `/\ `) {
		return nil, fmt.Errorf("invalid module name %q", module)
	}
	return []string{odooBin, "scaffold", module, manifest.AddonsMountPath + "/."}, nil
}

// PsqlCommand opens psql on db as the postgres user.
func PsqlCommand(db string) []string {
	return []string{"su", "postgres", "-c", "/usr/local/bin/psql " + db}
}

// BackupCommand dumps the project database to the backups volume.
func BackupCommand() []string {
	return []string{"oda_db.py", "-b"}
}

// PostgresPod is the pod of the single replica PostgreSQL StatefulSet.
func PostgresPod() string {
	return manifest.PostgresName + "-0"
}
