package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

// EpochLayout formats the project creation time used in db_name.
const EpochLayout = "20060102150405"

const optionsSection = "[options]"

// ConfigEntry is one key of odoo.conf.
type ConfigEntry struct {
	Key   string
	Value string
}

// OdooConfig is the ordered content of the [options] section of odoo.conf.
type OdooConfig []ConfigEntry

// NewOdooConfig generates the configuration of a new project. Only addons_path
// depends on the edition.
func NewOdooConfig(project string, edition Edition, createdAt time.Time) OdooConfig {
	addons := []string{OdooMountPath + "/addons"}
	if edition == Enterprise {
		addons = append(addons, EnterpriseMountPath)
	}
	addons = append(addons, AddonsMountPath)

	return OdooConfig{
		{"addons_path", strings.Join(addons, ",")},
		{"data_dir", DataMountPath},
		{"admin_passwd", "adminadmin"},
		{"without_demo", "all"},
		{"csv_internal_sep", ";"},
		{"reportgz", "False"},
		{"server_wide_modules", "base,web"},
		{"db_host", PostgresName},
		{"db_port", fmt.Sprint(PostgresPort)},
		{"db_maxconn", "8"},
		{"db_user", "odoodev"},
		{"db_password", "odooodoo"},
		{"db_name", DatabaseName(project, createdAt.Format(EpochLayout))},
		{"db_template", "template0"},
		{"db_sslmode", "disable"},
		{"list_db", "False"},
		{"proxy", "True"},
		{"proxy_mode", "True"},
		{"logfile", "/dev/stderr"},
		{"log_level", "debug"},
		{"log_handler", "odoo.tools.convert:DEBUG"},
		{"workers", "0"},
	}
}

// Get returns the value of key.
func (c OdooConfig) Get(key string) (string, bool) {
	for _, e := range c {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// String renders the configuration as odoo.conf text.
func (c OdooConfig) String() string {
	var b strings.Builder
	b.WriteString(optionsSection + "\n")
	for _, e := range c {
		fmt.Fprintf(&b, "%s = %s\n", e.Key, e.Value)
	}
	return b.String()
}

// ParseOdooConfig reads the [options] section of an odoo.conf file. Other
// sections and comments are skipped.
func ParseOdooConfig(r io.Reader) (OdooConfig, error) {
	var (
		cfg       OdooConfig
		inOptions bool
		lineNo    int
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";"):
			continue
		case strings.HasPrefix(line, "["):
			inOptions = line == optionsSection
			continue
		case !inOptions:
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("odoo.conf line %d: expected key = value", lineNo)
		}
		cfg = append(cfg, ConfigEntry{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read odoo.conf: %w", err)
	}
	return cfg, nil
}
