package workspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"k8s.io/client-go/util/homedir"
)

// Configuration keys, also the names of the matching flags and of the
// ODA_ prefixed environment variables.
const (
	KeyRepoRoot        = "repo_root"
	KeyUpstream        = "upstream"
	KeyProjectRoot     = "project_root"
	KeyManifestsDir    = "manifests_dir"
	KeyStorageDir      = "storage_dir"
	KeyBackupsDir      = "backups_dir"
	KeyNamespace       = "namespace"
	KeyKubeconfig      = "kubeconfig"
	KeyImage           = "image"
	KeyImageName       = "image_name"
	KeyPostgresVersion = "postgres_version"
)

const EnvPrefix = "ODA"

// Config holds the directories and cluster settings every command shares.
type Config struct {
	RepoRoot        string `mapstructure:"repo_root"`
	Upstream        string `mapstructure:"upstream"`
	ProjectRoot     string `mapstructure:"project_root"`
	ManifestsDir    string `mapstructure:"manifests_dir"`
	StorageDir      string `mapstructure:"storage_dir"`
	BackupsDir      string `mapstructure:"backups_dir"`
	Namespace       string `mapstructure:"namespace"`
	Kubeconfig      string `mapstructure:"kubeconfig"`
	Image           string `mapstructure:"image"`
	ImageName       string `mapstructure:"image_name"`
	PostgresVersion string `mapstructure:"postgres_version"`
}

// ConfigDir is where config.yaml and the generated manifests live.
func ConfigDir(home string) string {
	return filepath.Join(home, ".config", "oda")
}

// SetDefaults registers the default value of every key relative to home.
func SetDefaults(v *viper.Viper, home string) {
	v.SetDefault(KeyRepoRoot, filepath.Join(home, "workspace", "repos", "odoo"))
	v.SetDefault(KeyUpstream, "https://github.com/odoo")
	v.SetDefault(KeyProjectRoot, filepath.Join(home, "workspace", "odoo"))
	v.SetDefault(KeyManifestsDir, filepath.Join(ConfigDir(home), "manifests"))
	v.SetDefault(KeyStorageDir, filepath.Join(home, ".local", "oda"))
	v.SetDefault(KeyBackupsDir, "")
	v.SetDefault(KeyNamespace, "default")
	v.SetDefault(KeyKubeconfig, "")
	v.SetDefault(KeyImage, "ghcr.io/ppreeper/odoobase:main")
	v.SetDefault(KeyImageName, "odoobase")
	v.SetDefault(KeyPostgresVersion, "15")
}

// Load reads configFile, or config.yaml from the config directory when
// configFile is empty, and the environment into a Config. A missing default
// config file is not an error.
func Load(v *viper.Viper, home, configFile string) (*Config, error) {
	SetDefaults(v, home)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir(home))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for _, p := range []*string{&cfg.RepoRoot, &cfg.ProjectRoot, &cfg.ManifestsDir, &cfg.StorageDir, &cfg.BackupsDir, &cfg.Kubeconfig} {
		*p = expandHome(*p, home)
	}
	if cfg.BackupsDir == "" {
		cfg.BackupsDir = filepath.Join(cfg.ProjectRoot, "backups")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("namespace must not be empty")
	}
	return cfg, nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// HomeDir returns the current user's home directory.
func HomeDir() (string, error) {
	home := homedir.HomeDir()
	if home == "" {
		return "", errors.New("cannot resolve home directory, set HOME")
	}
	return home, nil
}
