// Package config gathers settings for harvesting and processing. Values come
// from defaults, an optional YAML file, an optional .env file and the
// environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/dataesr/bso3-harvest-datacite-sub000"
	"github.com/dataesr/bso3-harvest-datacite-sub000/objstore"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variables.
const (
	ConfigPathEnv = "BSO3_CONFIG"
	EnvFileEnv    = "BSO3_ENV_FILE"
	DataDirEnv    = "BSO3_DATA_DIR"
	LogLevelEnv   = "BSO3_LOG_LEVEL"
	MatcherURLEnv = "BSO3_MATCHER_URL"
	MongoURIEnv   = "BSO3_MONGO_URI"
	// OpenStack variables, as used by the swift command line client.
	OSUserEnv   = "OS_USERNAME"
	OSKeyEnv    = "OS_PASSWORD"
	OSAuthEnv   = "OS_AUTH_URL"
	OSDomainEnv = "OS_USER_DOMAIN_NAME"
	OSTenantEnv = "OS_TENANT_NAME"
	OSRegionEnv = "OS_REGION_NAME"
)

// DefaultDataDir is the generic data dir for all tools.
var DefaultDataDir = filepath.Join(xdg.DataHome, bso3.AppName)

// Config for harvest and processing.
type Config struct {
	// DataDir is the base for all directories not set explicitly.
	DataDir string `yaml:"data_dir"`
	// DumpDir is where the dump tool writes its files.
	DumpDir string `yaml:"dump_dir"`
	// StagingDir keeps one raw JSON file per DOI.
	StagingDir string `yaml:"staging_dir"`
	// AffiliationsDir holds partition and consolidated CSV files.
	AffiliationsDir string `yaml:"affiliations_dir"`
	// OutputDir keeps one enriched JSON file per DOI.
	OutputDir string `yaml:"output_dir"`
	StateDB   string `yaml:"state_db"`
	LogLevel  string `yaml:"log_level"`

	Harvest HarvestConfig `yaml:"harvest"`
	Matcher MatcherConfig `yaml:"matcher"`
	Process ProcessConfig `yaml:"process"`
	Swift   SwiftConfig   `yaml:"swift"`
}

// HarvestConfig configures the dump tool.
type HarvestConfig struct {
	Tool        string        `yaml:"tool"`
	Interval    string        `yaml:"interval"`
	MaxRequests int           `yaml:"max_requests"`
	Workers     int           `yaml:"workers"`
	Sleep       time.Duration `yaml:"sleep"`
	Prefix      string        `yaml:"prefix"`
}

// MatcherConfig configures the affiliation matching service.
type MatcherConfig struct {
	URL               string        `yaml:"url"`
	MatchType         string        `yaml:"match_type"`
	Workers           int           `yaml:"workers"`
	CacheSize         int           `yaml:"cache_size"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	PrewarmChunkSize  int           `yaml:"prewarm_chunk_size"`
	PrewarmTypes      []string      `yaml:"prewarm_types"`
	// Mongo side collection of match results, optional.
	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`
}

// ProcessConfig configures splitting, merging and enrichment.
type ProcessConfig struct {
	Partitions    int      `yaml:"partitions"`
	PartitionSize int      `yaml:"partition_size"`
	Workers       int      `yaml:"workers"`
	RunPrefix     string   `yaml:"run_prefix"`
	ExcludeKeys   []string `yaml:"exclude_keys"`
	ClientIDsFile string   `yaml:"client_ids_file"`
	FeedFile      string   `yaml:"feed_file"`
}

// SwiftConfig enables uploads of results.
type SwiftConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Container            string `yaml:"container"`
	objstore.SwiftConfig `yaml:",inline"`
}

// Default returns a configuration usable without any file.
func Default() *Config {
	return &Config{
		DataDir:  DefaultDataDir,
		LogLevel: "info",
		Harvest: HarvestConfig{
			Tool:     "dcdump",
			Interval: "day",
			Workers:  4,
			Prefix:   "dcdump-",
		},
		Matcher: MatcherConfig{
			URL:              "http://localhost:5004",
			MatchType:        "country",
			Workers:          4,
			CacheSize:        100000,
			MaxRetries:       3,
			RetryDelay:       2 * time.Second,
			Timeout:          60 * time.Second,
			PrewarmChunkSize: 100,
			MongoDatabase:    "bso3",
			MongoCollection:  "affiliations",
		},
		Process: ProcessConfig{
			Partitions:  4,
			RunPrefix:   "run",
			ExcludeKeys: []string{"schemeUri", "affiliationIdentifierScheme", "lang"},
			FeedFile:    "bso3-index.jsonl",
		},
		Swift: SwiftConfig{Container: "bso3_publications_dump"},
	}
}

// Load reads the YAML file at path, or the one named by BSO3_CONFIG, then
// applies .env and environment overrides. A missing path is an error, a
// missing .env file is not.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	envFile := os.Getenv(EnvFileEnv)
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: %s: %w", envFile, err)
	}
	cfg.applyEnvOverrides()
	cfg.resolve()
	return cfg, nil
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) applyEnvOverrides() {
	setFromEnv(&c.DataDir, DataDirEnv)
	setFromEnv(&c.LogLevel, LogLevelEnv)
	setFromEnv(&c.Matcher.URL, MatcherURLEnv)
	setFromEnv(&c.Matcher.MongoURI, MongoURIEnv)
	setFromEnv(&c.Swift.UserName, OSUserEnv)
	setFromEnv(&c.Swift.APIKey, OSKeyEnv)
	setFromEnv(&c.Swift.AuthURL, OSAuthEnv)
	setFromEnv(&c.Swift.Domain, OSDomainEnv)
	setFromEnv(&c.Swift.Tenant, OSTenantEnv)
	setFromEnv(&c.Swift.Region, OSRegionEnv)
}

// resolve fills unset directories below the data directory.
func (c *Config) resolve() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	for _, v := range []struct {
		dst  *string
		name string
	}{
		{&c.DumpDir, "dcdump"},
		{&c.StagingDir, "raw"},
		{&c.AffiliationsDir, "affiliations"},
		{&c.OutputDir, "dois"},
		{&c.StateDB, "bso3.db"},
	} {
		if *v.dst == "" {
			*v.dst = filepath.Join(c.DataDir, v.name)
		}
	}
	if c.Process.FeedFile != "" && !filepath.IsAbs(c.Process.FeedFile) {
		c.Process.FeedFile = filepath.Join(c.DataDir, c.Process.FeedFile)
	}
}

// SetupLogging sets the log level; an unknown level falls back to info.
func (c *Config) SetupLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("level", c.LogLevel).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
