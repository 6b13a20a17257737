// Package config loads the project configuration once at startup. The result
// is an immutable value handed to every component constructor.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"

	"github.com/yumyai/phylomat/pkg/model"
)

// ErrConfig marks configuration problems; they abort a run.
var ErrConfig = errors.New("configuration error")

const (
	DefaultIDBottom           = 0.80
	DefaultIDTop              = 0.95
	DefaultConsensusThreshold = 0.4
)

type Executables struct {
	Mafft   string
	Vsearch string
}

type FlattenOptions struct {
	AlignOptions         []string
	ResolveAmbiguities   bool
	IDBottom             float64
	IDTop                float64
	ConsensusThreshold   float64
	AdoptEditedArtifacts bool
	Timeout              time.Duration
}

type AlignOptions struct {
	AlignOptions []string
	TaxonName    []string
}

type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	PathStyle bool
}

type Config struct {
	ProjectDir   string
	Email        string
	MaxSeqLength int
	LogLevel     string
	Executables  Executables
	Flatten      FlattenOptions
	Align        AlignOptions
	S3           S3Options

	// Taxon terms are numeric taxonomy ids or names to be resolved.
	MainTaxa     []string
	OutgroupTaxa []string
	ExcludedTaxa []string

	Loci []model.Locus
}

// Project paths.
func (c Config) ConfigPath() string       { return filepath.Join(c.ProjectDir, "config") }
func (c Config) DBPath() string           { return filepath.Join(c.ProjectDir, "db.sqlite3") }
func (c Config) LogPath() string          { return filepath.Join(c.ProjectDir, "log.txt") }
func (c Config) StrategiesDir() string    { return filepath.Join(c.ProjectDir, "search_strategies") }
func (c Config) OutputDir() string        { return filepath.Join(c.ProjectDir, "output") }
func (c Config) FlattenDir() string       { return filepath.Join(c.OutputDir(), "flatten") }
func (c Config) AlignDir() string         { return filepath.Join(c.OutputDir(), "align") }
func (c Config) TempDir() string          { return filepath.Join(c.ProjectDir, "temporary_files") }
func (c Config) DownloadDir() string      { return filepath.Join(c.ProjectDir, "downloaded_files") }
func (c Config) MetricsPath() string      { return filepath.Join(c.OutputDir(), "metrics.prom") }
func (c Config) UserDefaultsName() string { return userDefaultsName }

const userDefaultsName = "phylomat/config"

func (c Config) Locus(name string) (model.Locus, bool) {
	for _, l := range c.Loci {
		if l.Name == name {
			return l, true
		}
	}
	return model.Locus{}, false
}

// Load reads <projectDir>/config on top of the user defaults file, then the
// per-locus strategy files, then .env and environment overrides.
func Load(projectDir string) (Config, error) {
	cfg := Config{ProjectDir: projectDir}
	if _, err := os.Stat(cfg.ConfigPath()); err != nil {
		return Config{}, fmt.Errorf("%w: project config: %v", ErrConfig, err)
	}

	sources := []interface{}{}
	xdg.Reload()
	if userDefaults, err := xdg.SearchConfigFile(userDefaultsName); err == nil {
		sources = append(sources, userDefaults)
	}
	sources = append(sources, cfg.ConfigPath())

	f, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, sources[0], sources[1:]...)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	general := f.Section("General")
	cfg.Email = general.Key("email").String()
	cfg.MaxSeqLength = general.Key("max_seq_length").MustInt(0)
	cfg.LogLevel = general.Key("log_level").MustString("info")
	cfg.Executables = Executables{
		Mafft:   general.Key("mafft_executable").MustString("mafft"),
		Vsearch: general.Key("vsearch_executable").MustString("vsearch"),
	}

	flat := f.Section("Flatten")
	cfg.Flatten = FlattenOptions{
		AlignOptions:         strings.Fields(flat.Key("align_program_options").MustString("--auto")),
		ResolveAmbiguities:   flat.Key("resolve_ambiguities").MustBool(true),
		IDBottom:             flat.Key("identity_bottom").MustFloat64(DefaultIDBottom),
		IDTop:                flat.Key("identity_top").MustFloat64(DefaultIDTop),
		ConsensusThreshold:   flat.Key("consensus_threshold").MustFloat64(DefaultConsensusThreshold),
		AdoptEditedArtifacts: flat.Key("adopt_edited_artifacts").MustBool(false),
		Timeout:              flat.Key("align_timeout").MustDuration(0),
	}

	aln := f.Section("Align")
	cfg.Align = AlignOptions{
		AlignOptions: strings.Fields(aln.Key("align_program_options").MustString("--auto")),
		TaxonName:    splitList(aln.Key("taxon_name").MustString("scientific")),
	}

	store := f.Section("Storage")
	cfg.S3 = S3Options{
		Bucket:    store.Key("s3_bucket").String(),
		Region:    store.Key("s3_region").MustString("us-east-1"),
		Endpoint:  store.Key("s3_endpoint").String(),
		Prefix:    store.Key("s3_prefix").String(),
		PathStyle: store.Key("s3_path_style").MustBool(false),
	}

	cfg.MainTaxa = keyNames(f, "Main Taxa")
	cfg.OutgroupTaxa = keyNames(f, "Outgroup Taxa")
	cfg.ExcludedTaxa = keyNames(f, "Excluded Taxa")

	for _, name := range keyNames(f, "Loci") {
		l, err := LoadLocus(cfg.StrategiesDir(), name)
		if err != nil {
			return Config{}, err
		}
		cfg.Loci = append(cfg.Loci, l)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadLocus parses search_strategies/<name>. The section named after the locus
// holds database and query; every other section is an extraction strategy.
func LoadLocus(dir, name string) (model.Locus, error) {
	path := filepath.Join(dir, name)
	f, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		return model.Locus{}, fmt.Errorf("%w: no usable search strategy file for locus %s: %v", ErrConfig, name, err)
	}

	l := model.Locus{Name: name}
	for _, sec := range f.Sections() {
		switch sec.Name() {
		case ini.DefaultSection:
			continue
		case name:
			l.Database = sec.Key("database").MustString("nuccore")
			l.Query = sec.Key("query").String()
		default:
			l.Strategies = append(l.Strategies, model.Strategy{
				Name:                  sec.Name(),
				LocusRelativePosition: sec.Key("locus_relative_position").MustInt(0),
				FeatureType:           sec.Key("feature_type").String(),
				QualifierLabel:        sec.Key("qualifier_label").String(),
				QualifierValue:        sec.Key("qualifier_value").String(),
				Regex:                 sec.Key("regex").MustBool(false),
				StrictValueMatch:      sec.Key("strict_value_match").MustBool(false),
				MinLength:             sec.Key("min_length").MustInt(0),
				ExtraLength:           sec.Key("extra_length").MustInt(0),
			})
		}
	}
	return l, nil
}

func (c Config) Validate() error {
	if len(c.Loci) == 0 {
		return fmt.Errorf("%w: no loci configured", ErrConfig)
	}
	f := c.Flatten
	if f.IDBottom <= 0 || f.IDBottom > f.IDTop || f.IDTop > 1 {
		return fmt.Errorf("%w: identity range [%v, %v] is invalid", ErrConfig, f.IDBottom, f.IDTop)
	}
	if f.ConsensusThreshold <= 0 || f.ConsensusThreshold > 1 {
		return fmt.Errorf("%w: consensus threshold %v is invalid", ErrConfig, f.ConsensusThreshold)
	}
	for _, l := range c.Loci {
		for _, s := range l.Strategies {
			if s.FeatureType == "" {
				return fmt.Errorf("%w: locus %s strategy %s has no feature_type", ErrConfig, l.Name, s.Name)
			}
			if s.LocusRelativePosition < -1 || s.LocusRelativePosition > 1 {
				return fmt.Errorf("%w: locus %s strategy %s: locus_relative_position must be -1, 0 or 1", ErrConfig, l.Name, s.Name)
			}
		}
	}
	return nil
}

// applyEnv loads <project>/.env (when present) and lets PHYLOMAT_* variables
// override file settings.
func applyEnv(c *Config) {
	_ = godotenv.Load(filepath.Join(c.ProjectDir, ".env"))

	if v := os.Getenv("PHYLOMAT_EMAIL"); v != "" {
		c.Email = v
	}
	if v := os.Getenv("PHYLOMAT_MAFFT"); v != "" {
		c.Executables.Mafft = v
	}
	if v := os.Getenv("PHYLOMAT_VSEARCH"); v != "" {
		c.Executables.Vsearch = v
	}
	if v := os.Getenv("PHYLOMAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PHYLOMAT_S3_BUCKET"); v != "" {
		c.S3.Bucket = v
	}
	if v := os.Getenv("PHYLOMAT_S3_REGION"); v != "" {
		c.S3.Region = v
	}
	if v := os.Getenv("PHYLOMAT_S3_ENDPOINT"); v != "" {
		c.S3.Endpoint = v
	}
	if v := os.Getenv("PHYLOMAT_S3_PREFIX"); v != "" {
		c.S3.Prefix = v
	}
	if v := os.Getenv("PHYLOMAT_S3_PATH_STYLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.S3.PathStyle = b
		}
	}
}

func keyNames(f *ini.File, section string) []string {
	sec, err := f.GetSection(section)
	if err != nil {
		return nil
	}
	var names []string
	for _, k := range sec.Keys() {
		names = append(names, strings.TrimSpace(k.Name()))
	}
	return names
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NumericTaxIDs returns the terms that already are taxonomy ids.
func NumericTaxIDs(terms []string) []int64 {
	var out []int64
	for _, t := range terms {
		if id, err := strconv.ParseInt(t, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}
