package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const projectConfig = `[General]
email = someone@example.org
max_seq_length = 5000

[Flatten]
identity_bottom = 0.75
align_timeout = 2m
adopt_edited_artifacts

[Align]
taxon_name = scientific, family

[Loci]
ITS
rbcL

[Outgroup Taxa]
9598
Pan

[Main Taxa]
9604
`

const itsStrategies = `[ITS]
database = nuccore
query = ITS1[All Fields]

[its_misc]
locus_relative_position = 0
feature_type = misc_RNA
qualifier_label = product
qualifier_value = internal transcribed spacer
min_length = 100
`

func writeProject(t *testing.T, config string, loci map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config"), []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "search_strategies"), 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range loci {
		if err := os.WriteFile(filepath.Join(dir, "search_strategies", name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func isolateUserConfig(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	for _, k := range []string{"PHYLOMAT_EMAIL", "PHYLOMAT_MAFFT", "PHYLOMAT_VSEARCH", "PHYLOMAT_LOG_LEVEL", "PHYLOMAT_S3_BUCKET"} {
		t.Setenv(k, "")
	}
	return home
}

func TestLoad(t *testing.T) {
	isolateUserConfig(t)
	dir := writeProject(t, projectConfig, map[string]string{
		"ITS":  itsStrategies,
		"rbcL": "[rbcL]\nquery = rbcL\n",
	})

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Email != "someone@example.org" || cfg.MaxSeqLength != 5000 {
		t.Errorf("general section not read: %+v", cfg)
	}
	if cfg.Flatten.IDBottom != 0.75 || cfg.Flatten.IDTop != DefaultIDTop {
		t.Errorf("identity range = [%v, %v]", cfg.Flatten.IDBottom, cfg.Flatten.IDTop)
	}
	if !cfg.Flatten.AdoptEditedArtifacts {
		t.Error("boolean key adopt_edited_artifacts should be true")
	}
	if cfg.Flatten.Timeout != 2*time.Minute {
		t.Errorf("timeout = %v", cfg.Flatten.Timeout)
	}
	if got := cfg.Align.TaxonName; len(got) != 2 || got[1] != "family" {
		t.Errorf("taxon_name = %v", got)
	}
	if len(cfg.Loci) != 2 || cfg.Loci[0].Name != "ITS" || cfg.Loci[1].Name != "rbcL" {
		t.Fatalf("loci = %+v", cfg.Loci)
	}
	its := cfg.Loci[0]
	if its.Query != "ITS1[All Fields]" || len(its.Strategies) != 1 || its.Strategies[0].MinLength != 100 {
		t.Errorf("ITS locus = %+v", its)
	}
	if cfg.Loci[1].Database != "nuccore" {
		t.Errorf("default database = %q", cfg.Loci[1].Database)
	}
	if ids := NumericTaxIDs(cfg.OutgroupTaxa); len(ids) != 1 || ids[0] != 9598 {
		t.Errorf("outgroup ids = %v", ids)
	}
	if cfg.Executables.Mafft != "mafft" {
		t.Errorf("mafft = %q", cfg.Executables.Mafft)
	}
}

func TestLoadUserDefaultsAndEnv(t *testing.T) {
	home := isolateUserConfig(t)
	if err := os.MkdirAll(filepath.Join(home, "phylomat"), 0o755); err != nil {
		t.Fatal(err)
	}
	defaults := "[General]\nemail = default@example.org\nmafft_executable = /opt/mafft\n"
	if err := os.WriteFile(filepath.Join(home, "phylomat", "config"), []byte(defaults), 0o644); err != nil {
		t.Fatal(err)
	}

	dir := writeProject(t, "[Loci]\nITS\n", map[string]string{"ITS": itsStrategies})
	t.Setenv("PHYLOMAT_VSEARCH", "/usr/local/bin/vsearch")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Email != "default@example.org" {
		t.Errorf("email = %q, want user default", cfg.Email)
	}
	if cfg.Executables.Mafft != "/opt/mafft" {
		t.Errorf("mafft = %q", cfg.Executables.Mafft)
	}
	if cfg.Executables.Vsearch != "/usr/local/bin/vsearch" {
		t.Errorf("vsearch = %q, want env override", cfg.Executables.Vsearch)
	}
}

func TestLoadErrors(t *testing.T) {
	isolateUserConfig(t)

	tests := []struct {
		name   string
		config string
		loci   map[string]string
	}{
		{"NoLoci", "[General]\nemail = a@b.c\n", nil},
		{"MissingStrategyFile", "[Loci]\nITS\n", nil},
		{"BadRange", "[Flatten]\nidentity_bottom = 0.99\n[Loci]\nITS\n", map[string]string{"ITS": itsStrategies}},
		{"BadPosition", "[Loci]\nITS\n", map[string]string{"ITS": "[ITS]\n[s]\nfeature_type = gene\nlocus_relative_position = 2\n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeProject(t, tt.config, tt.loci)
			if _, err := Load(dir); !errors.Is(err, ErrConfig) {
				t.Fatalf("Load error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestLoadMissingProject(t *testing.T) {
	isolateUserConfig(t)
	if _, err := Load(t.TempDir()); !errors.Is(err, ErrConfig) {
		t.Fatalf("Load error = %v, want ErrConfig", err)
	}
}

func TestInitProject(t *testing.T) {
	isolateUserConfig(t)
	dir := filepath.Join(t.TempDir(), "prj")

	if _, err := InitProject(dir); err != nil {
		t.Fatalf("InitProject: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load after init: %v", err)
	}
	its, ok := cfg.Locus("ITS")
	if !ok || len(its.Strategies) != 1 || its.Strategies[0].FeatureType != "misc_RNA" {
		t.Errorf("ITS locus = %+v", its)
	}
	if cfg.Flatten.IDBottom != DefaultIDBottom || cfg.S3.Bucket != "" {
		t.Errorf("config = %+v", cfg)
	}

	// A second init keeps user edits.
	custom := []byte("[General]\nemail = me@example.org\n[Loci]\nITS\n")
	if err := os.WriteFile(cfg.ConfigPath(), custom, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := InitProject(dir); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(cfg.ConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(custom) {
		t.Errorf("config overwritten:\n%s", got)
	}
}
