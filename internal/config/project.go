package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/yumyai/phylomat/internal/util"
)

const projectTemplate = `[General]
email =
max_seq_length = 5000
log_level = info
mafft_executable = mafft
vsearch_executable = vsearch

[Flatten]
align_program_options = --auto
resolve_ambiguities = true
identity_bottom = 0.80
identity_top = 0.95
consensus_threshold = 0.4
adopt_edited_artifacts = false

[Align]
align_program_options = --auto
; scientific, common, a rank name such as family, or literal text
taxon_name = scientific

[Storage]
s3_bucket =
s3_region = us-east-1
s3_endpoint =
s3_prefix =
s3_path_style = false

; One locus per line, each with a file in search_strategies/.
[Loci]
ITS

; Taxonomy ids or scientific names.
[Main Taxa]

[Outgroup Taxa]

[Excluded Taxa]
`

const itsStrategyTemplate = `[ITS]
database = nuccore
query = ITS1[All Fields] OR "internal transcribed spacer"[All Fields]

[its_misc_rna]
locus_relative_position = 0
feature_type = misc_RNA
qualifier_label = product
qualifier_value = internal transcribed spacer
min_length = 100
`

// InitProject lays out a new project directory. Existing files are left
// alone, so running it twice is harmless.
func InitProject(dir string) (Config, error) {
	cfg := Config{ProjectDir: dir}
	for _, d := range []string{dir, cfg.StrategiesDir(), cfg.FlattenDir(), cfg.AlignDir(), cfg.TempDir(), cfg.DownloadDir()} {
		if err := util.PrepareDir(d); err != nil {
			return cfg, fmt.Errorf("create %s: %w", d, err)
		}
	}
	files := map[string]string{
		cfg.ConfigPath():                          projectTemplate,
		filepath.Join(cfg.StrategiesDir(), "ITS"): itsStrategyTemplate,
	}
	for path, body := range files {
		if util.FileExists(path) {
			continue
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}
