package supermatrix

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/yumyai/phylomat/internal/config"
	"github.com/yumyai/phylomat/pkg/aligner"
	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/model"
	"github.com/yumyai/phylomat/pkg/plan"
	"github.com/yumyai/phylomat/pkg/seqio"
)

var (
	human = model.Organism{
		Genus: "Homo", Species: "sapiens", CommonName: "human", TaxIDs: []int64{9606},
		Lineage: []model.LineageNode{{TaxID: 9604, Name: "Hominidae", Rank: "family"}, {TaxID: 9605, Name: "Homo", Rank: "genus"}},
	}
	mouse = model.Organism{
		Genus: "Mus", Species: "musculus", CommonName: "house mouse", TaxIDs: []int64{10090},
		Lineage: []model.LineageNode{{TaxID: 10066, Name: "Muridae", Rank: "family"}, {TaxID: 10088, Name: "Mus", Rank: "genus"}},
	}
	dog = model.Organism{
		Genus: "Canis", Species: "lupus", Subspecies: "familiaris", CommonName: "dog, domestic", TaxIDs: []int64{9615},
		Lineage: []model.LineageNode{{TaxID: 9608, Name: "Canidae", Rank: "family"}},
	}
)

func TestLabel(t *testing.T) {
	tests := []struct {
		name     string
		terms    []string
		outgroup []string
		org      model.Organism
		want     string
	}{
		{"Scientific", []string{"scientific"}, nil, human, "Homo_sapiens"},
		{"DefaultTerm", nil, nil, human, "Homo_sapiens"},
		{"CommonAndRank", []string{"scientific", "common", "family"}, nil, mouse, "Mus_musculus||house_mouse||Muridae"},
		{"CommonWithComma", []string{"common"}, nil, dog, "dog|domestic"},
		{"Subspecies", []string{"scientific"}, nil, dog, "Canis_lupus_subsp._familiaris"},
		{"UnknownTermLiteral", []string{"clade"}, nil, human, "clade"},
		{"OutgroupByTaxID", []string{"scientific"}, []string{"9615"}, dog, "Canis_lupus_subsp._familiaris||OUTGROUP"},
		{"OutgroupByLineageTaxID", []string{"scientific"}, []string{"10066"}, mouse, "Mus_musculus||OUTGROUP"},
		{"OutgroupByName", []string{"scientific"}, []string{"Canidae"}, dog, "Canis_lupus_subsp._familiaris||OUTGROUP"},
		{"NotOutgroup", []string{"scientific"}, []string{"10066"}, human, "Homo_sapiens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewLabeler(tt.terms, tt.outgroup).Label(tt.org)
			if got != tt.want {
				t.Errorf("Label = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	its := model.Aligned{{ID: "a", Seq: "ACG"}, {ID: "b", Seq: "A-G"}}
	rbcl := model.Aligned{{ID: "b", Seq: "TTTT"}, {ID: "c", Seq: "TT-T"}}

	m, err := Join([]string{"ITS", "rbcL"}, []model.Aligned{its, rbcl})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	want := model.Aligned{
		{ID: "a", Seq: "ACG----"},
		{ID: "b", Seq: "A-GTTTT"},
		{ID: "c", Seq: "---TT-T"},
	}
	if !reflect.DeepEqual(m.Rows, want) {
		t.Errorf("Rows = %v, want %v", m.Rows, want)
	}
	wantParts := []Partition{{"ITS", 1, 3}, {"rbcL", 4, 7}}
	if !reflect.DeepEqual(m.Partitions, wantParts) {
		t.Errorf("Partitions = %v, want %v", m.Partitions, wantParts)
	}
	if !reflect.DeepEqual(m.Presence["b"], []bool{true, true}) || !reflect.DeepEqual(m.Presence["c"], []bool{false, true}) {
		t.Errorf("Presence = %v", m.Presence)
	}

	if _, err := Join([]string{"ITS"}, []model.Aligned{{{ID: "a", Seq: "AC"}, {ID: "b", Seq: "A"}}}); err == nil {
		t.Error("expected an error for ragged rows")
	}
}

// padAligner pads rows on the right instead of aligning them.
type padAligner struct {
	requests []aligner.Request
}

func (p *padAligner) Align(_ context.Context, req aligner.Request) (model.Aligned, float64, error) {
	p.requests = append(p.requests, req)
	width := 0
	for _, r := range req.Records {
		width = max(width, len(r.Seq))
	}
	out := make(model.Aligned, 0, len(req.Records))
	for _, r := range req.Records {
		out = append(out, model.Sequence{ID: r.ID, Seq: strings.ToUpper(r.Seq) + strings.Repeat("-", width-len(r.Seq))})
	}
	return out, 1, nil
}

func (p *padAligner) Consensus(aln model.Aligned, threshold float64, resolve bool) string {
	return aligner.Consensus(aln, threshold, resolve)
}

func (p *padAligner) Dereplicate(_ context.Context, seqs []model.Sequence, _ aligner.DerepParams) ([]model.Sequence, error) {
	return seqs, nil
}

func setupBuilder(t *testing.T) (*Builder, *db.Store, *padAligner) {
	t.Helper()
	dir := t.TempDir()
	store, err := db.Open(filepath.Join(dir, "db.sqlite3"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Config{
		ProjectDir:   dir,
		Align:        config.AlignOptions{AlignOptions: []string{"--auto"}, TaxonName: []string{"scientific"}},
		OutgroupTaxa: []string{"10090"},
		Loci:         []model.Locus{{Name: "ITS"}, {Name: "rbcL"}},
	}
	fake := &padAligner{}
	b := NewBuilder(store, fake, cfg)
	b.seed = func() int { return 42 }
	return b, store, fake
}

func addFlat(t *testing.T, store *db.Store, org *model.Organism, locus, seq string) {
	t.Helper()
	ctx := context.Background()
	if org.ID == 0 {
		if _, err := store.AddOrganism(ctx, org); err != nil {
			t.Fatalf("AddOrganism: %v", err)
		}
	}
	r := model.Record{
		InternalReference: locus + "_" + org.Genus, OrganismID: org.ID, Kind: model.RecordFlat, Active: true,
		Sequence: seq, Alphabet: model.AlphabetDNA,
		Annotations: map[string]string{model.AnnotationLocusFlat: locus},
	}
	if _, err := store.AddRecord(ctx, &r); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
}

func TestBuilderRun(t *testing.T) {
	b, store, fake := setupBuilder(t)
	h, m := human, mouse
	addFlat(t, store, &h, "ITS", "ACGTA")
	addFlat(t, store, &m, "ITS", "ACGT")
	addFlat(t, store, &h, "rbcL", "TTTGGG")

	if err := b.Run(context.Background(), plan.New(plan.StageAlign, plan.StageConcatenate)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fake.requests) != 2 {
		t.Fatalf("got %d alignment requests, want 2", len(fake.requests))
	}
	if !reflect.DeepEqual(fake.requests[0].Options, []string{"--auto"}) {
		t.Errorf("options = %v", fake.requests[0].Options)
	}

	its, err := seqio.ReadPhylipFile(b.AlignmentPath("ITS"))
	if err != nil {
		t.Fatal(err)
	}
	if got := its.IDs(); !reflect.DeepEqual(got, []string{"Homo_sapiens", "Mus_musculus||OUTGROUP"}) {
		t.Errorf("ITS labels = %v", got)
	}

	concatenated, err := seqio.ReadPhylipFile(filepath.Join(b.dir, ConcatenatedFile))
	if err != nil {
		t.Fatal(err)
	}
	want := model.Aligned{
		{ID: "Homo_sapiens", Seq: "ACGTATTTGGG"},
		{ID: "Mus_musculus||OUTGROUP", Seq: "ACGT-------"},
	}
	if !reflect.DeepEqual(concatenated, want) {
		t.Errorf("concatenated = %v, want %v", concatenated, want)
	}

	files := map[string]string{
		PresenceFile:        "taxon,count,ITS,rbcL\nHomo_sapiens,2,1,1\nMus_musculus||OUTGROUP,1,1,0\n",
		PartitionsFile:      "locus,start,end\nITS,1,5\nrbcL,6,11\n",
		RaxmlPartitionsFile: "DNA, ITS = 1-5\nDNA, rbcL = 6-11\n",
	}
	for name, want := range files {
		data, err := os.ReadFile(filepath.Join(b.dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != want {
			t.Errorf("%s =\n%s\nwant\n%s", name, data, want)
		}
	}

	commands, err := os.ReadFile(filepath.Join(b.dir, RaxmlCommandsFile))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"-s " + filepath.Join(b.dir, ConcatenatedFile),
		`-o "Mus_musculus||OUTGROUP"`,
		"-w " + filepath.Join(b.dir, "RAxML_42"),
		"-m GTRCAT",
		"-p 42",
		"-n 42",
	} {
		if !strings.Contains(string(commands), want) {
			t.Errorf("raxml commands lack %q", want)
		}
	}
}

func TestBuilderRunRespectsPlan(t *testing.T) {
	b, store, fake := setupBuilder(t)
	h := human
	addFlat(t, store, &h, "ITS", "ACGT")

	p := plan.New(plan.Autopilot...).Disable(plan.StageAlign, plan.StageConcatenate)
	if err := b.Run(context.Background(), p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fake.requests) != 0 {
		t.Error("disabled stages should not align")
	}
	if _, err := os.Stat(filepath.Join(b.dir, ConcatenatedFile)); !os.IsNotExist(err) {
		t.Error("disabled stages should not write a supermatrix")
	}
}

func TestConcatenateWithoutAlignments(t *testing.T) {
	b, _, _ := setupBuilder(t)
	if _, err := b.Concatenate(context.Background()); !errors.Is(err, ErrNoAlignments) {
		t.Errorf("got %v, want ErrNoAlignments", err)
	}
}

func TestAlignLocusRemovesStaleFile(t *testing.T) {
	b, _, _ := setupBuilder(t)
	path := b.AlignmentPath("ITS")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(" 1 2\nx  AC\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	aln, err := b.AlignLocus(context.Background(), "ITS")
	if err != nil || aln != nil {
		t.Fatalf("AlignLocus = %v, %v", aln, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale alignment should be removed")
	}
}
