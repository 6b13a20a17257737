package flatten

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/yumyai/phylomat/internal/config"
	"github.com/yumyai/phylomat/internal/util"
	"github.com/yumyai/phylomat/pkg/aligner"
	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/locus"
	"github.com/yumyai/phylomat/pkg/model"
	"github.com/yumyai/phylomat/pkg/plan"
	"github.com/yumyai/phylomat/pkg/seqio"
)

// fakeAligner pads rows on the right instead of aligning them.
type fakeAligner struct {
	score float64
	err   error
	calls []aligner.Request
}

func (f *fakeAligner) Align(_ context.Context, req aligner.Request) (model.Aligned, float64, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, 0, f.err
	}
	rows := append(model.Aligned{}, req.Existing...)
	for _, r := range req.Records {
		rows = append(rows, model.Sequence{ID: r.ID, Seq: strings.ToUpper(r.Seq)})
	}
	width := 0
	for _, r := range rows {
		width = max(width, len(r.Seq))
	}
	for i, r := range rows {
		rows[i].Seq = r.Seq + strings.Repeat("-", width-len(r.Seq))
	}
	return rows, f.score, nil
}

func (f *fakeAligner) Consensus(aln model.Aligned, threshold float64, resolve bool) string {
	return aligner.Consensus(aln, threshold, resolve)
}

func (f *fakeAligner) Dereplicate(_ context.Context, seqs []model.Sequence, _ aligner.DerepParams) ([]model.Sequence, error) {
	return seqs, nil
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *db.Store
	artifacts *db.ArtifactDir
	aligner   *fakeAligner
	engine    *Engine
	org       model.Organism
	locus     model.Locus
}

func newFixture(t *testing.T, opts config.FlattenOptions) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := db.Open(filepath.Join(dir, "db.sqlite3"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	artifacts, err := db.NewArtifactDir(filepath.Join(dir, "flatten"))
	if err != nil {
		t.Fatalf("NewArtifactDir: %v", err)
	}

	org := model.Organism{Genus: "Homo", Species: "sapiens", TaxIDs: []int64{9606}, Active: true}
	if _, err := store.AddOrganism(context.Background(), &org); err != nil {
		t.Fatalf("AddOrganism: %v", err)
	}

	if opts.IDBottom == 0 {
		opts.IDBottom, opts.IDTop = config.DefaultIDBottom, config.DefaultIDTop
	}
	if opts.ConsensusThreshold == 0 {
		opts.ConsensusThreshold = config.DefaultConsensusThreshold
	}
	fake := &fakeAligner{score: 0.99}
	return &fixture{
		t:         t,
		ctx:       context.Background(),
		store:     store,
		artifacts: artifacts,
		aligner:   fake,
		engine:    NewEngine(store, artifacts, fake, opts, nil),
		org:       org,
		locus: model.Locus{
			Name: "ITS",
			Strategies: []model.Strategy{
				{Name: "its", FeatureType: "misc_RNA", QualifierLabel: "product", QualifierValue: "internal transcribed spacer"},
			},
		},
	}
}

// dna returns a reproducible sequence of length n.
func dna(n int, seed uint64) string {
	r := rand.New(rand.NewPCG(seed, 7))
	b := make([]byte, n)
	for i := range b {
		b[i] = "ACGT"[r.IntN(4)]
	}
	return string(b)
}

// addRaw stores an active raw record whose locus region is the whole sequence.
func (f *fixture) addRaw(acc, seq string) model.Record {
	f.t.Helper()
	return f.addRecord(acc, seq, []model.Feature{{
		Type: "misc_RNA", Start: 0, End: len(seq), Strand: 1,
		Qualifiers: map[string][]string{"product": {"internal transcribed spacer 1"}},
	}})
}

func (f *fixture) addRecord(acc, seq string, features []model.Feature) model.Record {
	f.t.Helper()
	r := model.Record{
		Accession: acc, OrganismID: f.org.ID, Kind: model.RecordRaw, Active: true,
		Sequence: seq, Alphabet: model.AlphabetDNA,
		Annotations: map[string]string{model.AnnotationLocus: f.locus.Name},
		Features:    features,
	}
	if _, err := f.store.AddRecord(f.ctx, &r); err != nil {
		f.t.Fatalf("AddRecord %s: %v", acc, err)
	}
	return r
}

func (f *fixture) run() (plan.Plan, Result) {
	f.t.Helper()
	p, results, err := f.engine.FlattenLocus(f.ctx, f.locus, plan.New(plan.Autopilot...))
	if err != nil {
		f.t.Fatalf("FlattenLocus: %v", err)
	}
	if len(results) != 1 {
		f.t.Fatalf("got %d results, want 1", len(results))
	}
	return p, results[0]
}

func (f *fixture) flat() model.Record {
	f.t.Helper()
	flats, err := f.store.RecordsWithAnnotation(f.ctx, model.AnnotationLocusFlat, f.locus.Name, true, true)
	if err != nil {
		f.t.Fatal(err)
	}
	if len(flats) != 1 {
		f.t.Fatalf("got %d flat records, want 1", len(flats))
	}
	return flats[0]
}

func (f *fixture) ancestry(flatID int64) []int64 {
	f.t.Helper()
	ids, err := f.store.ParentRecordIDs(f.ctx, flatID)
	if err != nil {
		f.t.Fatal(err)
	}
	return sorted(ids)
}

func (f *fixture) sequencePath() string  { return f.artifacts.SequencePath(f.locus.Name, f.org.FlatName()) }
func (f *fixture) alignmentPath() string { return f.artifacts.AlignmentPath(f.locus.Name, f.org.FlatName()) }

func (f *fixture) deactivate(r model.Record) {
	f.t.Helper()
	if err := f.store.SetInactive(f.ctx, r.ID); err != nil {
		f.t.Fatal(err)
	}
}

func TestFlattenTwoRecordsBuildsAlignment(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	base := dna(500, 1)
	rec1 := f.addRaw("MN000001.1", base)
	rec2 := f.addRaw("MN000002.1", base+"GG")

	_, res := f.run()
	if res.Change.Kind != NoPriorArtifact || res.Outcome != OutcomeCreated {
		t.Fatalf("got %s/%s, want %s/%s", res.Change.Kind, res.Outcome, NoPriorArtifact, OutcomeCreated)
	}

	flat := f.flat()
	if !strings.HasPrefix(flat.InternalReference, "ITS_") || len(flat.InternalReference) != len("ITS_")+8 {
		t.Errorf("unexpected internal reference %q", flat.InternalReference)
	}
	if n := len(flat.Sequence); n < 500 || n > 502 {
		t.Errorf("consensus length = %d, want 500..502", n)
	}
	if got, want := f.ancestry(flat.ID), []int64{rec1.ID, rec2.ID}; !reflect.DeepEqual(got, want) {
		t.Errorf("ancestry = %v, want %v", got, want)
	}

	aln, err := f.store.AlignmentForRecord(f.ctx, flat.ID)
	if err != nil {
		t.Fatalf("AlignmentForRecord: %v", err)
	}
	rows, err := f.store.AlignmentRows(f.ctx, aln.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d alignment rows, want 2", len(rows))
	}
	for _, r := range rows {
		if len(r.Row) != 502 {
			t.Errorf("row %s has width %d, want 502", r.Accession, len(r.Row))
		}
	}

	if !util.FileExists(f.alignmentPath()) {
		t.Error("alignment artifact missing")
	}
	if util.FileExists(f.sequencePath()) {
		t.Error("sequence artifact should not exist next to an alignment")
	}
	if !util.FileExists(f.artifacts.ReferencePath("ITS")) {
		t.Error("reference set missing")
	}
}

func TestFlattenIsIdempotent(t *testing.T) {
	tests := []struct {
		name string
		seqs []string
	}{
		{"Single", []string{dna(300, 2)}},
		{"Aligned", []string{dna(300, 3), dna(310, 4), dna(290, 5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, config.FlattenOptions{})
			for i, s := range tt.seqs {
				f.addRaw("AB00000"+string(rune('1'+i))+".1", s)
			}
			f.run()
			first := f.flat()
			calls := len(f.aligner.calls)

			artifact, err := f.artifacts.Probe(f.locus.Name, f.org.FlatName())
			if err != nil {
				t.Fatal(err)
			}
			before, err := os.ReadFile(artifact.Path)
			if err != nil {
				t.Fatal(err)
			}
			stat, err := os.Stat(artifact.Path)
			if err != nil {
				t.Fatal(err)
			}

			_, res := f.run()
			if res.Change.Kind != Current || res.Outcome != OutcomeCurrent {
				t.Fatalf("second run got %s/%s, want current", res.Change.Kind, res.Outcome)
			}
			if len(f.aligner.calls) != calls {
				t.Error("second run should not align")
			}
			second := f.flat()
			if second.SequenceID != first.SequenceID || second.Sequence != first.Sequence {
				t.Error("flat sequence was rewritten")
			}
			after, err := os.ReadFile(artifact.Path)
			if err != nil {
				t.Fatal(err)
			}
			stat2, err := os.Stat(artifact.Path)
			if err != nil {
				t.Fatal(err)
			}
			if string(before) != string(after) || !stat.ModTime().Equal(stat2.ModTime()) {
				t.Error("artifact was rewritten")
			}
		})
	}
}

func TestFlattenDeletion(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	a := f.addRaw("A0001.1", dna(200, 10))
	b := f.addRaw("A0002.1", dna(205, 11))
	c := f.addRaw("A0003.1", dna(210, 12))
	f.run()

	f.deactivate(b)
	_, res := f.run()
	if res.Change.Kind != StaleDeletions || !reflect.DeepEqual(res.Change.Deleted, []int64{b.ID}) {
		t.Fatalf("change = %+v, want stale_deletions of %d", res.Change, b.ID)
	}
	flat := f.flat()
	if got, want := f.ancestry(flat.ID), []int64{a.ID, c.ID}; !reflect.DeepEqual(got, want) {
		t.Errorf("ancestry = %v, want %v", got, want)
	}
	last := f.aligner.calls[len(f.aligner.calls)-1]
	if last.Existing != nil || len(last.Records) != 2 {
		t.Errorf("deletion should realign the two survivors from scratch, got %d existing and %d records",
			len(last.Existing), len(last.Records))
	}
	artifact, err := f.artifacts.Probe(f.locus.Name, f.org.FlatName())
	if err != nil {
		t.Fatal(err)
	}
	if got := artifact.IDs(); !reflect.DeepEqual(got, []string{"A0001.1", "A0003.1"}) {
		t.Errorf("artifact ids = %v", got)
	}

	// b was already inactive, so it is not blacklisted by flattening.
	if ok, err := f.store.IsBlacklisted(f.ctx, b.Accession); err != nil || ok {
		t.Errorf("IsBlacklisted(%s) = %v, %v", b.Accession, ok, err)
	}
}

func TestFlattenBlacklistedRecordFallsBackToSingle(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	base := dna(500, 20)
	rec1 := f.addRaw("MN000001.1", base)
	rec2 := f.addRaw("MN000002.1", base+"GG")
	f.run()
	flatID := f.flat().ID

	if _, err := Blacklist(f.ctx, f.store, rec2.Accession, nil); err != nil {
		t.Fatal(err)
	}

	_, res := f.run()
	if res.Change.Kind != StaleDeletions {
		t.Fatalf("kind = %s, want %s", res.Change.Kind, StaleDeletions)
	}
	flat := f.flat()
	if flat.ID != flatID {
		t.Errorf("flat record was replaced: %d -> %d", flatID, flat.ID)
	}
	if got := f.ancestry(flat.ID); !reflect.DeepEqual(got, []int64{rec1.ID}) {
		t.Errorf("ancestry = %v, want [%d]", got, rec1.ID)
	}
	if flat.Sequence != base {
		t.Error("flat sequence should equal the trimmed sequence of the survivor")
	}
	if _, err := f.store.AlignmentForRecord(f.ctx, flat.ID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("alignment should be removed, got %v", err)
	}
	if util.FileExists(f.alignmentPath()) || !util.FileExists(f.sequencePath()) {
		t.Error("expected a sequence artifact only")
	}
}

func TestFlattenWhitelistRestoresRecord(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	base := dna(300, 21)
	rec1 := f.addRaw("MN000001.1", base)
	rec2 := f.addRaw("MN000002.1", base+"TT")
	f.run()

	if _, err := Blacklist(f.ctx, f.store, rec2.Accession, nil); err != nil {
		t.Fatal(err)
	}
	f.run()
	if util.FileExists(f.alignmentPath()) {
		t.Fatal("single survivor should leave a sequence artifact only")
	}

	if _, err := Whitelist(f.ctx, f.store, f.artifacts, rec2.Accession); err != nil {
		t.Fatal(err)
	}
	if util.FileExists(f.sequencePath()) {
		t.Error("whitelist should drop the stale artifact")
	}

	_, res := f.run()
	if res.Outcome != OutcomeUpdated || len(res.Change.Deleted) != 0 {
		t.Fatalf("got %s, change %+v", res.Outcome, res.Change)
	}
	got, err := f.store.GetRecord(f.ctx, rec2.ID)
	if err != nil {
		t.Fatal(err)
	}
	listed, err := f.store.IsBlacklisted(f.ctx, rec2.Accession)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Active || listed {
		t.Errorf("active = %v, blacklisted = %v after whitelist", got.Active, listed)
	}
	if ids := f.ancestry(f.flat().ID); !reflect.DeepEqual(ids, sorted([]int64{rec1.ID, rec2.ID})) {
		t.Errorf("ancestry = %v, want both records", ids)
	}
	if !util.FileExists(f.alignmentPath()) {
		t.Error("alignment artifact should be rebuilt")
	}
	if _, res = f.run(); res.Change.Kind != Current {
		t.Errorf("kind = %s, want current", res.Change.Kind)
	}
}

func TestFlattenAddition(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	a := f.addRaw("A0001.1", dna(200, 30))
	b := f.addRaw("A0002.1", dna(200, 31))
	f.run()

	d := f.addRaw("A0004.1", dna(220, 32))
	_, res := f.run()
	if res.Change.Kind != StaleAdditions || !reflect.DeepEqual(res.Change.Added, []int64{d.ID}) {
		t.Fatalf("change = %+v, want stale_additions of %d", res.Change, d.ID)
	}
	flat := f.flat()
	if got, want := f.ancestry(flat.ID), []int64{a.ID, b.ID, d.ID}; !reflect.DeepEqual(got, want) {
		t.Errorf("ancestry = %v, want %v", got, want)
	}
	last := f.aligner.calls[len(f.aligner.calls)-1]
	if len(last.Existing) != 2 || len(last.Records) != 1 || last.Records[0].ID != d.Accession {
		t.Errorf("expected an incremental alignment adding %s, got %d existing and %d records",
			d.Accession, len(last.Existing), len(last.Records))
	}

	// An addition together with a deletion realigns from scratch.
	e := f.addRaw("A0005.1", dna(190, 33))
	f.deactivate(a)
	_, res = f.run()
	if res.Change.Kind != StaleDeletions {
		t.Fatalf("kind = %s, want %s", res.Change.Kind, StaleDeletions)
	}
	last = f.aligner.calls[len(f.aligner.calls)-1]
	if last.Existing != nil || len(last.Records) != 3 {
		t.Errorf("expected a full realignment of 3 records, got %d existing and %d records",
			len(last.Existing), len(last.Records))
	}
	if got, want := f.ancestry(flat.ID), []int64{b.ID, d.ID, e.ID}; !reflect.DeepEqual(got, want) {
		t.Errorf("ancestry = %v, want %v", got, want)
	}
}

func TestFlattenAdditionToSingle(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	f.addRaw("A0001.1", dna(200, 40))
	f.run()
	if !util.FileExists(f.sequencePath()) {
		t.Fatal("sequence artifact missing")
	}

	f.addRaw("A0002.1", dna(200, 41))
	_, res := f.run()
	if res.Change.Kind != StaleAdditions || res.Outcome != OutcomeUpdated {
		t.Fatalf("got %s/%s", res.Change.Kind, res.Outcome)
	}
	last := f.aligner.calls[len(f.aligner.calls)-1]
	if last.Existing != nil || len(last.Records) != 2 || last.Records[0].ID != "A0001.1" {
		t.Errorf("the previous single sequence should lead the records, got %+v", last.Records)
	}
	if util.FileExists(f.sequencePath()) || !util.FileExists(f.alignmentPath()) {
		t.Error("expected the sequence artifact to be replaced by an alignment")
	}
}

func TestFlattenAllRecordsRemoved(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	a := f.addRaw("A0001.1", dna(200, 50))
	b := f.addRaw("A0002.1", dna(200, 51))
	f.run()
	flatID := f.flat().ID

	f.deactivate(a)
	f.deactivate(b)
	_, res := f.run()
	if res.Outcome != OutcomeDeleted {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeDeleted)
	}
	if _, err := f.store.GetRecord(f.ctx, flatID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("flat record should be gone, got %v", err)
	}
	if util.FileExists(f.alignmentPath()) || util.FileExists(f.sequencePath()) {
		t.Error("artifacts should be removed")
	}
}

func TestFlattenLowConfidenceGatesPlan(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	f.aligner.score = 0.5
	f.addRaw("A0001.1", dna(200, 60))
	f.addRaw("A0002.1", dna(200, 61))

	p, res := f.run()
	if !res.LowConfidence || res.Outcome != OutcomeCreated {
		t.Fatalf("got low=%v outcome=%s", res.LowConfidence, res.Outcome)
	}
	if p.Enabled(plan.StageAlign) || p.Enabled(plan.StageConcatenate) {
		t.Errorf("plan %q should exclude align and concatenate", p)
	}
	if !p.Enabled(plan.StageSearch) || !p.Enabled(plan.StageFlatten) {
		t.Errorf("plan %q should keep the other stages", p)
	}
	f.flat()
}

func TestFlattenEmptyTrimIsBlacklisted(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	good := f.addRaw("A0001.1", dna(200, 70))
	bad := f.addRecord("A0002.1", dna(200, 71), []model.Feature{{Type: "gene", Start: 0, End: 200, Strand: 1}})

	_, res := f.run()
	if res.Outcome != OutcomeCreated {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	got, err := f.store.GetRecord(f.ctx, bad.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active {
		t.Error("record without a locus region should be inactive")
	}
	entries, err := f.store.Blacklist(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Accession != bad.Accession || entries[0].Notes != model.NoteNoLocus {
		t.Errorf("blacklist = %+v", entries)
	}
	if ids := f.ancestry(f.flat().ID); !reflect.DeepEqual(ids, []int64{good.ID}) {
		t.Errorf("ancestry = %v", ids)
	}
}

func TestFlattenNothingToTrimSkips(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	f.addRecord("A0001.1", dna(200, 80), nil)

	_, res := f.run()
	if res.Outcome != OutcomeSkipped || !errors.Is(res.Err, ErrEmptyTrimResult) {
		t.Fatalf("got %s, %v", res.Outcome, res.Err)
	}
	var pe *PairError
	if !errors.As(res.Err, &pe) || pe.Organism != "Homo sapiens" || pe.Locus != "ITS" {
		t.Errorf("unexpected pair error %v", res.Err)
	}

	// The record is blacklisted now, nothing is left to report.
	if _, res = f.run(); res.Outcome != OutcomeCurrent || res.Err != nil {
		t.Errorf("second run got %s, %v", res.Outcome, res.Err)
	}
}

func TestFlattenAllInactiveIsCurrent(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	f.deactivate(f.addRaw("A0001.1", dna(200, 81)))
	f.deactivate(f.addRaw("A0002.1", dna(200, 82)))

	_, res := f.run()
	if res.Outcome != OutcomeCurrent || res.Err != nil {
		t.Fatalf("got %s, %v", res.Outcome, res.Err)
	}
	if util.FileExists(f.sequencePath()) || util.FileExists(f.alignmentPath()) {
		t.Error("no artifact should be written")
	}
}

func TestFlattenAmbiguousFlatRecords(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	f.addRaw("A0001.1", dna(200, 90))
	for _, ref := range []string{"ITS_aaaaaaaa", "ITS_bbbbbbbb"} {
		r := model.Record{
			InternalReference: ref, OrganismID: f.org.ID, Kind: model.RecordFlat, Active: true,
			Sequence: "ACGT", Alphabet: model.AlphabetDNA,
			Annotations: map[string]string{model.AnnotationLocusFlat: f.locus.Name},
		}
		if _, err := f.store.AddRecord(f.ctx, &r); err != nil {
			t.Fatal(err)
		}
	}

	_, res := f.run()
	if res.Outcome != OutcomeSkipped || !errors.Is(res.Err, ErrAmbiguousFlatRecordState) {
		t.Fatalf("got %s, %v", res.Outcome, res.Err)
	}
	flats, err := f.store.RecordsWithAnnotation(f.ctx, model.AnnotationLocusFlat, f.locus.Name, true, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, fl := range flats {
		if fl.Sequence != "ACGT" {
			t.Errorf("flat record %s was modified", fl.InternalReference)
		}
	}
	if len(f.aligner.calls) != 0 || util.FileExists(f.sequencePath()) {
		t.Error("ambiguous pair should be left untouched")
	}
}

func TestFlattenContentMismatch(t *testing.T) {
	seq := dna(120, 100)
	edited := "TTTT" + seq[4:]

	tests := []struct {
		name  string
		adopt bool
		want  string
	}{
		{"Regenerate", false, seq},
		{"Adopt", true, edited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, config.FlattenOptions{AdoptEditedArtifacts: tt.adopt})
			f.addRaw("A0001.1", seq)
			f.run()

			data, err := seqio.FormatFasta([]model.Sequence{{ID: "A0001.1", Seq: edited}})
			if err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(f.sequencePath(), data, 0o644); err != nil {
				t.Fatal(err)
			}

			_, res := f.run()
			if res.Change.Kind != ContentMismatch || res.Outcome != OutcomeUpdated {
				t.Fatalf("got %s/%s", res.Change.Kind, res.Outcome)
			}
			if got := f.flat().Sequence; got != tt.want {
				t.Errorf("flat sequence starts %q, want %q", got[:8], tt.want[:8])
			}
			artifact, err := f.artifacts.Probe(f.locus.Name, f.org.FlatName())
			if err != nil {
				t.Fatal(err)
			}
			if !strings.EqualFold(artifact.Rows[0].Seq, tt.want) {
				t.Error("artifact and flat sequence disagree")
			}

			_, res = f.run()
			if res.Change.Kind != Current {
				t.Errorf("third run kind = %s, want current", res.Change.Kind)
			}
		})
	}
}

func TestFlattenAdoptedAlignmentIsGated(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{AdoptEditedArtifacts: true})
	f.addRaw("A0001.1", dna(200, 120))
	f.addRaw("A0002.1", dna(200, 120))
	if _, res := f.run(); res.LowConfidence {
		t.Fatal("identical rows should not need review")
	}

	edited := model.Aligned{{ID: "A0001.1", Seq: dna(200, 120)}, {ID: "A0002.1", Seq: dna(200, 121)}}
	data, err := seqio.FormatPhylip(edited)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.alignmentPath(), data, 0o644); err != nil {
		t.Fatal(err)
	}

	calls := len(f.aligner.calls)
	p, res := f.run()
	if res.Change.Kind != ContentMismatch || res.Outcome != OutcomeUpdated {
		t.Fatalf("got %s/%s", res.Change.Kind, res.Outcome)
	}
	if len(f.aligner.calls) != calls {
		t.Error("adopted alignment was realigned")
	}
	if !res.LowConfidence || res.Score >= config.DefaultIDBottom {
		t.Errorf("score %.2f should be flagged for review", res.Score)
	}
	if p.Enabled(plan.StageAlign) {
		t.Errorf("plan %q should exclude align", p)
	}
}

func TestFlattenLostArtifact(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	f.addRaw("A0001.1", dna(200, 110))
	f.addRaw("A0002.1", dna(201, 111))
	f.run()
	if err := os.Remove(f.alignmentPath()); err != nil {
		t.Fatal(err)
	}

	_, res := f.run()
	if res.Change.Kind != ContentMismatch || !res.Change.Redo {
		t.Fatalf("change = %+v", res.Change)
	}
	if !util.FileExists(f.alignmentPath()) {
		t.Error("alignment artifact should be regenerated")
	}
	if _, res = f.run(); res.Change.Kind != Current {
		t.Errorf("kind = %s, want current", res.Change.Kind)
	}
}

func TestFlattenAlignmentFailureLeavesPairUntouched(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	f.addRaw("A0001.1", dna(200, 120))
	f.addRaw("A0002.1", dna(200, 121))
	f.aligner.err = errors.New("mafft exploded")

	_, res := f.run()
	if res.Outcome != OutcomeSkipped || res.Err == nil {
		t.Fatalf("got %s, %v", res.Outcome, res.Err)
	}
	flats, err := f.store.RecordsWithAnnotation(f.ctx, model.AnnotationLocusFlat, f.locus.Name, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(flats) != 0 || util.FileExists(f.alignmentPath()) {
		t.Error("failed pair should leave no flat record or artifact")
	}
}

func TestReferenceSetStability(t *testing.T) {
	f := newFixture(t, config.FlattenOptions{})
	var raw []model.Record
	for i, n := range []int{100, 100, 100, 40} {
		raw = append(raw, f.addRaw("R000"+string(rune('1'+i))+".1", dna(n, uint64(200+i))))
	}
	trimmer, err := locus.NewTrimmer(f.locus)
	if err != nil {
		t.Fatal(err)
	}

	refs, err := f.engine.refs.BuildOrLoad(f.ctx, trimmer, raw)
	if err != nil {
		t.Fatalf("BuildOrLoad: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("got %d references, want 3 after the length cutoff", len(refs))
	}
	path := f.artifacts.ReferencePath(f.locus.Name)
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// More records do not change an existing reference set.
	raw = append(raw, f.addRaw("R0009.1", dna(100, 299)))
	again, err := f.engine.refs.BuildOrLoad(f.ctx, trimmer, raw)
	if err != nil {
		t.Fatal(err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("reference file changed")
	}
	if len(again) != len(refs) {
		t.Errorf("got %d references on reload, want %d", len(again), len(refs))
	}
	for i := range refs {
		if !strings.EqualFold(refs[i].Seq, again[i].Seq) || refs[i].ID != again[i].ID {
			t.Errorf("reference %d differs after reload", i)
		}
	}
}

func TestLengthCutoff(t *testing.T) {
	seqs := []model.Sequence{{Seq: strings.Repeat("A", 100)}, {Seq: strings.Repeat("A", 100)}, {Seq: strings.Repeat("A", 100)}, {Seq: strings.Repeat("A", 40)}}
	got := lengthCutoff(seqs)
	// mean 85, median 100, population sd ~25.98
	if got < 71.9 || got > 72.1 {
		t.Errorf("lengthCutoff = %f, want ~72.0", got)
	}
}
