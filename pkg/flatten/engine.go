// Package flatten collapses the raw records of one organism at one locus into
// a single flat record, keeping ancestry, alignments and on-disk artifacts
// coherent across runs.
package flatten

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yumyai/phylomat/internal/config"
	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/aligner"
	"github.com/yumyai/phylomat/pkg/db"
	"github.com/yumyai/phylomat/pkg/locus"
	"github.com/yumyai/phylomat/pkg/metrics"
	"github.com/yumyai/phylomat/pkg/model"
	"github.com/yumyai/phylomat/pkg/plan"
	"github.com/yumyai/phylomat/pkg/seqrep"
)

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeDeleted Outcome = "deleted"
	OutcomeCurrent Outcome = "current"
	OutcomeSkipped Outcome = "skipped"
)

// Result reports what happened to one pair.
type Result struct {
	Organism      string
	Locus         string
	Change        Change
	Outcome       Outcome
	FlatID        int64
	Score         float64
	LowConfidence bool
	// Err is set when the pair was skipped.
	Err error
}

type Engine struct {
	store     *db.Store
	artifacts *db.ArtifactDir
	aligner   aligner.Service
	refs      *ReferenceBuilder
	opts      config.FlattenOptions
	metrics   *metrics.Recorder

	newReference func(locus string) string
}

func NewEngine(store *db.Store, artifacts *db.ArtifactDir, svc aligner.Service, opts config.FlattenOptions, rec *metrics.Recorder) *Engine {
	return &Engine{
		store:     store,
		artifacts: artifacts,
		aligner:   svc,
		refs:      NewReferenceBuilder(artifacts, svc),
		opts:      opts,
		metrics:   rec,
		newReference: func(locus string) string {
			return locus + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		},
	}
}

// FlattenLocus processes every organism with raw or flat records at l. The
// returned plan has align and concatenate disabled when any alignment scored
// below the accepted identity range. Only store failures are returned as
// errors; pair failures are reported in the results.
func (e *Engine) FlattenLocus(ctx context.Context, l model.Locus, p plan.Plan) (plan.Plan, []Result, error) {
	trimmer, err := locus.NewTrimmer(l)
	if err != nil {
		return p, nil, err
	}

	raw, err := e.store.RecordsWithAnnotation(ctx, model.AnnotationLocus, l.Name, true, true)
	if err != nil {
		return p, nil, fmt.Errorf("load raw records of %s: %w", l.Name, err)
	}
	flats, err := e.store.RecordsWithAnnotation(ctx, model.AnnotationLocusFlat, l.Name, true, true)
	if err != nil {
		return p, nil, fmt.Errorf("load flat records of %s: %w", l.Name, err)
	}

	var activeRaw []model.Record
	byOrganism := map[int64][]model.Record{}
	flatsByOrganism := map[int64][]model.Record{}
	for _, r := range raw {
		if r.Kind != model.RecordRaw {
			continue
		}
		byOrganism[r.OrganismID] = append(byOrganism[r.OrganismID], r)
		if r.Active {
			activeRaw = append(activeRaw, r)
		}
	}
	for _, f := range flats {
		if f.Kind == model.RecordFlat {
			flatsByOrganism[f.OrganismID] = append(flatsByOrganism[f.OrganismID], f)
		}
	}

	refs, err := e.refs.BuildOrLoad(ctx, trimmer, activeRaw)
	if err != nil {
		logger.Warn("reference set unavailable, aligning without references",
			zap.String("locus", l.Name), zap.Error(err))
		refs = nil
	}

	organismIDs := make([]int64, 0, len(byOrganism))
	for id := range byOrganism {
		organismIDs = append(organismIDs, id)
	}
	for id := range flatsByOrganism {
		if _, ok := byOrganism[id]; !ok {
			organismIDs = append(organismIDs, id)
		}
	}
	sort.Slice(organismIDs, func(i, j int) bool { return organismIDs[i] < organismIDs[j] })

	var results []Result
	for _, orgID := range organismIDs {
		if err := ctx.Err(); err != nil {
			return p, results, err
		}
		org, err := e.store.GetOrganism(ctx, orgID)
		if err != nil {
			return p, results, fmt.Errorf("load organism %d: %w", orgID, err)
		}

		res, err := e.Flatten(ctx, org, trimmer, byOrganism[orgID], flatsByOrganism[orgID], refs)
		if err != nil {
			return p, results, err
		}
		e.metrics.Pair(l.Name, string(res.Outcome))
		if res.LowConfidence {
			p = p.Disable(plan.StageAlign, plan.StageConcatenate)
		}
		results = append(results, res)
	}
	return p, results, nil
}

// pair is the working state of one Flatten call.
type pair struct {
	org     model.Organism
	name    string
	locus   string
	records map[int64]model.Record
	trimmed map[int64]string
	working []int64
	flat    *model.Record
}

// Flatten brings the flat record of org at the trimmer's locus up to date.
// records are the organism's raw records at the locus, inactive ones
// included; flats are its flat records.
func (e *Engine) Flatten(ctx context.Context, org model.Organism, trimmer *locus.Trimmer, records, flats []model.Record, refs []model.Sequence) (Result, error) {
	pr := &pair{
		org:     org,
		name:    org.FlatName(),
		locus:   trimmer.Locus().Name,
		records: map[int64]model.Record{},
		trimmed: map[int64]string{},
	}
	res := Result{Organism: pr.name, Locus: pr.locus}

	if len(flats) > 1 {
		res.Outcome = OutcomeSkipped
		res.Err = &PairError{Organism: pr.name, Locus: pr.locus, Err: ErrAmbiguousFlatRecordState}
		logger.Error("skipping pair", zap.Error(res.Err), zap.Int("flat_records", len(flats)))
		return res, nil
	}
	if len(flats) == 1 {
		f := flats[0]
		pr.flat = &f
		res.FlatID = f.ID
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback() }()
	pending := e.artifacts.NewPending()
	defer pending.Discard()

	accessions := map[string]int64{}
	candidates := 0
	for _, r := range records {
		pr.records[r.ID] = r
		accessions[r.Label()] = r.ID
		if !r.Active {
			continue
		}
		candidates++
		region := trimmer.Trim(&r)
		if region.Empty() {
			if err := e.inactivate(ctx, tx, r, model.NoteNoLocus); err != nil {
				return res, err
			}
			r.Active = false
			pr.records[r.ID] = r
			continue
		}
		pr.trimmed[r.ID] = region.Seq
		pr.working = append(pr.working, r.ID)
	}
	sort.Slice(pr.working, func(i, j int) bool { return pr.working[i] < pr.working[j] })

	// Nothing was ever flattened and nothing is left to try.
	if pr.flat == nil && candidates == 0 {
		res.Change = Change{Kind: Current}
		res.Outcome = OutcomeCurrent
		return res, tx.Commit()
	}

	in := DetectInput{Active: pr.working, Flat: pr.flat, Accessions: accessions}
	if pr.flat != nil {
		if in.Ancestry, err = tx.ParentRecordIDs(ctx, pr.flat.ID); err != nil {
			return res, err
		}
		if in.Artifact, err = e.artifacts.Probe(pr.locus, pr.name); err != nil {
			// An unreadable artifact is treated as lost.
			logger.Warn("unreadable artifact", zap.String("organism", pr.name), zap.String("locus", pr.locus), zap.Error(err))
			in.Artifact = db.Artifact{State: db.ArtifactNone}
		}
		aln, err := tx.AlignmentForRecord(ctx, pr.flat.ID)
		switch {
		case err == nil:
			if in.StoredRows, err = tx.AlignmentRows(ctx, aln.ID); err != nil {
				return res, err
			}
		case !errors.Is(err, db.ErrNotFound):
			return res, err
		}
	}

	change := Detect(in)
	res.Change = change

	if change.Kind == Current {
		res.Outcome = OutcomeCurrent
		return res, tx.Commit()
	}

	logger.Info("flattening",
		zap.String("organism", pr.name),
		zap.String("locus", pr.locus),
		zap.String("change", string(change.Kind)),
		zap.Int64s("added", change.Added),
		zap.Int64s("deleted", change.Deleted))

	for _, id := range change.Deleted {
		r, ok := pr.records[id]
		if ok && r.Active {
			if err := e.inactivate(ctx, tx, r, model.NoteUserDeleted); err != nil {
				return res, err
			}
		}
		if err := tx.DeleteAncestryByParent(ctx, id); err != nil {
			return res, err
		}
		pr.drop(id)
	}

	if len(pr.working) == 0 {
		if pr.flat == nil {
			res.Outcome = OutcomeSkipped
			res.Err = &PairError{Organism: pr.name, Locus: pr.locus, Err: ErrEmptyTrimResult}
			logger.Warn("skipping pair", zap.Error(res.Err))
			return res, tx.Commit()
		}
		if err := tx.DeleteRecord(ctx, pr.flat.ID); err != nil {
			return res, err
		}
		pending.Remove(e.artifacts.SequencePath(pr.locus, pr.name))
		pending.Remove(e.artifacts.AlignmentPath(pr.locus, pr.name))
		if err := tx.Commit(); err != nil {
			return res, err
		}
		res.Outcome = OutcomeDeleted
		return res, pending.Commit()
	}

	var (
		seq string
		aln model.Aligned
	)
	switch {
	case e.adopt(change, in.Artifact, pr, accessions):
		seq, aln, res.Score = e.adoptArtifact(in.Artifact)
		logger.Info("adopting edited artifact", zap.String("organism", pr.name), zap.String("locus", pr.locus))
		if aln != nil {
			e.gate(pr, &res)
		}
	case len(pr.working) == 1:
		id := pr.working[0]
		seq = pr.trimmed[id]
		res.Score = 1
		if err := pending.WriteFasta(e.artifacts.SequencePath(pr.locus, pr.name),
			[]model.Sequence{{ID: pr.records[id].Label(), Seq: seq}}); err != nil {
			return res, err
		}
		pending.Remove(e.artifacts.AlignmentPath(pr.locus, pr.name))
	default:
		aln, res.Score, err = e.align(ctx, pr, change, in.Artifact, refs)
		if err != nil {
			res.Outcome = OutcomeSkipped
			res.Err = &PairError{Organism: pr.name, Locus: pr.locus, Err: err}
			logger.Error("alignment failed, pair left untouched", zap.Error(res.Err))
			return res, nil
		}
		e.gate(pr, &res)
		seq = e.aligner.Consensus(aln, e.opts.ConsensusThreshold, e.opts.ResolveAmbiguities)
		if err := pending.WritePhylip(e.artifacts.AlignmentPath(pr.locus, pr.name), aln); err != nil {
			return res, err
		}
		pending.Remove(e.artifacts.SequencePath(pr.locus, pr.name))
	}

	flatID, err := e.persist(ctx, tx, pr, seq, aln)
	if err != nil {
		return res, err
	}
	res.FlatID = flatID
	if pr.flat == nil {
		res.Outcome = OutcomeCreated
	} else {
		res.Outcome = OutcomeUpdated
	}

	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, pending.Commit()
}

// gate records the identity of a multi-row alignment and flags it for review
// below the bottom threshold.
func (e *Engine) gate(pr *pair, res *Result) {
	e.metrics.Identity(pr.locus, res.Score)
	if res.Score < e.opts.IDBottom {
		res.LowConfidence = true
		logger.Warn("please review alignment",
			zap.String("organism", pr.name),
			zap.String("locus", pr.locus),
			zap.Float64("identity", res.Score),
			zap.Error(ErrLowConfidenceAlignment))
	}
}

func (pr *pair) drop(id int64) {
	for i, w := range pr.working {
		if w == id {
			pr.working = append(pr.working[:i], pr.working[i+1:]...)
			return
		}
	}
}

func (e *Engine) inactivate(ctx context.Context, tx *db.Tx, r model.Record, note string) error {
	logger.Info("inactivating record", zap.String("accession", r.Label()), zap.String("note", note))
	if err := tx.SetInactive(ctx, r.ID); err != nil {
		return err
	}
	if err := tx.AddToBlacklist(ctx, model.BlacklistEntry{
		Accession:         r.Accession,
		GI:                r.GI,
		InternalReference: r.InternalReference,
		Notes:             note,
	}); err != nil {
		return err
	}
	e.metrics.Blacklisted(note)
	return nil
}

// adopt reports whether an edited artifact replaces regeneration. The file
// must name exactly the working set and have the layout its size implies.
func (e *Engine) adopt(change Change, a db.Artifact, pr *pair, accessions map[string]int64) bool {
	if !e.opts.AdoptEditedArtifacts || change.Kind != ContentMismatch || len(a.Rows) != len(pr.working) {
		return false
	}
	switch {
	case a.State == db.ArtifactSequence && len(pr.working) == 1:
	case a.State == db.ArtifactAlignment && len(pr.working) > 1:
	default:
		return false
	}
	working := toSet(pr.working)
	for _, id := range a.IDs() {
		if !working[accessions[id]] {
			return false
		}
	}
	return true
}

func (e *Engine) adoptArtifact(a db.Artifact) (string, model.Aligned, float64) {
	rows := a.Rows.Upper()
	if a.State == db.ArtifactSequence {
		return rows[0].Seq, nil, 1
	}
	return e.aligner.Consensus(rows, e.opts.ConsensusThreshold, e.opts.ResolveAmbiguities), rows, aligner.Identity(rows)
}

// align builds the alignment of the working set. Pure additions extend the
// previous artifact; everything else realigns from scratch.
func (e *Engine) align(ctx context.Context, pr *pair, change Change, prev db.Artifact, refs []model.Sequence) (model.Aligned, float64, error) {
	req := aligner.Request{
		References: refs,
		Options:    e.opts.AlignOptions,
		IDBottom:   e.opts.IDBottom,
		IDTop:      e.opts.IDTop,
	}

	incremental := change.Kind == StaleAdditions && !change.Redo && prev.State != db.ArtifactNone
	if incremental {
		for _, id := range change.Added {
			req.Records = append(req.Records, model.Sequence{ID: pr.records[id].Label(), Seq: pr.trimmed[id]})
		}
		if prev.State == db.ArtifactAlignment {
			req.Existing = prev.Rows
		} else {
			req.Records = append(append([]model.Sequence{}, prev.Rows...), req.Records...)
		}
		logger.Debug("incremental realignment", zap.String("organism", pr.name), zap.Int("added", len(change.Added)))
	} else {
		for _, id := range pr.working {
			req.Records = append(req.Records, model.Sequence{ID: pr.records[id].Label(), Seq: pr.trimmed[id]})
		}
	}
	return e.aligner.Align(ctx, req)
}

// persist replaces the flat record's derived rows: sequence, self
// representation, alignment with one representation per row, and ancestry.
func (e *Engine) persist(ctx context.Context, tx *db.Tx, pr *pair, seq string, aln model.Aligned) (int64, error) {
	alphabet := model.AlphabetDNA
	if len(pr.working) > 0 {
		if a := pr.records[pr.working[0]].Alphabet; a != "" {
			alphabet = a
		}
	}

	var flatID, seqID int64
	if pr.flat == nil {
		flat := model.Record{
			InternalReference: e.newReference(pr.locus),
			OrganismID:        pr.org.ID,
			Kind:              model.RecordFlat,
			Active:            true,
			Sequence:          seq,
			Alphabet:          alphabet,
			Annotations:       map[string]string{model.AnnotationLocusFlat: pr.locus},
		}
		if _, err := tx.AddRecord(ctx, &flat); err != nil {
			return 0, err
		}
		flatID, seqID = flat.ID, flat.SequenceID
	} else {
		flatID = pr.flat.ID
		if err := tx.ClearDerived(ctx, flatID); err != nil {
			return 0, err
		}
		var err error
		if seqID, err = tx.AddSequence(ctx, flatID, db.SequencePrimary, seq, alphabet); err != nil {
			return 0, err
		}
	}

	self := model.SequenceRepresentation{SequenceID: seqID, RecordID: flatID, Edits: seqrep.Produce(seq, seq)}
	if _, err := tx.AddSequenceRepresentation(ctx, &self); err != nil {
		return 0, err
	}

	for _, id := range pr.working {
		if err := tx.AddAncestry(ctx, flatID, id); err != nil {
			return 0, err
		}
	}

	if len(aln) > 1 {
		entity := model.Alignment{
			Name:        pr.locus + " " + pr.name,
			Description: fmt.Sprintf("%d records", len(aln)),
			RecordID:    flatID,
		}
		if _, err := tx.AddAlignment(ctx, &entity); err != nil {
			return 0, err
		}
		byLabel := map[string]int64{}
		for _, id := range pr.working {
			byLabel[pr.records[id].Label()] = id
		}
		for _, row := range aln {
			parentID, ok := byLabel[row.ID]
			if !ok {
				return 0, fmt.Errorf("alignment row %s is not in the working set", row.ID)
			}
			canonical := strings.ToUpper(row.Degapped())
			rowSeqID, err := tx.AddSequence(ctx, flatID, db.SequenceTrimmed, canonical, alphabet)
			if err != nil {
				return 0, err
			}
			rep := model.SequenceRepresentation{
				SequenceID:  rowSeqID,
				RecordID:    parentID,
				AlignmentID: entity.ID,
				Edits:       seqrep.Produce(canonical, strings.ToUpper(row.Seq)),
			}
			if _, err := tx.AddSequenceRepresentation(ctx, &rep); err != nil {
				return 0, err
			}
		}
	}
	return flatID, nil
}
