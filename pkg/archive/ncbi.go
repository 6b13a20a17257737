package archive

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/biogo/ncbi/entrez"
	"go.uber.org/zap"

	"github.com/yumyai/phylomat/logger"
)

const (
	DefaultAttempts = 10
	DefaultBatch    = 200

	toolName = "phylomat"
	// esearch refuses larger pages.
	maxSearchPage = 100000
)

// EUtils is the E-utilities request layer under the client.
type EUtils interface {
	// Search returns the hit count of term and the ids of one page.
	Search(db, term string, start, max int) (count int, ids []int, err error)
	// Fetch returns the efetch XML body for ids.
	Fetch(db, retType string, ids []int) (io.ReadCloser, error)
}

type Options struct {
	Email    string
	Attempts int
	Batch    int
	// Backoff is the wait before attempt i (0-based). Defaults to 2*i seconds.
	Backoff func(i int) time.Duration
	// EUtils defaults to the biogo entrez client.
	EUtils EUtils
}

// NCBI is a thin E-utilities client: esearch and efetch (INSDSeq and
// taxonomy XML).
type NCBI struct {
	opts Options
}

func NewNCBI(opts Options) *NCBI {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Batch <= 0 {
		opts.Batch = DefaultBatch
	}
	if opts.Backoff == nil {
		opts.Backoff = func(i int) time.Duration { return time.Duration(2*i) * time.Second }
	}
	if opts.EUtils == nil {
		opts.EUtils = entrezUtils{tool: toolName, email: opts.Email}
	}
	return &NCBI{opts: opts}
}

// entrezUtils sends requests through github.com/biogo/ncbi/entrez, which
// also enforces the NCBI request rate.
type entrezUtils struct {
	tool  string
	email string
}

func (u entrezUtils) Search(db, term string, start, max int) (int, []int, error) {
	s, err := entrez.DoSearch(db, term, &entrez.Parameters{RetStart: start, RetMax: max}, nil, u.tool, u.email)
	if err != nil {
		return 0, nil, err
	}
	return s.Count, s.IdList, nil
}

func (u entrezUtils) Fetch(db, retType string, ids []int) (io.ReadCloser, error) {
	return entrez.Fetch(db, &entrez.Parameters{RetMode: "xml", RetType: retType}, u.tool, u.email, nil, ids...)
}

func (c *NCBI) Search(ctx context.Context, term, db string) ([]string, error) {
	var ids []string
	count := 1
	for start := 0; start < count; start += maxSearchPage {
		var page []int
		err := c.retry(ctx, "esearch", func() (err error) {
			count, page, err = c.opts.EUtils.Search(db, term, start, maxSearchPage)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, id := range page {
			ids = append(ids, strconv.Itoa(id))
		}
		if len(page) == 0 {
			break
		}
	}
	logger.Debug("esearch", zap.String("db", db), zap.String("term", term), zap.Int("hits", len(ids)))
	return ids, nil
}

// Fetch downloads records in batches of Options.Batch ids.
func (c *NCBI) Fetch(ctx context.Context, ids []string, db string) ([]Entry, error) {
	uids := make([]int, len(ids))
	for i, id := range ids {
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("archive id %q is not numeric", id)
		}
		uids[i] = n
	}

	var entries []Entry
	for start := 0; start < len(uids); start += c.opts.Batch {
		batch := uids[start:min(start+c.opts.Batch, len(uids))]
		body, err := c.fetch(ctx, db, "gbc", batch)
		if err != nil {
			return entries, err
		}
		got, err := ParseINSDSet(bytes.NewReader(body))
		if err != nil {
			return entries, err
		}
		entries = append(entries, got...)
		logger.Debug("efetch", zap.String("db", db), zap.Int("requested", len(batch)), zap.Int("received", len(got)))
	}
	return entries, nil
}

func (c *NCBI) Taxa(ctx context.Context, taxids []int64) ([]Taxon, error) {
	var taxa []Taxon
	for start := 0; start < len(taxids); start += c.opts.Batch {
		batch := make([]int, 0, c.opts.Batch)
		for _, id := range taxids[start:min(start+c.opts.Batch, len(taxids))] {
			batch = append(batch, int(id))
		}
		body, err := c.fetch(ctx, "taxonomy", "", batch)
		if err != nil {
			return taxa, err
		}
		got, err := ParseTaxaSet(bytes.NewReader(body))
		if err != nil {
			return taxa, err
		}
		taxa = append(taxa, got...)
	}
	return taxa, nil
}

func (c *NCBI) fetch(ctx context.Context, db, retType string, ids []int) ([]byte, error) {
	var body []byte
	err := c.retry(ctx, "efetch", func() error {
		rc, err := c.opts.EUtils.Fetch(db, retType, ids)
		if err != nil {
			return err
		}
		defer rc.Close()
		body, err = io.ReadAll(rc)
		return err
	})
	return body, err
}

// retry runs call until it succeeds, ctx ends or the attempts run out.
func (c *NCBI) retry(ctx context.Context, utility string, call func() error) error {
	var lastErr error
	for i := 0; i < c.opts.Attempts; i++ {
		if i > 0 {
			logger.Warn("retrying archive request",
				zap.String("utility", utility), zap.Int("attempt", i+1), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.opts.Backoff(i)):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return &TransientFetchError{Op: utility, Attempts: c.opts.Attempts, Err: lastErr}
}

type insdSet struct {
	XMLName xml.Name  `xml:"INSDSet"`
	Seqs    []insdSeq `xml:"INSDSeq"`
}

type insdSeq struct {
	Locus            string        `xml:"INSDSeq_locus"`
	Moltype          string        `xml:"INSDSeq_moltype"`
	Definition       string        `xml:"INSDSeq_definition"`
	PrimaryAccession string        `xml:"INSDSeq_primary-accession"`
	AccessionVersion string        `xml:"INSDSeq_accession-version"`
	OtherSeqIDs      []string      `xml:"INSDSeq_other-seqids>INSDSeqid"`
	Organism         string        `xml:"INSDSeq_organism"`
	Taxonomy         string        `xml:"INSDSeq_taxonomy"`
	Features         []insdFeature `xml:"INSDSeq_feature-table>INSDFeature"`
	Sequence         string        `xml:"INSDSeq_sequence"`
}

type insdFeature struct {
	Key       string `xml:"INSDFeature_key"`
	Location  string `xml:"INSDFeature_location"`
	Intervals []struct {
		From   int `xml:"INSDInterval_from"`
		To     int `xml:"INSDInterval_to"`
		Point  int `xml:"INSDInterval_point"`
		IsComp struct {
			Value string `xml:"value,attr"`
		} `xml:"INSDInterval_iscomp"`
	} `xml:"INSDFeature_intervals>INSDInterval"`
	Quals []struct {
		Name  string `xml:"INSDQualifier_name"`
		Value string `xml:"INSDQualifier_value"`
	} `xml:"INSDFeature_quals>INSDQualifier"`
}

type taxaSet struct {
	XMLName xml.Name   `xml:"TaxaSet"`
	Taxa    []taxonXML `xml:"Taxon"`
}

type taxonXML struct {
	TaxID          int64  `xml:"TaxId"`
	ScientificName string `xml:"ScientificName"`
	CommonName     string `xml:"OtherNames>GenbankCommonName"`
	Rank           string `xml:"Rank"`
	Lineage        []struct {
		TaxID          int64  `xml:"TaxId"`
		ScientificName string `xml:"ScientificName"`
		Rank           string `xml:"Rank"`
	} `xml:"LineageEx>Taxon"`
}
