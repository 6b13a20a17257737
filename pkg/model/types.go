package model

import (
	"fmt"
	"strings"
	"time"
)

type RecordKind string

const (
	RecordRaw  RecordKind = "raw"
	RecordFlat RecordKind = "flat"
)

// Annotation types stored alongside records.
const (
	AnnotationLocus      = "locus"
	AnnotationLocusFlat  = "locus_flat"
	AnnotationOrganism   = "organism"
	AnnotationLineage    = "lineage"
	AnnotationCommonName = "common_name"
)

type Alphabet string

const (
	AlphabetDNA     Alphabet = "dna"
	AlphabetRNA     Alphabet = "rna"
	AlphabetProtein Alphabet = "protein"
)

type Feature struct {
	Type       string              `json:"type"`
	Start      int                 `json:"start"` // 0-based, inclusive
	End        int                 `json:"end"`   // 0-based, exclusive
	Strand     int                 `json:"strand"`
	Qualifiers map[string][]string `json:"qualifiers"`
}

type Record struct {
	ID                int64             `json:"id"`
	Accession         string            `json:"accession"` // archive accession.version
	GI                int64             `json:"gi,omitempty"`
	InternalReference string            `json:"internal_reference"`
	Description       string            `json:"description"`
	OrganismID        int64             `json:"organism_id"`
	Kind              RecordKind        `json:"kind"`
	Active            bool              `json:"active"`
	SequenceID        int64             `json:"seq_id,omitempty"`
	Sequence          string            `json:"sequence"`
	Alphabet          Alphabet          `json:"alphabet"`
	Annotations       map[string]string `json:"annotations"`
	Features          []Feature         `json:"features,omitempty"`
}

// Label is the identifier written into sequence artifacts. Flat records have no
// accession so their internal reference stands in.
func (r Record) Label() string {
	if r.Accession != "" {
		return r.Accession
	}
	return r.InternalReference
}

type LineageNode struct {
	TaxID int64  `json:"taxid"`
	Name  string `json:"name"`
	Rank  string `json:"rank"`
}

type Organism struct {
	ID         int64         `json:"id"`
	Genus      string        `json:"genus"`
	Species    string        `json:"species"`
	Subspecies string        `json:"subspecies,omitempty"`
	Variety    string        `json:"variety,omitempty"`
	Hybrid     string        `json:"hybrid,omitempty"`
	Other      string        `json:"other,omitempty"`
	Authority  string        `json:"authority,omitempty"`
	CommonName string        `json:"common_name,omitempty"`
	TaxIDs     []int64       `json:"tax_ids"`
	Lineage    []LineageNode `json:"lineage,omitempty"`
	Active     bool          `json:"active"`
}

// Validate checks the fields the store requires.
func (o Organism) Validate() error {
	if strings.TrimSpace(o.Genus) == "" {
		return fmt.Errorf("organism: genus is required")
	}
	return nil
}

// FlatName joins the parsed name fields, e.g. "Homo sapiens".
func (o Organism) FlatName() string {
	parts := []string{o.Genus}
	if o.Hybrid != "" {
		parts = append(parts, o.Hybrid)
	}
	if o.Species != "" {
		parts = append(parts, o.Species)
	}
	if o.Subspecies != "" {
		parts = append(parts, "subsp.", o.Subspecies)
	}
	if o.Variety != "" {
		parts = append(parts, "var.", o.Variety)
	}
	if o.Other != "" {
		parts = append(parts, o.Other)
	}
	return strings.Join(parts, " ")
}

type Strategy struct {
	Name                  string `json:"name"`
	LocusRelativePosition int    `json:"locus_relative_position"`
	FeatureType           string `json:"feature_type"`
	QualifierLabel        string `json:"qualifier_label"`
	QualifierValue        string `json:"qualifier_value"`
	Regex                 bool   `json:"regex"`
	StrictValueMatch      bool   `json:"strict_value_match"`
	MinLength             int    `json:"min_length"`
	ExtraLength           int    `json:"extra_length"`
}

type Locus struct {
	Name       string     `json:"name"`
	Database   string     `json:"database"`
	Query      string     `json:"query"`
	Strategies []Strategy `json:"strategies"`
}

type Alignment struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	RecordID    int64   `json:"rec_id,omitempty"`
	SeqRepIDs   []int64 `json:"seq_rep_ids"`
}

type SequenceRepresentation struct {
	ID          int64  `json:"id"`
	SequenceID  int64  `json:"seq_id"`
	RecordID    int64  `json:"rec_id,omitempty"`
	AlignmentID int64  `json:"aln_id,omitempty"`
	Edits       string `json:"edits"`
}

type BlacklistEntry struct {
	Accession         string    `json:"accession"`
	GI                int64     `json:"gi,omitempty"`
	InternalReference string    `json:"internal_reference"`
	Notes             string    `json:"notes"`
	CreatedAt         time.Time `json:"created_at"`
}

// Blacklist notes.
const (
	NoteUserDeleted      = "user_deleted"
	NoteNoLocus          = "no locus annotation"
	NoteUserActivated    = "user_activated"
	NoteSimilarityFailed = "failed sequence similarity test"
)
