// Package taxonomy turns archive organism names into structured organisms
// with taxonomy ids, lineage and common names.
package taxonomy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/archive"
	"github.com/yumyai/phylomat/pkg/model"
)

// Markers of names that do not resolve to a described species.
var openNomenclature = map[string]bool{"sp.": true, "spp.": true, "cf.": true, "aff.": true, "nr.": true}

var hybridMarkers = map[string]bool{"x": true, "×": true}

// ParseName splits an organism name such as "Brassica rapa subsp. pekinensis"
// or "Mentha x piperita" into its parts.
func ParseName(name string) model.Organism {
	var o model.Organism
	tokens := strings.Fields(name)
	if len(tokens) == 0 {
		return o
	}
	o.Genus, tokens = tokens[0], tokens[1:]

	if len(tokens) > 0 && hybridMarkers[tokens[0]] {
		o.Hybrid, tokens = tokens[0], tokens[1:]
	}
	if len(tokens) > 0 {
		if openNomenclature[tokens[0]] {
			o.Other = strings.Join(tokens, " ")
			return o
		}
		o.Species, tokens = tokens[0], tokens[1:]
	}

	var other []string
	for i := 0; i < len(tokens); i++ {
		switch tokens[i] {
		case "subsp.", "ssp.":
			if i+1 < len(tokens) {
				o.Subspecies = tokens[i+1]
				i++
				continue
			}
		case "var.":
			if i+1 < len(tokens) {
				o.Variety = tokens[i+1]
				i++
				continue
			}
		}
		other = append(other, tokens[i])
	}
	o.Other = strings.Join(other, " ")
	return o
}

// Resolver fills organisms from archive entries, caching taxonomy lookups.
type Resolver struct {
	client archive.Client
	cache  map[int64]archive.Taxon
}

func NewResolver(client archive.Client) *Resolver {
	return &Resolver{client: client, cache: map[int64]archive.Taxon{}}
}

// Prefetch loads the taxonomy entries of taxids in one batch.
func (r *Resolver) Prefetch(ctx context.Context, taxids []int64) error {
	var missing []int64
	for _, id := range taxids {
		if _, ok := r.cache[id]; !ok && id > 0 {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	taxa, err := r.client.Taxa(ctx, missing)
	if err != nil {
		return err
	}
	for _, t := range taxa {
		r.cache[t.TaxID] = t
	}
	return nil
}

// Resolve builds the organism an entry belongs to. Lineage and common name
// come from the taxonomy database; when it has no entry the lineage string
// of the record is used.
func (r *Resolver) Resolve(ctx context.Context, e archive.Entry) (model.Organism, error) {
	o := ParseName(e.Organism)
	o.Active = true
	if err := o.Validate(); err != nil {
		return o, fmt.Errorf("organism of %s: %w", e.Record.Accession, err)
	}
	if e.TaxID > 0 {
		o.TaxIDs = []int64{e.TaxID}
		if err := r.Prefetch(ctx, o.TaxIDs); err != nil {
			return o, err
		}
	}

	if t, ok := r.cache[e.TaxID]; ok {
		o.CommonName = t.CommonName
		o.Lineage = t.Lineage
		return o, nil
	}
	for _, name := range strings.Split(e.Lineage, ";") {
		if name = strings.TrimSpace(name); name != "" {
			o.Lineage = append(o.Lineage, model.LineageNode{Name: name})
		}
	}
	return o, nil
}

// TaxIDs resolves taxon terms: numeric terms are taxonomy ids, names are
// searched in the taxonomy database. Terms without a match are skipped.
func (r *Resolver) TaxIDs(ctx context.Context, terms []string) ([]int64, error) {
	var ids []int64
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if id, err := strconv.ParseInt(term, 10, 64); err == nil {
			ids = append(ids, id)
			continue
		}
		hits, err := r.client.Search(ctx, term+"[Scientific Name]", "taxonomy")
		if err != nil {
			return ids, err
		}
		if len(hits) == 0 {
			logger.Warn("taxon not found", zap.String("term", term))
			continue
		}
		id, err := strconv.ParseInt(hits[0], 10, 64)
		if err != nil {
			return ids, fmt.Errorf("taxonomy id %q for %s: %w", hits[0], term, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
