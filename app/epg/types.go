package epg

import (
	"github.com/lysyi3m/xtream-catalog/app/database"
)

// Item is a catalog item optionally annotated with the programme airing now.
type Item struct {
	database.CatalogItem
	EpgTitle    string   `json:"epg_title,omitempty"`
	EpgProgress *float64 `json:"epg_progress,omitempty"`
	EpgStart    string   `json:"epg_start,omitempty"`
	EpgEnd      string   `json:"epg_end,omitempty"`
}

func ItemsFromCatalog(items []database.CatalogItem) []Item {
	result := make([]Item, len(items))
	for i, item := range items {
		result[i] = Item{CatalogItem: item}
	}
	return result
}

// MatchMethod names the tier that resolved a live item to an EPG channel.
type MatchMethod string

const (
	MatchProvided     MatchMethod = "provided"
	MatchExact        MatchMethod = "exact"
	MatchSubstring    MatchMethod = "substring"
	MatchDirectory    MatchMethod = "directory"
	MatchListings     MatchMethod = "listings"
	MatchAbbreviation MatchMethod = "abbreviation"
	MatchUnmatched    MatchMethod = "unmatched"
)

// ResolveReport counts live items per match method.
type ResolveReport struct {
	Counts map[MatchMethod]int `json:"counts"`
	// WithProgramme is the number of live items that got a current programme.
	WithProgramme int `json:"with_programme"`
}

func (r ResolveReport) Resolved() int {
	total := 0
	for method, n := range r.Counts {
		if method != MatchUnmatched {
			total += n
		}
	}
	return total
}
