package epg

import (
	"github.com/lysyi3m/xtream-catalog/app/database"
	"github.com/lysyi3m/xtream-catalog/app/textnorm"
)

// MinAbbreviationLength is the shortest normalized channel name the
// abbreviation tier will consider.
const MinAbbreviationLength = 4

type directoryEntry struct {
	channelID string
	name      string
	words     []string
}

// directory is the full EPG channel list keyed by normalized display name.
// The first channel stored under a name owns it.
type directory struct {
	byName  map[string]string
	entries []directoryEntry
}

func newDirectory(channels []database.EpgChannel) *directory {
	d := &directory{byName: make(map[string]string, len(channels))}

	for _, ch := range channels {
		name := textnorm.NormalizeName(ch.DisplayName)
		words := textnorm.Words(ch.DisplayName)
		if name == "" {
			name = ch.NormalizedName
			words = []string{name}
		}
		if name == "" {
			continue
		}
		if _, ok := d.byName[name]; ok {
			continue
		}
		d.byName[name] = ch.ChannelID
		d.entries = append(d.entries, directoryEntry{channelID: ch.ChannelID, name: name, words: words})
	}

	return d
}

// abbreviation finds a channel whose display name abbreviates the title
// word by word (or the other way round), e.g. "CNN INTL" for
// "CNN International". The longest name wins, then the lowest channel id.
func (d *directory) abbreviation(titleWords []string) string {
	if len(titleWords) == 0 {
		return ""
	}

	var best directoryEntry
	for _, e := range d.entries {
		if len(e.name) < MinAbbreviationLength || !abbreviates(e.words, titleWords) {
			continue
		}
		if best.channelID == "" ||
			len(e.name) > len(best.name) ||
			(len(e.name) == len(best.name) && e.channelID < best.channelID) {
			best = e
		}
	}
	return best.channelID
}

// abbreviates reports whether the word lists pair up one to one, each pair
// starting with the same character with one word an in-order subsequence of
// the other, and at least one pair actually differing.
func abbreviates(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	differs := false
	for i := range a {
		x, y := a[i], b[i]
		if x == "" || y == "" || x[0] != y[0] {
			return false
		}
		if x == y {
			continue
		}
		if !isSubsequence(x, y) && !isSubsequence(y, x) {
			return false
		}
		differs = true
	}
	return differs
}

func isSubsequence(short, long string) bool {
	if len(short) > len(long) {
		return false
	}
	j := 0
	for i := 0; i < len(long) && j < len(short); i++ {
		if long[i] == short[j] {
			j++
		}
	}
	return j == len(short)
}
