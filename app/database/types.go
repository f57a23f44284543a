package database

// ItemType identifies which catalog section a row belongs to.
type ItemType string

const (
	ItemTypeLive   ItemType = "live"
	ItemTypeVod    ItemType = "vod"
	ItemTypeSeries ItemType = "series"
)

func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeLive, ItemTypeVod, ItemTypeSeries:
		return true
	}
	return false
}

// SortKey orders VOD and series pages.
type SortKey string

const (
	SortRecent SortKey = "recent"
	SortOldest SortKey = "oldest"
	SortAZ     SortKey = "az"
	SortZA     SortKey = "za"
)

// ParseSortKey falls back to SortRecent for unknown values.
func ParseSortKey(s string) SortKey {
	switch SortKey(s) {
	case SortOldest, SortAZ, SortZA:
		return SortKey(s)
	}
	return SortRecent
}

// Catalog meta keys
const (
	MetaCatalogUpdatedAt = "catalog_updated_at"
	MetaEpgUpdatedAt     = "epg_updated_at"
	MetaLastSyncID       = "last_sync_id"
)

type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// CatalogItem is the display view of a live channel, movie or series.
type CatalogItem struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Image              string   `json:"image,omitempty"`
	Type               ItemType `json:"type"`
	CategoryID         string   `json:"category_id,omitempty"`
	EpgChannelID       string   `json:"epg_channel_id,omitempty"`
	Rating             string   `json:"rating,omitempty"`
	ContainerExtension string   `json:"container_extension,omitempty"`
}

type LivePageOptions struct {
	IncludeMissingIcons bool
}

type CatalogMeta struct {
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updated_at"` // epoch milliseconds
}

type EpgChannel struct {
	ChannelID      string `json:"channel_id"`
	DisplayName    string `json:"display_name"`
	NormalizedName string `json:"normalized_name"`
}

type EpgListing struct {
	ChannelID   string `json:"channel_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

// LiveNowItem is a live channel paired with the EPG channel that has a
// programme airing.
type LiveNowItem struct {
	CatalogItem
	MatchedChannelID string `json:"matched_channel_id"`
}

type ProfileCounts struct {
	Categories  int `json:"categories"`
	LiveStreams int `json:"live_streams"`
	VodStreams  int `json:"vod_streams"`
	Series      int `json:"series"`
	EpgChannels int `json:"epg_channels"`
	EpgListings int `json:"epg_listings"`
}

type LibraryEntry struct {
	ItemID    string   `json:"item_id"`
	ItemType  ItemType `json:"item_type"`
	UpdatedAt int64    `json:"updated_at"`
}

type ContinueWatchingEntry struct {
	LibraryEntry
	PositionSeconds float64 `json:"position_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
}
