package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/xtream-catalog/app/database"
)

const libraryLimit = 100

// GetLibrary returns favorites, recently viewed and continue-watching
// entries joined with their catalog rows. Entries whose item is no longer
// in the catalog are dropped.
func (h *Handler) GetLibrary(c *gin.Context) {
	ctx := c.Request.Context()
	p := profileFrom(c)
	limit := queryInt(c, "limit", libraryLimit, maxPageSize)

	favorites, err := h.library.GetFavorites(ctx, p.ID, limit)
	if err != nil {
		h.databaseError(c, "get_favorites", p.ID, err)
		return
	}
	recent, err := h.library.GetRecentlyViewed(ctx, p.ID, limit)
	if err != nil {
		h.databaseError(c, "get_recently_viewed", p.ID, err)
		return
	}
	continuing, err := h.library.GetContinueWatching(ctx, p.ID, limit)
	if err != nil {
		h.databaseError(c, "get_continue_watching", p.ID, err)
		return
	}

	entries := make([]database.LibraryEntry, 0, len(favorites)+len(recent)+len(continuing))
	entries = append(entries, favorites...)
	entries = append(entries, recent...)
	for _, e := range continuing {
		entries = append(entries, e.LibraryEntry)
	}

	unlock := h.readLock(p.ID)
	items, err := h.hydrate(ctx, p.ID, entries)
	unlock()
	if err != nil {
		h.databaseError(c, "hydrate_library", p.ID, err)
		return
	}

	continueItems := make([]continueWatchingItem, 0, len(continuing))
	for _, e := range continuing {
		item, ok := items[libraryKey(e.ItemType, e.ItemID)]
		if !ok {
			continue
		}
		continueItems = append(continueItems, continueWatchingItem{
			libraryItem:     libraryItem{CatalogItem: item, UpdatedAt: e.UpdatedAt},
			PositionSeconds: e.PositionSeconds,
			DurationSeconds: e.DurationSeconds,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"favorites":         joinEntries(favorites, items),
		"recently_viewed":   joinEntries(recent, items),
		"continue_watching": continueItems,
	})
}

func (h *Handler) AddFavorite(c *gin.Context) {
	h.libraryWrite(c, http.StatusOK, h.library.AddFavorite)
}

func (h *Handler) RemoveFavorite(c *gin.Context) {
	h.libraryWrite(c, http.StatusNoContent, h.library.RemoveFavorite)
}

func (h *Handler) AddRecentlyViewed(c *gin.Context) {
	h.libraryWrite(c, http.StatusOK, h.library.AddRecentlyViewed)
}

func (h *Handler) RemoveContinueWatching(c *gin.Context) {
	h.libraryWrite(c, http.StatusNoContent, h.library.RemoveContinueWatching)
}

func (h *Handler) UpsertContinueWatching(c *gin.Context) {
	var req continueWatchingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.PositionSeconds < 0 || req.DurationSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Position and duration must not be negative"})
		return
	}

	h.libraryWrite(c, http.StatusOK, func(ctx context.Context, profileID string, itemType database.ItemType, itemID string) error {
		return h.library.UpsertContinueWatching(ctx, profileID, itemType, itemID, req.PositionSeconds, req.DurationSeconds)
	})
}

type libraryWriteFunc func(ctx context.Context, profileID string, itemType database.ItemType, itemID string) error

func (h *Handler) libraryWrite(c *gin.Context, status int, write libraryWriteFunc) {
	p := profileFrom(c)
	itemType := database.ItemType(c.Param("type"))
	itemID := c.Param("itemId")

	if !itemType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown item type"})
		return
	}

	if err := write(c.Request.Context(), p.ID, itemType, itemID); err != nil {
		slog.Error("Library update failed", "profile", p.ID, "type", string(itemType), "id", itemID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if status == http.StatusNoContent {
		c.Status(status)
		return
	}
	c.JSON(status, gin.H{"profile": p.ID, "type": itemType, "id": itemID})
}

// hydrate loads the catalog rows behind entries, one query per item type.
func (h *Handler) hydrate(ctx context.Context, profileID string, entries []database.LibraryEntry) (map[string]database.CatalogItem, error) {
	ids := make(map[database.ItemType][]string)
	seen := make(map[string]bool)
	for _, e := range entries {
		key := libraryKey(e.ItemType, e.ItemID)
		if seen[key] {
			continue
		}
		seen[key] = true
		ids[e.ItemType] = append(ids[e.ItemType], e.ItemID)
	}

	loaders := map[database.ItemType]byIDsFunc{
		database.ItemTypeLive:   h.catalog.GetLiveItemsByIDs,
		database.ItemTypeVod:    h.catalog.GetVodItemsByIDs,
		database.ItemTypeSeries: h.catalog.GetSeriesItemsByIDs,
	}

	result := make(map[string]database.CatalogItem, len(seen))
	for kind, list := range ids {
		load, ok := loaders[kind]
		if !ok {
			continue
		}
		items, err := load(ctx, profileID, list)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			result[libraryKey(kind, item.ID)] = item
		}
	}
	return result, nil
}

func joinEntries(entries []database.LibraryEntry, items map[string]database.CatalogItem) []libraryItem {
	result := make([]libraryItem, 0, len(entries))
	for _, e := range entries {
		if item, ok := items[libraryKey(e.ItemType, e.ItemID)]; ok {
			result = append(result, libraryItem{CatalogItem: item, UpdatedAt: e.UpdatedAt})
		}
	}
	return result
}

func libraryKey(t database.ItemType, id string) string {
	return string(t) + ":" + id
}
