package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/xtream-catalog/app/database"
	"github.com/lysyi3m/xtream-catalog/app/epg"
	"github.com/lysyi3m/xtream-catalog/app/profile"
	"github.com/lysyi3m/xtream-catalog/app/xtream"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	similarLimit    = 12
	liveNowLimit    = 12
)

func (h *Handler) GetCategories(c *gin.Context) {
	p := profileFrom(c)
	kind := database.ItemType(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown category kind"})
		return
	}
	defer h.readLock(p.ID)()

	categories, err := h.catalog.GetCategories(c.Request.Context(), p.ID, kind)
	if err != nil {
		h.databaseError(c, "get_categories", p.ID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"categories": categories, "total": len(categories)})
}

func (h *Handler) GetLive(c *gin.Context) {
	ctx := c.Request.Context()
	p := profileFrom(c)
	limit := queryInt(c, "limit", defaultPageSize, maxPageSize)
	offset := queryInt(c, "offset", 0, 0)
	withEpg := c.Query("epg") == "true"

	if withEpg {
		h.refreshEpgOpportunistically(ctx, p)
	}
	defer h.readLock(p.ID)()

	categoryID := c.Query("category")
	if categoryID == "primary" {
		primary, err := h.catalog.GetPrimaryLiveCategoryID(ctx, p.ID)
		if err != nil {
			h.databaseError(c, "get_primary_category", p.ID, err)
			return
		}
		categoryID = primary
	}

	items, err := h.catalog.GetLivePage(ctx, p.ID, limit, offset, categoryID, database.LivePageOptions{
		IncludeMissingIcons: c.Query("include_missing_icons") == "true",
	})
	if err != nil {
		h.databaseError(c, "get_live_page", p.ID, err)
		return
	}

	if !withEpg {
		c.JSON(http.StatusOK, page(items, limit, offset))
		return
	}

	resolved, ok := h.resolveLive(c, p.ID, epg.ItemsFromCatalog(items))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": resolved, "limit": limit, "offset": offset, "count": len(resolved)})
}

func (h *Handler) GetRecentLive(c *gin.Context) {
	p := profileFrom(c)
	limit := queryInt(c, "limit", defaultPageSize, maxPageSize)
	defer h.readLock(p.ID)()

	items, err := h.catalog.GetRecentLiveItems(c.Request.Context(), p.ID, limit, c.Query("category"))
	if err != nil {
		h.databaseError(c, "get_recent_live", p.ID, err)
		return
	}
	c.JSON(http.StatusOK, page(items, limit, 0))
}

// GetLiveNow samples channels with a programme airing right now.
func (h *Handler) GetLiveNow(c *gin.Context) {
	ctx := c.Request.Context()
	p := profileFrom(c)
	limit := queryInt(c, "limit", liveNowLimit, maxPageSize)

	h.refreshEpgOpportunistically(ctx, p)
	defer h.readLock(p.ID)()

	rows, err := h.catalog.GetLiveItemsWithCurrentEpg(ctx, p.ID, limit, epg.NowKey(time.Now()))
	if err != nil {
		h.databaseError(c, "get_live_now", p.ID, err)
		return
	}

	items := make([]epg.Item, len(rows))
	for i, row := range rows {
		items[i] = epg.Item{CatalogItem: row.CatalogItem}
		items[i].EpgChannelID = row.MatchedChannelID
	}

	resolved, ok := h.resolveLive(c, p.ID, items)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": resolved, "count": len(resolved)})
}

func (h *Handler) GetLiveOffset(c *gin.Context) {
	p := profileFrom(c)
	defer h.readLock(p.ID)()

	offset, found, err := h.catalog.GetLiveChannelOffset(c.Request.Context(), p.ID, c.Param("itemId"))
	if err != nil {
		h.databaseError(c, "get_live_offset", p.ID, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream_id": c.Param("itemId"), "offset": offset})
}

func (h *Handler) GetVod(c *gin.Context) {
	h.getMediaPage(c, h.catalog.GetVodPage)
}

func (h *Handler) GetSeries(c *gin.Context) {
	h.getMediaPage(c, h.catalog.GetSeriesPage)
}

type mediaPageFunc func(ctx context.Context, profileID string, limit, offset int, sort database.SortKey, categoryID string) ([]database.CatalogItem, error)

func (h *Handler) getMediaPage(c *gin.Context, get mediaPageFunc) {
	p := profileFrom(c)
	limit := queryInt(c, "limit", defaultPageSize, maxPageSize)
	offset := queryInt(c, "offset", 0, 0)
	sort := database.ParseSortKey(c.Query("sort"))
	defer h.readLock(p.ID)()

	items, err := get(c.Request.Context(), p.ID, limit, offset, sort, c.Query("category"))
	if err != nil {
		h.databaseError(c, "get_media_page", p.ID, err)
		return
	}
	c.JSON(http.StatusOK, page(items, limit, offset))
}

func (h *Handler) GetVodInfo(c *gin.Context) {
	h.getInfo(c, h.catalog.GetVodInfo, h.catalog.StoreVodInfo, h.client.FetchVodInfo)
}

func (h *Handler) GetSeriesInfo(c *gin.Context) {
	h.getInfo(c, h.catalog.GetSeriesInfo, h.catalog.StoreSeriesInfo, h.client.FetchSeriesInfo)
}

type (
	infoGetFunc   func(ctx context.Context, profileID, id string) (json.RawMessage, error)
	infoStoreFunc func(ctx context.Context, profileID, id string, info json.RawMessage) error
	infoFetchFunc func(ctx context.Context, creds xtream.Credentials, id string) (json.RawMessage, error)
)

// getInfo serves detail info from the store, fetching and storing it on a miss.
func (h *Handler) getInfo(c *gin.Context, get infoGetFunc, store infoStoreFunc, fetch infoFetchFunc) {
	ctx := c.Request.Context()
	p := profileFrom(c)
	id := c.Param("itemId")

	unlock := h.readLock(p.ID)
	info, err := get(ctx, p.ID, id)
	unlock()
	if err != nil {
		h.databaseError(c, "get_info", p.ID, err)
		return
	}
	if info != nil {
		c.Header("X-Cache", "HIT")
		c.Data(http.StatusOK, "application/json; charset=utf-8", info)
		return
	}

	info, err = fetch(ctx, p.Credentials(), id)
	if err != nil {
		slog.Error("Failed to fetch detail info", "profile", p.ID, "id", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Portal request failed", "details": err.Error()})
		return
	}

	if err := h.syncer.Locks().WithLock(p.ID, func() error { return store(ctx, p.ID, id, info) }); err != nil {
		slog.Warn("Failed to store detail info", "profile", p.ID, "id", id, "error", err)
	}

	c.Header("X-Cache", "MISS")
	c.Data(http.StatusOK, "application/json; charset=utf-8", info)
}

func (h *Handler) GetVodSimilar(c *gin.Context) {
	h.getSimilar(c, h.catalog.GetVodItemsByIDs, h.catalog.GetVodSimilar)
}

func (h *Handler) GetSeriesSimilar(c *gin.Context) {
	h.getSimilar(c, h.catalog.GetSeriesItemsByIDs, h.catalog.GetSeriesSimilar)
}

type (
	byIDsFunc   func(ctx context.Context, profileID string, ids []string) ([]database.CatalogItem, error)
	similarFunc func(ctx context.Context, profileID, categoryID, excludeID string, limit int) ([]database.CatalogItem, error)
)

func (h *Handler) getSimilar(c *gin.Context, byIDs byIDsFunc, similar similarFunc) {
	ctx := c.Request.Context()
	p := profileFrom(c)
	id := c.Param("itemId")
	limit := queryInt(c, "limit", similarLimit, maxPageSize)
	defer h.readLock(p.ID)()

	items, err := byIDs(ctx, p.ID, []string{id})
	if err != nil {
		h.databaseError(c, "get_item", p.ID, err)
		return
	}
	if len(items) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}

	related, err := similar(ctx, p.ID, items[0].CategoryID, id, limit)
	if err != nil {
		h.databaseError(c, "get_similar", p.ID, err)
		return
	}
	c.JSON(http.StatusOK, page(related, limit, 0))
}

func (h *Handler) Search(c *gin.Context) {
	ctx := c.Request.Context()
	p := profileFrom(c)
	query := strings.TrimSpace(c.Query("q"))
	limit := queryInt(c, "limit", defaultPageSize, maxPageSize)

	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing search query"})
		return
	}

	searches := map[database.ItemType]func(context.Context, string, string, int) ([]database.CatalogItem, error){
		database.ItemTypeLive:   h.catalog.SearchLiveStreams,
		database.ItemTypeVod:    h.catalog.SearchVodStreams,
		database.ItemTypeSeries: h.catalog.SearchSeriesItems,
	}

	kinds := []database.ItemType{database.ItemTypeLive, database.ItemTypeVod, database.ItemTypeSeries}
	if t := c.Query("type"); t != "" {
		kind := database.ItemType(t)
		if !kind.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown item type"})
			return
		}
		kinds = []database.ItemType{kind}
	}

	defer h.readLock(p.ID)()

	results := gin.H{}
	for _, kind := range kinds {
		items, err := searches[kind](ctx, p.ID, query, limit)
		if err != nil {
			h.databaseError(c, "search", p.ID, err)
			return
		}
		results[string(kind)] = items
	}

	c.JSON(http.StatusOK, gin.H{"query": query, "results": results})
}

// GetPlayURL builds the direct-play URL of a catalog item.
func (h *Handler) GetPlayURL(c *gin.Context) {
	ctx := c.Request.Context()
	p := profileFrom(c)
	id := c.Param("itemId")
	ext := strings.TrimPrefix(c.Query("ext"), ".")
	creds := p.Credentials()

	var playURL string
	switch database.ItemType(c.Param("type")) {
	case database.ItemTypeLive:
		playURL = xtream.BuildStreamURL(creds, id)
	case database.ItemTypeVod:
		if ext == "" {
			unlock := h.readLock(p.ID)
			items, err := h.catalog.GetVodItemsByIDs(ctx, p.ID, []string{id})
			unlock()
			if err != nil {
				h.databaseError(c, "get_item", p.ID, err)
				return
			}
			if len(items) > 0 {
				ext = items[0].ContainerExtension
			}
		}
		playURL = xtream.BuildVodURL(creds, id, ext)
	case database.ItemTypeSeries:
		playURL = xtream.BuildSeriesEpisodeURL(creds, id, ext)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown item type"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": playURL})
}

// refreshEpgOpportunistically refreshes a stale EPG before it is read. A
// failure keeps the existing EPG.
func (h *Handler) refreshEpgOpportunistically(ctx context.Context, p *profile.Profile) {
	if _, err := h.syncer.RefreshEpgIfNeeded(ctx, p); err != nil {
		slog.Warn("EPG refresh failed, serving existing EPG", "profile", p.ID, "error", err)
	}
}

func (h *Handler) resolveLive(c *gin.Context, profileID string, items []epg.Item) ([]epg.Item, bool) {
	resolved, report, err := h.resolver.Resolve(c.Request.Context(), profileID, items)
	if err != nil {
		h.databaseError(c, "resolve_epg", profileID, err)
		return nil, false
	}

	h.metrics.ObserveResolve(report)
	slog.Debug("Resolved live EPG", "profile", profileID, "items", len(items), "resolved", report.Resolved(), "with_programme", report.WithProgramme)

	return resolved, true
}

func (h *Handler) databaseError(c *gin.Context, operation, profileID string, err error) {
	slog.Error("Database error", "operation", operation, "profile", profileID, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
}

func page(items []database.CatalogItem, limit, offset int) gin.H {
	return gin.H{
		"items":  items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	}
}
