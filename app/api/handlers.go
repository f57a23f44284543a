package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/xtream-catalog/app/catalog"
	"github.com/lysyi3m/xtream-catalog/app/database"
	"github.com/lysyi3m/xtream-catalog/app/profile"
	"github.com/lysyi3m/xtream-catalog/app/tasks"
	"github.com/lysyi3m/xtream-catalog/app/xtream"
)

const (
	profileKey      = "profile"
	accountCacheTTL = 5 * time.Minute
)

func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		profiles:  deps.Profiles,
		catalog:   deps.Catalog,
		library:   deps.Library,
		cache:     deps.Cache,
		client:    deps.Client,
		syncer:    deps.Syncer,
		resolver:  deps.Resolver,
		scheduler: deps.Scheduler,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		db:        deps.DB,
		redis:     deps.Redis,
		version:   deps.Version,
	}
}

// loadProfile resolves the :id path parameter for every profile route.
func (h *Handler) loadProfile(c *gin.Context) {
	id := c.Param("id")
	p, err := h.profiles.GetProfile(id)
	if errors.Is(err, profile.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}
	if err != nil {
		slog.Error("Failed to load profile", "profile", id, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile"})
		return
	}

	c.Set(profileKey, p)
	c.Next()
}

func profileFrom(c *gin.Context) *profile.Profile {
	return c.MustGet(profileKey).(*profile.Profile)
}

// readLock holds the profile's read lock until the returned func is called.
func (h *Handler) readLock(profileID string) func() {
	return h.syncer.Locks().RLock(profileID)
}

func (h *Handler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	health := map[string]any{
		"status":    "healthy",
		"version":   h.version,
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"profiles":  h.profiles.Count(),
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			health["status"] = "unhealthy"
			health["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			health["database"] = "ok"
		}
	}

	if h.redis != nil {
		health["redis"] = h.redis.Health(ctx)
	}

	c.JSON(status, health)
}

func (h *Handler) ListProfiles(c *gin.Context) {
	ctx := c.Request.Context()
	profiles := h.profiles.GetProfiles()

	result := make([]gin.H, 0, len(profiles))
	for _, p := range profiles {
		info := gin.H{
			"id":       p.ID,
			"name":     p.Name,
			"host":     xtream.NormalizeHost(p.Host),
			"username": p.Username,
			"settings": p.Settings,
			"syncing":  h.syncer.IsSyncing(p.ID),
		}
		for _, key := range []string{database.MetaCatalogUpdatedAt, database.MetaEpgUpdatedAt} {
			meta, err := h.catalog.GetCatalogMeta(ctx, p.ID, key)
			if err != nil {
				slog.Warn("Failed to read catalog meta", "profile", p.ID, "key", key, "error", err)
				continue
			}
			if meta != nil {
				info[key] = meta.UpdatedAt
			}
		}
		result = append(result, info)
	}

	c.JSON(http.StatusOK, gin.H{
		"profiles": result,
		"total":    len(result),
	})
}

func (h *Handler) VerifyProfile(c *gin.Context) {
	p := profileFrom(c)

	ok, err := h.client.VerifyCredentials(c.Request.Context(), p.Credentials())
	if err != nil {
		slog.Error("Credential check failed", "profile", p.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Portal request failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": p.ID, "authenticated": ok})
}

func (h *Handler) GetAccount(c *gin.Context) {
	ctx := c.Request.Context()
	p := profileFrom(c)
	key := "account:" + p.ID

	var account xtream.AuthResponse
	found, err := h.cache.Get(ctx, key, accountCacheTTL, &account)
	if err != nil {
		slog.Warn("Failed to read cached account info", "profile", p.ID, "error", err)
	}
	if found {
		c.JSON(http.StatusOK, account)
		return
	}

	info, err := h.client.FetchAccountInfo(ctx, p.Credentials())
	if err != nil {
		slog.Error("Failed to fetch account info", "profile", p.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Portal request failed", "details": err.Error()})
		return
	}

	if err := h.cache.Set(ctx, key, info); err != nil {
		slog.Warn("Failed to cache account info", "profile", p.ID, "error", err)
	}

	c.JSON(http.StatusOK, info)
}

func (h *Handler) SyncProfile(c *gin.Context) {
	p := profileFrom(c)

	if c.Query("wait") == "true" {
		h.syncInline(c, p)
		return
	}

	taskID, err := h.scheduler.EnqueueSync(p)
	switch {
	case errors.Is(err, tasks.ErrAlreadyQueued):
		c.JSON(http.StatusConflict, gin.H{"error": "Sync already queued"})
		return
	case errors.Is(err, tasks.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Task queue is full"})
		return
	case err != nil:
		slog.Error("Error enqueueing sync task", "profile", p.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue sync task", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"profile": p.ID,
		"task": gin.H{
			"id":   taskID,
			"type": tasks.TaskTypeSyncProfile,
		},
	})
}

func (h *Handler) syncInline(c *gin.Context, p *profile.Profile) {
	publish := func(event catalog.Event) {
		if h.hub != nil {
			event.ProfileID = p.ID
			h.hub.Publish(event)
		}
	}

	result, err := h.syncer.SyncProfile(c.Request.Context(), p, func(progress catalog.Progress) {
		publish(catalog.Event{State: catalog.EventRunning, Progress: &progress})
	})
	if errors.Is(err, catalog.ErrSyncInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "Sync already in progress"})
		return
	}
	if err != nil {
		publish(catalog.Event{State: catalog.EventFailed, Error: err.Error()})
		c.JSON(http.StatusBadGateway, gin.H{"error": "Sync failed", "details": err.Error()})
		return
	}

	publish(catalog.Event{State: catalog.EventCompleted})
	c.JSON(http.StatusOK, result)
}

func (h *Handler) RefreshEpg(c *gin.Context) {
	ctx := c.Request.Context()
	p := profileFrom(c)

	var (
		refreshed bool
		err       error
	)
	if c.Query("force") == "true" {
		err = h.syncer.RefreshEpg(ctx, p)
		refreshed = err == nil
	} else {
		refreshed, err = h.syncer.RefreshEpgIfNeeded(ctx, p)
	}
	if err != nil {
		slog.Error("EPG refresh failed", "profile", p.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "EPG refresh failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": p.ID, "refreshed": refreshed})
}

func (h *Handler) DeleteProfileData(c *gin.Context) {
	ctx := c.Request.Context()
	p := profileFrom(c)

	err := h.syncer.WithExclusive(ctx, p.ID, func() error {
		if err := h.catalog.ClearCatalogForProfile(ctx, p.ID); err != nil {
			return err
		}
		if err := h.library.ClearLibraryForProfile(ctx, p.ID); err != nil {
			return err
		}
		return h.cache.Remove(ctx, "account:"+p.ID)
	})
	if errors.Is(err, catalog.ErrSyncInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "Sync in progress"})
		return
	}
	if err != nil {
		slog.Error("Failed to delete profile data", "profile", p.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	slog.Info("Profile data deleted", "profile", p.ID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	p := profileFrom(c)
	defer h.readLock(p.ID)()

	counts, err := h.catalog.CountProfileRows(ctx, p.ID)
	if err != nil {
		slog.Error("Database error", "operation", "count_rows", "profile", p.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	meta := gin.H{}
	for _, key := range []string{database.MetaCatalogUpdatedAt, database.MetaEpgUpdatedAt, database.MetaLastSyncID} {
		m, err := h.catalog.GetCatalogMeta(ctx, p.ID, key)
		if err != nil {
			slog.Error("Database error", "operation", "get_meta", "profile", p.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
		if m != nil {
			meta[key] = m
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"profile": p.ID,
		"counts":  counts,
		"meta":    meta,
		"syncing": h.syncer.IsSyncing(p.ID),
	})
}

// queryInt reads a non-negative integer query parameter capped at max.
func queryInt(c *gin.Context, name string, def, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
