package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/pacedmailer/docs"
	"github.com/Mutter0815/pacedmailer/internal/campaign"
	"github.com/Mutter0815/pacedmailer/internal/dispatch"
	"github.com/Mutter0815/pacedmailer/internal/store"
	"github.com/Mutter0815/pacedmailer/pkg/logx"
)

type storeAPI interface {
	QueueStats(ctx context.Context, campaignID int64) (campaign.QueueStats, error)
	NextPending(ctx context.Context, campaignID int64) (campaign.QueueItem, bool, error)
	CampaignStatus(ctx context.Context, id int64) (campaign.Status, error)
}

type initializerAPI interface {
	Initialize(ctx context.Context, campaignID int64, bufferSize int) (int, error)
}

type releaserAPI interface {
	ReleaseStuck(ctx context.Context, campaignID int64, olderThan time.Duration) (int64, error)
}

type Handlers struct {
	Store      storeAPI
	Init       initializerAPI
	Janitor    releaserAPI
	BufferSize int
}

func NewHandlers(s *store.Store, in *dispatch.Initializer, j *dispatch.Janitor, bufferSize int) *Handlers {
	return &Handlers{Store: s, Init: in, Janitor: j, BufferSize: bufferSize}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *Handlers) Docs(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", docs.CampaignSwaggerHTML)
}

func (h *Handlers) OpenAPI(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml", docs.CampaignOpenAPI)
}

func campaignID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func notFound(c *gin.Context, err error) bool {
	if errors.Is(err, campaign.ErrCampaignNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return true
	}
	return false
}

// InitQueue fills the campaign queue up to the buffer size.
func (h *Handlers) InitQueue(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	var req campaign.InitQueueReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.BufferSize < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "buffer_size must not be negative"})
		return
	}
	if req.BufferSize == 0 {
		req.BufferSize = h.BufferSize
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	added, err := h.Init.Initialize(ctx, id, req.BufferSize)
	if err != nil {
		if notFound(c, err) {
			return
		}
		logx.Campaign(id).Errorw("init_queue_error", "added", added, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "init error", "added": added})
		return
	}
	c.JSON(http.StatusOK, campaign.InitQueueResp{CampaignID: id, Added: added})
}

func (h *Handlers) QueueStats(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Store.CampaignStatus(ctx, id); err != nil {
		if notFound(c, err) {
			return
		}
		logx.Campaign(id).Errorw("campaign_status_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats error"})
		return
	}
	st, err := h.Store.QueueStats(ctx, id)
	if err != nil {
		logx.Campaign(id).Errorw("queue_stats_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats error"})
		return
	}
	c.JSON(http.StatusOK, campaign.QueueStatsResp{
		CampaignID: id,
		Pending:    st.Pending,
		Claimed:    st.Claimed,
		Sent:       st.Sent,
		Failed:     st.Failed,
	})
}

// NextSendTime reports the earliest pending item; scheduled_at is null when
// the queue holds nothing pending.
func (h *Handlers) NextSendTime(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Store.CampaignStatus(ctx, id); err != nil {
		if notFound(c, err) {
			return
		}
		logx.Campaign(id).Errorw("campaign_status_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup error"})
		return
	}
	it, found, err := h.Store.NextPending(ctx, id)
	if err != nil {
		logx.Campaign(id).Errorw("next_pending_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup error"})
		return
	}
	resp := campaign.NextSendTimeResp{CampaignID: id}
	if found {
		at := it.ScheduledAt
		resp.QueueItemID = it.ID
		resp.ScheduledAt = &at
	}
	c.JSON(http.StatusOK, resp)
}

// ReleaseStuck returns claims older than older_than_minutes (default 10) to
// pending.
func (h *Handlers) ReleaseStuck(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	var req campaign.ReleaseStuckReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.OlderThanMinutes < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than_minutes must not be negative"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	n, err := h.Janitor.ReleaseStuck(ctx, id, time.Duration(req.OlderThanMinutes)*time.Minute)
	if err != nil {
		logx.Campaign(id).Errorw("release_stuck_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "release error"})
		return
	}
	c.JSON(http.StatusOK, campaign.ReleaseStuckResp{CampaignID: id, Released: n})
}
