package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sketchsync/sketchsync/internal/eventbus"
	"github.com/sketchsync/sketchsync/internal/observer"
	"github.com/sketchsync/sketchsync/internal/realtime"
	"github.com/sketchsync/sketchsync/internal/resilience"
)

// OpsController exposes the introspection surface: breaker states,
// event history, audit trail, analytics counters and connection stats.
type OpsController struct {
	executors []*resilience.Executor
	bus       *eventbus.Bus
	audit     *observer.Audit
	analytics *observer.Analytics
	perf      *observer.Performance
	registry  *realtime.Registry
	rooms     *realtime.RoomManager
}

func NewOpsController(
	executors []*resilience.Executor,
	bus *eventbus.Bus,
	audit *observer.Audit,
	analytics *observer.Analytics,
	perf *observer.Performance,
	registry *realtime.Registry,
	rooms *realtime.RoomManager,
) *OpsController {
	return &OpsController{
		executors: executors,
		bus:       bus,
		audit:     audit,
		analytics: analytics,
		perf:      perf,
		registry:  registry,
		rooms:     rooms,
	}
}

func (c *OpsController) Resilience(ctx *gin.Context) {
	snapshots := make([]resilience.Snapshot, 0, len(c.executors))
	for _, exec := range c.executors {
		snapshots = append(snapshots, exec.Snapshot())
	}
	ctx.JSON(http.StatusOK, gin.H{"dependencies": snapshots})
}

func (c *OpsController) Events(ctx *gin.Context) {
	eventType := ctx.Query("type")
	limit := queryInt(ctx, "limit", 100)
	ctx.JSON(http.StatusOK, gin.H{"events": c.bus.History(eventType, limit)})
}

func (c *OpsController) Subscribers(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"subscribers": c.bus.SubscriberCounts()})
}

func (c *OpsController) Audit(ctx *gin.Context) {
	limit := queryInt(ctx, "limit", 100)
	if actor := ctx.Query("actor"); actor != "" {
		ctx.JSON(http.StatusOK, gin.H{"entries": c.audit.ByActor(actor, limit)})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": c.audit.Recent(limit)})
}

func (c *OpsController) Analytics(ctx *gin.Context) {
	if userID := ctx.Query("user_id"); userID != "" {
		stats, ok := c.analytics.UserStats(userID)
		if !ok {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "no activity recorded for user"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"user": stats})
		return
	}
	if roomID := ctx.Query("room_id"); roomID != "" {
		stats, ok := c.analytics.RoomStats(roomID)
		if !ok {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "no activity recorded for room"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"room": stats})
		return
	}
	ctx.JSON(http.StatusOK, c.analytics.Summary())
}

func (c *OpsController) Performance(ctx *gin.Context) {
	limit := queryInt(ctx, "limit", 50)
	ctx.JSON(http.StatusOK, gin.H{
		"breaches": c.perf.Breaches(),
		"recent":   c.perf.Recent(limit),
	})
}

func (c *OpsController) Connections(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"registry": c.registry.Stats(),
		"rooms":    c.rooms.Stats(),
	})
}

func queryInt(ctx *gin.Context, name string, def int) int {
	raw := ctx.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
