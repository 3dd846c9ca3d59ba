package main

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/alexandrut83/sentinel/hotlist"
	"github.com/alexandrut83/sentinel/sentinel"
)

// maxHotListBody bounds the size of a hot list upload
const maxHotListBody = 8 << 20

func (d *daemon) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(d.logger))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		api.GET("/status", d.handleStatus)
		api.GET("/earnings", func(c *gin.Context) {
			c.JSON(http.StatusOK, d.ledger.Read())
		})
		api.GET("/ledger", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"earnings": d.ledger.Read(),
				"journal":  d.ledger.Journal(),
			})
		})
		api.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, d.stats.GetStats())
		})
		api.GET("/alerts", d.handleAlerts)
		api.GET("/hotlist", func(c *gin.Context) {
			c.JSON(http.StatusOK, d.hotListInfo())
		})
		api.GET("/events", gin.WrapH(d.hub))

		protected := api.Group("", authMiddleware(d.cfg.HTTP.Token))
		protected.POST("/guard/start", d.handleGuardStart)
		protected.POST("/guard/stop", d.handleGuardStop)
		protected.PUT("/hotlist", d.handleHotListUpdate)
		protected.POST("/observations", d.handleObservations)
		protected.PUT("/location", d.handleLocation)
	}

	return router
}

// requestLogger logs each request at debug level, and server errors at warn
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}

// authMiddleware requires the configured token on mutating routes. An empty
// token leaves the routes open.
func authMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		provided := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No authorization token provided"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization token"})
			return
		}
		c.Next()
	}
}

func (d *daemon) hotListInfo() HotListInfo {
	info := HotListInfo{
		BitCount:          d.index.BitCount(),
		HashRounds:        d.index.HashRounds(),
		FalsePositiveRate: d.index.EstimatedFalsePositiveRate(),
	}
	if list := d.currentHotList(); list != nil {
		info.Version = list.Version
		info.UpdatedAt = list.UpdatedAt
		info.Entries = len(list.IDs)
	}
	return info
}

func (d *daemon) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Network:        sentinel.NetworkName,
		Version:        sentinel.Version,
		State:          d.orchestrator.State(),
		PassiveHits:    d.orchestrator.PassiveHits(),
		Earnings:       d.ledger.Read(),
		HotList:        d.hotListInfo(),
		Pending:        d.coordinator.Pending(),
		StreamClients:  d.hub.Len(),
		Uptime:         time.Since(d.startedAt).Round(time.Second).String(),
		ScanSource:     d.cfg.Scan.Source,
		CurrencySymbol: sentinel.CurrencySymbol,
	})
}

func (d *daemon) handleAlerts(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, d.stats.RecentAlerts(limit))
}

func (d *daemon) handleGuardStart(c *gin.Context) {
	if err := d.orchestrator.StartGuarding(); err != nil {
		status := http.StatusInternalServerError
		if sentinel.CodeOf(err) == sentinel.CodeScanSource {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, GuardResponse{
			State:    d.orchestrator.State(),
			Earnings: d.ledger.Read(),
			Error:    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, GuardResponse{
		State:    d.orchestrator.State(),
		Earnings: d.ledger.Read(),
	})
}

func (d *daemon) handleGuardStop(c *gin.Context) {
	resp := GuardResponse{}
	if err := d.orchestrator.StopGuarding(); err != nil {
		// The session has ended either way; the source error is informational.
		resp.Error = err.Error()
	}
	resp.State = d.orchestrator.State()
	resp.Earnings = d.ledger.Read()
	c.JSON(http.StatusOK, resp)
}

// handleHotListUpdate replaces the index contents. text/plain bodies hold one
// id per line; anything else is decoded as YAML, which includes JSON.
func (d *daemon) handleHotListUpdate(c *gin.Context) {
	format := hotlist.FormatYAML
	if strings.HasPrefix(c.ContentType(), "text/plain") {
		format = hotlist.FormatText
	}

	list, err := hotlist.Parse(http.MaxBytesReader(c.Writer, c.Request.Body, maxHotListBody), format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if list.UpdatedAt.IsZero() {
		list.UpdatedAt = time.Now().UTC()
	}

	d.applyHotList(list)

	if c.Query("persist") == "true" && d.cfg.HotList.Path != "" {
		if err := list.Save(d.cfg.HotList.Path); err != nil {
			d.logger.Error("failed to persist hot list", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, d.hotListInfo())
}

func (d *daemon) handleObservations(c *gin.Context) {
	var req ObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if d.orchestrator.State() != sentinel.StateActive {
		c.JSON(http.StatusConflict, gin.H{"error": "not guarding"})
		return
	}

	for _, e := range req.Events {
		d.orchestrator.Observe(e)
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(req.Events)})
}

func (d *daemon) handleLocation(c *gin.Context) {
	var req LocationUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}

	loc := &sentinel.Location{Latitude: *req.Latitude, Longitude: *req.Longitude, Label: req.Label}
	d.locator.Set(loc)
	c.JSON(http.StatusOK, loc)
}
