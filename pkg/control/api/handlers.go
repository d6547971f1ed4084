package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/pid"
	sqlrepo "github.com/anoop6543/PharmaVax-sub001/pkg/control/infrastructure/repository/sql"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
)

const defaultHistorianWindow = time.Hour

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type valueRequest struct {
	Value *float64 `json:"value" binding:"required"`
}

type startBatchRequest struct {
	Recipe  string `json:"recipe" binding:"required"`
	BatchID string `json:"batch_id"`
}

type abortRequest struct {
	Reason string `json:"reason"`
}

type forceRequest struct {
	Channel *int  `json:"channel" binding:"required"`
	Value   *bool `json:"value" binding:"required"`
}

type promoteRequest struct {
	Force bool `json:"force"`
}

type exportRequest struct {
	Tags  []string  `json:"tags" binding:"required,min=1"`
	Start time.Time `json:"start" binding:"required"`
	End   time.Time `json:"end" binding:"required"`
}

func (s *Server) routes(limit gin.HandlerFunc) {
	r := s.engine
	r.GET("/health", s.health)
	r.GET("/status", s.status)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	r.GET("/tags", s.listTags)
	r.GET("/tags/:name", s.getTag)

	r.GET("/alarms", s.listAlarms)
	r.GET("/alarms/history", s.alarmHistory)
	r.POST("/alarms/:id/ack", limit, s.alarmCommand(s.ctrl.Alarms.Acknowledge))
	r.POST("/alarms/:id/clear", limit, s.alarmCommand(s.ctrl.Alarms.Clear))
	r.POST("/alarms/:id/suppress", limit, s.alarmCommand(s.ctrl.Alarms.Suppress))
	r.POST("/alarms/:id/unsuppress", limit, s.alarmCommand(s.ctrl.Alarms.Unsuppress))

	r.GET("/batch", s.batchStatus)
	r.GET("/batch/events", s.batchEvents)
	r.GET("/batch/recipes", s.listRecipes)
	r.POST("/batch/start", limit, s.startBatch)
	r.POST("/batch/pause", limit, s.batchCommand(s.ctrl.Batch.Pause))
	r.POST("/batch/resume", limit, s.batchCommand(s.ctrl.Batch.Resume))
	r.POST("/batch/abort", limit, s.abortBatch)

	r.GET("/loops", s.listLoops)
	r.POST("/loops/:name/mode", limit, s.setLoopMode)
	r.POST("/loops/:name/setpoint", limit, s.setLoopSetpoint)
	r.POST("/loops/:name/output", limit, s.setLoopOutput)

	r.POST("/units/:unit/interlocks/:name/enable", limit, s.setInterlock(true))
	r.POST("/units/:unit/interlocks/:name/bypass", limit, s.setInterlock(false))

	r.GET("/safety", s.listSafety)
	r.POST("/safety/:module/force", limit, s.forceChannel)
	r.DELETE("/safety/:module/force/:channel", limit, s.unforceChannel)
	r.POST("/safety/:module/reset", limit, s.resetSafety)
	r.POST("/safety/:module/clear-fault", limit, s.clearSafetyFault)

	r.GET("/audit", s.listAudit)
	r.GET("/audit/verify", s.verifyAudit)
	r.GET("/audit/export", s.exportAudit)

	r.GET("/historian/:tag", s.queryHistorian)
	r.GET("/historian/:tag/stats", s.historianStats)
	r.POST("/historian/export", limit, s.exportHistorian)

	r.GET("/redundancy", s.redundancyStatus)
	r.POST("/redundancy/promote", limit, s.promote)

	if s.repo != nil {
		records := r.Group("/records")
		records.GET("/audit", s.persistedAudit)
		records.GET("/alarms", s.persistedAlarmEvents)
		records.GET("/batches/:id", s.persistedBatchRecord)
	}
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return n, nil
}

func queryTime(c *gin.Context, key string, def time.Time) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return t, nil
}

func (s *Server) health(c *gin.Context) {
	role := s.ctrl.Redundancy.Status().Role
	if !s.ctrl.Running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped", "role": role})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "role": role})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) listTags(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Store.All())
}

func (s *Server) getTag(c *gin.Context) {
	name := c.Param("name")
	t, ok := s.ctrl.Store.Get(name)
	if !ok {
		abortWithError(c, exception.Rejected("api", exception.ErrUnknownTag, "tag %s", name))
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) listAlarms(c *gin.Context) {
	if c.Query("all") == "true" {
		c.JSON(http.StatusOK, s.ctrl.Alarms.All())
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Alarms.Active())
}

func (s *Server) alarmHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Alarms.History(limit))
}

func (s *Server) alarmCommand(fn func(id, user string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := fn(id, operator(c)); err != nil {
			abortWithError(c, err)
			return
		}
		a, _ := s.ctrl.Alarms.Get(id)
		c.JSON(http.StatusOK, a)
	}
}

func (s *Server) batchStatus(c *gin.Context) {
	inst, active := s.ctrl.Batch.Status()
	c.JSON(http.StatusOK, gin.H{
		"active":  active,
		"current": inst,
		"history": s.ctrl.Batch.History(),
	})
}

func (s *Server) batchEvents(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Batch.Events(limit))
}

func (s *Server) listRecipes(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Batch.Recipes())
}

func (s *Server) startBatch(c *gin.Context) {
	var req startBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	inst, err := s.ctrl.StartBatch(operator(c), req.Recipe, req.BatchID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

func (s *Server) batchCommand(fn func(user string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(operator(c)); err != nil {
			abortWithError(c, err)
			return
		}
		inst, _ := s.ctrl.Batch.Status()
		c.JSON(http.StatusOK, inst)
	}
}

func (s *Server) abortBatch(c *gin.Context) {
	var req abortRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := s.ctrl.Batch.Abort(operator(c), req.Reason); err != nil {
		abortWithError(c, err)
		return
	}
	inst, _ := s.ctrl.Batch.Status()
	c.JSON(http.StatusOK, inst)
}

func (s *Server) listLoops(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.LoopStatuses())
}

func (s *Server) loopStatus(c *gin.Context, name string) {
	l, err := s.ctrl.Loop(name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, l.Status())
}

func (s *Server) setLoopMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	mode, err := pid.ParseMode(req.Mode)
	if err != nil {
		badRequest(c, err)
		return
	}
	name := c.Param("name")
	if err := s.ctrl.SetLoopMode(operator(c), name, mode); err != nil {
		abortWithError(c, err)
		return
	}
	s.loopStatus(c, name)
}

func (s *Server) setLoopSetpoint(c *gin.Context) {
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	name := c.Param("name")
	if err := s.ctrl.SetLoopSetpoint(operator(c), name, *req.Value); err != nil {
		abortWithError(c, err)
		return
	}
	s.loopStatus(c, name)
}

func (s *Server) setLoopOutput(c *gin.Context) {
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	name := c.Param("name")
	if err := s.ctrl.SetLoopOutput(operator(c), name, *req.Value); err != nil {
		abortWithError(c, err)
		return
	}
	s.loopStatus(c, name)
}

func (s *Server) setInterlock(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		unitName, name := c.Param("unit"), c.Param("name")
		if err := s.ctrl.SetInterlockEnabled(operator(c), unitName, name, enabled); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"unit": unitName, "interlock": name, "enabled": enabled})
	}
}

func (s *Server) listSafety(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.SafetyStatuses())
}

func (s *Server) safetyStatus(c *gin.Context, module string) {
	m, err := s.ctrl.SafetyModule(module)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, m.Status())
}

func (s *Server) forceChannel(c *gin.Context) {
	var req forceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	module := c.Param("module")
	if err := s.ctrl.ForceSafetyInput(operator(c), module, *req.Channel, *req.Value); err != nil {
		abortWithError(c, err)
		return
	}
	s.safetyStatus(c, module)
}

func (s *Server) unforceChannel(c *gin.Context) {
	channel, err := strconv.Atoi(c.Param("channel"))
	if err != nil {
		badRequest(c, fmt.Errorf("invalid channel: %q", c.Param("channel")))
		return
	}
	module := c.Param("module")
	if err := s.ctrl.UnforceSafetyInput(operator(c), module, channel); err != nil {
		abortWithError(c, err)
		return
	}
	s.safetyStatus(c, module)
}

func (s *Server) resetSafety(c *gin.Context) {
	module := c.Param("module")
	if err := s.ctrl.ResetSafety(operator(c), module); err != nil {
		abortWithError(c, err)
		return
	}
	s.safetyStatus(c, module)
}

func (s *Server) clearSafetyFault(c *gin.Context) {
	module := c.Param("module")
	if err := s.ctrl.ClearSafetyFault(operator(c), module); err != nil {
		abortWithError(c, err)
		return
	}
	s.safetyStatus(c, module)
}

func (s *Server) listAudit(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Audit.Recent(limit))
}

func (s *Server) verifyAudit(c *gin.Context) {
	report := s.ctrl.Audit.VerifyAll()
	c.JSON(http.StatusOK, gin.H{"ok": report.OK(), "report": report})
}

func (s *Server) exportAudit(c *gin.Context) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	if err := s.ctrl.Audit.ExportJSONLines(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func (s *Server) queryHistorian(c *gin.Context) {
	now := s.now()
	end, err := queryTime(c, "end", now)
	if err != nil {
		badRequest(c, err)
		return
	}
	start, err := queryTime(c, "start", end.Add(-defaultHistorianWindow))
	if err != nil {
		badRequest(c, err)
		return
	}
	if end.Before(start) {
		badRequest(c, errors.New("end is before start"))
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Historian.Query(c.Param("tag"), start, end))
}

func (s *Server) historianStats(c *gin.Context) {
	name := c.Param("tag")
	stats, ok := s.ctrl.Historian.TagStats(name)
	if !ok {
		abortWithError(c, exception.Rejected("api", exception.ErrUnknownTag, "no history for tag %s", name))
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) exportHistorian(c *gin.Context) {
	if s.exporter == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, ErrorResponse{Error: "historian export is not configured"})
		return
	}
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.End.Before(req.Start) {
		badRequest(c, errors.New("end is before start"))
		return
	}
	objects, err := s.exporter.Export(c.Request.Context(), req.Tags, req.Start, req.End)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"objects": objects})
}

func (s *Server) redundancyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Redundancy.Status())
}

func (s *Server) promote(c *gin.Context) {
	var req promoteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := s.ctrl.Promote(operator(c), req.Force); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Redundancy.Status())
}

func (s *Server) persistedAudit(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		badRequest(c, err)
		return
	}
	since, err := queryTime(c, "since", time.Time{})
	if err != nil {
		badRequest(c, err)
		return
	}
	until, err := queryTime(c, "until", time.Time{})
	if err != nil {
		badRequest(c, err)
		return
	}
	entries, err := s.repo.AuditEntries(c.Request.Context(), sqlrepo.AuditQuery{
		User:   c.Query("user"),
		Action: c.Query("action"),
		Since:  since,
		Until:  until,
		Limit:  limit,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) persistedAlarmEvents(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		badRequest(c, err)
		return
	}
	events, err := s.repo.AlarmEvents(c.Request.Context(), c.Query("alarm_id"), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) persistedBatchRecord(c *gin.Context) {
	events, err := s.repo.BatchEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}
