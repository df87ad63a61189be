// Package httpapi implements the inbound HTTP endpoints named in spec.md
// §6: the two synchronous-reply entry points and the test-run entry
// point. Grounded on the teacher's HTTP-surface conventions (gin-gonic/gin
// plus gin-contrib/cors, as used across the retrieval pack's service
// layers) rather than the teacher's own Goa-generated transport, since
// this module has no Goa design to generate from.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"flowengine/internal/actor"
	"flowengine/internal/flow"
	"flowengine/internal/reply"
	"flowengine/internal/statusupdater"
	"flowengine/internal/store"
	"flowengine/internal/telemetry"
)

// Server wires the Synchronous Reply Registry, the durable store, and the
// Dispatcher & Actor Pool behind gin's HTTP surface (spec.md §6).
type Server struct {
	Store   store.Store
	Pool    actor.Dispatcher
	Reply   *reply.Registry
	Updater *statusupdater.Updater
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer

	engine *gin.Engine
}

// NewServer builds the gin engine with CORS enabled for browser-originated
// triggers (spec.md §6 describes the inbound surface without constraining
// its callers, matching the teacher's permissive default CORS setup for
// internal services). updater carries webhook/tool-call-triggered workflow
// runs' status updates into the same Status Updater the trigger engine's
// cron-triggered runs use, so both trigger paths persist task/workflow
// progress identically (spec.md §4.2).
func NewServer(st store.Store, pool actor.Dispatcher, rep *reply.Registry, updater *statusupdater.Updater, logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *Server {
	s := &Server{Store: st, Pool: pool, Reply: rep, Updater: updater, Logger: logger, Metrics: metrics, Tracer: tracer}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))

	limiter := newPerIPRateLimiter(50, 100)
	triggers := r.Group("/", limiter.middleware())
	triggers.POST("/workflow/:id/start/respond", s.handleWebhookStartRespond)
	triggers.POST("/agent/:agent_id/tool_call/:workflow_id/respond", s.handleAgentToolCallRespond)
	triggers.POST("/workflow/:id/version/:version_id/test", s.handleTestRun)

	s.engine = r
	return s
}

// Handler returns the underlying http.Handler for use with an http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleWebhookStartRespond(c *gin.Context) {
	flowVersionID := c.Param("id")
	body, _ := io.ReadAll(c.Request.Body)

	version, err := s.Store.FlowVersion(c.Request.Context(), flowVersionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}

	sessionID := uuid.NewString()
	triggerResult := map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"headers": headerMap(c.Request.Header),
		"query":   queryMap(c.Request.URL.Query()),
		"body":    parseBodyOrString(body),
	}

	s.startAndAwaitReply(c, sessionID, version, flow.StageProduction, triggerResult)
}

func (s *Server) handleAgentToolCallRespond(c *gin.Context) {
	agentID := c.Param("agent_id")
	workflowID := c.Param("workflow_id")
	body, _ := io.ReadAll(c.Request.Body)

	var parsed struct {
		ToolCallID string          `json:"tool_call_id"`
		ToolName   string          `json:"tool_name"`
		Arguments  json.RawMessage `json:"arguments"`
	}
	_ = json.Unmarshal(body, &parsed)

	version, err := s.Store.FlowVersion(c.Request.Context(), workflowID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}

	sessionID := uuid.NewString()
	triggerResult := map[string]any{
		"agent_id":     agentID,
		"tool_call_id": parsed.ToolCallID,
		"tool_name":    parsed.ToolName,
		"arguments":    parseBodyOrString(parsed.Arguments),
	}

	s.startAndAwaitReply(c, sessionID, version, flow.StageProduction, triggerResult)
}

func (s *Server) handleTestRun(c *gin.Context) {
	versionID := c.Param("version_id")
	body, _ := io.ReadAll(c.Request.Body)

	version, err := s.Store.FlowVersion(c.Request.Context(), versionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow version not found"})
		return
	}

	sessionID := uuid.NewString()
	triggerResult := map[string]any{
		"method": c.Request.Method,
		"path":   c.Request.URL.Path,
		"body":   parseBodyOrString(body),
	}

	msg := flow.ProcessorMessage{
		FlowID:           version.FlowID,
		FlowVersion:      version,
		SessionID:        sessionID,
		TriggerSessionID: sessionID,
		Stage:            flow.StageTesting,
	}
	s.runAsync(msg, triggerResult)

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

// startAndAwaitReply registers a reply-registry entry before dispatching
// the workflow so there is no race between the workflow completing and the
// caller beginning to wait (spec.md §4.9), runs the workflow in the
// background, and blocks for up to reply.Timeout.
func (s *Server) startAndAwaitReply(c *gin.Context, sessionID string, version flow.Version, stage flow.Stage, triggerResult any) {
	s.Reply.Register(sessionID)

	msg := flow.ProcessorMessage{
		FlowID:           version.FlowID,
		FlowVersion:      version,
		SessionID:        sessionID,
		TriggerSessionID: sessionID,
		Stage:            stage,
	}
	s.runAsync(msg, triggerResult)

	ctx, cancel := context.WithTimeout(c.Request.Context(), reply.Timeout)
	defer cancel()

	value, ok := s.Reply.Await(ctx, sessionID)
	if !ok {
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "timed out waiting for workflow response"})
		return
	}
	writeReplyValue(c, value)
}

func (s *Server) runAsync(msg flow.ProcessorMessage, triggerResult any) {
	go func() {
		deps := actor.WorkflowDeps{Pool: s.Pool, Updater: s.Updater, Logger: s.Logger, Metrics: s.Metrics, Tracer: s.Tracer}
		if _, err := actor.RunWithLimiter(context.Background(), deps, msg, triggerResult); err != nil && s.Logger != nil {
			s.Logger.Error(context.Background(), "workflow run failed", "session_id", msg.SessionID, "error", err.Error())
		}
		if s.Reply != nil {
			s.Reply.Drop(msg.SessionID)
		}
	}()
}

func writeReplyValue(c *gin.Context, value any) {
	m, ok := value.(map[string]any)
	if !ok {
		c.JSON(http.StatusOK, value)
		return
	}
	if _, isResponse := m["status_code"]; !isResponse {
		c.JSON(http.StatusOK, m)
		return
	}
	statusCode := http.StatusOK
	if sc, ok := m["status_code"]; ok {
		switch v := sc.(type) {
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				statusCode = n
			}
		case float64:
			statusCode = int(v)
		case int:
			statusCode = v
		}
	}
	if headers, ok := m["headers"].(map[string]string); ok {
		for k, v := range headers {
			c.Header(k, v)
		}
	}
	c.JSON(statusCode, m["body"])
}

func headerMap(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func queryMap(q map[string][]string) map[string]any {
	out := make(map[string]any, len(q))
	for k, v := range q {
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = v
		}
	}
	return out
}

func parseBodyOrString(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err == nil {
		return parsed
	}
	return string(body)
}
