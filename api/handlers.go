package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/engine"
)

// Result values of delete operations.
const (
	ResultDeleted  = "deleted"
	ResultNotFound = "not_found"
)

type registerResponse struct {
	AgentID string `json:"agent_id"`
}

type deleteResponse struct {
	ID     string `json:"_id"`
	Result string `json:"result"`
}

func deleteResult(id string, existed bool) deleteResponse {
	if existed {
		return deleteResponse{ID: id, Result: ResultDeleted}
	}
	return deleteResponse{ID: id, Result: ResultNotFound}
}

func (s *Server) registerAgent(c *gin.Context) {
	var def core.AgentDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		s.badRequest(c, err)
		return
	}
	def.ID = ""
	def.TenantID = tenant(c)
	id, err := s.registry.RegisterAgent(c.Request.Context(), &def)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, registerResponse{AgentID: id})
}

func (s *Server) getAgent(c *gin.Context) {
	def, err := s.registry.GetAgent(c.Request.Context(), c.Param("agent_id"), tenant(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if def.LLM != nil {
		def.LLM.Credential = nil
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) updateAgent(c *gin.Context) {
	var def core.AgentDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		s.badRequest(c, err)
		return
	}
	def.ID = c.Param("agent_id")
	if err := s.registry.UpdateAgent(c.Request.Context(), &def, tenant(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, registerResponse{AgentID: def.ID})
}

func (s *Server) deleteAgent(c *gin.Context) {
	id := c.Param("agent_id")
	ok, err := s.registry.DeleteAgent(c.Request.Context(), id, tenant(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, deleteResult(id, ok))
}

// executeRequest is the body of both execute routes. Parameter values may be
// any JSON scalar; they are passed on as strings.
type executeRequest struct {
	Input      string                `json:"input,omitempty"`
	Parameters map[string]any        `json:"parameters,omitempty"`
	Agent      *core.AgentDefinition `json:"agent,omitempty"`
}

type modelTensor struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

type inferenceResult struct {
	Output []modelTensor `json:"output"`
}

type executeResponse struct {
	InferenceResults []inferenceResult `json:"inference_results"`
	RunID            string            `json:"run_id"`
	Termination      string            `json:"termination"`
	Iterations       int               `json:"iterations"`
	Transcript       []core.Message    `json:"transcript,omitempty"`
}

func (s *Server) executeAgent(c *gin.Context) {
	s.execute(c, c.Param("agent_id"), false)
}

func (s *Server) executeInline(c *gin.Context) {
	s.execute(c, "", true)
}

func (s *Server) execute(c *gin.Context, agentID string, inline bool) {
	var body executeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, err)
		return
	}
	if inline && body.Agent == nil {
		s.fail(c, core.Validationf("agent body is required"))
		return
	}
	if !inline {
		body.Agent = nil
	}
	if body.Agent != nil {
		body.Agent.TenantID = tenant(c)
	}

	params, err := stringParams(body.Parameters)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	input := body.Input
	if input == "" {
		input = params[core.ParamQuestion]
	}
	if input == "" {
		input = params["input"]
	}

	res, err := s.engine.Execute(c.Request.Context(), &engine.Request{
		AgentID:    agentID,
		Agent:      body.Agent,
		Input:      input,
		Parameters: params,
		TenantID:   tenant(c),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toExecuteResponse(res))
}

func toExecuteResponse(res *engine.Result) executeResponse {
	out := make([]modelTensor, 0, len(res.Outputs)+3)
	if res.SessionID != "" {
		out = append(out, modelTensor{Name: core.ParamMemoryID, Result: res.SessionID})
	}
	if res.InteractionID != "" {
		out = append(out, modelTensor{Name: "parent_interaction_id", Result: res.InteractionID})
	}
	for _, o := range res.Outputs {
		out = append(out, modelTensor{Name: o.Name, Result: o.Result})
	}
	out = append(out, modelTensor{Name: "response", Result: res.Answer})
	return executeResponse{
		InferenceResults: []inferenceResult{{Output: out}},
		RunID:            res.RunID,
		Termination:      string(res.Termination),
		Iterations:       res.Iterations,
		Transcript:       res.Transcript,
	}
}

func stringParams(in map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
			out[k] = ""
		case bool, float64:
			out[k] = fmt.Sprint(t)
		default:
			b, err := json.Marshal(t)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", k, err)
			}
			out[k] = string(b)
		}
	}
	return out, nil
}

type templateResponse struct {
	TemplateName string `json:"template_name"`
	Status       string `json:"status"`
}

func (s *Server) bindTemplate(c *gin.Context) (*core.ContextManagementTemplate, bool) {
	var t core.ContextManagementTemplate
	if err := c.ShouldBindJSON(&t); err != nil {
		s.badRequest(c, err)
		return nil, false
	}
	name := c.Param("name")
	if t.Name != "" && t.Name != name {
		s.fail(c, core.Validationf("template name %q does not match path %q", t.Name, name))
		return nil, false
	}
	t.Name = name
	t.CreatedBy = tenant(c)
	return &t, true
}

func (s *Server) createTemplate(c *gin.Context) {
	t, ok := s.bindTemplate(c)
	if !ok {
		return
	}
	if err := s.registry.CreateTemplate(c.Request.Context(), t); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, templateResponse{TemplateName: t.Name, Status: "created"})
}

func (s *Server) updateTemplate(c *gin.Context) {
	t, ok := s.bindTemplate(c)
	if !ok {
		return
	}
	if err := s.registry.UpdateTemplate(c.Request.Context(), t); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, templateResponse{TemplateName: t.Name, Status: "updated"})
}

func (s *Server) getTemplate(c *gin.Context) {
	t, err := s.registry.GetTemplate(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type listTemplatesResponse struct {
	Templates []*core.ContextManagementTemplate `json:"templates"`
	From      int                               `json:"from"`
	Size      int                               `json:"size"`
}

func (s *Server) listTemplates(c *gin.Context) {
	from, size, ok := s.pagination(c)
	if !ok {
		return
	}
	list, err := s.registry.ListTemplates(c.Request.Context(), from, size)
	if err != nil {
		s.fail(c, err)
		return
	}
	if list == nil {
		list = []*core.ContextManagementTemplate{}
	}
	c.JSON(http.StatusOK, listTemplatesResponse{Templates: list, From: from, Size: len(list)})
}

func (s *Server) deleteTemplate(c *gin.Context) {
	name := c.Param("name")
	ok, err := s.registry.DeleteTemplate(c.Request.Context(), name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, deleteResult(name, ok))
}

type searchHits struct {
	Total int                `json:"total"`
	Hits  []core.Interaction `json:"hits"`
}

type searchResponse struct {
	Hits searchHits `json:"hits"`
}

// ownedSession loads the session of the route for the calling tenant.
// Sessions of another tenant read as missing.
func (s *Server) ownedSession(c *gin.Context) (*core.Session, error) {
	ctx := c.Request.Context()
	if err := core.CheckAgentFramework(ctx, s.gate); err != nil {
		return nil, err
	}
	id := c.Param("session_id")
	sess, err := s.memory.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.TenantID != "" && sess.TenantID != tenant(c) {
		return nil, core.NotFoundf("session", "session %s not found", id)
	}
	return sess, nil
}

func (s *Server) searchMemory(c *gin.Context) {
	from, size, ok := s.pagination(c)
	if !ok {
		return
	}
	sess, err := s.ownedSession(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	hits, err := s.memory.SearchInteractions(c.Request.Context(), core.InteractionQuery{
		SessionID: sess.ID,
		Text:      c.Query("query"),
		From:      from,
		Size:      size,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if hits == nil {
		hits = []core.Interaction{}
	}
	c.JSON(http.StatusOK, searchResponse{Hits: searchHits{Total: len(hits), Hits: hits}})
}

func (s *Server) deleteMemory(c *gin.Context) {
	id := c.Param("session_id")
	_, err := s.ownedSession(c)
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusOK, deleteResult(id, false))
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	ok, err := s.memory.DeleteSession(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, deleteResult(id, ok))
}

// pagination reads from and size. A missing size is zero, which the
// callee replaces with its default.
func (s *Server) pagination(c *gin.Context) (int, int, bool) {
	from, err := queryInt(c, "from")
	if err != nil {
		s.fail(c, err)
		return 0, 0, false
	}
	size, err := queryInt(c, "size")
	if err != nil {
		s.fail(c, err)
		return 0, 0, false
	}
	return from, size, true
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.Validationf("%s must be an integer, got %q", key, raw)
	}
	return n, nil
}
