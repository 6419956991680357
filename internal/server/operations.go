package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	assistantdomain "github.com/smallbiznis/railmeter/internal/assistant/domain"
	"github.com/smallbiznis/railmeter/internal/authorization"
	briefsdomain "github.com/smallbiznis/railmeter/internal/briefs/domain"
	"github.com/smallbiznis/railmeter/internal/metering"
	toolsdomain "github.com/smallbiznis/railmeter/internal/tools/domain"
	"github.com/smallbiznis/railmeter/pkg/tenantctx"
)

func (s *Server) ListTools(c *gin.Context) {
	c.JSON(http.StatusOK, listResponse[toolsdomain.Descriptor]{Data: s.toolsSvc.List()})
}

func (s *Server) InvokeTool(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req toolsdomain.InvokeRequest
	if err := bindOperationJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("event_key", "tool_invocation")

	result, err := s.toolsSvc.Invoke(c.Request.Context(), toolsdomain.Command{
		TenantID:       principal.TenantID,
		UserID:         principal.UserID,
		IdempotencyKey: idempotencyKey(c),
		Permitted:      s.permitted(c, principal, authorization.ObjectTools, authorization.ActionInvokeTools),
		Request:        req,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	writeResult(c, result)
}

func (s *Server) Chat(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req assistantdomain.ChatRequest
	if err := bindOperationJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("event_key", "assistant_query")

	result, err := s.assistantSvc.Chat(c.Request.Context(), assistantdomain.ChatCommand{
		TenantID:       principal.TenantID,
		UserID:         principal.UserID,
		IdempotencyKey: idempotencyKey(c),
		Permitted:      s.permitted(c, principal, authorization.ObjectAssistant, authorization.ActionAssistantChat),
		Request:        req,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	writeResult(c, result)
}

func (s *Server) RunBrief(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req briefsdomain.RunRequest
	if err := bindOperationJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("event_key", "daily_brief_generated")

	result, err := s.briefsSvc.Run(c.Request.Context(), briefsdomain.Command{
		TenantID:       principal.TenantID,
		UserID:         principal.UserID,
		IdempotencyKey: idempotencyKey(c),
		Permitted:      s.permitted(c, principal, authorization.ObjectBriefs, authorization.ActionBriefsRun),
		Request:        req,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	writeResult(c, result)
}

func (s *Server) permitted(c *gin.Context, principal tenantctx.Principal, object, action string) bool {
	return s.authzSvc.Permitted(c.Request.Context(), principal, object, action)
}

func idempotencyKey(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
}

// bindOperationJSON decodes the body strictly. An empty body decodes as {}.
func bindOperationJSON(c *gin.Context, out any) error {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// writeResult sends the stored response verbatim so replays are
// byte-identical to the original.
func writeResult(c *gin.Context, result metering.Result) {
	c.Header(HeaderReplayed, strconv.FormatBool(result.Replayed))
	status := result.Status
	if status == 0 {
		status = http.StatusOK
	}
	c.Data(status, "application/json", result.Body)
}
