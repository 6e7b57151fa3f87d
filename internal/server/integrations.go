package server

import (
	"net/http"

	integrationdomain "github.com/forgeapps/metering/internal/integration/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateIntegration(c *gin.Context) {
	var req integrationdomain.CreateIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	integ, err := s.integrationSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, integ)
}

func (s *Server) ListIntegrations(c *gin.Context) {
	memberID, err := parseIDQuery(c, "member_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	integrations, err := s.integrationSvc.List(c.Request.Context(), memberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"integrations": integrations})
}

func (s *Server) GetIntegration(c *gin.Context) {
	memberID, err := parseIDQuery(c, "member_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	integ, err := s.integrationSvc.Get(c.Request.Context(), memberID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, integ)
}

func (s *Server) UpdateIntegration(c *gin.Context) {
	memberID, err := parseIDQuery(c, "member_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req integrationdomain.UpdateIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	integ, err := s.integrationSvc.Update(c.Request.Context(), memberID, id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, integ)
}

func (s *Server) DeleteIntegration(c *gin.Context) {
	memberID, err := parseIDQuery(c, "member_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.integrationSvc.Delete(c.Request.Context(), memberID, id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) TestIntegration(c *gin.Context) {
	memberID, err := parseIDQuery(c, "member_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.integrationSvc.TestConnection(c.Request.Context(), memberID, id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type queryIntegrationRequest struct {
	MemberID  string         `json:"member_id"`
	Query     string         `json:"query,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Path      string         `json:"path,omitempty"`
	Method    string         `json:"method,omitempty"`
}

func (s *Server) QueryIntegration(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req queryIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	memberID, err := parseID(req.MemberID, "member_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.integrationSvc.Execute(c.Request.Context(), memberID, id, integrationdomain.QueryRequest{
		Query:     req.Query,
		Variables: req.Variables,
		Path:      req.Path,
		Method:    req.Method,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
