package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/shared/common"
)

// DetectDriftRequest selects detection methods; empty means all
type DetectDriftRequest struct {
	Methods []string `json:"methods"`
}

// TransitionRequest carries the actor for acknowledge, resolve and re-baseline
type TransitionRequest struct {
	ActorID string `json:"actor_id"`
	Notes   string `json:"notes"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Code      common.ErrorCode       `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

func (s *Server) respondError(c *gin.Context, err error) {
	appErr := common.GetAppError(err)
	if appErr == nil {
		appErr = common.NewAppErrorWithCause(common.ErrCodeInternal, "internal error", err)
	}
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		s.logger.WithContext(c.Request.Context()).Error("Request failed",
			logging.String("path", c.FullPath()), logging.Error(err))
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		Retryable: appErr.Retryable,
		Context:   appErr.Context,
	})
}

// bindOptional binds a JSON body when one is present
func bindOptional(c *gin.Context, out interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		return common.ErrInvalidInput("body", err.Error())
	}
	return nil
}

func queryBool(c *gin.Context, name string, def bool) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, common.ErrInvalidInput(name, "must be a boolean")
	}
	return v, nil
}

func (s *Server) assessPosture(c *gin.Context) {
	refresh, err := queryBool(c, "refresh", false)
	if err != nil {
		s.respondError(c, err)
		return
	}
	recommendations, err := queryBool(c, "recommendations", true)
	if err != nil {
		s.respondError(c, err)
		return
	}

	result, err := s.posture.AssessPosture(c.Request.Context(), c.Param("id"), entity.AssessOptions{
		ForceRefresh:           refresh,
		IncludeRecommendations: recommendations,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"assessment": result.Assessment,
		"from_cache": result.FromCache,
	})
}

func (s *Server) detectDrift(c *gin.Context) {
	var req DetectDriftRequest
	if err := bindOptional(c, &req); err != nil {
		s.respondError(c, err)
		return
	}

	report, err := s.drift.DetectDrift(c.Request.Context(), c.Param("id"), req.Methods)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) listDrifts(c *gin.Context) {
	var filter entity.DriftFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		s.respondError(c, common.ErrInvalidInput("query", err.Error()))
		return
	}

	drifts, err := s.drift.ListDrifts(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drifts": drifts, "count": len(drifts)})
}

func (s *Server) getDrift(c *gin.Context) {
	drift, err := s.drift.GetDrift(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, drift)
}

// transitionRequest reads the actor from the body, falling back to X-Actor-ID
func transitionRequest(c *gin.Context) (TransitionRequest, error) {
	var req TransitionRequest
	if err := bindOptional(c, &req); err != nil {
		return req, err
	}
	if req.ActorID == "" {
		req.ActorID = c.GetHeader(headerActorID)
	}
	return req, nil
}

func (s *Server) acknowledgeDrift(c *gin.Context) {
	req, err := transitionRequest(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	drift, err := s.drift.AcknowledgeDrift(c.Request.Context(), c.Param("id"), req.ActorID, req.Notes)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, drift)
}

func (s *Server) resolveDrift(c *gin.Context) {
	req, err := transitionRequest(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	drift, err := s.drift.ResolveDrift(c.Request.Context(), c.Param("id"), req.ActorID, req.Notes)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, drift)
}

func (s *Server) getBaseline(c *gin.Context) {
	baseline, err := s.drift.GetBaseline(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, baseline)
}

func (s *Server) rebaseline(c *gin.Context) {
	req, err := transitionRequest(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	baseline, err := s.drift.Rebaseline(c.Request.Context(), c.Param("id"), req.ActorID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, baseline)
}

func (s *Server) computeRisk(c *gin.Context) {
	refresh, err := queryBool(c, "refresh", false)
	if err != nil {
		s.respondError(c, err)
		return
	}

	score, err := s.risk.ComputeRisk(c.Request.Context(), c.Param("id"), c.Param("model"), entity.RiskOptions{ForceRefresh: refresh})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}

func (s *Server) listRiskModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.risk.ListModels()})
}
