package server

import (
	"errors"
	"net/http"
	"strings"

	"toolproxy/internal/core"
	"toolproxy/internal/metadata"
	"toolproxy/internal/util"

	"github.com/gin-gonic/gin"
)

func (s *Server) ollamaShow(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondWithError(c, bodyErrorStatus(err), "Failed to read request body")
		return
	}
	var req core.ShowRequest
	if len(body) > 0 {
		if err := util.UnmarshalJSON(body, &req); err != nil {
			respondWithError(c, http.StatusBadRequest, "Invalid JSON in request body")
			return
		}
	}
	name := strings.TrimSpace(req.Model)
	if name == "" {
		s.logger.Warn("[OLLAMA SHOW] Missing model name in request body field 'model'")
		respondWithError(c, http.StatusBadRequest, "Missing model name in request body field 'model'")
		return
	}
	c.Set(ctxKeyModel, name)

	res, err := s.synthesizer.Show(c.Request.Context(), name, callerFrom(c))
	if err != nil {
		gwErr := core.AsGatewayError(err)
		if errors.Is(err, core.ErrModelNotFound) {
			respondWithError(c, http.StatusNotFound, gwErr.Message)
			return
		}
		s.logger.Error("[OLLAMA SHOW] %v", err)
		respondWithError(c, http.StatusInternalServerError, "Failed to get model information: "+gwErr.Message)
		return
	}
	writeMetadataResult(c, res)
}

func (s *Server) ollamaTags(c *gin.Context) {
	res, err := s.synthesizer.Tags(c.Request.Context(), callerFrom(c))
	if err != nil {
		s.logger.Error("[OLLAMA TAGS] %v", err)
		respondWithError(c, http.StatusInternalServerError, "Failed to get models information: "+core.AsGatewayError(err).Message)
		return
	}
	writeMetadataResult(c, res)
}

func writeMetadataResult(c *gin.Context, res *metadata.Result) {
	if res.Synthetic {
		c.Header(core.HeaderSynthetic, "true")
	}
	c.Data(res.Status, core.ContentTypeJSON, res.Body)
}

func bodyErrorStatus(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
