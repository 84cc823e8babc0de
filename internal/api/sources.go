package api

import (
	"errors"
	"net/http"

	"github.com/LJTian/NewsPulse/internal/storage"
	"github.com/gin-gonic/gin"
)

type createSourceRequest struct {
	Name                 string `json:"name" binding:"required"`
	Type                 string `json:"type"`
	URL                  string `json:"url" binding:"required,url"`
	Category             string `json:"category"`
	Country              string `json:"country"`
	Language             string `json:"language"`
	Active               *bool  `json:"active"`
	FetchIntervalMinutes int    `json:"fetch_interval_minutes"`
	Selector             string `json:"selector"`
}

type updateSourceRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (s *Server) listSources(c *gin.Context) {
	status := c.Query("status")
	if status != "" && status != storage.StatusActive && status != storage.StatusDisabled {
		fail(c, http.StatusBadRequest, "bad_request", "status must be active or disabled")
		return
	}
	list, err := s.store.ListSources(c.Request.Context(), status)
	if err != nil {
		s.internalError(c, err)
		return
	}
	ok(c, list)
}

func (s *Server) getSource(c *gin.Context) {
	id, valid := paramID(c)
	if !valid {
		return
	}
	src, err := s.store.GetSource(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		fail(c, http.StatusNotFound, "not_found", "source not found")
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	ok(c, src)
}

func (s *Server) createSource(c *gin.Context) {
	var req createSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	switch req.Type {
	case "", "feed", "api", "page":
	default:
		fail(c, http.StatusBadRequest, "bad_request", "type must be feed, api or page")
		return
	}

	src, err := s.store.CreateSource(c.Request.Context(), storage.SourceSpec{
		Name:                 req.Name,
		Type:                 req.Type,
		URL:                  req.URL,
		Category:             req.Category,
		Country:              req.Country,
		Language:             req.Language,
		Active:               req.Active,
		FetchIntervalMinutes: req.FetchIntervalMinutes,
		Selector:             req.Selector,
	})
	if errors.Is(err, storage.ErrConflict) {
		fail(c, http.StatusConflict, "conflict", "source url already exists")
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"code":    "ok",
		"message": "created",
		"data":    src,
	})
}

// updateSource 目前只支持启用/停用
func (s *Server) updateSource(c *gin.Context) {
	id, valid := paramID(c)
	if !valid {
		return
	}
	var req updateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	status := storage.StatusDisabled
	if *req.Active {
		status = storage.StatusActive
	}
	ctx := c.Request.Context()
	if err := s.store.SetSourceStatus(ctx, id, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fail(c, http.StatusNotFound, "not_found", "source not found")
			return
		}
		s.internalError(c, err)
		return
	}
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	ok(c, src)
}
