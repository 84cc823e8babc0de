package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/LJTian/NewsPulse/internal/storage"
	"github.com/gin-gonic/gin"
)

// fetchArticles 手动触发一轮采集；已有一轮在跑时返回 409。
// 客户端断开不影响本轮采集，所有数据源都会被尝试
func (s *Server) fetchArticles(c *gin.Context) {
	res := s.collector.RunAll(context.WithoutCancel(c.Request.Context()))
	if res.Skipped {
		c.JSON(http.StatusConflict, gin.H{
			"code":    "run_in_progress",
			"message": "a collect run is already in progress",
			"data":    res,
		})
		return
	}
	ok(c, res)
}

func (s *Server) listArticles(c *gin.Context) {
	q := storage.ArticleQuery{
		Category: c.Query("category"),
		Limit:    queryInt(c, "limit", 100, 1, 1000),
		Offset:   queryInt(c, "offset", 0, 0, 1<<30),
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(c, http.StatusBadRequest, "bad_request", "since must be RFC3339")
			return
		}
		q.Since = &since
	}

	items, err := s.store.ListArticles(c.Request.Context(), q)
	if err != nil {
		s.internalError(c, err)
		return
	}
	ok(c, items)
}

func (s *Server) getArticle(c *gin.Context) {
	id, valid := paramID(c)
	if !valid {
		return
	}
	a, err := s.store.GetArticle(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		fail(c, http.StatusNotFound, "not_found", "article not found")
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	ok(c, a)
}
