package api

import (
	"net/http"
	"time"

	"github.com/LJTian/NewsPulse/internal/storage"
	"github.com/gin-gonic/gin"
)

// 查询前先按当天数据重新提取一次，保证榜单包含最新入库的新闻。
// 查询路径不发 new_trends 事件
func (s *Server) todayTrends(c *gin.Context) {
	s.respondTrends(c, s.trends.Today())
}

func (s *Server) trendsByDate(c *gin.Context) {
	day, err := s.trends.ParseDate(c.Param("date"))
	if err != nil {
		fail(c, http.StatusBadRequest, "bad_request", "invalid date format, use YYYY-MM-DD")
		return
	}
	s.respondTrends(c, day)
}

func (s *Server) respondTrends(c *gin.Context, day time.Time) {
	ctx := c.Request.Context()
	limit := queryInt(c, "limit", 20, 1, 100)

	s.trends.ExtractForDate(ctx, day)
	list, err := s.trends.TopForDate(ctx, day, limit)
	if err != nil {
		s.internalError(c, err)
		return
	}
	ok(c, gin.H{
		"date":   day.Format(storage.DateLayout),
		"trends": list,
	})
}

func (s *Server) extractTrends(c *gin.Context) {
	day := s.trends.Today()
	if v := c.Query("date"); v != "" {
		parsed, err := s.trends.ParseDate(v)
		if err != nil {
			fail(c, http.StatusBadRequest, "bad_request", "invalid date format, use YYYY-MM-DD")
			return
		}
		day = parsed
	}

	list := s.trends.Refresh(c.Request.Context(), day)
	ok(c, gin.H{
		"date":   day.Format(storage.DateLayout),
		"count":  len(list),
		"trends": list,
	})
}

func (s *Server) topCategories(c *gin.Context) {
	days := queryInt(c, "days", 7, 1, 30)
	list, err := s.trends.TopCategories(c.Request.Context(), days, queryInt(c, "limit", 10, 1, 50))
	if err != nil {
		s.internalError(c, err)
		return
	}
	ok(c, gin.H{"days": days, "categories": list})
}

func (s *Server) topSources(c *gin.Context) {
	days := queryInt(c, "days", 7, 1, 30)
	list, err := s.trends.TopSources(c.Request.Context(), days, queryInt(c, "limit", 10, 1, 50))
	if err != nil {
		s.internalError(c, err)
		return
	}
	ok(c, gin.H{"days": days, "sources": list})
}
