package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/LJTian/NewsPulse/internal/pipeline"
	"github.com/LJTian/NewsPulse/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Store 对外接口依赖的存储操作
type Store interface {
	ListArticles(ctx context.Context, q storage.ArticleQuery) ([]storage.Article, error)
	GetArticle(ctx context.Context, id uint) (*storage.Article, error)
	ListSources(ctx context.Context, status string) ([]storage.Source, error)
	GetSource(ctx context.Context, id uint) (*storage.Source, error)
	CreateSource(ctx context.Context, sp storage.SourceSpec) (*storage.Source, error)
	SetSourceStatus(ctx context.Context, id uint, status string) error
}

type Collector interface {
	RunAll(ctx context.Context) pipeline.Result
}

type Trends interface {
	Today() time.Time
	ParseDate(s string) (time.Time, error)
	ExtractForDate(ctx context.Context, day time.Time) []storage.Trend
	Refresh(ctx context.Context, day time.Time) []storage.Trend
	TopForDate(ctx context.Context, day time.Time, limit int) ([]storage.Trend, error)
	TopCategories(ctx context.Context, days, limit int) ([]storage.CategoryCount, error)
	TopSources(ctx context.Context, days, limit int) ([]storage.SourceCount, error)
}

type Server struct {
	store     Store
	collector Collector
	trends    Trends
	logger    zerolog.Logger
}

func NewServer(store Store, collector Collector, trends Trends, logger zerolog.Logger) *Server {
	return &Server{
		store:     store,
		collector: collector,
		trends:    trends,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/articles/fetch", s.fetchArticles)
		v1.GET("/articles", s.listArticles)
		v1.GET("/articles/:id", s.getArticle)

		v1.GET("/trends/today", s.todayTrends)
		v1.GET("/trends/date/:date", s.trendsByDate)
		v1.POST("/trends/extract", s.extractTrends)
		v1.GET("/trends/categories", s.topCategories)
		v1.GET("/trends/sources", s.topSources)

		v1.GET("/sources", s.listSources)
		v1.POST("/sources", s.createSource)
		v1.GET("/sources/:id", s.getSource)
		v1.PATCH("/sources/:id", s.updateSource)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	fail(c, http.StatusInternalServerError, "internal_error", "internal server error")
}

// queryInt 解析整数参数，超出 [min, max] 时退回默认值
func queryInt(c *gin.Context, key string, def, min, max int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < min || v > max {
		return def
	}
	return v
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "bad_request", "invalid id")
		return 0, false
	}
	return uint(id), true
}
