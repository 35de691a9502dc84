package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"gradeflow/internal/analysis"
	"gradeflow/internal/importer"
	"gradeflow/internal/store"
)

// Options 处理器依赖与参数
type Options struct {
	Store            store.Store
	Driver           string
	Coordinator      *importer.Coordinator
	Logger           *zap.Logger
	FullMarks        analysis.FullMarks
	TemplateSubjects []string
	MaxUploadBytes   int64
	ComputeRanks     bool // 导入请求未指定时的默认值
}

// Handler API 处理器
type Handler struct {
	store            store.Store
	driver           string
	coordinator      *importer.Coordinator
	logger           *zap.Logger
	validate         *validator.Validate
	uploads          *uploadStore
	fullMarks        analysis.FullMarks
	templateSubjects []string
	maxUploadBytes   int64
	computeRanks     bool
}

// NewHandler 创建 API 处理器
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fullMarks := opts.FullMarks
	if fullMarks == nil {
		fullMarks = analysis.DefaultFullMarks()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	coord := opts.Coordinator
	if coord == nil {
		coord = importer.NewCoordinator(opts.Store, logger, importer.Options{})
	}
	return &Handler{
		store:            opts.Store,
		driver:           opts.Driver,
		coordinator:      coord,
		logger:           logger,
		validate:         validator.New(),
		uploads:          newUploadStore(),
		fullMarks:        fullMarks,
		templateSubjects: opts.TemplateSubjects,
		maxUploadBytes:   maxUpload,
		computeRanks:     opts.ComputeRanks,
	}
}

// RegisterRoutes 注册 API 路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	// 系统状态
	router.GET("/status", h.GetStatus)

	// 数据导入：先分析，确认后导入
	router.POST("/import/analyze", h.Analyze)
	router.POST("/import", h.Import)

	// 查询
	router.GET("/students", h.ListStudents)
	router.GET("/exams", h.ListExams)
	router.GET("/exams/:id/scores", h.GetExamScores)
	router.GET("/exams/:id/stats", h.GetExamStats)

	// 导出
	router.GET("/exams/:id/export", h.ExportExam)
	router.GET("/template", h.DownloadTemplate)
}

// respondStoreError 存储错误转 HTTP 状态
func (h *Handler) respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error("store error", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// contentDisposition 兼容旧客户端的 ASCII 文件名 + RFC 5987 UTF-8 文件名
func contentDisposition(asciiName, utf8Name string) string {
	return "attachment; filename=\"" + asciiName + "\"; filename*=UTF-8''" + url.PathEscape(utf8Name)
}

func parseIntWithDefault(v string, d int) int {
	if v == "" {
		return d
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return i
}
