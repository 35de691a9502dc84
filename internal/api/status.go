package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatusResponse 系统状态响应
type StatusResponse struct {
	Initialized         bool    `json:"initialized"`         // 是否已有考试数据
	Database            string  `json:"database"`            // 存储驱动
	DatabaseOK          bool    `json:"databaseOk"`          // 连接是否可用
	ExamCount           int     `json:"examCount"`           // 考试数
	LatestExam          string  `json:"latestExam"`          // 最近导入的考试
	ConfidenceThreshold float64 `json:"confidenceThreshold"` // 自动导入门槛
}

// GetStatus 获取系统状态
// GET /api/status
func (h *Handler) GetStatus(c *gin.Context) {
	resp := StatusResponse{
		Database:            h.driver,
		ConfidenceThreshold: h.coordinator.Threshold(),
	}

	ctx := c.Request.Context()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("store ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.DatabaseOK = true

	exams, err := h.store.ListExams(ctx)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	resp.ExamCount = len(exams)
	resp.Initialized = len(exams) > 0
	if len(exams) > 0 {
		resp.LatestExam = exams[0].Name
	}

	c.JSON(http.StatusOK, resp)
}
