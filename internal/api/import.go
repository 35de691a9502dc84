package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gradeflow/internal/importer"
	"gradeflow/internal/parser"
)

// ImportRequest 分析/导入请求参数，multipart 表单的 options 字段（JSON）
type ImportRequest struct {
	UploadToken     string                             `json:"uploadToken"`
	ExamName        string                             `json:"examName" validate:"max=100"`
	ExamDate        string                             `json:"examDate" validate:"omitempty,datetime=2006-01-02"`
	Overrides       map[string][]parser.ColumnOverride `json:"overrides"`
	Formats         map[string]parser.SheetFormat      `json:"formats" validate:"dive,oneof=wide long"`
	Force           bool                               `json:"force"`
	DryRun          bool                               `json:"dryRun"`
	ReplaceExisting bool                               `json:"replaceExisting"`
	ComputeRanks    *bool                              `json:"computeRanks"`
}

var supportedExts = map[string]bool{".xlsx": true, ".xlsm": true, ".csv": true}

// readImportRequest 解析 options 字段并校验
func (h *Handler) readImportRequest(c *gin.Context) (ImportRequest, error) {
	var req ImportRequest
	if raw := strings.TrimSpace(c.PostForm("options")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return req, fmt.Errorf("无效的 options: %w", err)
		}
	}
	if req.UploadToken == "" {
		req.UploadToken = c.PostForm("uploadToken")
	}
	if err := h.validate.Struct(req); err != nil {
		return req, fmt.Errorf("参数校验失败: %w", err)
	}
	for sheet, overrides := range req.Overrides {
		for _, o := range overrides {
			if o.Index < 0 || !o.Field.IsValid() {
				return req, fmt.Errorf("Sheet %q 的列映射无效: index=%d field=%q", sheet, o.Index, o.Field)
			}
		}
	}
	return req, nil
}

// readUpload 读取上传文件；未上传时按 uploadToken 取回分析阶段的文件
func (h *Handler) readUpload(c *gin.Context, token string) (filename string, data []byte, fromToken bool, err error) {
	header, err := c.FormFile("file")
	if err != nil {
		if token == "" {
			return "", nil, false, errors.New("未找到上传文件")
		}
		up, ok := h.uploads.get(token)
		if !ok {
			return "", nil, false, errors.New("上传文件已过期，请重新上传")
		}
		return up.filename, up.data, true, nil
	}

	if !supportedExts[strings.ToLower(filepath.Ext(header.Filename))] {
		return "", nil, false, errors.New("仅支持 .xlsx、.xlsm 和 .csv 格式")
	}
	if header.Size > h.maxUploadBytes {
		return "", nil, false, fmt.Errorf("文件过大，最大支持 %dMB", h.maxUploadBytes>>20)
	}

	f, err := header.Open()
	if err != nil {
		return "", nil, false, fmt.Errorf("读取文件失败: %w", err)
	}
	defer f.Close()

	data, err = io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		return "", nil, false, fmt.Errorf("读取文件失败: %w", err)
	}
	if int64(len(data)) > h.maxUploadBytes {
		return "", nil, false, fmt.Errorf("文件过大，最大支持 %dMB", h.maxUploadBytes>>20)
	}
	return filepath.Base(header.Filename), data, false, nil
}

// Analyze 识别上传文件的表头、结构与置信度，不写库
// POST /api/import/analyze
func (h *Handler) Analyze(c *gin.Context) {
	req, err := h.readImportRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filename, data, fromToken, err := h.readUpload(c, req.UploadToken)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.coordinator.Analyze(c.Request.Context(), importer.Source{Filename: filename, Data: data}, importer.AnalyzeOptions{
		Overrides: req.Overrides,
		Formats:   req.Formats,
	})
	if err != nil {
		h.logger.Info("analyze failed", zap.String("file", filename), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "文件解析失败: " + err.Error()})
		return
	}

	token := req.UploadToken
	if !fromToken {
		token = h.uploads.put(filename, data, uploadTTL)
	}

	c.JSON(http.StatusOK, gin.H{
		"uploadToken": token,
		"analysis":    result,
	})
}

// Import 导入成绩文件 (SSE 流式响应)
// POST /api/import
func (h *Handler) Import(c *gin.Context) {
	req, err := h.readImportRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filename, data, fromToken, err := h.readUpload(c, req.UploadToken)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	computeRanks := h.computeRanks
	if req.ComputeRanks != nil {
		computeRanks = *req.ComputeRanks
	}

	// 设置 SSE 响应头
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "不支持流式响应"})
		return
	}

	progressChan := h.coordinator.Import(c.Request.Context(), importer.ImportOptions{
		Source:          importer.Source{Filename: filename, Data: data},
		ExamName:        req.ExamName,
		ExamDate:        req.ExamDate,
		Overrides:       req.Overrides,
		Formats:         req.Formats,
		Force:           req.Force,
		DryRun:          req.DryRun,
		ReplaceExisting: req.ReplaceExisting,
		ComputeRanks:    computeRanks,
	})

	completed := false
	for event := range progressChan {
		// 序列化事件为 JSON
		eventData, err := json.Marshal(event)
		if err != nil {
			h.logger.Warn("marshal progress event failed", zap.String("type", event.Type), zap.Error(err))
			continue
		}
		if event.Type == importer.EventDone {
			completed = true
		}

		// SSE 格式: data: {json}\n\n
		fmt.Fprintf(c.Writer, "data: %s\n\n", eventData)
		flusher.Flush()
	}

	if completed && !req.DryRun && fromToken {
		h.uploads.delete(req.UploadToken)
	}
}
