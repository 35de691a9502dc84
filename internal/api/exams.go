package api

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gradeflow/internal/analysis"
	"gradeflow/internal/exporter"
	"gradeflow/internal/model"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ListExams 考试列表（最新在前）
// GET /api/exams
func (h *Handler) ListExams(c *gin.Context) {
	exams, err := h.store.ListExams(c.Request.Context())
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	if exams == nil {
		exams = []model.ExamSummary{}
	}
	c.JSON(http.StatusOK, gin.H{
		"items": exams,
		"total": len(exams),
	})
}

// loadExam 读取考试及成绩，失败时已写响应
func (h *Handler) loadExam(c *gin.Context) (model.Exam, []*model.StudentRow, bool) {
	ctx := c.Request.Context()
	exam, err := h.store.GetExam(ctx, c.Param("id"))
	if err != nil {
		h.respondStoreError(c, err)
		return model.Exam{}, nil, false
	}
	rows, err := h.store.GetExamScores(ctx, exam.ID, c.Query("class"))
	if err != nil {
		h.respondStoreError(c, err)
		return model.Exam{}, nil, false
	}
	if rows == nil {
		rows = []*model.StudentRow{}
	}
	return exam, rows, true
}

// GetExamScores 考试成绩宽表
// GET /api/exams/:id/scores?class=
func (h *Handler) GetExamScores(c *gin.Context) {
	exam, rows, ok := h.loadExam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exam": exam,
		"rows": rows,
	})
}

// GetExamStats 考试统计
// GET /api/exams/:id/stats?class=
func (h *Handler) GetExamStats(c *gin.Context) {
	exam, rows, ok := h.loadExam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, analysis.ExamStats(exam.ID, c.Query("class"), rows, h.fullMarks))
}

// ExportExam 导出考试成绩 Excel
// GET /api/exams/:id/export?class=
func (h *Handler) ExportExam(c *gin.Context) {
	exam, rows, ok := h.loadExam(c)
	if !ok {
		return
	}
	className := c.Query("class")

	var buf bytes.Buffer
	if err := exporter.WriteExam(&buf, exam, rows, analysis.ExamStats(exam.ID, className, rows, h.fullMarks)); err != nil {
		h.logger.Error("export exam failed", zap.String("exam", exam.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	name := exam.Name
	if className != "" {
		name += "_" + className
	}
	c.Header("Content-Disposition", contentDisposition("exam-"+exam.ID+".xlsx", name+".xlsx"))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// DownloadTemplate 下载成绩录入模板
// GET /api/template?subjects=语文,数学
func (h *Handler) DownloadTemplate(c *gin.Context) {
	subjects := h.templateSubjects
	if raw := strings.TrimSpace(c.Query("subjects")); raw != "" {
		subjects = nil
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				subjects = append(subjects, s)
			}
		}
	}

	var buf bytes.Buffer
	if err := exporter.WriteTemplate(&buf, subjects); err != nil {
		h.logger.Error("write template failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", contentDisposition("grade-template.xlsx", "成绩导入模板.xlsx"))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
