package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gradeflow/internal/model"
	"gradeflow/internal/store"
)

const (
	defaultStudentLimit = 200
	maxStudentLimit     = 2000
)

// studentQuery 学生列表查询参数
type studentQuery struct {
	ClassName  string `form:"class" binding:"max=64"`
	GradeLevel string `form:"grade" binding:"max=16"`
	Keyword    string `form:"q" binding:"max=64"`
}

// ListStudents 学生列表
// GET /api/students?class=&grade=&q=&limit=&offset=
func (h *Handler) ListStudents(c *gin.Context) {
	var q studentQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := parseIntWithDefault(c.Query("limit"), defaultStudentLimit)
	if limit <= 0 || limit > maxStudentLimit {
		limit = defaultStudentLimit
	}
	offset := parseIntWithDefault(c.Query("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	students, err := h.store.ListStudents(c.Request.Context(), store.StudentFilter{
		ClassName:  q.ClassName,
		GradeLevel: q.GradeLevel,
		Keyword:    q.Keyword,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	if students == nil {
		students = []model.Student{}
	}

	c.JSON(http.StatusOK, gin.H{
		"items":  students,
		"limit":  limit,
		"offset": offset,
	})
}
