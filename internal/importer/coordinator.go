package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gradeflow/internal/analysis"
	"gradeflow/internal/model"
	"gradeflow/internal/parser"
	"gradeflow/internal/reconcile"
	"gradeflow/internal/store"
)

// ErrNeedsConfirmation 存在置信度不足、需要用户确认映射的 Sheet
var ErrNeedsConfirmation = errors.New("sheet mapping needs confirmation")

// 进度事件类型
const (
	EventStart             = "start"
	EventInfo              = "info"
	EventSheetStart        = "sheet_start"
	EventWarning           = "warning"
	EventNeedsConfirmation = "needs_confirmation"
	EventSheetDone         = "sheet_done"
	EventError             = "error"
	EventDone              = "done"
)

// Sheet 处理状态
const (
	StatusImported          = "imported"
	StatusSkipped           = "skipped"
	StatusNeedsConfirmation = "needs_confirmation"
	StatusError             = "error"
)

// Options 协调器参数
type Options struct {
	Threshold      float64 // 置信度阈值，<=0 时使用默认值
	HeaderScanRows int
	PreviewRows    int
}

// Coordinator 导入协调器
type Coordinator struct {
	store    store.Store
	logger   *zap.Logger
	validate *validator.Validate
	opts     Options
	newID    func() string
	now      func() time.Time
}

// NewCoordinator 创建导入协调器
func NewCoordinator(st store.Store, logger *zap.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:    st,
		logger:   logger,
		validate: validator.New(),
		opts:     opts,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Source 待处理的文件：本地路径，或已上传的内容
type Source struct {
	FilePath string
	Filename string // Data 非空时用于判断格式
	Data     []byte
}

type loadedSource struct {
	workbook *parser.Workbook
	size     int64
	hash     string
}

func (s Source) name() string {
	if s.Filename != "" {
		return filepath.Base(s.Filename)
	}
	return filepath.Base(s.FilePath)
}

func (s Source) load() (*loadedSource, error) {
	data := s.Data
	if data == nil {
		if s.FilePath == "" {
			return nil, errors.New("no file given")
		}
		b, err := os.ReadFile(s.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		data = b
	}
	wb, err := parser.ReadWorkbook(bytes.NewReader(data), s.name())
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return &loadedSource{workbook: wb, size: int64(len(data)), hash: hex.EncodeToString(sum[:])}, nil
}

// ImportOptions 导入选项
type ImportOptions struct {
	Source

	ExamName        string                             // 覆盖识别出的考试名称
	ExamDate        string                             // 覆盖识别出的考试日期（YYYY-MM-DD）
	Overrides       map[string][]parser.ColumnOverride // 按 Sheet 名的列映射确认
	Formats         map[string]parser.SheetFormat      // 按 Sheet 名指定宽表/长表
	Force           bool                               // 忽略置信度门槛
	DryRun          bool                               // 只校验与对账，不写库
	ReplaceExisting bool                               // 先删除这些学生在该考试下的已有成绩
	ComputeRanks    bool                               // 导入后按整场考试补算总分与班级/年级排名
}

// ProgressEvent 进度事件
type ProgressEvent struct {
	Type      string      `json:"type"`
	Sheet     string      `json:"sheet,omitempty"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// importRun 一次导入的运行状态
type importRun struct {
	opts     ImportOptions
	report   *parser.ImportReport
	logID    int64
	progress chan<- ProgressEvent
	examIDs  []string // 本次写入过的考试，按首次出现顺序
}

func (r *importRun) touchExam(id string) {
	for _, existing := range r.examIDs {
		if existing == id {
			return
		}
	}
	r.examIDs = append(r.examIDs, id)
}

// Import 执行导入，返回进度通道；通道在 done 或致命 error 事件后关闭
func (c *Coordinator) Import(ctx context.Context, opts ImportOptions) <-chan ProgressEvent {
	progressChan := make(chan ProgressEvent, 100)

	go func() {
		defer close(progressChan)
		c.doImport(ctx, opts, progressChan)
	}()

	return progressChan
}

// Run 同步执行导入，onEvent 可为空
func (c *Coordinator) Run(ctx context.Context, opts ImportOptions, onEvent func(ProgressEvent)) (*parser.ImportReport, error) {
	var (
		report *parser.ImportReport
		fatal  error
	)
	for evt := range c.Import(ctx, opts) {
		if onEvent != nil {
			onEvent(evt)
		}
		switch evt.Type {
		case EventError:
			if evt.Sheet == "" {
				fatal = errors.New(evt.Message)
			}
		case EventDone:
			report, _ = evt.Data.(*parser.ImportReport)
		}
	}
	if fatal != nil {
		return report, fatal
	}
	if report == nil {
		return nil, errors.New("import finished without report")
	}
	if report.ConfirmSheets > 0 {
		return report, fmt.Errorf("%w: %d sheet(s)", ErrNeedsConfirmation, report.ConfirmSheets)
	}
	return report, nil
}

// doImport 执行导入逻辑
func (c *Coordinator) doImport(ctx context.Context, opts ImportOptions, progressChan chan<- ProgressEvent) {
	startTime := c.now()
	filename := opts.name()

	c.sendProgress(ctx, progressChan, ProgressEvent{
		Type:    EventStart,
		Message: "开始导入成绩文件",
		Data: map[string]interface{}{
			"filename": filename,
			"dry_run":  opts.DryRun,
		},
	})

	src, err := opts.load()
	if err != nil {
		c.logger.Warn("open workbook failed", zap.String("file", filename), zap.Error(err))
		c.sendProgress(ctx, progressChan, ProgressEvent{
			Type:    EventError,
			Message: fmt.Sprintf("打开文件失败: %v", err),
		})
		return
	}

	run := &importRun{
		opts:     opts,
		progress: progressChan,
		report: &parser.ImportReport{
			BatchID:     c.newID(),
			Filename:    filename,
			DryRun:      opts.DryRun,
			TotalSheets: len(src.workbook.Sheets),
			Sheets:      []parser.ParseResult{},
		},
	}

	if !opts.DryRun {
		logID, err := c.store.CreateImportLog(ctx, model.ImportLog{
			BatchID:     run.report.BatchID,
			Filename:    filename,
			FileSize:    src.size,
			FileHash:    src.hash,
			TotalSheets: run.report.TotalSheets,
			Status:      "processing",
			StartedAt:   startTime,
		})
		if err != nil {
			c.logger.Error("create import log failed", zap.Error(err))
			c.sendProgress(ctx, progressChan, ProgressEvent{
				Type:    EventError,
				Message: fmt.Sprintf("创建导入日志失败: %v", err),
			})
			return
		}
		run.logID = logID
	}

	c.sendProgress(ctx, progressChan, ProgressEvent{
		Type:    EventInfo,
		Message: fmt.Sprintf("发现 %d 个 Sheet", run.report.TotalSheets),
		Data: map[string]interface{}{
			"total_sheets": run.report.TotalSheets,
		},
	})

	var fatal error
	for _, sheet := range src.workbook.Sheets {
		if err := ctx.Err(); err != nil {
			fatal = err
			break
		}
		c.processSheet(ctx, run, sheet)
	}

	if fatal == nil && !opts.DryRun && opts.ComputeRanks {
		c.rankExams(ctx, run)
	}

	run.report.Duration = time.Since(startTime)
	c.finishLog(ctx, run, fatal)

	if fatal != nil {
		c.sendProgress(ctx, progressChan, ProgressEvent{
			Type:    EventError,
			Message: fmt.Sprintf("导入已取消: %v", fatal),
		})
		return
	}

	c.logger.Info("import finished",
		zap.String("batch", run.report.BatchID),
		zap.String("file", filename),
		zap.Int("imported_sheets", run.report.ImportedSheets),
		zap.Int("imported_rows", run.report.ImportedRows),
		zap.Int("error_sheets", run.report.ErrorSheets),
		zap.Duration("duration", run.report.Duration),
	)

	c.sendProgress(ctx, progressChan, ProgressEvent{
		Type:    EventDone,
		Message: "导入完成",
		Data:    run.report,
	})
}

// processSheet 处理单个 Sheet：门槛 -> 提取 -> 校验 -> 对账 -> 写入 -> 元信息
func (c *Coordinator) processSheet(ctx context.Context, run *importRun, sheet parser.Sheet) {
	sheetStartTime := c.now()
	name := sheet.Name

	c.sendProgress(ctx, run.progress, ProgressEvent{
		Type:    EventSheetStart,
		Sheet:   name,
		Message: fmt.Sprintf("正在解析 Sheet: %s", name),
	})

	sa := parser.AnalyzeSheet(sheet, c.analyzeOptions(run.opts.Overrides[name], run.opts.Formats[name]))
	result := parser.ParseResult{
		SheetName:  name,
		Format:     sa.Structure.Format,
		Confidence: sa.Confidence.Score,
	}

	if sa.Skipped {
		result.Status = StatusSkipped
		result.Errors = []string{sa.SkipReason}
		result.Duration = time.Since(sheetStartTime)
		c.recordSheetResult(run, result)
		c.sendProgress(ctx, run.progress, ProgressEvent{
			Type:    EventInfo,
			Sheet:   name,
			Message: fmt.Sprintf("跳过 Sheet \"%s\": %s", name, sa.SkipReason),
		})
		return
	}

	c.sendProgress(ctx, run.progress, ProgressEvent{
		Type:    EventInfo,
		Sheet:   name,
		Message: fmt.Sprintf("Sheet \"%s\" 识别为: %s (置信度: %.2f)", name, sa.Structure.Format, sa.Confidence.Score),
		Data: map[string]interface{}{
			"format":     sa.Structure.Format,
			"confidence": sa.Confidence.Score,
			"header_row": sa.Header.RowIndex,
		},
	})

	if sa.NeedsConfirmation && !run.opts.Force {
		result.Status = StatusNeedsConfirmation
		result.Duration = time.Since(sheetStartTime)
		c.recordSheetResult(run, result)
		c.saveSheetMeta(ctx, run, sa, result, nil)
		c.sendProgress(ctx, run.progress, ProgressEvent{
			Type:    EventNeedsConfirmation,
			Sheet:   name,
			Message: fmt.Sprintf("Sheet \"%s\" 映射置信度 %.2f 低于阈值，需要确认", name, sa.Confidence.Score),
			Data:    sa,
		})
		return
	}
	if sa.Structure.Format == parser.FormatUnknown {
		c.failSheet(ctx, run, sa, result, sheetStartTime, errors.New("无法识别表结构，请指定宽表或长表"))
		return
	}

	extracted := sa.Extract(sheet)
	rows, invalid := c.validateRows(name, extracted.Rows)
	warnings := append(conflictWarnings(name, sa.Classification), extracted.Warnings...)
	warnings = append(warnings, invalid...)
	result.ErrorRows = extracted.ErrorRows + len(invalid)

	if len(rows) == 0 {
		c.failSheet(ctx, run, sa, result, sheetStartTime, errors.New("没有可导入的数据行"))
		return
	}

	existing, err := c.existingStudents(ctx, rows)
	if err != nil {
		c.failSheet(ctx, run, sa, result, sheetStartTime, err)
		return
	}
	plan := reconcile.Reconcile(rows, existing, reconcile.Options{
		SheetName:  name,
		GenerateID: c.newID,
		Now:        c.now,
	})
	warnings = append(warnings, plan.Warnings...)

	for _, w := range warnings {
		c.sendProgress(ctx, run.progress, ProgressEvent{
			Type:    EventWarning,
			Sheet:   name,
			Message: w.Message,
			Data:    w,
		})
	}
	result.Warnings = len(warnings)

	exam := c.resolveExam(run, sa, extracted, plan.Rows)
	if run.opts.DryRun {
		result.Created = len(plan.Creates)
		result.Updated = len(plan.Updates)
	} else {
		applied, err := c.store.ApplyImport(ctx, model.ImportBatch{
			BatchID:         run.report.BatchID,
			Exam:            exam,
			Creates:         plan.Creates,
			Updates:         plan.Updates,
			Rows:            plan.Rows,
			ReplaceExisting: run.opts.ReplaceExisting,
			SourceFile:      run.report.Filename,
			SourceSheet:     name,
		})
		if err != nil {
			result.ErrorRows += len(plan.Rows)
			c.failSheet(ctx, run, sa, result, sheetStartTime, fmt.Errorf("写入失败: %w", err))
			return
		}
		result.ExamID = applied.ExamID
		run.touchExam(applied.ExamID)
		result.Created = applied.CreatedStudents
		result.Updated = applied.UpdatedStudents
	}

	result.Status = StatusImported
	result.ImportedRows = len(plan.Rows)
	result.Duration = time.Since(sheetStartTime)
	c.recordSheetResult(run, result)
	c.saveSheetMeta(ctx, run, sa, result, warnings)

	c.logger.Debug("sheet imported",
		zap.String("sheet", name),
		zap.String("format", string(sa.Structure.Format)),
		zap.Float64("confidence", sa.Confidence.Score),
		zap.Int("rows", result.ImportedRows),
		zap.Int("warnings", result.Warnings),
	)

	c.sendProgress(ctx, run.progress, ProgressEvent{
		Type:    EventSheetDone,
		Sheet:   name,
		Message: fmt.Sprintf("Sheet \"%s\" 导入成功: %d 行", name, result.ImportedRows),
		Data: map[string]interface{}{
			"exam":             exam.Name,
			"exam_id":          result.ExamID,
			"imported_rows":    result.ImportedRows,
			"created_students": result.Created,
			"updated_students": result.Updated,
			"warnings":         result.Warnings,
		},
	})
}

func (c *Coordinator) failSheet(ctx context.Context, run *importRun, sa parser.SheetAnalysis, result parser.ParseResult, started time.Time, err error) {
	result.Status = StatusError
	result.Errors = append(result.Errors, err.Error())
	result.Duration = time.Since(started)
	c.recordSheetResult(run, result)
	c.saveSheetMeta(ctx, run, sa, result, nil)

	c.logger.Warn("sheet import failed", zap.String("sheet", sa.SheetName), zap.Error(err))
	c.sendProgress(ctx, run.progress, ProgressEvent{
		Type:    EventError,
		Sheet:   sa.SheetName,
		Message: fmt.Sprintf("Sheet \"%s\" 导入失败: %v", sa.SheetName, err),
	})
}

// validateRows 结构校验，不合格的行剔除并转为 invalid_row 告警
func (c *Coordinator) validateRows(sheet string, rows []*model.StudentRow) ([]*model.StudentRow, []model.Warning) {
	valid := make([]*model.StudentRow, 0, len(rows))
	var warnings []model.Warning
	for _, row := range rows {
		if err := c.validate.Struct(row); err != nil {
			warnings = append(warnings, model.Warning{
				Code:      model.WarnInvalidRow,
				Sheet:     sheet,
				RowNo:     row.RowNo,
				StudentID: row.StudentID,
				ClassName: row.ClassName,
				Message:   fmt.Sprintf("第 %d 行校验失败: %s", row.RowNo, describeValidation(err)),
			})
			continue
		}
		valid = append(valid, row)
	}
	return valid, warnings
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

// existingStudents 对账所需的已有学生：同班级的全部学生 + 同学号的学生
func (c *Coordinator) existingStudents(ctx context.Context, rows []*model.StudentRow) ([]model.Student, error) {
	var classes, ids []string
	for _, row := range rows {
		classes = append(classes, row.ClassName)
		if row.StudentID != "" {
			ids = append(ids, row.StudentID)
		}
	}
	byClass, err := c.store.FindStudentsByClasses(ctx, classes)
	if err != nil {
		return nil, fmt.Errorf("failed to load students: %w", err)
	}
	byID, err := c.store.FindStudentsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load students: %w", err)
	}

	seen := make(map[model.StudentKey]bool, len(byClass)+len(byID))
	out := make([]model.Student, 0, len(byClass)+len(byID))
	for _, s := range append(byClass, byID...) {
		if seen[s.Key()] {
			continue
		}
		seen[s.Key()] = true
		out = append(out, s)
	}
	return out, nil
}

// resolveExam 考试名称优先级：选项 > 标题行 > 考试列 > 文件名
func (c *Coordinator) resolveExam(run *importRun, sa parser.SheetAnalysis, extracted parser.ExtractResult, rows []*model.StudentRow) model.Exam {
	exam := model.Exam{Name: run.opts.ExamName, ExamDate: run.opts.ExamDate}
	stem := strings.TrimSuffix(run.report.Filename, filepath.Ext(run.report.Filename))
	if exam.Name == "" {
		exam.Name = sa.ExamName
	}
	if exam.Name == "" {
		exam.Name = extracted.ExamName
	}
	if exam.Name == "" {
		if name, ok := parser.ExtractExamName(stem); ok {
			exam.Name = name
		} else {
			exam.Name = stem
		}
	}
	if exam.ExamDate == "" {
		exam.ExamDate = sa.ExamDate
	}
	if exam.ExamDate == "" {
		exam.ExamDate, _ = parser.ExtractExamDate(stem)
	}
	for _, row := range rows {
		if row.GradeLevel != "" {
			exam.GradeLevel = row.GradeLevel
			break
		}
	}
	return exam
}

func (c *Coordinator) saveSheetMeta(ctx context.Context, run *importRun, sa parser.SheetAnalysis, result parser.ParseResult, warnings []model.Warning) {
	if run.opts.DryRun {
		return
	}
	meta := model.SheetMeta{
		ImportLogID:       run.logID,
		SheetName:         sa.SheetName,
		Format:            string(sa.Structure.Format),
		Confidence:        sa.Confidence.Score,
		HeaderRow:         sa.Header.RowIndex,
		TotalRows:         sa.DataRows,
		ImportedRows:      result.ImportedRows,
		ColumnsJSON:       store.BuildJSON(sa.Header.Headers),
		ColumnMappingJSON: store.BuildJSON(sa.Classification),
		WarningsJSON:      store.BuildJSON(warnings),
		Status:            result.Status,
		ErrorMessage:      strings.Join(result.Errors, "; "),
		SourceFile:        run.report.Filename,
		CreatedAt:         c.now(),
	}
	if err := c.store.InsertSheetMeta(ctx, meta); err != nil {
		c.logger.Warn("save sheet meta failed", zap.String("sheet", sa.SheetName), zap.Error(err))
	}
}

// rankExams 所有 Sheet 写入后按整场考试重新计算总分与排名，
// 年级排名需要跨班级 Sheet，单科 Sheet 的总分需要合并各科成绩
func (c *Coordinator) rankExams(ctx context.Context, run *importRun) {
	for _, examID := range run.examIDs {
		rows, err := c.store.GetExamScores(ctx, examID, "")
		if err == nil {
			analysis.ComputeRanks(rows)
			err = c.store.SaveDerived(ctx, examID, rows)
		}
		if err != nil {
			c.logger.Warn("compute ranks failed", zap.String("exam", examID), zap.Error(err))
			c.sendProgress(ctx, run.progress, ProgressEvent{
				Type:    EventWarning,
				Message: fmt.Sprintf("计算排名失败: %v", err),
			})
			continue
		}
		c.logger.Debug("ranks computed", zap.String("exam", examID), zap.Int("rows", len(rows)))
	}
}

func (c *Coordinator) finishLog(ctx context.Context, run *importRun, fatal error) {
	if run.opts.DryRun {
		return
	}
	r := run.report
	completed := c.now()
	log := model.ImportLog{
		ID:             run.logID,
		TotalSheets:    r.TotalSheets,
		ImportedSheets: r.ImportedSheets,
		SkippedSheets:  r.SkippedSheets,
		TotalRows:      r.TotalRows,
		ImportedRows:   r.ImportedRows,
		ErrorRows:      r.ErrorRows,
		Status:         "done",
		CompletedAt:    &completed,
	}
	switch {
	case fatal != nil:
		log.Status = "failed"
		log.ErrorMessage = fatal.Error()
	case r.ErrorSheets > 0 || r.ConfirmSheets > 0:
		log.Status = "partial"
	}
	// 取消后仍需落库
	if err := c.store.FinishImportLog(context.WithoutCancel(ctx), log); err != nil {
		c.logger.Warn("finish import log failed", zap.Int64("log_id", run.logID), zap.Error(err))
	}
}

// recordSheetResult 记录 Sheet 处理结果
func (c *Coordinator) recordSheetResult(run *importRun, result parser.ParseResult) {
	r := run.report
	r.Sheets = append(r.Sheets, result)

	switch result.Status {
	case StatusImported:
		r.ImportedSheets++
		r.ImportedRows += result.ImportedRows
	case StatusSkipped:
		r.SkippedSheets++
	case StatusNeedsConfirmation:
		r.ConfirmSheets++
	case StatusError:
		r.ErrorSheets++
	}

	r.ErrorRows += result.ErrorRows
	r.TotalRows += result.ImportedRows + result.ErrorRows
}

// sendProgress 发送进度事件；接收方退出（ctx 取消）时丢弃
func (c *Coordinator) sendProgress(ctx context.Context, ch chan<- ProgressEvent, event ProgressEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}
	select {
	case ch <- event:
	case <-ctx.Done():
	}
}

func (c *Coordinator) analyzeOptions(overrides []parser.ColumnOverride, format parser.SheetFormat) parser.AnalyzeOptions {
	return parser.AnalyzeOptions{
		HeaderScanRows: c.opts.HeaderScanRows,
		PreviewRows:    c.opts.PreviewRows,
		Threshold:      c.opts.Threshold,
		Overrides:      overrides,
		Format:         format,
	}
}

func conflictWarnings(sheet string, cls parser.Classification) []model.Warning {
	var out []model.Warning
	for _, cf := range cls.Conflicts {
		field := string(cf.Field)
		if cf.Subject != "" {
			field += "(" + cf.Subject + ")"
		}
		out = append(out, model.Warning{
			Code:    model.WarnMappingConflict,
			Sheet:   sheet,
			Message: fmt.Sprintf("第 %d 列与第 %d 列都映射为 %s，已忽略第 %d 列", cf.Kept+1, cf.Dropped+1, field, cf.Dropped+1),
		})
	}
	return out
}
