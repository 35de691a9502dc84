package importer

import (
	"context"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gradeflow/internal/parser"
)

// AnalyzeOptions 分析阶段的用户输入（重新分析时携带已确认的映射）
type AnalyzeOptions struct {
	Overrides map[string][]parser.ColumnOverride
	Formats   map[string]parser.SheetFormat
}

// WorkbookAnalysis 整个文件的识别结果，不写库
type WorkbookAnalysis struct {
	Filename          string                 `json:"filename"`
	FileSize          int64                  `json:"fileSize"`
	FileHash          string                 `json:"fileHash"`
	Threshold         float64                `json:"threshold"`
	Sheets            []parser.SheetAnalysis `json:"sheets"`
	NeedsConfirmation bool                   `json:"needsConfirmation"`
}

// Analyze 识别每个 Sheet 的表头、结构与置信度
func (c *Coordinator) Analyze(ctx context.Context, src Source, opts AnalyzeOptions) (*WorkbookAnalysis, error) {
	loaded, err := src.load()
	if err != nil {
		return nil, err
	}

	sheets := loaded.workbook.Sheets
	results := make([]parser.SheetAnalysis, len(sheets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, sheet := range sheets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = parser.AnalyzeSheet(sheet, c.analyzeOptions(opts.Overrides[sheet.Name], opts.Formats[sheet.Name]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &WorkbookAnalysis{
		Filename:  src.name(),
		FileSize:  loaded.size,
		FileHash:  loaded.hash,
		Threshold: c.Threshold(),
		Sheets:    results,
	}
	for _, sa := range results {
		if !sa.Skipped && sa.NeedsConfirmation {
			out.NeedsConfirmation = true
		}
	}

	c.logger.Debug("workbook analyzed",
		zap.String("file", out.Filename),
		zap.Int("sheets", len(results)),
		zap.Bool("needs_confirmation", out.NeedsConfirmation),
	)
	return out, nil
}

// Threshold 生效的置信度阈值
func (c *Coordinator) Threshold() float64 {
	if c.opts.Threshold > 0 {
		return c.opts.Threshold
	}
	return parser.ConfidenceThreshold
}
