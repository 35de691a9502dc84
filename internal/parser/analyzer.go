package parser

// DefaultPreviewRows 分析结果中预览的数据行数
const DefaultPreviewRows = 5

// AnalyzeOptions 单个 Sheet 的分析参数
type AnalyzeOptions struct {
	HeaderScanRows int
	PreviewRows    int
	Threshold      float64
	Overrides      []ColumnOverride
	Format         SheetFormat // 用户指定结构，为空时自动识别
}

// SheetAnalysis 单个 Sheet 的识别结果
type SheetAnalysis struct {
	SheetName         string           `json:"sheetName"`
	Skipped           bool             `json:"skipped"`
	SkipReason        string           `json:"skipReason,omitempty"`
	Header            HeaderInfo       `json:"header"`
	Classification    Classification   `json:"classification"`
	Structure         StructureResult  `json:"structure"`
	Confidence        ConfidenceResult `json:"confidence"`
	NeedsConfirmation bool             `json:"needsConfirmation"`
	ExamName          string           `json:"examName,omitempty"`
	ExamDate          string           `json:"examDate,omitempty"`
	DefaultClass      string           `json:"defaultClass,omitempty"`
	DataRows          int              `json:"dataRows"`
	Preview           [][]string       `json:"preview,omitempty"`
}

// AnalyzeSheet 表头定位 -> 列分类 -> 结构识别 -> 置信度评分
func AnalyzeSheet(sheet Sheet, opts AnalyzeOptions) SheetAnalysis {
	a := SheetAnalysis{SheetName: sheet.Name}

	header, ok := DetectHeaderRow(sheet.Rows, opts.HeaderScanRows)
	if !ok {
		a.Skipped = true
		a.SkipReason = "未找到表头"
		return a
	}
	a.Header = header

	dataStart := header.RowIndex + 1
	for i := dataStart; i < len(sheet.Rows); i++ {
		if !isBlankRow(sheet.Rows[i]) {
			a.DataRows++
		}
	}
	if a.DataRows == 0 {
		a.Skipped = true
		a.SkipReason = "没有数据行"
		return a
	}

	a.Classification = NewHeaderClassifier().ClassifyWithOverrides(header.Headers, opts.Overrides)

	sample := sheet.Rows[dataStart:]
	if len(sample) > 50 {
		sample = sample[:50]
	}
	if opts.Format == FormatWide || opts.Format == FormatLong {
		a.Structure = StructureResult{Format: opts.Format, Confidence: 1, Reason: "用户指定"}
		if opts.Format == FormatWide && len(columnsOf(a.Classification.Columns, FieldSubjectScore)) == 0 {
			a.Structure.ImpliedSubject, _ = SubjectFromSheetName(sheet.Name)
		}
	} else {
		a.Structure = DetectStructure(sheet.Name, a.Classification.Columns, sample)
	}
	a.Confidence = ScoreConfidence(a.Classification, a.Structure.Format)

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = ConfidenceThreshold
	}
	a.NeedsConfirmation = NeedsConfirmation(a.Confidence, a.Structure.Format, threshold)

	if name, ok := ExtractExamName(header.Title); ok {
		a.ExamName = name
	}
	if date, ok := ExtractExamDate(header.Title); ok {
		a.ExamDate = date
	}
	if _, hasClass := findColumn(a.Classification.Columns, FieldClass); !hasClass {
		a.DefaultClass, _ = ClassFromSheetName(sheet.Name)
	}

	previewRows := opts.PreviewRows
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}
	for i := dataStart; i < len(sheet.Rows) && len(a.Preview) < previewRows; i++ {
		if !isBlankRow(sheet.Rows[i]) {
			a.Preview = append(a.Preview, sheet.Rows[i])
		}
	}
	return a
}

// Extract 按识别结果提取数据行
func (a SheetAnalysis) Extract(sheet Sheet) ExtractResult {
	opts := ExtractOptions{
		SheetName:      sheet.Name,
		DataStart:      a.Header.RowIndex + 1,
		ImpliedSubject: a.Structure.ImpliedSubject,
		DefaultClass:   a.DefaultClass,
	}
	if a.Structure.Format == FormatLong {
		return ExtractLong(sheet.Rows, a.Classification.Columns, opts)
	}
	return ExtractWide(sheet.Rows, a.Classification.Columns, opts)
}
