package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gradeflow/internal/importer"
	"gradeflow/internal/parser"
	"gradeflow/internal/store"
)

// mappingFlags 分析/导入共用的映射参数
type mappingFlags struct {
	formats  []string // sheet=wide|long
	mappings []string // sheet:列号=字段[:科目]
}

func (m *mappingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&m.formats, "format", nil, "指定 Sheet 结构，如 --format 成绩=wide")
	cmd.Flags().StringArrayVar(&m.mappings, "map", nil, "指定列映射（列号从 1 开始），如 --map 成绩:4=subject_score:语文")
}

func (m *mappingFlags) parse() (map[string]parser.SheetFormat, map[string][]parser.ColumnOverride, error) {
	formats, err := parseFormats(m.formats)
	if err != nil {
		return nil, nil, withCode(exitUsage, err)
	}
	overrides, err := parseMappings(m.mappings)
	if err != nil {
		return nil, nil, withCode(exitUsage, err)
	}
	return formats, overrides, nil
}

// parseFormats 解析 sheet=wide|long
func parseFormats(values []string) (map[string]parser.SheetFormat, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]parser.SheetFormat, len(values))
	for _, v := range values {
		sheet, format, ok := strings.Cut(v, "=")
		sheet = strings.TrimSpace(sheet)
		f := parser.SheetFormat(strings.ToLower(strings.TrimSpace(format)))
		if !ok || sheet == "" || (f != parser.FormatWide && f != parser.FormatLong) {
			return nil, fmt.Errorf("invalid --format %q (want sheet=wide|long)", v)
		}
		out[sheet] = f
	}
	return out, nil
}

// parseMappings 解析 sheet:列号=字段[:科目]
func parseMappings(values []string) (map[string][]parser.ColumnOverride, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string][]parser.ColumnOverride)
	for _, v := range values {
		lhs, target, ok := strings.Cut(v, "=")
		sep := strings.LastIndex(lhs, ":")
		if !ok || sep <= 0 {
			return nil, fmt.Errorf("invalid --map %q (want sheet:column=field[:subject])", v)
		}
		sheet := strings.TrimSpace(lhs[:sep])
		colText := lhs[sep+1:]
		col, err := strconv.Atoi(strings.TrimSpace(colText))
		if err != nil || col < 1 {
			return nil, fmt.Errorf("invalid --map %q: column must be a positive number", v)
		}
		field, subject, _ := strings.Cut(target, ":")
		kind := parser.FieldKind(strings.TrimSpace(field))
		if !kind.IsValid() {
			return nil, fmt.Errorf("invalid --map %q: unknown field %q", v, field)
		}
		out[sheet] = append(out[sheet], parser.ColumnOverride{
			Index:   col - 1,
			Field:   kind,
			Subject: strings.TrimSpace(subject),
		})
	}
	return out, nil
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var flags mappingFlags

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "识别成绩文件的表头、结构与置信度（不写库）",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			formats, overrides, err := flags.parse()
			if err != nil {
				return err
			}

			coord := a.coordinator(store.NewMemory())
			result, err := coord.Analyze(cmd.Context(), importer.Source{FilePath: args[0]}, importer.AnalyzeOptions{
				Overrides: overrides,
				Formats:   formats,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	flags.register(cmd)
	return cmd
}

type importFlags struct {
	mappingFlags
	examName string
	examDate string
	force    bool
	dryRun   bool
	replace  bool
	noRanks  bool
	jsonOut  bool
}

func newImportCmd(a *app) *cobra.Command {
	var flags importFlags

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "导入成绩文件",
		Long:  "导入成绩文件。置信度低于阈值的 Sheet 不会写入，需通过 --format/--map 确认后重试，或使用 --force。",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			formats, overrides, err := flags.parse()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			onEvent := func(evt importer.ProgressEvent) {
				if !flags.jsonOut {
					printEvent(out, evt)
				}
			}

			report, err := a.coordinator(st).Run(ctx, importer.ImportOptions{
				Source:          importer.Source{FilePath: args[0]},
				ExamName:        flags.examName,
				ExamDate:        flags.examDate,
				Overrides:       overrides,
				Formats:         formats,
				Force:           flags.force,
				DryRun:          flags.dryRun,
				ReplaceExisting: flags.replace,
				ComputeRanks:    a.cfg.Import.ComputeRanks && !flags.noRanks,
			}, onEvent)

			if report != nil {
				if flags.jsonOut {
					if werr := writeJSON(out, report); werr != nil {
						return werr
					}
				} else {
					printReport(out, report)
				}
			}
			if errors.Is(err, importer.ErrNeedsConfirmation) {
				return withCode(exitNeedsConfirmation, err)
			}
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&flags.examName, "exam", "", "考试名称 (默认从标题或文件名识别)")
	cmd.Flags().StringVar(&flags.examDate, "date", "", "考试日期 YYYY-MM-DD")
	cmd.Flags().BoolVar(&flags.force, "force", false, "忽略置信度阈值强制导入")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "只识别和校验，不写库")
	cmd.Flags().BoolVar(&flags.replace, "replace", false, "覆盖该考试已有的成绩")
	cmd.Flags().BoolVar(&flags.noRanks, "no-ranks", false, "不计算排名")
	cmd.Flags().BoolVar(&flags.jsonOut, "json", false, "以 JSON 输出导入报告")
	return cmd
}

// coordinator 按配置创建导入协调器
func (a *app) coordinator(st store.Store) *importer.Coordinator {
	return importer.NewCoordinator(st, a.logger, importer.Options{
		Threshold:      a.cfg.Import.ConfidenceThreshold,
		HeaderScanRows: a.cfg.Import.HeaderScanRows,
		PreviewRows:    a.cfg.Import.PreviewRows,
	})
}

func printEvent(w io.Writer, evt importer.ProgressEvent) {
	switch evt.Type {
	case importer.EventStart, importer.EventDone:
		return
	case importer.EventSheetStart:
		fmt.Fprintf(w, "▶ %s\n", evt.Sheet)
	case importer.EventWarning:
		fmt.Fprintf(w, "  ⚠ %s\n", evt.Message)
	case importer.EventNeedsConfirmation:
		fmt.Fprintf(w, "  ? %s\n", evt.Message)
	case importer.EventError:
		fmt.Fprintf(w, "  ✗ %s\n", evt.Message)
	default:
		fmt.Fprintf(w, "  %s\n", evt.Message)
	}
}

func printReport(w io.Writer, r *parser.ImportReport) {
	mode := ""
	if r.DryRun {
		mode = " (dry-run)"
	}
	fmt.Fprintf(w, "\n导入完成%s: %s\n", mode, r.Filename)
	fmt.Fprintf(w, "  Sheet: 共 %d, 导入 %d, 跳过 %d, 待确认 %d, 失败 %d\n",
		r.TotalSheets, r.ImportedSheets, r.SkippedSheets, r.ConfirmSheets, r.ErrorSheets)
	fmt.Fprintf(w, "  行: 共 %d, 导入 %d, 错误 %d, 耗时 %s\n",
		r.TotalRows, r.ImportedRows, r.ErrorRows, r.Duration.Round(time.Millisecond))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
