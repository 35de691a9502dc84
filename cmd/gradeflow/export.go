package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gradeflow/internal/analysis"
	"gradeflow/internal/exporter"
	"gradeflow/internal/util"
)

func newTemplateCmd(a *app) *cobra.Command {
	var (
		subjects []string
		open     bool
	)

	cmd := &cobra.Command{
		Use:   "template <out.xlsx>",
		Short: "生成成绩录入模板",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(subjects) == 0 {
				subjects = a.cfg.Subjects.Template
			}
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			if err := exporter.WriteTemplate(f, subjects); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "模板已生成: %s\n", args[0])
			return a.maybeOpen(open, args[0])
		},
	}

	cmd.Flags().StringSliceVar(&subjects, "subjects", nil, "模板科目列，如 --subjects 语文,数学,英语")
	cmd.Flags().BoolVar(&open, "open", false, "生成后打开文件")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		className string
		open      bool
	)

	cmd := &cobra.Command{
		Use:   "export <exam-id> <out.xlsx>",
		Short: "导出考试成绩与统计",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			exam, err := st.GetExam(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get exam %s: %w", args[0], err)
			}
			rows, err := st.GetExamScores(ctx, exam.ID, className)
			if err != nil {
				return err
			}
			stats := analysis.ExamStats(exam.ID, className, rows, a.fullMarks())

			f, err := exporter.ExamWorkbook(exam, rows, stats, func(evt exporter.ProgressEvent) {
				a.logger.Debug("export progress", zap.Int("percent", evt.Percent), zap.String("stage", evt.Stage))
			})
			if err != nil {
				return err
			}
			defer f.Close()
			if err := f.SaveAs(args[1]); err != nil {
				return fmt.Errorf("failed to save %s: %w", args[1], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "已导出 %s (%d 名学生): %s\n", exam.Name, len(rows), args[1])
			return a.maybeOpen(open, args[1])
		},
	}

	cmd.Flags().StringVar(&className, "class", "", "只导出指定班级")
	cmd.Flags().BoolVar(&open, "open", false, "导出后打开文件")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var className string

	cmd := &cobra.Command{
		Use:   "stats [exam-id]",
		Short: "查看考试列表或单次考试的统计",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if len(args) == 0 {
				exams, err := st.ListExams(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "ID\t考试\t日期\t年级\t人数")
				for _, e := range exams {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", e.ID, e.Name, e.ExamDate, e.GradeLevel, e.StudentCount)
				}
				return nil
			}

			exam, err := st.GetExam(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get exam %s: %w", args[0], err)
			}
			rows, err := st.GetExamScores(ctx, exam.ID, className)
			if err != nil {
				return err
			}
			stats := analysis.ExamStats(exam.ID, className, rows, a.fullMarks())

			fmt.Fprintf(tw, "%s %s  学生 %d  总分均分 %.2f\n\n", exam.Name, exam.ExamDate, stats.Students, stats.TotalMean)
			fmt.Fprintln(tw, "科目\t满分\t人数\t缺考\t均分\t最高\t最低\t及格率\t优秀率")
			for _, s := range stats.Subjects {
				fmt.Fprintf(tw, "%s\t%g\t%d\t%d\t%.2f\t%g\t%g\t%s\t%s\n",
					s.Subject, s.FullMarks, s.Count, s.Absent, s.Mean, s.Max, s.Min,
					util.FormatPercent(s.PassRate), util.FormatPercent(s.ExcellentRate))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&className, "class", "", "只统计指定班级")
	return cmd
}

func (a *app) fullMarks() analysis.FullMarks {
	return analysis.DefaultFullMarks().Merge(a.cfg.Subjects.FullMarks)
}

func (a *app) maybeOpen(open bool, path string) error {
	if !open {
		return nil
	}
	if err := util.OpenFile(path); err != nil {
		a.logger.Warn("open file failed", zap.String("path", path), zap.Error(err))
	}
	return nil
}
