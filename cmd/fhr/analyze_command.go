package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"fhr/internal/config"
	"fhr/internal/exporter"
	"fhr/internal/service"
	"fhr/internal/state"
)

func newAnalyzeCommand() *cobra.Command {
	var (
		full         bool
		output       string
		resetState   bool
		debug        bool
		exportPolicy string
		outputDir    string
		noExport     bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <出勤档案.txt>",
		Short: "分析出勤打卡档案",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}

			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			opts := service.Options{
				SourcePath: args[0],
				Mode:       state.ModeIncremental,
				Output:     exporter.FormatExcel,
				ResetState: resetState,
				Debug:      debug,
				OutputDir:  outputDir,
				SkipExport: noExport,
				AddRecent:  true,
			}
			if full {
				opts.Mode = state.ModeFull
			}
			switch output {
			case "", "excel":
			case "csv":
				opts.Output = exporter.FormatCSV
			default:
				return fmt.Errorf("不支援的输出格式: %s", output)
			}
			switch exportPolicy {
			case "", "merge":
				opts.ExportPolicy = exporter.PolicyMerge
			case "archive":
				opts.ExportPolicy = exporter.PolicyArchive
			default:
				return fmt.Errorf("不支援的导出策略: %s", exportPolicy)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var progress service.ProgressFunc
			if stdoutIsTerminal() {
				progress = func(stage string, step, total int) {
					fmt.Printf("[%d/%d] %s\n", step, total, stageLabel(stage))
				}
			}

			analyzer := service.NewAnalyzer(cfg, repo)
			result, err := analyzer.Run(ctx, opts, progress)
			if err != nil {
				return err
			}

			printResult(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "全量分析（忽略已处理范围）")
	cmd.Flags().StringVarP(&output, "output", "o", "excel", "输出格式: excel / csv")
	cmd.Flags().BoolVar(&resetState, "reset-state", false, "分析前清除该使用者的状态")
	cmd.Flags().BoolVar(&debug, "debug", false, "调试模式（不写入状态）")
	cmd.Flags().StringVar(&exportPolicy, "export-policy", "merge", "导出策略: merge / archive")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "报表输出目录（默认与来源档同目录）")
	cmd.Flags().BoolVar(&noExport, "no-export", false, "只显示分析结果，不产生报表档")

	return cmd
}

func newRecentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recent",
		Short: "列出最近分析过的档案",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := service.LoadRecentFiles()
			if len(entries) == 0 {
				fmt.Println("尚无最近分析记录")
				return nil
			}
			for i, p := range entries {
				fmt.Printf("%d. %s\n", i+1, p)
			}
			return nil
		},
	}
}

// openRepository 依配置打开状态存储；CLI 相对路径基于当前目录
func openRepository(cfg *config.AppConfig) (state.Repository, error) {
	path := cfg.State.Path
	if cfg.State.Backend == "sqlite" {
		return state.NewSQLiteRepository(path)
	}
	return state.NewFileRepository(path), nil
}

func stageLabel(stage string) string {
	switch stage {
	case "parse":
		return "解析打卡记录"
	case "group":
		return "汇整工作日与假日"
	case "analyze":
		return "分析考勤问题"
	case "export":
		return "产生报表"
	}
	return stage
}

func printResult(result *service.Result) {
	if result.StateTracked {
		fmt.Printf("\n👤 使用者: %s（%s ~ %s，%s 模式）\n",
			result.User, result.StartDate, result.EndDate, modeLabel(result.EffectiveMode))
	} else {
		fmt.Println("\n⚠️  档名不符合约定，已降级为全量分析且不追踪状态")
	}
	if result.DebugMode {
		fmt.Println("🐛 调试模式：状态未写入")
	}
	if result.ResetApplied {
		fmt.Println("🧹 已清除该使用者的历史状态")
	}

	if result.Status != nil {
		fmt.Printf("\n📊 增量分析完成，已處理至 %s，共 %d 個完整工作日\n",
			result.Status.LastDate, result.Status.CompleteDays)
		if result.Status.LastAnalysisTime != "" {
			fmt.Printf("   上次分析時間: %s\n", result.Status.LastAnalysisTime)
		}
		return
	}

	if len(result.IssuesPreview) > 0 {
		headers := []string{"日期", "類型", "時長(分鐘)", "說明"}
		rows := make([][]string, 0, len(result.IssuesPreview))
		for _, p := range result.IssuesPreview {
			rows = append(rows, []string{p.Date, p.Type, strconv.Itoa(p.DurationMinutes), p.Description})
		}
		fmt.Println()
		fmt.Println(renderTable(headers, rows))
	}

	fmt.Println()
	fmt.Println(result.ReportText)

	if result.OutputPath != "" {
		abs, err := filepath.Abs(result.OutputPath)
		if err != nil {
			abs = result.OutputPath
		}
		if result.RequestedFormat == exporter.FormatExcel && result.ActualFormat == exporter.FormatCSV {
			fmt.Fprintln(os.Stderr, "⚠️  Excel 汇出失败，已回退为 CSV")
		}
		fmt.Printf("📄 报表已输出: %s\n", abs)
	}
}

func modeLabel(mode state.Mode) string {
	if mode == state.ModeFull {
		return "全量"
	}
	return "增量"
}
