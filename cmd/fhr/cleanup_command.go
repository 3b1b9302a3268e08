package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fhr/internal/cleanup"
	"fhr/internal/exporter"
)

func newCleanupCommand() *cobra.Command {
	var (
		output       string
		exportPolicy string
		outputDir    string
		debug        bool
		yes          bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup <出勤档案.txt>",
		Short: "清理该档案的导出产物（两阶段：先预览再确认）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format := exporter.FormatExcel
			if output == "csv" {
				format = exporter.FormatCSV
			}
			dir := outputDir
			if dir == "" {
				dir = "."
			}

			canonicalPath := exporter.CanonicalPath(dir, args[0], format)
			preview, err := cleanup.BuildPreview(canonicalPath, debug, exportPolicy)
			if err != nil {
				return err
			}

			if len(preview.Items) == 0 {
				fmt.Println("没有可清理的导出产物")
				return nil
			}

			headers := []string{"档案", "类型", "大小", "修改时间", "删除"}
			rows := make([][]string, 0, len(preview.Items))
			for _, item := range preview.Items {
				del := "—"
				if item.Delete {
					del = "✔"
				}
				rows = append(rows, []string{
					item.Name,
					item.Kind,
					strconv.FormatInt(item.Size, 10),
					time.Unix(0, item.Mtime).Format("2006-01-02 15:04:05"),
					del,
				})
			}
			fmt.Println(renderTable(headers, rows))

			if !yes {
				if !stdoutIsTerminal() {
					return fmt.Errorf("非交互环境请加 --yes 确认删除")
				}
				fmt.Print("确认删除以上标记的档案? [y/N] ")
				reader := bufio.NewReader(os.Stdin)
				line, _ := reader.ReadString('\n')
				if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
					fmt.Println("已取消")
					return nil
				}
			}

			// 确认前重算快照，期间有变动则拒绝执行
			current, err := cleanup.BuildSnapshot(canonicalPath, debug, exportPolicy)
			if err != nil {
				return err
			}
			if cleanup.Token(current) != preview.Token {
				return fmt.Errorf("导出产物在预览后发生变动，请重新执行 cleanup")
			}

			removed, err := cleanup.Execute(canonicalPath, debug)
			if err != nil {
				return err
			}
			fmt.Printf("已删除 %d 个档案\n", len(removed))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "excel", "报表格式: excel / csv")
	cmd.Flags().StringVar(&exportPolicy, "export-policy", "merge", "导出策略: merge / archive")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "报表输出目录（默认当前目录）")
	cmd.Flags().BoolVar(&debug, "debug", false, "调试模式（连同 canonical 档一并删除）")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "跳过确认提示")

	return cmd
}
