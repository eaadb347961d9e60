// laudo-cli 在本地对单份检验报告执行公平使用检查与完整流水线，并输出彩色摘要
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/BenedictKing/laudo/internal/app"
	"github.com/BenedictKing/laudo/internal/config"
	"github.com/BenedictKing/laudo/internal/converters"
	"github.com/BenedictKing/laudo/internal/fairuse"
	"github.com/BenedictKing/laudo/internal/pipeline"
	"github.com/BenedictKing/laudo/internal/types"

	"github.com/fatih/color"
)

var (
	title   = color.New(color.FgCyan, color.Bold)
	ok      = color.New(color.FgGreen)
	warn    = color.New(color.FgYellow)
	bad     = color.New(color.FgRed, color.Bold)
	dim     = color.New(color.Faint)
	statusC = map[types.MetricStatus]*color.Color{
		types.StatusNormal:  ok,
		types.StatusAlto:    bad,
		types.StatusBaixo:   warn,
		types.StatusAtencao: warn,
	}
)

func main() {
	file := flag.String("file", "", "检验报告文件 (pdf/jpeg/png)")
	account := flag.String("account", "local", "账户 ID")
	lab := flag.String("lab", "", "已知的实验室名称")
	date := flag.String("date", "", "已知的检验日期 (yyyy-mm-dd)")
	kind := flag.String("kind", "", "媒体类型，默认按扩展名判断")
	verbose := flag.Bool("v", false, "输出流水线日志")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: laudo-cli -file exam.pdf [-account id] [-lab name] [-date yyyy-mm-dd]")
		os.Exit(2)
	}
	if !*verbose {
		log.SetOutput(io.Discard)
	}

	if err := run(*file, *account, *lab, *date, *kind); err != nil {
		bad.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}

func run(file, account, lab, date, kind string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if kind == "" {
		kind = strings.TrimPrefix(strings.ToLower(filepath.Ext(file)), ".")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env := config.NewEnvConfig()
	ctx, cancel := context.WithTimeout(ctx, env.PipelineDeadline())
	defer cancel()

	application, err := app.New(ctx, env, app.Options{Ephemeral: true})
	if err != nil {
		return err
	}
	defer application.Close()

	decision := application.Guard.Check(ctx, account, types.ResourceRequests)
	printDecision(decision)
	if err := application.Guard.Enforce(ctx, decision); err != nil {
		return err
	}

	result, err := application.Pipeline.Run(ctx, pipeline.Input{
		AccountID:     account,
		Document:      data,
		MediaKind:     kind,
		PriorLabName:  lab,
		PriorExamDate: date,
	})
	if err != nil {
		var se *pipeline.StageError
		if errors.As(err, &se) && se.Stage == "extraction" {
			dim.Fprintf(os.Stderr, "  %v\n", err)
			return errors.New(pipeline.UserFacingExtractionError)
		}
		return err
	}

	printResult(result)
	return nil
}

func printDecision(d fairuse.Decision) {
	switch d.Mode {
	case fairuse.ModeSoft:
		warn.Printf("! 超出配额，限流 %v (%d/%d)\n", d.Throttle, d.CurrentUsage, d.Limit)
	case fairuse.ModeHard:
		bad.Printf("✗ 配额已用尽 (%d/%d)\n", d.CurrentUsage, d.Limit)
	default:
		if d.Warning != "" {
			warn.Printf("! 接近配额上限 (%d/%d)\n", d.CurrentUsage, d.Limit)
		}
	}
}

func printResult(r *pipeline.Result) {
	ex := r.Extraction
	title.Printf("\n检验报告 %s\n", r.ExamID)
	fmt.Printf("  实验室: %s  日期: %s  类型: %s\n", orDash(ex.LabName), orDash(ex.ExamDate), orDash(ex.ExamType))
	if ex.PhysicianName != "" {
		fmt.Printf("  申请医生: %s\n", ex.PhysicianName)
	}
	if ex.FallbackMetrics {
		warn.Println("  未能识别任何指标，已使用默认指标集")
	}

	order, groups := converters.GroupByCategory(ex.Metrics)
	for _, cat := range order {
		title.Printf("\n  %s\n", cat)
		for _, m := range groups[cat] {
			c := statusC[m.Status]
			if c == nil {
				c = warn
			}
			fmt.Printf("    %-28s %10s %-8s ", m.Name, m.Value, m.Unit)
			c.Printf("%s\n", m.Status)
		}
	}

	s := r.Summary
	fmt.Printf("\n  共 %d 项: ", s.TotalExtracted)
	ok.Printf("normal %d ", s.StatusCounts[types.StatusNormal])
	bad.Printf("alto %d ", s.StatusCounts[types.StatusAlto])
	warn.Printf("baixo %d atencao %d\n", s.StatusCounts[types.StatusBaixo], s.StatusCounts[types.StatusAtencao])

	switch r.Status {
	case types.PipelineAnalyzed:
		title.Println("\n分析")
		fmt.Printf("  %s\n", r.Analysis.Summary)
		for _, note := range r.Analysis.Categories {
			fmt.Printf("  • %s: %s\n", note.Category, note.Summary)
		}
		for _, rec := range r.Analysis.Recommendations {
			ok.Printf("  → %s\n", rec)
		}
		if r.Analysis.Cached {
			dim.Println("  (缓存命中)")
		}
	case types.PipelineExtractionOnly:
		warn.Println("\n分析暂不可用，仅返回提取结果")
	}

	dim.Printf("\n  tokens: %d (prompt %d, completion %d)\n", r.Usage.Total(), r.Usage.PromptTokens, r.Usage.CompletionTokens)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
