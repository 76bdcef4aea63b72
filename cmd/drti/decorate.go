package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"drti/internal/decorate"
	"drti/internal/irverify"
	"drti/internal/manifest"
	"drti/internal/pipeline"
)

var (
	decorateOutput      string
	decorateTargets     string
	decorateTargetsFile string
	decorateManifest    bool
	decorateVerify      bool
	decorateJobs        int
	decorateUI          string
)

func init() {
	decorateCmd.Flags().StringVarP(&decorateOutput, "output", "o", "", "output path (single input only; default <input>.drti.ll)")
	decorateCmd.Flags().StringVar(&decorateTargets, "targets", "", "whitespace-separated target function names (default $"+envTargetNames+")")
	decorateCmd.Flags().StringVar(&decorateTargetsFile, "targets-file", "", "file of whitespace-separated target names (default $"+envTargetsFile+")")
	decorateCmd.Flags().BoolVar(&decorateManifest, "manifest", true, "write a "+manifest.Ext+" manifest next to each decorated module")
	decorateCmd.Flags().BoolVar(&decorateVerify, "verify", true, "verify the IR after decoration")
	decorateCmd.Flags().IntVarP(&decorateJobs, "jobs", "j", 0, "modules decorated in parallel (0 = number of CPUs)")
	decorateCmd.Flags().StringVar(&decorateUI, "ui", "auto", "progress view for several inputs (auto|on|off)")
}

var decorateCmd = &cobra.Command{
	Use:   "decorate [flags] <module.ll>...",
	Short: "Decorate target functions in LLVM IR modules",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDecorate,
}

type decorateJob struct {
	input  string
	output string
	result decorate.Result
	err    error
}

func runDecorate(cmd *cobra.Command, args []string) error {
	if decorateOutput != "" && len(args) > 1 {
		return fmt.Errorf("--output needs exactly one input, got %d", len(args))
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	targets, err := resolveTargets(decorateTargets, decorateTargetsFile, cfg)
	if err != nil {
		return err
	}
	proto, err := protocolFor(cfg)
	if err != nil {
		return err
	}
	pass, err := decorate.New(decorate.Config{Targets: targets, Protocol: proto})
	if err != nil {
		return err
	}

	jobs := make([]*decorateJob, len(args))
	for i, in := range args {
		out := decorateOutput
		if out == "" {
			out = defaultOutputPath(in)
		}
		jobs[i] = &decorateJob{input: in, output: out}
	}

	limit := decorateJobs
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	mode, err := parseSwitch("ui", decorateUI)
	if err != nil {
		return err
	}
	quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	timings, _ := cmd.Root().PersistentFlags().GetBool("timings")

	ctx := cmd.Context()
	batch := func(sink pipeline.Sink) error {
		return decorateBatch(ctx, pass, jobs, limit, sink)
	}
	display := batchDisplay{mode: mode, quiet: quiet, files: len(jobs), tty: stdoutIsTerminal()}
	var batchErr error
	if display.useTUI() {
		batchErr = runWithUI("drti decorate", args, batch)
	} else {
		batchErr = batch(pipeline.Discard)
	}

	for _, job := range jobs {
		if job.err != nil {
			continue
		}
		if display.printLines() {
			printJob(cmd.OutOrStdout(), job)
		}
		if timings {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s", job.input, job.result.Timings.Summary())
		}
	}
	if batchErr != nil {
		if errors.Is(batchErr, decorate.ErrMalformedFunction) || errors.Is(batchErr, decorate.ErrSupportCorrupt) {
			dumpTrace(cmd)
		}
		return batchErr
	}
	return nil
}

// decorateBatch decorates every job, at most limit at a time, and returns
// the first error.
func decorateBatch(ctx context.Context, pass *decorate.Pass, jobs []*decorateJob, limit int, sink pipeline.Sink) error {
	for _, job := range jobs {
		sink.OnEvent(pipeline.Event{File: job.input, Status: pipeline.StatusQueued})
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, job := range jobs {
		g.Go(func() error {
			job.result, job.err = decorateFile(ctx, pass, job.input, job.output, sink)
			return job.err
		})
	}
	return g.Wait()
}

// decorateFile runs the decoration pipeline over one module and writes the
// result, plus its manifest when the module was decorated.
func decorateFile(ctx context.Context, pass *decorate.Pass, input, output string, sink pipeline.Sink) (res decorate.Result, err error) {
	if sink == nil {
		sink = pipeline.Discard
	}
	started := time.Now()
	stage := pipeline.StageParse
	report := func(s pipeline.Stage) {
		stage = s
		sink.OnEvent(pipeline.Event{File: input, Stage: s, Status: pipeline.StatusWorking, Elapsed: time.Since(started)})
	}
	defer func() {
		ev := pipeline.Event{File: input, Stage: stage, Status: pipeline.StatusDone, Elapsed: time.Since(started), Detail: res.Status.String()}
		if err != nil {
			ev.Status, ev.Err, ev.Detail = pipeline.StatusError, err, ""
		}
		sink.OnEvent(ev)
	}()

	report(pipeline.StageParse)
	m, err := asm.ParseFile(input)
	if err != nil {
		return decorate.Result{}, fmt.Errorf("%s: %w", input, err)
	}

	var b pipeline.Builder
	b.Add(pipeline.EPOptimizerLast, pipeline.Func{
		PassName: decorate.PassName,
		Fn: func(ctx context.Context, m *ir.Module) error {
			var err error
			res, err = pass.Run(ctx, m)
			return err
		},
	})
	if decorateVerify {
		b.Add(pipeline.EPOptimizerLast, pipeline.Func{
			PassName: "verify",
			Fn: func(_ context.Context, m *ir.Module) error {
				if !res.Changed {
					return nil
				}
				return irverify.Module(m)
			},
		})
	}
	p := b.Build()
	p.Observer = func(ev pipeline.PhaseEvent) {
		if ev.Pass == decorate.PassName && ev.Err == nil && decorateVerify {
			report(pipeline.StageVerify)
		}
	}
	report(pipeline.StageDecorate)
	if err := p.Run(ctx, m); err != nil {
		return res, fmt.Errorf("%s: %w", input, err)
	}

	report(pipeline.StageWrite)
	if err := os.WriteFile(output, []byte(m.String()), 0o644); err != nil {
		return res, err
	}
	if decorateManifest && res.Status == decorate.StatusDecorated {
		man := manifest.New(input, res)
		man.Output = output
		if err := manifest.Write(manifest.PathFor(output), man); err != nil {
			return res, fmt.Errorf("%s: manifest: %w", output, err)
		}
	}
	return res, nil
}

func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".drti" + ext
}

var (
	decoratedColor = color.New(color.FgGreen, color.Bold)
	skippedColor   = color.New(color.FgYellow)
)

func printJob(out io.Writer, job *decorateJob) {
	res := job.result
	status := res.Status.String()
	if res.Status == decorate.StatusDecorated {
		status = decoratedColor.Sprint(status)
	} else {
		status = skippedColor.Sprint(status)
	}
	fmt.Fprintf(out, "%s -> %s: %s", job.input, job.output, status)
	if res.Status == decorate.StatusDecorated {
		fmt.Fprintf(out, " (%d landing sites, %d callsites, %s byte snapshot)", len(res.Landings), len(res.Callsites), humanCount(len(res.Snapshot)))
	}
	if res.Link != nil {
		fmt.Fprintf(out, ": %v", res.Link)
	}
	if res.Layout != nil {
		fmt.Fprintf(out, ": %v", res.Layout)
	}
	fmt.Fprintln(out)
}
