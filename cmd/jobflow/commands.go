package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rendis/jobflow/internal/diagram"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/pkg/schema"
)

// parseParams turns key=value arguments into job parameters. Later
// occurrences of a key win.
func parseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", arg)
		}
		params[k] = v
	}
	return params, nil
}

// exitCode maps a sealed record to the process exit status.
func exitCode(rec *store.ExecutionRecord) int {
	switch {
	case rec == nil:
		return 1
	case rec.Status == schema.ExecutionCompleted:
		return 0
	case rec.Status == schema.ExecutionStopped:
		return 3
	default:
		return 2
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// runJob launches a job and prints its execution record.
func runJob(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	timeout := fs.Duration("timeout", 0, "abort the run after this long (0 = no limit)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: jobflow run [-timeout d] <job> [key=value ...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	params, err := parseParams(fs.Args()[1:])
	if err != nil {
		fatalf("%v", err)
	}

	ctx, cancel := commandContext(*timeout)
	defer cancel()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		fatalf("%v", err)
	}

	rec, err := a.launcher.Launch(ctx, fs.Arg(0), params)
	a.close()
	if rec != nil {
		printJSON(rec)
	}
	if err != nil {
		fatalf("%v", err)
	}
	os.Exit(exitCode(rec))
}

// restartJob resumes the newest incomplete execution of a job.
func restartJob(args []string) {
	fs := flag.NewFlagSet("restart", flag.ExitOnError)
	timeout := fs.Duration("timeout", 0, "abort the run after this long (0 = no limit)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fatalf("usage: jobflow restart <job>")
	}

	ctx, cancel := commandContext(*timeout)
	defer cancel()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		fatalf("%v", err)
	}

	rec, err := a.launcher.Restart(ctx, fs.Arg(0))
	a.close()
	if rec != nil {
		printJSON(rec)
	}
	if err != nil {
		fatalf("%v", err)
	}
	os.Exit(exitCode(rec))
}

// validateFiles loads definition files against the configured catalog and
// reports every problem found.
func validateFiles(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fatalf("usage: jobflow validate <file> [file ...]")
	}

	cfg := loadConfig()
	logger, _ := newLogger(cfg.LogLevel)
	c, err := loadDefinitions(cfg, logger)
	if err != nil {
		fatalf("%v", err)
	}

	failed := false
	for _, path := range fs.Args() {
		jobs, err := c.LoadFile(path)
		if err != nil {
			failed = true
			fmt.Printf("FAIL %s\n", path)
			if jfErr, ok := schema.AsJobflowError(err); ok {
				printIssues(jfErr)
			} else {
				fmt.Printf("  %v\n", err)
			}
			continue
		}
		names := make([]string, 0, len(jobs))
		for _, j := range jobs {
			names = append(names, j.Name())
		}
		fmt.Printf("ok   %s %s\n", path, strings.Join(names, ","))
	}
	if failed {
		os.Exit(1)
	}
}

func printIssues(err *schema.JobflowError) {
	issues, ok := err.Details["errors"].([]schema.ValidationIssue)
	if !ok || len(issues) == 0 {
		fmt.Printf("  %s\n", err.Error())
		return
	}
	for _, is := range issues {
		fmt.Printf("  %s: [%s] %s\n", is.Path, is.Code, is.Message)
	}
}

// renderDiagram writes the graph of a job, or of the job of an execution
// with its status overlay.
func renderDiagram(args []string) {
	fs := flag.NewFlagSet("diagram", flag.ExitOnError)
	format := fs.String("format", "mermaid", "mermaid, ascii, png or svg")
	executionID := fs.String("execution", "", "overlay the status of this execution")
	out := fs.String("o", "", "output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		fatalf("%v", err)
	}
	defer a.close()

	var rec *store.ExecutionRecord
	jobName := fs.Arg(0)
	if *executionID != "" {
		if rec, err = a.repo.GetExecution(ctx, *executionID); err != nil {
			fatalf("%v", err)
		}
		jobName = rec.JobName
	}
	if jobName == "" {
		fatalf("usage: jobflow diagram [-format f] [-execution id] [-o file] <job>")
	}
	j, ok := a.launcher.Job(jobName)
	if !ok {
		fatalf("job %q not found", jobName)
	}

	model, err := diagram.Build(j, rec)
	if err != nil {
		fatalf("%v", err)
	}
	var data []byte
	switch *format {
	case "mermaid":
		data = []byte(diagram.RenderMermaid(model))
	case "ascii":
		data = []byte(diagram.RenderASCII(model))
	case string(diagram.ImagePNG), string(diagram.ImageSVG):
		if data, err = diagram.RenderImage(ctx, model, diagram.ImageFormat(*format)); err != nil {
			fatalf("%v", err)
		}
	default:
		fatalf("unsupported format %q", *format)
	}

	if *out == "" {
		_, _ = os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fatalf("write %s: %v", *out, err)
	}
}

// listJobs prints the registered jobs.
func listJobs(args []string) {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	cfg := loadConfig()
	logger, _ := newLogger(cfg.LogLevel)
	c, err := loadDefinitions(cfg, logger)
	if err != nil {
		fatalf("%v", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTART\tNODES\tRESTARTABLE\tDESCRIPTION")
	for _, j := range c.Jobs() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n",
			j.Name(), j.Flow().Start().Name(), len(j.Flow().Nodes()), j.Restartable(), j.Description())
	}
	_ = tw.Flush()
}

func listActions(args []string) {
	fs := flag.NewFlagSet("actions", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	logger, _ := newLogger(loadConfig().LogLevel)
	c, err := newCatalog(logger)
	if err != nil {
		fatalf("%v", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	for _, a := range c.Actions() {
		fmt.Fprintf(tw, "%s\t%s\n", a.Name, a.Description)
	}
	_ = tw.Flush()
}

// listExecutions prints recorded executions, newest first.
func listExecutions(args []string) {
	fs := flag.NewFlagSet("executions", flag.ExitOnError)
	jobName := fs.String("job", "", "only executions of this job")
	status := fs.String("status", "", "only executions in this state")
	limit := fs.Int("limit", 20, "maximum number of executions")
	all := fs.Bool("all", false, "include nested job executions")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig()
	ctx := context.Background()
	logger, _ := newLogger(cfg.LogLevel)
	repo, err := openStore(ctx, cfg, logger)
	if err != nil {
		fatalf("%v", err)
	}
	defer repo.Close()

	filter := store.ExecutionFilter{JobName: *jobName, Limit: *limit, TopLevel: !*all}
	if *status != "" {
		s := schema.ExecutionStatus(strings.ToUpper(*status))
		if !s.Valid() {
			fatalf("unknown status %q", *status)
		}
		filter.Status = &s
	}
	recs, err := repo.ListExecutions(ctx, filter)
	if err != nil {
		fatalf("%v", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tJOB\tSTATUS\tEXIT\tSTEPS\tSTARTED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.JobName, r.Status, r.FinalStatus, len(r.Steps), r.StartTime.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.WithCancel(context.Background())
}
