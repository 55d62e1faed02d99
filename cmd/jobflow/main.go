// Command jobflow runs batch jobs defined as graphs of steps, deciders,
// splits and nested jobs.
package main

import (
	"fmt"
	"os"
)

const usage = `usage: jobflow <command> [flags] [args]

commands:
  serve        serve the HTTP API
  mcp          serve the MCP tools over stdio
  run          launch a job: run <job> [key=value ...]
  restart      restart the last incomplete execution of a job
  jobs         list loaded jobs
  executions   list recorded executions
  actions      list registered actions
  validate     check definition files
  diagram      render a job graph
  init         write ~/.jobflow/settings.json
  version      print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "serve":
		runServe(args)
	case "mcp":
		runMCP(args)
	case "run":
		runJob(args)
	case "restart":
		restartJob(args)
	case "jobs":
		listJobs(args)
	case "executions":
		listExecutions(args)
	case "actions":
		listActions(args)
	case "validate":
		validateFiles(args)
	case "diagram":
		renderDiagram(args)
	case "init":
		runInit(args)
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
