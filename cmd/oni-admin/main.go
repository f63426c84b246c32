package main

import (
	"fmt"
	"os"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const usage = `Usage: oni-admin <command> [arguments]

Commands:
  serve                   run the admin API daemon
  load <batch_path>       load a batch into the archive
  purge [-y] <batch_name> purge a batch from the archive
  status <job_id>         show a job's status
  logs [-f] <job_id>      show the command output captured for a job
  jobs [filters]          list recent jobs
  version                 print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "load":
		runLoad()
	case "purge":
		runPurge()
	case "status":
		runStatus()
	case "logs":
		runLogs()
	case "jobs":
		runJobs()
	case "version", "--version", "-v":
		fmt.Println(Version)
	case "help", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}
