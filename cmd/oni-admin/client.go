package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/open-oni/oni-admin/internal/cli"
	"github.com/open-oni/oni-admin/internal/jobs"
)

func runLoad() {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: oni-admin load <batch_path>")
	}
	fs.Parse(os.Args[2:])

	path, err := cli.ParseLoadTarget(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(2)
	}

	code, body := call(http.MethodPost, "/batch/load", map[string]string{"batch_path": path})
	printResult(code, body)
}

func runPurge() {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	fs.BoolVar(yes, "y", false, "skip the confirmation prompt (shorthand)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: oni-admin purge [-y] <batch_name>")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[2:])

	name, err := cli.ParsePurgeTarget(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(2)
	}

	cli.NewConfirmer().ConfirmOrExit(&cli.Summary{
		Action: jobs.KindPurgeBatch.Label(),
		Target: name,
		Server: daemonURL(),
	}, *yes)

	code, body := call(http.MethodPost, "/batch/purge", map[string]string{"batch_name": name})
	printResult(code, body)
}

// printResult prints a submission response. A conflict is not a client
// error: the body names the job already running.
func printResult(code int, body []byte) {
	if code == http.StatusConflict {
		printJSON(os.Stdout, body)
		os.Exit(1)
	}
	exitOnError(code, body)
	printJSON(os.Stdout, body)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: oni-admin status <job_id>")
	}
	fs.Parse(os.Args[2:])

	jobID := fs.Arg(0)
	if jobID == "" {
		fs.Usage()
		os.Exit(2)
	}

	code, body := call(http.MethodGet, "/job/"+url.PathEscape(jobID)+"/status", nil)
	exitOnError(code, body)
	printJSON(os.Stdout, body)
}

func runLogs() {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	follow := fs.Bool("f", false, "keep printing output until the job finishes")
	interval := fs.Duration("interval", 2*time.Second, "poll interval with -f")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: oni-admin logs [-f] <job_id>")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[2:])

	jobID := fs.Arg(0)
	if jobID == "" {
		fs.Usage()
		os.Exit(2)
	}
	escaped := url.PathEscape(jobID)

	printed := 0
	for {
		code, body := call(http.MethodGet, "/job/"+escaped+"/logs", nil)
		exitOnError(code, body)
		if len(body) > printed {
			os.Stdout.Write(body[printed:])
			printed = len(body)
		}
		if !*follow {
			return
		}

		code, body = call(http.MethodGet, "/job/"+escaped+"/status", nil)
		exitOnError(code, body)
		var report struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(body, &report); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to parse status: %v\n", err)
			os.Exit(1)
		}
		if st, err := jobs.ParseStatus(report.Status); err == nil && st.IsTerminal() {
			// Pick up output written between the two requests.
			code, body = call(http.MethodGet, "/job/"+escaped+"/logs", nil)
			exitOnError(code, body)
			if len(body) > printed {
				os.Stdout.Write(body[printed:])
			}
			return
		}
		time.Sleep(*interval)
	}
}

func runJobs() {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	kind := fs.String("kind", "", "filter by kind (load_batch, purge_batch)")
	status := fs.String("status", "", "filter by status")
	target := fs.String("target", "", "filter by batch name")
	limit := fs.Int("limit", 0, "maximum number of jobs to list")
	asJSON := fs.Bool("json", false, "print the raw JSON response")
	fs.Parse(os.Args[2:])

	q := url.Values{}
	if *kind != "" {
		q.Set("kind", *kind)
	}
	if *status != "" {
		q.Set("status", *status)
	}
	if *target != "" {
		q.Set("target", *target)
	}
	if *limit > 0 {
		q.Set("limit", strconv.Itoa(*limit))
	}
	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	code, body := call(http.MethodGet, path, nil)
	exitOnError(code, body)
	if *asJSON {
		printJSON(os.Stdout, body)
		return
	}

	var resp struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse response: %v\n", err)
		os.Exit(1)
	}
	if len(resp.Jobs) == 0 {
		fmt.Println("No jobs found.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tKIND\tTARGET\tSTATUS\tUPDATED")
	for _, job := range resp.Jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Kind.Label(), job.Target, job.Status.Label(),
			job.UpdatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}
