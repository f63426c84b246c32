package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/open-oni/oni-admin/internal/config"
)

var httpClient = &http.Client{Timeout: 5 * time.Minute}

// daemonURL builds the base URL of the local daemon from the same config
// the daemon reads.
func daemonURL() string {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to load config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Falling back to http://127.0.0.1:8080\n")
		return "http://127.0.0.1:8080"
	}
	host := cfg.Bind
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d%s", host, cfg.Port, cfg.BasePath)
}

// call sends a request to the daemon and returns the status code and body.
// Connection failures exit the process.
func call(method, path string, payload any) (int, []byte) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to marshal request: %v\n", err)
			os.Exit(1)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, daemonURL()+path, body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build request: %v\n", err)
		os.Exit(1)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to daemon: %v\n", err)
		fmt.Fprintf(os.Stderr, "Is the oni-admin daemon running?\n")
		os.Exit(1)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read response: %v\n", err)
		os.Exit(1)
	}
	return resp.StatusCode, data
}

// printJSON pretty-prints body, falling back to the raw text.
func printJSON(w io.Writer, body []byte) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Fprintln(w, strings.TrimSpace(string(body)))
		return
	}
	fmt.Fprintln(w, pretty.String())
}

// exitOnError prints a non-2xx response to stderr and exits with status 1.
func exitOnError(code int, body []byte) {
	if code >= 200 && code < 300 {
		return
	}
	fmt.Fprintf(os.Stderr, "Request failed (HTTP %d):\n", code)
	printJSON(os.Stderr, body)
	os.Exit(1)
}
