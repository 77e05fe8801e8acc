package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jobsift/pipeline-api/internal/domain/model"
)

const apiRequestTimeout = 10 * time.Second

// runListRuns queries the HTTP API for the current run registry and prints
// it as a table. The registry lives in the server process, so this command
// needs a running jobsift instance.
func runListRuns(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	baseURL := fs.String("addr", "http://localhost:8080", "base URL of the jobsift HTTP API")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx.Ctx, apiRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, *baseURL+"/api/runs", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query runs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query runs: unexpected status %s", resp.Status)
	}

	var body struct {
		Runs []model.JobState `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode runs response: %w", err)
	}
	if len(body.Runs) == 0 {
		return writef(os.Stdout, "no tracked runs\n")
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(tw, "RUN ID\tSTAGE\tPCT\tUPDATED\tDESCRIPTION\n"); err != nil {
		return err
	}
	for _, run := range body.Runs {
		if err := writef(tw, "%s\t%s\t%.0f%%\t%s\t%s\n",
			run.RunID, run.Stage, run.Percentage,
			run.LastUpdated.Format(time.RFC3339), run.Description); err != nil {
			return err
		}
	}
	return tw.Flush()
}
