package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jobsift/pipeline-api/config"
	"github.com/jobsift/pipeline-api/internal/bootstrap"
	"github.com/jobsift/pipeline-api/internal/bus"
	"github.com/jobsift/pipeline-api/internal/domain/model"
)

// runTrigger publishes a work item straight onto the work topic, bypassing
// the HTTP API. The run will surface in the registry once the workers start
// reporting progress (the ingest worker creates a placeholder).
func runTrigger(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
	titles := fs.String("titles", "", "comma-separated job titles (required)")
	location := fs.String("location", "", "location to search (required)")
	timeFilter := fs.String("time-filter", "24h", "posting window: 24h, 1w, or 1m")
	maxJobs := fs.Int("max-jobs", 100, "maximum listings to collect")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := model.TriggerRequest{
		JobTitles: strings.Split(*titles, ","),
		Location:  *location,
		MaxJobs:   *maxJobs,
	}
	if err := req.TimeFilter.UnmarshalText([]byte(*timeFilter)); err != nil {
		return err
	}
	req.Normalize()
	if len(req.JobTitles) == 0 || req.Location == "" {
		return fmt.Errorf("titles and location are required")
	}

	client, streamBus, err := connectBus(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	work := model.WorkItem{
		RunID:       uuid.NewString(),
		JobTitles:   req.JobTitles,
		Location:    req.Location,
		TimeFilter:  req.TimeFilter,
		MaxJobs:     req.MaxJobs,
		RequestedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(work)
	if err != nil {
		return fmt.Errorf("encode work item: %w", err)
	}

	if err := streamBus.Publish(ctx.Ctx, ctx.Config.Bus.WorkTopic, work.RunID, payload); err != nil {
		return err
	}
	return writef(os.Stdout, "triggered run %s\n", work.RunID)
}

// runHealth pings the broker.
func runHealth(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, streamBus, err := connectBus(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := streamBus.Health(ctx.Ctx); err != nil {
		return err
	}
	return writef(os.Stdout, "broker ok\n")
}

// runDeadLetters lists dead-lettered entries for a topic, newest first.
func runDeadLetters(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("dead-letters", flag.ContinueOnError)
	topic := fs.String("topic", ctx.Config.Bus.ProgressTopic, "source topic to inspect")
	limit := fs.Int("limit", 20, "maximum entries to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := connectBus(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	dead := config.DeadLetterTopic(*topic)
	entries, err := client.XRevRangeN(ctx.Ctx, dead, "+", "-", int64(*limit)).Result()
	if err != nil {
		return fmt.Errorf("read %s: %w", dead, err)
	}
	if len(entries) == 0 {
		return writef(os.Stdout, "no dead-lettered messages on %s\n", dead)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(tw, "ID\tKEY\tERROR\tPAYLOAD\n"); err != nil {
		return err
	}
	for _, entry := range entries {
		key, _ := entry.Values["key"].(string)
		cause, _ := entry.Values["error"].(string)
		payload, _ := entry.Values["payload"].(string)
		if err := writef(tw, "%s\t%s\t%s\t%s\n", entry.ID, key, cause, truncate(payload, 60)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// connectBus dials the broker and wraps it in the bus contract.
func connectBus(ctx *commandContext) (redis.UniversalClient, *bus.StreamBus, error) {
	client, err := bootstrap.ConnectRedis(ctx.Config.Redis, ctx.Logger)
	if err != nil {
		return nil, nil, err
	}
	return client, bus.NewStreamBus(client, ctx.Config.Bus, ctx.Logger), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
