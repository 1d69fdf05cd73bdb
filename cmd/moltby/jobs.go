package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"moltby/internal/cron"
)

var jobsCmd = &cobra.Command{
	Use:     "jobs",
	Aliases: []string{"cron"},
	Short:   "Manage scheduled messages on a running agent",
}

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsAddCmd, jobsRemoveCmd, jobsToggleCmd, jobsRunCmd)
}

func relTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return humanize.Time(*t)
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var out struct {
			Jobs []cron.JobInfo `json:"jobs"`
		}
		if err := newClient().do(cmd.Context(), http.MethodGet, "/api/cron", nil, &out); err != nil {
			return err
		}
		if len(out.Jobs) == 0 {
			fmt.Println("No scheduled jobs.")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE (UTC)\tTARGET\tSTATUS\tLAST RUN\tNEXT RUN")
		for _, j := range out.Jobs {
			status := "enabled"
			if !j.Enabled {
				status = "disabled"
			}
			if len(j.RunHistory) > 0 && j.RunHistory[0].Outcome == cron.OutcomeFailure {
				status += " (last failed)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				j.ID, j.Name, j.Schedule, j.Target, status, relTime(j.LastRun), relTime(j.NextRun))
		}
		return tw.Flush()
	},
}

var (
	addName     string
	addDesc     string
	addSchedule string
	addTarget   string
	addMessage  string
	addDisabled bool
)

var jobsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		enabled := !addDisabled
		body := map[string]any{
			"name":        addName,
			"description": addDesc,
			"schedule":    addSchedule,
			"chatId":      addTarget,
			"message":     addMessage,
			"enabled":     enabled,
		}
		var out struct {
			Job cron.Job `json:"job"`
		}
		if err := newClient().do(cmd.Context(), http.MethodPost, "/api/cron", body, &out); err != nil {
			return err
		}
		fmt.Printf("Added job %q (%s)\n", out.Job.Name, out.Job.ID)
		return nil
	},
}

func init() {
	f := jobsAddCmd.Flags()
	f.StringVarP(&addName, "name", "n", "", "job name")
	f.StringVarP(&addDesc, "description", "d", "", "free-form description")
	f.StringVarP(&addSchedule, "schedule", "s", "", "five-field cron expression, UTC (e.g. '0 9 * * 1-5')")
	f.StringVarP(&addTarget, "chat", "t", "", "chat id or @username (optionally chat:thread)")
	f.StringVarP(&addMessage, "message", "m", "", "message text")
	f.BoolVar(&addDisabled, "disabled", false, "create the job disabled")
	for _, name := range []string{"name", "schedule", "chat", "message"} {
		_ = jobsAddCmd.MarkFlagRequired(name)
	}
}

var jobsRemoveCmd = &cobra.Command{
	Use:     "remove <job-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a job",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().do(cmd.Context(), http.MethodDelete, "/api/cron/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return err
		}
		fmt.Printf("Removed job %s\n", args[0])
		return nil
	},
}

var jobsToggleCmd = &cobra.Command{
	Use:   "toggle <job-id>",
	Short: "Enable a disabled job or disable an enabled one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Job cron.Job `json:"job"`
		}
		if err := newClient().do(cmd.Context(), http.MethodPost, "/api/cron/"+url.PathEscape(args[0])+"/toggle", nil, &out); err != nil {
			return err
		}
		state := "enabled"
		if !out.Job.Enabled {
			state = "disabled"
		}
		fmt.Printf("Job %q %s\n", out.Job.Name, state)
		return nil
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Send a job's message now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Job cron.Job `json:"job"`
		}
		if err := newClient().do(cmd.Context(), http.MethodPost, "/api/cron/"+url.PathEscape(args[0])+"/run", nil, &out); err != nil {
			return err
		}
		fmt.Printf("Sent %q to %s\n", out.Job.Name, out.Job.Target)
		return nil
	},
}
