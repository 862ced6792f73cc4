package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

type runResult struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Entity string `json:"entity,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newRunCmd() *cobra.Command {
	var job collector.JobRequest
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one job in the foreground and print its outcome",
		Long: `Runs a single job with the configured strategy without starting the API.
The outcome is printed as JSON; the command fails unless the payload was
delivered.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Collector.Strategy == string(collector.StrategyDownload) && job.SourceURL == "" {
				return fmt.Errorf("--url is required for the download strategy")
			}
			app, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() { _ = app.Close(cmd.Context()) }()

			ran, outcome, err := app.Execute(cmd.Context(), job)
			if err != nil {
				return fmt.Errorf("execute job: %w", err)
			}
			res := runResult{
				JobID:  ran.JobID,
				Status: string(outcome.Status),
				Reason: string(outcome.Reason),
				Entity: outcome.Entity,
			}
			if outcome.Err != nil {
				res.Error = outcome.Err.Error()
			}
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(res); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			if !outcome.OK() {
				return fmt.Errorf("job %s: %s", ran.JobID, outcome)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&job.SourceURL, "url", "", "source URL for the download strategy")
	cmd.Flags().StringVar(&job.JobID, "payload-id", "", "job ID to use instead of a generated one")
	cmd.Flags().StringVar(&job.Destination, "destination", "", "override relay.destination for this job")
	cmd.Flags().StringVar(&job.Identity, "identity", "", "x-rh-identity value for inventory requests")
	return cmd
}
