package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/psantana5/pfrun/internal/observe"
	"github.com/psantana5/pfrun/internal/workflow"
	"github.com/psantana5/pfrun/pkg/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Job submit flags
	submitFile          string
	submitFolder        string
	submitDatatype      string
	submitModels        string
	submitCriterion     string
	submitSearch        string
	submitBranchLengths string
	submitCPUs          string
	submitCopyInput     bool
	submitArgs          []string
	submitOverrides     []string
	submitWait          bool
	submitDryRun        bool

	// Job list flags
	listLimit int

	// Job delete flags
	deleteYes bool
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage jobs",
	Long:  `Commands for submitting, listing, stopping and deleting PartitionFinder jobs.`,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new analysis",
	Long: `Submit a PartitionFinder analysis. The job is described by a YAML job file
(--file, see "pfrun config init") and/or flags; flags win over the file.`,
	RunE: runJobsSubmit,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get job status",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsStopCmd = &cobra.Command{
	Use:   "stop <job-id>",
	Short: "Stop a running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStop,
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a finished job and its files",
	Long:  `Delete a job from the service. Running jobs must be stopped first.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDelete,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsStopCmd)
	jobsCmd.AddCommand(jobsDeleteCmd)

	f := jobsSubmitCmd.Flags()
	f.StringVarP(&submitFile, "file", "f", "", "YAML job file")
	f.StringVar(&submitFolder, "folder", "", "input folder on the server (alignment + .cfg)")
	f.StringVar(&submitDatatype, "datatype", models.DatatypeDNA, "datatype: DNA, protein or morphology")
	f.StringVar(&submitModels, "models", "", "models override (e.g. all, mrbayes)")
	f.StringVar(&submitCriterion, "criterion", "", "model_selection override: aic, aicc or bic")
	f.StringVar(&submitSearch, "search", "", "scheme search override (e.g. greedy, rcluster)")
	f.StringVar(&submitBranchLengths, "branchlengths", "", "branchlengths override: linked or unlinked")
	f.StringVar(&submitCPUs, "cpus", "1", "worker processes (1-256 or auto)")
	f.BoolVar(&submitCopyInput, "copy-input", true, "run on a copy of the input folder")
	f.StringArrayVar(&submitArgs, "arg", nil, "extra PartitionFinder argument (repeatable)")
	f.StringArrayVar(&submitOverrides, "set", nil, "cfg override key=value (repeatable)")
	f.BoolVar(&submitWait, "wait", false, "follow the job until it finishes")
	f.BoolVar(&submitDryRun, "dry-run", false, "print the request instead of submitting it")

	jobsListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of jobs to list")
	jobsDeleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "do not ask for confirmation")
}

// buildJobConfig merges the job file with the flags that were set
func buildJobConfig(cmd *cobra.Command) (workflow.Config, error) {
	cfg := workflow.Default()
	if submitFile != "" {
		loaded, err := workflow.Load(submitFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("folder") {
		cfg.Folder = submitFolder
	}
	if changed("datatype") {
		cfg.Datatype = submitDatatype
	}
	if changed("models") {
		cfg.Models = submitModels
	}
	if changed("criterion") {
		cfg.Criterion = strings.ToLower(submitCriterion)
	}
	if changed("search") {
		cfg.Search = submitSearch
	}
	if changed("branchlengths") {
		cfg.BranchLengths = strings.ToLower(submitBranchLengths)
	}
	if changed("cpus") {
		cpus, err := workflow.ParseCPUCount(submitCPUs)
		if err != nil {
			return cfg, err
		}
		cfg.CPUs = cpus
	}
	if changed("copy-input") {
		cfg.CopyInput = submitCopyInput
	}
	if changed("arg") {
		cfg.Args = submitArgs
	}
	for _, kv := range submitOverrides {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return cfg, fmt.Errorf("override must be key=value, got %q", kv)
		}
		if err := cfg.Set(key, value); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := buildJobConfig(cmd)
	if err != nil {
		return err
	}

	// The server may share this filesystem; catch a missing .cfg early
	if st, err := os.Stat(cfg.Folder); err == nil && st.IsDir() {
		if _, err := workflow.FindCfgFile(cfg.Folder); err != nil {
			return err
		}
	}

	req, err := cfg.BuildRequest()
	if err != nil {
		return err
	}
	if submitDryRun {
		return printJSON(req)
	}

	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := requestContext()
	defer cancel()
	id, err := rt.client.SubmitJob(ctx, req)
	if err != nil {
		return err
	}
	rt.logger.Info("Job submitted", map[string]interface{}{"job_id": id, "folder": req.Folder})

	if IsJSONOutput() && !submitWait {
		return printJSON(models.JobSubmitResponse{ID: id})
	}
	if !IsJSONOutput() {
		fmt.Printf("Job submitted successfully! ID: %s\n", id)
	}
	if !submitWait {
		return nil
	}
	return followJob(rt, id, monitorOptions{exitOnTerminal: true, showLogs: !IsJSONOutput()})
}

func runJobsList(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := requestContext()
	defer cancel()
	jobs, err := rt.client.ListJobs(ctx, listLimit)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(jobs)
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	now := time.Now()
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "State", "Created", "Runtime", "CPUs", "Exit")
	for i := range jobs {
		job := &jobs[i]
		elapsed, ok := observe.Elapsed(job, now)
		table.Append(
			job.ID,
			job.State.String(),
			formatTimestamp(job.CreatedAt),
			observe.FormatOptional(elapsed, ok),
			formatOptionalInt(job.CPUs),
			formatOptionalInt(job.ExitCode),
		)
	}
	table.Render()

	samples := 0
	for i := range jobs {
		if _, ok := observe.Sample(&jobs[i]); ok {
			samples++
		}
	}
	eta, ok := observe.EstimateSeconds(jobs)
	if ok {
		fmt.Printf("\nTypical runtime: %s (from %d finished jobs)\n", observe.FormatSeconds(eta), samples)
	} else {
		fmt.Println("\nTypical runtime: — (no finished jobs yet)")
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := requestContext()
	defer cancel()
	job, err := rt.client.GetStatus(ctx, args[0])
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(job)
	}
	printJobTable(job, time.Now())
	return nil
}

func printJobTable(job *models.Job, now time.Time) {
	elapsed, ok := observe.Elapsed(job, now)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("ID", job.ID)
	table.Append("State", job.State.String())
	table.Append("Created", formatTimestamp(job.CreatedAt))
	table.Append("Updated", formatTimestamp(job.UpdatedAt))
	table.Append("Elapsed", observe.FormatOptional(elapsed, ok))
	if job.InputFolder != "" {
		table.Append("Input folder", job.InputFolder)
	}
	if job.Datatype != "" {
		table.Append("Datatype", job.Datatype)
	}
	table.Append("Workers", formatOptionalInt(job.CPUs))
	table.Append("Exit code", formatOptionalInt(job.ExitCode))
	if msg := job.ErrorMessage(); msg != "" {
		table.Append("Error", msg)
	}
	table.Render()
}

func runJobsStop(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := requestContext()
	defer cancel()
	job, err := rt.client.GetStatus(ctx, args[0])
	if err != nil {
		return err
	}
	if job.State != models.StateRunning {
		return fmt.Errorf("job %s is not running (state: %s)", job.ID, job.State)
	}

	resp, err := rt.client.StopJob(ctx, job.ID)
	if err != nil {
		return err
	}
	rt.metrics.IncStop(resp.Status)

	if IsJSONOutput() {
		return printJSON(resp)
	}
	fmt.Printf("Stop requested for job %s: %s\n", job.ID, resp.Status)
	return nil
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := requestContext()
	defer cancel()
	job, err := rt.client.GetStatus(ctx, args[0])
	if err != nil {
		return err
	}
	if job.State == models.StateRunning {
		return fmt.Errorf("job %s is running; stop it before deleting", job.ID)
	}

	if !deleteYes && !IsJSONOutput() {
		fmt.Printf("Delete job %s (%s) and its files? [y/N]: ", job.ID, job.State)
		var answer string
		fmt.Scanln(&answer)
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Println("Aborted")
			return nil
		}
	}

	if err := rt.client.DeleteJob(ctx, job.ID); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(map[string]string{"status": "deleted", "job_id": job.ID})
	}
	fmt.Printf("Job %s deleted\n", job.ID)
	return nil
}

// formatTimestamp shows timestamps in local time, or raw when unparseable
func formatTimestamp(raw string) string {
	t, ok := observe.ParseTimestamp(raw)
	if !ok {
		if raw == "" {
			return "—"
		}
		return raw
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatOptionalInt(p *int) string {
	if p == nil {
		return "—"
	}
	return fmt.Sprintf("%d", *p)
}

func etaHistory() int {
	n := viper.GetInt("eta_history")
	if n <= 0 {
		return 50
	}
	return n
}
