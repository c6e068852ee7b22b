package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/psantana5/pfrun/internal/workflow"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	configInitFolder string
	configInitForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Job files and client settings",
}

var configInitCmd = &cobra.Command{
	Use:   "init <job-file>",
	Short: "Write a job file with the default analysis settings",
	Long: `Write a YAML job file for "pfrun jobs submit --file". The file starts from
the defaults: DNA, all models, AICc, greedy search, linked branch lengths
and one worker.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective client settings",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <job-file>",
	Short: "Check a job file without submitting it",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVar(&configInitFolder, "folder", "", "input folder to put in the job file")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := workflow.Default()
	cfg.Folder = configInitFolder
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := workflow.Load(args[0])
	if err != nil {
		return err
	}
	req, err := cfg.BuildRequest()
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(req)
	}
	fmt.Printf("%s is valid (cpus=%d)\n", args[0], *req.CPUs)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	apiKey := "(not set)"
	if viper.GetString("api_key") != "" {
		apiKey = "(set)"
	}
	settings := map[string]interface{}{
		"config_file":   viper.ConfigFileUsed(),
		"server_url":    GetServerURL(),
		"api_key":       apiKey,
		"timeout":       viper.GetDuration("timeout").String(),
		"poll_interval": viper.GetDuration("poll_interval").String(),
		"eta_history":   etaHistory(),
		"log_level":     viper.GetString("log_level"),
		"ca_file":       viper.GetString("ca_file"),
		"cert_file":     viper.GetString("cert_file"),
		"otlp_endpoint": viper.GetString("otlp_endpoint"),
		"metrics_addr":  viper.GetString("metrics_addr"),
	}

	switch outputFormat {
	case "json":
		return printJSON(settings)
	case "yaml":
		out, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Print(string(out))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Setting", "Value")
	for _, key := range []string{"config_file", "server_url", "api_key", "timeout", "poll_interval",
		"eta_history", "log_level", "ca_file", "cert_file", "otlp_endpoint", "metrics_addr"} {
		table.Append(key, fmt.Sprintf("%v", settings[key]))
	}
	table.Render()
	return nil
}
