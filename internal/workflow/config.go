package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/psantana5/pfrun/pkg/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"gopkg.in/yaml.v3"
)

// Limits enforced by the backend
const (
	MinCPUs = 1
	MaxCPUs = 256
)

// Override keys the backend applies to partition_finder.cfg
const (
	OverrideModels        = "models"
	OverrideSelection     = "model_selection"
	OverrideSearch        = "search"
	OverrideBranchLengths = "branchlengths"
)

var allowedOverrides = map[string]bool{
	OverrideModels:        true,
	OverrideSelection:     true,
	OverrideSearch:        true,
	OverrideBranchLengths: true,
}

var (
	datatypes     = []string{models.DatatypeDNA, models.DatatypeProtein, models.DatatypeMorphology}
	criteria      = []string{"aic", "aicc", "bic"}
	branchLengths = []string{"linked", "unlinked"}
)

// CPUCount is a worker count that may be given as "auto" in YAML
type CPUCount struct {
	N    int
	Auto bool
}

// UnmarshalYAML accepts an integer or "auto"
func (c *CPUCount) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("cpus must be an integer or \"auto\"")
	}
	if strings.EqualFold(strings.TrimSpace(value.Value), "auto") {
		*c = CPUCount{Auto: true}
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("cpus must be an integer or \"auto\", got %q", value.Value)
	}
	*c = CPUCount{N: n}
	return nil
}

// MarshalYAML writes "auto" or the number
func (c CPUCount) MarshalYAML() (interface{}, error) {
	if c.Auto {
		return "auto", nil
	}
	return c.N, nil
}

func (c CPUCount) String() string {
	if c.Auto {
		return "auto"
	}
	return strconv.Itoa(c.N)
}

// ParseCPUCount reads a flag value such as "4" or "auto"
func ParseCPUCount(s string) (CPUCount, error) {
	var c CPUCount
	err := c.UnmarshalYAML(&yaml.Node{Kind: yaml.ScalarNode, Value: s})
	return c, err
}

// Config is everything needed to submit one analysis. It is built from
// flags or a YAML job file and handed to the submit step as a value.
type Config struct {
	Folder        string   `yaml:"folder"`
	Datatype      string   `yaml:"datatype"`
	Models        string   `yaml:"models"`
	Criterion     string   `yaml:"model_selection"`
	Search        string   `yaml:"search"`
	BranchLengths string   `yaml:"branchlengths"`
	CPUs          CPUCount `yaml:"cpus"`
	CopyInput     bool     `yaml:"copy_input"`
	Args          []string `yaml:"args,omitempty"`
}

// Default returns the configuration builder defaults
func Default() Config {
	return Config{
		Datatype:      models.DatatypeDNA,
		Models:        "all",
		Criterion:     "aicc",
		Search:        "greedy",
		BranchLengths: "linked",
		CPUs:          CPUCount{N: 1},
		CopyInput:     true,
	}
}

// Load reads a YAML job file on top of the defaults
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read job file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML job file on top of the defaults
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse job file: %w", err)
	}
	return cfg, nil
}

// Save writes the config as YAML
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal job file: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write job file: %w", err)
	}
	return nil
}

// ResolveCPUs turns "auto" into the local logical core count, capped at
// MaxCPUs
func (c Config) ResolveCPUs() (int, error) {
	if !c.CPUs.Auto {
		return c.CPUs.N, nil
	}
	n, err := cpu.Counts(true)
	if err != nil {
		return 0, fmt.Errorf("failed to detect CPU count: %w", err)
	}
	if n < MinCPUs {
		n = MinCPUs
	}
	if n > MaxCPUs {
		n = MaxCPUs
	}
	return n, nil
}

// Overrides returns the cfg keys the backend should rewrite. Empty values
// are left out so the file keeps its own setting.
func (c Config) Overrides() map[string]string {
	out := make(map[string]string)
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	set(OverrideModels, c.Models)
	set(OverrideSelection, c.Criterion)
	set(OverrideSearch, c.Search)
	set(OverrideBranchLengths, c.BranchLengths)
	return out
}

// Validate applies the same checks the backend does, so mistakes are
// reported before anything is submitted
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Folder) == "" {
		problems = append(problems, "folder is required")
	}
	if !contains(datatypes, c.Datatype) {
		problems = append(problems, fmt.Sprintf("datatype must be one of %s", strings.Join(datatypes, ", ")))
	}
	if strings.TrimSpace(c.Search) == "" {
		problems = append(problems, "a scheme search strategy is required")
	}
	if c.Criterion != "" && !contains(criteria, strings.ToLower(c.Criterion)) {
		problems = append(problems, fmt.Sprintf("model_selection must be one of %s", strings.Join(criteria, ", ")))
	}
	if c.BranchLengths != "" && !contains(branchLengths, strings.ToLower(c.BranchLengths)) {
		problems = append(problems, fmt.Sprintf("branchlengths must be one of %s", strings.Join(branchLengths, ", ")))
	}
	if !c.CPUs.Auto {
		if c.CPUs.N < MinCPUs || c.CPUs.N > MaxCPUs {
			problems = append(problems, fmt.Sprintf("cpus must be between %d and %d", MinCPUs, MaxCPUs))
		} else if c.CPUs.N > 1 && !c.CopyInput {
			problems = append(problems, "cpus > 1 requires copy_input=true for reproducibility")
		}
	} else if !c.CopyInput {
		problems = append(problems, "cpus: auto requires copy_input=true for reproducibility")
	}
	if _, err := explicitProcesses(c.Args); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// BuildRequest validates the config and produces the POST /jobs body
func (c Config) BuildRequest() (*models.JobRequest, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cpus, err := c.ResolveCPUs()
	if err != nil {
		return nil, err
	}

	explicit, _ := explicitProcesses(c.Args)
	if explicit != nil {
		if cpus != 1 && *explicit != cpus {
			return nil, &ValidationError{Problems: []string{
				"cpus conflicts with explicit '-p/--processes' in args; please use one or ensure they match",
			}}
		}
		if *explicit > 1 && !c.CopyInput {
			return nil, &ValidationError{Problems: []string{"cpus > 1 requires copy_input=true for reproducibility"}}
		}
	}

	args := c.Args
	if args == nil {
		args = []string{}
	}
	return &models.JobRequest{
		Folder:    strings.TrimSpace(c.Folder),
		Datatype:  c.Datatype,
		CPUs:      &cpus,
		Args:      args,
		CopyInput: c.CopyInput,
		Overrides: c.Overrides(),
	}, nil
}

// Set assigns one override by its backend key, e.g. "search=rcluster"
func (c *Config) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if !allowedOverrides[key] {
		keys := make([]string, 0, len(allowedOverrides))
		for k := range allowedOverrides {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Errorf("unsupported override key %q (supported: %s)", key, strings.Join(keys, ", "))
	}
	value = strings.TrimSpace(value)
	switch key {
	case OverrideModels:
		c.Models = value
	case OverrideSelection:
		c.Criterion = strings.ToLower(value)
	case OverrideSearch:
		c.Search = value
	case OverrideBranchLengths:
		c.BranchLengths = strings.ToLower(value)
	}
	return nil
}

// explicitProcesses finds a legacy -p/--processes value in args
func explicitProcesses(args []string) (*int, error) {
	for i, tok := range args {
		switch {
		case tok == "-p" || tok == "--processes" || tok == "--processors":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("'-p/--processes' requires a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("'-p/--processes' value must be an integer")
			}
			return &n, nil
		case strings.HasPrefix(tok, "--processes="), strings.HasPrefix(tok, "--processors="):
			n, err := strconv.Atoi(tok[strings.Index(tok, "=")+1:])
			if err != nil {
				return nil, fmt.Errorf("'%s' value must be an integer", tok[:strings.Index(tok, "=")+1])
			}
			return &n, nil
		}
	}
	return nil, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
