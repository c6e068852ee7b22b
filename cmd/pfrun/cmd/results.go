package cmd

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/psantana5/pfrun/internal/plot"
	"github.com/psantana5/pfrun/internal/report"
	"github.com/spf13/cobra"
)

var (
	resultsSort       string
	resultsDesc       bool
	resultsLimit      int
	resultsExportDir  string
	resultsPlotDir    string
	resultsPlotFormat string
	resultsShowText   bool
)

var resultsCmd = &cobra.Command{
	Use:   "results <job-id>",
	Short: "Explore the results of a job",
	Long: `Show the best partition scheme of a job: summary statistics, subsets and
their lengths, the model chosen for each subset and the top-ranked schemes.
Results can be exported verbatim (TXT, CSV, Nexus) and plotted.`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)

	f := resultsCmd.Flags()
	f.StringVar(&resultsSort, "sort", string(report.ColumnAICc), "scheme column to sort by: name, sites, lnl, parameters, subsets, aic, aicc, bic")
	f.BoolVar(&resultsDesc, "desc", false, "sort descending")
	f.IntVar(&resultsLimit, "limit", report.DisplayLimit, "number of schemes to show")
	f.StringVar(&resultsExportDir, "export", "", "write best_scheme, scheme_data and Nexus files to this directory")
	f.StringVar(&resultsPlotDir, "plot", "", "write subset length and scheme score charts to this directory")
	f.StringVar(&resultsPlotFormat, "plot-format", string(plot.PNG), "chart format: png or svg")
	f.BoolVar(&resultsShowText, "text", false, "also print best_scheme.txt")
}

// resultsView is the JSON form of the results explorer
type resultsView struct {
	JobID        string                   `json:"job_id"`
	State        string                   `json:"state"`
	CPUs         *int                     `json:"cpus,omitempty"`
	Header       *report.BestSchemeHeader `json:"header,omitempty"`
	Charsets     []report.Charset         `json:"charsets"`
	SubsetModels []report.SubsetModel     `json:"subset_models"`
	Schemes      []schemeView             `json:"schemes"`
	SchemeCount  int                      `json:"scheme_count"`
	Exported     []string                 `json:"exported,omitempty"`
	Plots        []string                 `json:"plots,omitempty"`
}

type schemeView struct {
	Name       string   `json:"name"`
	Sites      *float64 `json:"sites"`
	LnL        *float64 `json:"lnl"`
	Parameters *float64 `json:"parameters"`
	Subsets    *float64 `json:"subsets"`
	AIC        *float64 `json:"aic"`
	AICc       *float64 `json:"aicc"`
	BIC        *float64 `json:"bic"`
}

// finite maps NaN to null so the JSON stays valid
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func toSchemeView(r report.SchemeRow) schemeView {
	return schemeView{
		Name:       r.Name,
		Sites:      finite(r.Sites),
		LnL:        finite(r.LnL),
		Parameters: finite(r.Parameters),
		Subsets:    finite(r.Subsets),
		AIC:        finite(r.AIC),
		AICc:       finite(r.AICc),
		BIC:        finite(r.BIC),
	}
}

func runResults(cmd *cobra.Command, args []string) error {
	col, err := report.ParseSchemeColumn(resultsSort)
	if err != nil {
		return err
	}
	format, err := plot.ParseFormat(resultsPlotFormat)
	if err != nil {
		return err
	}

	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := requestContext()
	defer cancel()
	res, err := rt.client.GetResults(ctx, args[0])
	if err != nil {
		return err
	}

	analysis := report.Analyze(res)
	table := report.NewSchemeTable(analysis.Schemes)
	dir := report.Ascending
	if resultsDesc {
		dir = report.Descending
	}
	table.SortBy(col, dir)
	top := table.Top(resultsLimit)

	var exported, plots []string
	if resultsExportDir != "" {
		for _, a := range analysis.Artifacts() {
			path, err := a.Write(resultsExportDir)
			if err != nil {
				return err
			}
			exported = append(exported, path)
		}
		rt.logger.Info("Exported results", map[string]interface{}{"job_id": analysis.JobID, "files": len(exported)})
	}
	if resultsPlotDir != "" {
		plots, err = plot.WriteFiles(resultsPlotDir, analysis, table.Sorted(), format)
		if err != nil {
			return err
		}
	}

	if IsJSONOutput() {
		view := resultsView{
			JobID:        analysis.JobID,
			State:        analysis.State.String(),
			CPUs:         analysis.CPUs,
			Header:       analysis.Header,
			Charsets:     analysis.Charsets,
			SubsetModels: analysis.SubsetModels,
			SchemeCount:  table.Len(),
			Exported:     exported,
			Plots:        plots,
		}
		for _, r := range top {
			view.Schemes = append(view.Schemes, toSchemeView(r))
		}
		return printJSON(view)
	}

	w := os.Stdout
	printResults(w, analysis, table, top)
	if resultsShowText {
		fmt.Fprintln(w, "\nBest scheme text")
		if analysis.BestSchemeTxt != nil {
			fmt.Fprintln(w, *analysis.BestSchemeTxt)
		} else {
			fmt.Fprintln(w, "No output yet.")
		}
	}
	for _, p := range exported {
		fmt.Fprintf(w, "Exported %s\n", p)
	}
	for _, p := range plots {
		fmt.Fprintf(w, "Plotted %s\n", p)
	}
	if resultsPlotDir != "" && len(plots) == 0 {
		fmt.Fprintln(w, "Nothing to plot for this run.")
	}
	return nil
}

func printResults(w io.Writer, a *report.Analysis, table *report.SchemeTable, top []report.SchemeRow) {
	fmt.Fprintf(w, "Results for job %s (%s)\n", a.JobID, a.State)
	if a.CPUs != nil && *a.CPUs > 1 {
		fmt.Fprintf(w, "Parallel run: enabled (CPUs=%d)\n", *a.CPUs)
	}

	fmt.Fprintln(w, "\nBest scheme")
	switch {
	case a.Header == nil:
		fmt.Fprintln(w, "No best_scheme.txt available yet.")
	case a.Header.Empty():
		fmt.Fprintln(w, "Summary statistics not found in best_scheme.txt.")
	default:
		printHeader(w, a.Header)
	}

	fmt.Fprintln(w, "\nSubsets")
	if !a.HasSetsBlock {
		fmt.Fprintln(w, "Subset definitions not found in best_scheme.txt.")
	} else {
		t := tablewriter.NewWriter(w)
		t.Header("Subset", "Range", "Sites")
		for _, cs := range a.Charsets {
			t.Append(cs.Name, cs.Range, formatOptionalInt(cs.Length))
		}
		t.Render()
	}

	fmt.Fprintln(w, "\nBest models per subset")
	switch {
	case a.BestSchemeTxt == nil || *a.BestSchemeTxt == "":
		fmt.Fprintln(w, "No best_scheme.txt available yet.")
	case len(a.SubsetModels) == 0:
		fmt.Fprintln(w, "Subset models not found in IQtree sets block.")
	default:
		t := tablewriter.NewWriter(w)
		t.Header("Subset", "Model")
		for _, m := range a.SubsetModels {
			t.Append(m.Subset, m.Model)
		}
		t.Render()
	}

	key, dir := table.Key()
	fmt.Fprintf(w, "\nTop schemes (sorted by %s %s, showing %d of %d)\n", key, dir, len(top), table.Len())
	if a.SchemeDataCSV == nil || *a.SchemeDataCSV == "" {
		fmt.Fprintln(w, "scheme_data.csv not available for this run.")
		return
	}
	t := tablewriter.NewWriter(w)
	t.Header("Name", "Sites", "lnL", "Params", "Subsets", "AIC", "AICc", "BIC")
	for _, r := range top {
		t.Append(r.Name, formatNumber(r.Sites, 0), formatNumber(r.LnL, 3), formatNumber(r.Parameters, 0),
			formatNumber(r.Subsets, 0), formatNumber(r.AIC, 3), formatNumber(r.AICc, 3), formatNumber(r.BIC, 3))
	}
	t.Render()
}

func printHeader(w io.Writer, h *report.BestSchemeHeader) {
	t := tablewriter.NewWriter(w)
	t.Header("Field", "Value")
	if h.SchemeName != nil {
		t.Append("Scheme name", *h.SchemeName)
	}
	floats := []struct {
		label string
		v     *float64
	}{{"lnL", h.LnL}, {"AIC", h.AIC}, {"AICc", h.AICc}, {"BIC", h.BIC}}
	for _, f := range floats {
		if f.v != nil {
			t.Append(f.label, formatNumber(*f.v, 3))
		}
	}
	ints := []struct {
		label string
		v     *int
	}{{"Parameters", h.Parameters}, {"Sites", h.Sites}, {"Subsets", h.Subsets}}
	for _, i := range ints {
		if i.v != nil {
			t.Append(i.label, strconv.Itoa(*i.v))
		}
	}
	t.Render()
}

func formatNumber(v float64, precision int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "—"
	}
	return strconv.FormatFloat(v, 'f', precision, 64)
}
