package report

import "github.com/psantana5/pfrun/pkg/models"

// Analysis is everything the results view derives from one results payload.
// Each part degrades on its own: a missing sets block does not hide the
// scheme table and vice versa.
type Analysis struct {
	JobID string
	State models.JobState
	CPUs  *int

	BestSchemeTxt *string
	SchemeDataCSV *string

	Header       *BestSchemeHeader
	SetsBlock    string
	HasSetsBlock bool
	Charsets     []Charset
	SubsetModels []SubsetModel
	Schemes      []SchemeRow
}

// Analyze runs every parser over a results payload
func Analyze(res *models.JobResults) *Analysis {
	a := &Analysis{
		JobID:         res.ID,
		State:         res.State,
		CPUs:          res.CPUs,
		BestSchemeTxt: res.BestSchemeTxt,
		SchemeDataCSV: res.SchemeDataCSV,
	}

	if txt := res.BestSchemeTxt; txt != nil && *txt != "" {
		h := ParseHeader(*txt)
		a.Header = &h
		a.SubsetModels = ParseSubsetModels(*txt)
		if block, ok := ExtractSetsBlock(*txt); ok {
			a.SetsBlock = block
			a.HasSetsBlock = true
			a.Charsets = ParseCharsets(block)
		}
	}

	if csv := res.SchemeDataCSV; csv != nil && *csv != "" {
		a.Schemes = ParseSchemeRows(*csv)
	}

	return a
}

// Artifacts lists the exports available for this payload. Exports always use
// the original text, never the sorted or capped table.
func (a *Analysis) Artifacts() []Artifact {
	var out []Artifact
	if a.BestSchemeTxt != nil && *a.BestSchemeTxt != "" {
		out = append(out, TextArtifact(a.JobID, *a.BestSchemeTxt))
	}
	if a.SchemeDataCSV != nil && *a.SchemeDataCSV != "" {
		out = append(out, CSVArtifact(a.JobID, *a.SchemeDataCSV))
	}
	if a.HasSetsBlock {
		out = append(out, NexusArtifact(a.JobID, a.SetsBlock))
	}
	return out
}
