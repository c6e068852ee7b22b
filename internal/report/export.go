package report

import (
	"fmt"
	"os"
	"path/filepath"
)

// NexusHeader opens every exported Nexus file
const NexusHeader = "#nexus"

// Artifact is a file the results view can export
type Artifact struct {
	Filename string
	Content  string
}

// TextArtifact mirrors best_scheme.txt byte for byte
func TextArtifact(jobID, bestSchemeTxt string) Artifact {
	return Artifact{
		Filename: fmt.Sprintf("best_scheme_%s.txt", jobID),
		Content:  bestSchemeTxt,
	}
}

// CSVArtifact mirrors scheme_data.csv byte for byte
func CSVArtifact(jobID, schemeDataCSV string) Artifact {
	return Artifact{
		Filename: fmt.Sprintf("scheme_data_%s.csv", jobID),
		Content:  schemeDataCSV,
	}
}

// NexusArtifact wraps an extracted sets block in a minimal Nexus file. The
// block is written exactly as extracted, so ExtractSetsBlock on the result
// returns it unchanged.
func NexusArtifact(jobID, setsBlock string) Artifact {
	return Artifact{
		Filename: fmt.Sprintf("best_scheme_sets_%s.nex", jobID),
		Content:  NexusHeader + "\n\n" + setsBlock + "\n",
	}
}

// Write stores the artifact under dir and returns its path
func (a Artifact) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, a.Filename)
	if err := os.WriteFile(path, []byte(a.Content), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
