package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// PreferredCfgName is the file the backend looks for first
const PreferredCfgName = "partition_finder.cfg"

// FindCfgFile locates the PartitionFinder configuration in a local input
// folder the way the backend does: partition_finder.cfg first, then the
// first *.cfg by name.
func FindCfgFile(folder string) (string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("folder not found: %s", folder)
		}
		return "", fmt.Errorf("failed to inspect folder: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", folder)
	}

	preferred := filepath.Join(folder, PreferredCfgName)
	if st, err := os.Stat(preferred); err == nil && st.Mode().IsRegular() {
		return preferred, nil
	}

	matches, err := filepath.Glob(filepath.Join(folder, "*.cfg"))
	if err != nil {
		return "", fmt.Errorf("failed to list cfg files: %w", err)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if st, err := os.Stat(m); err == nil && st.Mode().IsRegular() {
			return m, nil
		}
	}
	return "", fmt.Errorf("no .cfg file found in %s; PartitionFinder requires a %s file", folder, PreferredCfgName)
}
