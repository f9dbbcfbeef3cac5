package stats

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"

	"case-bench/internal/executor"
	"case-bench/internal/logging"
	"case-bench/internal/resources"
)

// archivedFiles are the per-case outputs bundled into a results archive.
// The first run's case-info.txt records the hardware the case ran on.
var archivedFiles = []string{
	filepath.Join("results", AggregatedFile),
	filepath.Join("results", SummaryFile),
	filepath.Join("results", "run_1", "case-info.txt"),
}

// Archive bundles every discovered case's aggregated outputs below root
// into one zip at outPath. Cases missing some or all outputs are archived
// partially; an absent file is not an error.
func Archive(root, outPath string) error {
	cases, err := executor.Discover(root, resources.DefaultRegistry())
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	w := zip.NewWriter(out)
	defer w.Close()

	sort.Slice(cases, func(i, j int) bool { return cases[i].Directory < cases[j].Directory })

	logger := logging.GetLogger()
	for _, c := range cases {
		rel, err := filepath.Rel(root, c.Directory)
		if err != nil {
			rel = filepath.Base(c.Directory)
		}
		for _, name := range archivedFiles {
			source := filepath.Join(c.Directory, name)
			if !fileExists(source) {
				continue
			}
			if err := addFile(w, source, filepath.ToSlash(filepath.Join(rel, name))); err != nil {
				return err
			}
		}
		logger.WithField("case", c.Data.Name).Debug("Archived case results")
	}

	return nil
}

func addFile(w *zip.Writer, source, name string) error {
	file, err := os.Open(source)
	if err != nil {
		return err
	}
	defer file.Close()

	entry, err := w.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, file)
	return err
}
