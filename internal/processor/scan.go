package processor

import (
	"os"
	"path/filepath"

	"imgslim/internal/config"
	"imgslim/internal/locator"
	"imgslim/internal/rewrite"
	"imgslim/pkg/imgutil"
)

type ImageReport struct {
	RelPath string
	Kind    imgutil.Kind
	Size    int64
	Err     error
}

type MarkupReport struct {
	RelPath    string
	References int
	Err        error
}

type ScanReport struct {
	Images     []ImageReport
	Markup     []MarkupReport
	TotalBytes int64
}

// Scan lists what Run would touch without modifying anything. Reference
// counts use the extension scope since no rename map exists yet.
func Scan(root string, cfg config.Config) (ScanReport, error) {
	var report ScanReport

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return report, err
	}
	r := &runner{root: absRoot}
	filter := locator.NewFilter(cfg.ExcludedDirs)

	images, err := locator.FindImages(absRoot, filter, cfg.ImageExtensions)
	if err != nil {
		return report, err
	}
	for _, path := range images {
		entry := ImageReport{RelPath: r.rel(path)}
		if info, err := os.Stat(path); err != nil {
			entry.Err = err
		} else {
			entry.Size = info.Size()
			report.TotalBytes += entry.Size
		}
		if entry.Err == nil {
			entry.Kind, entry.Err = imgutil.SniffFile(path)
		}
		report.Images = append(report.Images, entry)
	}

	markup, err := locator.FindMarkup(absRoot, filter, cfg.MarkupExtension)
	if err != nil {
		return report, err
	}
	rw := rewrite.New(cfg.ImageExtensions, cfg.TargetExtension, rewrite.ScopeExtension)
	for _, path := range markup {
		entry := MarkupReport{RelPath: r.rel(path)}
		data, err := os.ReadFile(path)
		if err != nil {
			entry.Err = err
		} else {
			entry.References = rw.Count(string(data), entry.RelPath, nil)
		}
		report.Markup = append(report.Markup, entry)
	}

	return report, nil
}
