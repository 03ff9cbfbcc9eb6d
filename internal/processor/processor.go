package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"imgslim/internal/backup"
	"imgslim/internal/fsutil"
	"imgslim/internal/locator"
	"imgslim/internal/rewrite"
	"imgslim/internal/transcode"
)

var (
	ErrNoTranscoder = errors.New("no transcoder configured")
	// ErrTargetTaken marks an image whose converted name was already
	// produced by another image in the same run (a.jpg and a.png).
	ErrTargetTaken = errors.New("converted file already produced in this run")
)

type runner struct {
	root     string
	opts     Options
	filter   *locator.Filter
	archiver *backup.Archiver
	rewriter *rewrite.Rewriter
	updates  chan<- ProgressUpdate
	// produced maps each converted file written in this run to its source.
	produced map[string]string
}

// Run converts every image under root, rewrites markup references and
// returns the aggregate statistics. Images are handled one at a time in
// path order; a failing image is recorded and skipped. The only errors
// returned are precondition failures (bad root, unusable codec) and
// failures to enumerate the tree.
//
// Cancelling ctx stops the image loop between files. References to the
// images converted so far are still rewritten and Summary.Interrupted is
// set.
func Run(ctx context.Context, root string, opts Options, updates chan<- ProgressUpdate) (Summary, error) {
	summary := Summary{Renames: map[string]string{}}

	if opts.Transcoder == nil {
		return summary, ErrNoTranscoder
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return summary, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return summary, err
	}
	if !info.IsDir() {
		return summary, fmt.Errorf("%s is not a directory", absRoot)
	}

	if err := opts.Transcoder.Probe(); err != nil {
		return summary, err
	}

	cfg := opts.Config
	r := &runner{
		root:     absRoot,
		opts:     opts,
		filter:   locator.NewFilter(cfg.ExcludedDirs),
		archiver: backup.New(absRoot, cfg.BackupDir),
		rewriter: rewrite.New(cfg.ImageExtensions, cfg.TargetExtension, rewrite.ParseScope(cfg.RewriteScope)),
		updates:  updates,
		produced: map[string]string{},
	}
	summary.Root = absRoot
	summary.BackupDir = r.archiver.Dir()

	images, err := locator.FindImages(absRoot, r.filter, cfg.ImageExtensions)
	if err != nil {
		return summary, fmt.Errorf("find images: %w", err)
	}
	if len(images) == 0 {
		summary.NothingToDo = true
		return summary, nil
	}

	summary.Total = len(images)
	r.send(ProgressUpdate{Kind: UpdateFound, Total: len(images)})

	for _, path := range images {
		if err := ctx.Err(); err != nil {
			summary.Interrupted = true
			break
		}

		res := r.processImage(Job{Path: path, RelPath: r.rel(path)})
		summary.Results = append(summary.Results, res)
		r.send(ProgressUpdate{Kind: UpdateImage, Image: &res})

		if res.State == StateFailed {
			summary.Failed++
			continue
		}
		summary.Converted++
		summary.BytesBefore += res.BytesBefore
		summary.BytesAfter += res.BytesAfter
		summary.Renames[res.RelPath] = res.DestRelPath
	}

	markup, err := locator.FindMarkup(absRoot, r.filter, cfg.MarkupExtension)
	if err != nil {
		return summary, fmt.Errorf("find markup: %w", err)
	}
	summary.MarkupScanned = len(markup)
	if len(markup) == 0 || len(summary.Renames) == 0 {
		return summary, nil
	}

	r.send(ProgressUpdate{Kind: UpdateMarkupStart, Total: len(markup)})
	for _, path := range markup {
		rel := r.rel(path)
		n, err := r.rewriteMarkup(path, rel, summary.Renames)
		if err != nil {
			summary.MarkupErrors++
			r.send(ProgressUpdate{Kind: UpdateMarkupError, Markup: rel, Err: err})
			continue
		}
		if n == 0 {
			continue
		}
		summary.MarkupUpdated++
		summary.UpdatedMarkup = append(summary.UpdatedMarkup, rel)
		r.send(ProgressUpdate{Kind: UpdateMarkup, Markup: rel, References: n})
	}

	return summary, nil
}

// processImage takes one image through backup, transcode and delete. The
// original is removed only after its backup exists and the new file has
// been written. A converted file that was already on disk before the image
// was handled is never removed on failure.
func (r *runner) processImage(job Job) Result {
	res := Result{Path: job.Path, RelPath: job.RelPath, State: StateDiscovered}
	fail := func(err error) Result {
		res.Reached = res.State
		res.State = StateFailed
		res.Err = err
		return res
	}

	target := transcode.DestPath(job.Path, r.opts.Config.TargetExtension)
	if owner, ok := r.produced[target]; ok {
		return fail(fmt.Errorf("%w: %s already converted to %s", ErrTargetTaken, owner, r.rel(target)))
	}
	_, statErr := os.Lstat(target)
	preexisting := statErr == nil

	info, err := os.Stat(job.Path)
	if err != nil {
		return fail(err)
	}
	res.BytesBefore = info.Size()

	_, copied, err := r.archiver.Archive(job.Path)
	if err != nil {
		return fail(err)
	}
	res.BackedUp = copied
	res.State = StateBackedUp

	out := r.opts.Transcoder.Transcode(job.Path)
	if !out.OK() {
		return fail(out.Failure)
	}
	res.State = StateTranscoded
	res.Dest = out.Dest
	res.DestRelPath = r.rel(out.Dest)
	discard := func() {
		if !preexisting || out.Dest != target {
			_ = os.Remove(out.Dest)
		}
	}

	destInfo, err := os.Stat(out.Dest)
	if err != nil {
		discard()
		return fail(fmt.Errorf("stat %s: %w", res.DestRelPath, err))
	}
	res.BytesAfter = destInfo.Size()

	if err := os.Remove(job.Path); err != nil {
		discard()
		return fail(fmt.Errorf("remove original: %w", err))
	}
	r.produced[out.Dest] = job.RelPath
	res.State = StateDeleted
	return res
}

func (r *runner) rewriteMarkup(path, rel string, renames map[string]string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	text, n := r.rewriter.Rewrite(string(data), rel, renames)
	if n == 0 {
		return 0, nil
	}

	err = fsutil.WriteAtomic(path, info.Mode().Perm(), func(w io.Writer) error {
		_, err := io.WriteString(w, text)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", rel, err)
	}
	return n, nil
}

func (r *runner) rel(path string) string {
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (r *runner) send(u ProgressUpdate) {
	if r.updates != nil {
		r.updates <- u
	}
}
