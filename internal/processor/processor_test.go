package processor

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"imgslim/internal/backup"
	"imgslim/internal/config"
	"imgslim/internal/transcode"
	"imgslim/pkg/imgutil"
)

// fakeTranscoder writes half of the source bytes to the destination and
// fails for the base names listed in fail. It records whether a matching
// backup existed when each file was handed to it.
type fakeTranscoder struct {
	root      string
	backupDir string
	fail      map[string]bool
	probeErr  error
	// unlink removes these sources after writing, so deleting the
	// original afterwards fails.
	unlink map[string]bool

	calls       []string
	backupAtRun map[string]bool
}

func (f *fakeTranscoder) Probe() error {
	return f.probeErr
}

func (f *fakeTranscoder) Transcode(src string) transcode.Outcome {
	f.calls = append(f.calls, filepath.Base(src))

	rel, _ := filepath.Rel(f.root, src)
	original, _ := os.ReadFile(src)
	backup, err := os.ReadFile(filepath.Join(f.root, f.backupDir, rel))
	if f.backupAtRun == nil {
		f.backupAtRun = map[string]bool{}
	}
	f.backupAtRun[filepath.ToSlash(rel)] = err == nil && bytes.Equal(original, backup)

	if f.fail[filepath.Base(src)] {
		return transcode.Outcome{
			Source:  src,
			Failure: &transcode.Failure{Stage: transcode.StageDecode, Err: errors.New("corrupt image")},
		}
	}

	dest := transcode.DestPath(src, ".webp")
	if err := os.WriteFile(dest, original[:len(original)/2], 0o644); err != nil {
		return transcode.Outcome{Source: src, Failure: &transcode.Failure{Stage: transcode.StageWrite, Err: err}}
	}
	if f.unlink[filepath.Base(src)] {
		_ = os.Remove(src)
	}
	return transcode.Outcome{Source: src, Dest: dest}
}

func testConfig(t *testing.T, mutate ...func(*config.Config)) config.Config {
	t.Helper()
	cfg := config.Default()
	for _, m := range mutate {
		m(&cfg)
	}
	out, err := cfg.Finalize()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return out
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return full
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestRunFailureIsolation(t *testing.T) {
	root := t.TempDir()
	names := []string{"a.jpg", "b.png", "c.jpg", "d.jpeg", "e.png"}
	for i, name := range names {
		writeFile(t, root, "img/"+name, strings.Repeat(string(rune('a'+i)), 100*(i+1)))
	}

	fake := &fakeTranscoder{root: root, backupDir: "backup_images", fail: map[string]bool{"c.jpg": true}}
	summary, err := Run(context.Background(), root, Options{Config: testConfig(t), Transcoder: fake}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Total != 5 || summary.Converted != 4 || summary.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if got := strings.Join(fake.calls, ","); got != "a.jpg,b.png,c.jpg,d.jpeg,e.png" {
		t.Fatalf("unexpected order: %s", got)
	}

	for _, name := range names {
		original := filepath.Join(root, "img", name)
		converted := transcode.DestPath(original, ".webp")
		backedUp := filepath.Join(root, "backup_images", "img", name)

		if !exists(backedUp) {
			t.Fatalf("missing backup for %s", name)
		}
		if !fake.backupAtRun["img/"+name] {
			t.Fatalf("backup for %s was not in place before conversion", name)
		}
		if name == "c.jpg" {
			if !exists(original) || exists(converted) {
				t.Fatalf("failed image must stay untouched")
			}
			continue
		}
		if exists(original) || !exists(converted) {
			t.Fatalf("expected %s replaced by webp", name)
		}
	}

	if _, ok := summary.Renames["img/c.jpg"]; ok {
		t.Fatalf("failed image must not be renamed")
	}
	if summary.Renames["img/a.jpg"] != "img/a.webp" || len(summary.Renames) != 4 {
		t.Fatalf("unexpected renames: %v", summary.Renames)
	}

	// sizes 100,200,400,500 succeed; outputs are half.
	if summary.BytesBefore != 1200 || summary.BytesAfter != 600 {
		t.Fatalf("unexpected totals: %d -> %d", summary.BytesBefore, summary.BytesAfter)
	}
	if math.Abs(summary.Percent()-50) > 1e-9 {
		t.Fatalf("unexpected percent: %f", summary.Percent())
	}

	var failed *Result
	for i := range summary.Results {
		if summary.Results[i].State == StateFailed {
			failed = &summary.Results[i]
		}
	}
	if failed == nil || failed.RelPath != "img/c.jpg" || failed.Reached != StateBackedUp {
		t.Fatalf("unexpected failure record: %+v", failed)
	}
	var f *transcode.Failure
	if !errors.As(failed.Err, &f) || f.Stage != transcode.StageDecode {
		t.Fatalf("expected decode failure, got %v", failed.Err)
	}
}

func TestRunNothingToDo(t *testing.T) {
	root := t.TempDir()
	page := writeFile(t, root, "index.html", `<img src="a.png">`)
	writeFile(t, root, "anim.gif", "gif")
	writeFile(t, root, "node_modules/x/logo.png", "png")

	old := time.Date(2021, 5, 6, 7, 8, 9, 0, time.UTC)
	if err := os.Chtimes(page, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	fake := &fakeTranscoder{root: root, backupDir: "backup_images"}
	summary, err := Run(context.Background(), root, Options{Config: testConfig(t), Transcoder: fake}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.NothingToDo {
		t.Fatalf("expected nothing to do")
	}
	if len(fake.calls) != 0 || exists(filepath.Join(root, "backup_images")) {
		t.Fatalf("tree must be untouched")
	}
	if readFile(t, page) != `<img src="a.png">` {
		t.Fatalf("markup changed")
	}
	info, _ := os.Stat(page)
	if !info.ModTime().Equal(old) {
		t.Fatalf("markup mtime changed")
	}
}

func TestRunRewritesMarkup(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "img/a.JPG", strings.Repeat("x", 64))
	writeFile(t, root, "img/b.png", strings.Repeat("y", 64))
	index := writeFile(t, root, "index.html", `<img src="img/a.JPG"><img src='img/b.png'><img src="img/c.gif">`)
	about := writeFile(t, root, "pages/about.html", `<p>"no images"</p>`)
	vendored := writeFile(t, root, "node_modules/pkg/demo.html", `<img src="x.png">`)

	old := time.Date(2021, 5, 6, 7, 8, 9, 0, time.UTC)
	if err := os.Chtimes(about, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	updates := make(chan ProgressUpdate, 64)
	fake := &fakeTranscoder{root: root, backupDir: "backup_images"}
	summary, err := Run(context.Background(), root, Options{Config: testConfig(t), Transcoder: fake}, updates)
	close(updates)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := readFile(t, index); got != `<img src="img/a.webp"><img src='img/b.webp'><img src="img/c.gif">` {
		t.Fatalf("unexpected index: %s", got)
	}
	if readFile(t, vendored) != `<img src="x.png">` {
		t.Fatalf("excluded markup was rewritten")
	}
	info, _ := os.Stat(about)
	if !info.ModTime().Equal(old) {
		t.Fatalf("unchanged markup was rewritten")
	}

	if summary.MarkupScanned != 2 || summary.MarkupUpdated != 1 || summary.UpdatedMarkup[0] != "index.html" {
		t.Fatalf("unexpected markup stats: %+v", summary)
	}

	kinds := map[UpdateKind]int{}
	refs := 0
	for u := range updates {
		kinds[u.Kind]++
		refs += u.References
	}
	if kinds[UpdateFound] != 1 || kinds[UpdateImage] != 2 || kinds[UpdateMarkupStart] != 1 || kinds[UpdateMarkup] != 1 {
		t.Fatalf("unexpected updates: %v", kinds)
	}
	if refs != 2 {
		t.Fatalf("expected 2 rewritten references, got %d", refs)
	}
}

func TestRunRenamedScopeSkipsFailedImages(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "img/ok.png", "okokokok")
	writeFile(t, root, "img/bad.png", "badbadba")
	page := writeFile(t, root, "pages/index.html", `<img src="../img/ok.png"><img src="../img/bad.png">`)

	cfg := testConfig(t, func(c *config.Config) { c.RewriteScope = config.ScopeRenamed })
	fake := &fakeTranscoder{root: root, backupDir: "backup_images", fail: map[string]bool{"bad.png": true}}
	if _, err := Run(context.Background(), root, Options{Config: cfg, Transcoder: fake}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := readFile(t, page); got != `<img src="../img/ok.webp"><img src="../img/bad.png">` {
		t.Fatalf("unexpected markup: %s", got)
	}
}

func TestRunExtensionScopeRewritesFailedImages(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.png", "okokokok")
	writeFile(t, root, "bad.png", "badbadba")
	page := writeFile(t, root, "index.html", `<img src="ok.png"><img src="bad.png">`)

	fake := &fakeTranscoder{root: root, backupDir: "backup_images", fail: map[string]bool{"bad.png": true}}
	if _, err := Run(context.Background(), root, Options{Config: testConfig(t), Transcoder: fake}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := readFile(t, page); got != `<img src="ok.webp"><img src="bad.webp">` {
		t.Fatalf("unexpected markup: %s", got)
	}
}

func TestRunProbeFailureTouchesNothing(t *testing.T) {
	root := t.TempDir()
	img := writeFile(t, root, "a.png", "png")

	fake := &fakeTranscoder{root: root, backupDir: "backup_images", probeErr: transcode.ErrCodecUnavailable}
	_, err := Run(context.Background(), root, Options{Config: testConfig(t), Transcoder: fake}, nil)
	if !errors.Is(err, transcode.ErrCodecUnavailable) {
		t.Fatalf("expected codec error, got %v", err)
	}
	if !exists(img) || exists(filepath.Join(root, "backup_images")) || len(fake.calls) != 0 {
		t.Fatalf("tree must be untouched")
	}
}

func TestRunRequiresTranscoder(t *testing.T) {
	_, err := Run(context.Background(), t.TempDir(), Options{Config: testConfig(t)}, nil)
	if !errors.Is(err, ErrNoTranscoder) {
		t.Fatalf("expected ErrNoTranscoder, got %v", err)
	}
}

func TestRunRerunIsNoop(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.png", "pngpngpng")

	cfg := testConfig(t)
	fake := &fakeTranscoder{root: root, backupDir: "backup_images"}
	if _, err := Run(context.Background(), root, Options{Config: cfg, Transcoder: fake}, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	summary, err := Run(context.Background(), root, Options{Config: cfg, Transcoder: fake}, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !summary.NothingToDo {
		t.Fatalf("expected second run to find nothing")
	}
	if readFile(t, filepath.Join(root, "backup_images", "a.png")) != "pngpngpng" {
		t.Fatalf("backup changed")
	}
}

func TestRunInterrupted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.png", "aaaa")
	writeFile(t, root, "b.png", "bbbb")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &fakeTranscoder{root: root, backupDir: "backup_images"}
	summary, err := Run(ctx, root, Options{Config: testConfig(t), Transcoder: fake}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.Interrupted || summary.Converted != 0 || len(fake.calls) != 0 {
		t.Fatalf("expected interrupted run with no conversions: %+v", summary)
	}
}

func TestRunRefusesBackupDirAtRoot(t *testing.T) {
	root := t.TempDir()
	img := writeFile(t, root, "a.png", "pngpngpng")

	cfg := testConfig(t)
	cfg.BackupDir = "."
	fake := &fakeTranscoder{root: root, backupDir: "."}
	summary, err := Run(context.Background(), root, Options{Config: cfg, Transcoder: fake}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Converted != 0 || summary.Failed != 1 || len(fake.calls) != 0 {
		t.Fatalf("expected the image to fail before conversion: %+v", summary)
	}
	if !errors.Is(summary.Results[0].Err, backup.ErrUnsafeDir) {
		t.Fatalf("expected unsafe backup dir, got %v", summary.Results[0].Err)
	}
	if readFile(t, img) != "pngpngpng" || exists(filepath.Join(root, "a.webp")) {
		t.Fatalf("original must stay in place")
	}
}

func TestRunKeepsFirstOfCollidingTargets(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "img/a.jpg", "JJJJJJJJ")
	png := writeFile(t, root, "img/a.png", "PPPPPPPPPPPP")

	fake := &fakeTranscoder{root: root, backupDir: "backup_images"}
	summary, err := Run(context.Background(), root, Options{Config: testConfig(t), Transcoder: fake}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Converted != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if got := strings.Join(fake.calls, ","); got != "a.jpg" {
		t.Fatalf("second image must not be transcoded, calls: %s", got)
	}
	if got := readFile(t, filepath.Join(root, "img", "a.webp")); got != "JJJJ" {
		t.Fatalf("converted jpeg was overwritten: %q", got)
	}
	if readFile(t, png) != "PPPPPPPPPPPP" {
		t.Fatalf("colliding original must be kept")
	}
	if len(summary.Renames) != 1 || summary.Renames["img/a.jpg"] != "img/a.webp" {
		t.Fatalf("unexpected renames: %v", summary.Renames)
	}
	if summary.BytesBefore != 8 || summary.BytesAfter != 4 {
		t.Fatalf("unexpected totals: %d -> %d", summary.BytesBefore, summary.BytesAfter)
	}
	if !errors.Is(summary.Results[1].Err, ErrTargetTaken) {
		t.Fatalf("expected ErrTargetTaken, got %v", summary.Results[1].Err)
	}
}

func TestRunDeleteFailureKeepsExistingTarget(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.png", "pngpng")
	older := writeFile(t, root, "a.webp", "older")
	writeFile(t, root, "b.png", "pngpng")

	fake := &fakeTranscoder{
		root:      root,
		backupDir: "backup_images",
		unlink:    map[string]bool{"a.png": true, "b.png": true},
	}
	summary, err := Run(context.Background(), root, Options{Config: testConfig(t), Transcoder: fake}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Failed != 2 || len(summary.Renames) != 0 {
		t.Fatalf("expected both images to fail: %+v", summary)
	}
	for _, res := range summary.Results {
		if res.Reached != StateTranscoded {
			t.Fatalf("%s failed at %s", res.RelPath, res.Reached)
		}
	}
	if !exists(older) {
		t.Fatalf("a.webp existed before the run and must be kept")
	}
	if exists(filepath.Join(root, "b.webp")) {
		t.Fatalf("b.webp was created by the run and must be removed")
	}
	if !exists(filepath.Join(root, "backup_images", "a.png")) {
		t.Fatalf("backup must survive a failed delete")
	}
}

func TestResultSaving(t *testing.T) {
	r := Result{BytesBefore: 200, BytesAfter: 50}
	if math.Abs(r.Saving()-75) > 1e-9 {
		t.Fatalf("unexpected saving: %f", r.Saving())
	}
	s := Summary{BytesBefore: 200, BytesAfter: 50}
	if r.Saving() != s.Percent() {
		t.Fatalf("per-file and total savings disagree: %f vs %f", r.Saving(), s.Percent())
	}
	grown := Result{BytesBefore: 100, BytesAfter: 120}
	if math.Abs(grown.Saving()-(-20)) > 1e-9 {
		t.Fatalf("unexpected saving for grown file: %f", grown.Saving())
	}
	if (Result{}).Saving() != 0 || (Summary{}).Percent() != 0 {
		t.Fatalf("zero sizes must report 0")
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "fake.png", "\xff\xd8\xff\xe0 jpeg pretending")
	writeFile(t, root, "tiny.jpg", "xx")
	writeFile(t, root, "index.html", `<img src="fake.png"><img src='tiny.jpg'>`)

	report, err := Scan(root, testConfig(t))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(report.Images) != 2 || report.Images[0].Kind != imgutil.KindJPEG {
		t.Fatalf("unexpected images: %+v", report.Images)
	}
	if !errors.Is(report.Images[1].Err, imgutil.ErrShortHeader) {
		t.Fatalf("expected short header for tiny.jpg: %+v", report.Images[1])
	}
	if len(report.Markup) != 1 || report.Markup[0].References != 2 {
		t.Fatalf("unexpected markup: %+v", report.Markup)
	}
	if !exists(filepath.Join(root, "fake.png")) || exists(filepath.Join(root, "backup_images")) {
		t.Fatalf("scan must not modify the tree")
	}
}
