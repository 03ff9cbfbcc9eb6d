// Package transcode re-encodes raster images as WebP.
//
// The encoder is libwebp through github.com/kolesa-team/go-webp. Decoding
// goes through github.com/disintegration/imaging so every format registered
// there (JPEG, PNG, GIF, TIFF, BMP) is accepted regardless of the input
// extension.
package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"

	"imgslim/internal/fsutil"
	"imgslim/pkg/imgutil"
)

// ErrCodecUnavailable means the encoder cannot be used at all. It is a
// precondition failure, not a per-file one.
var ErrCodecUnavailable = errors.New("webp codec unavailable")

type Stage string

const (
	StageRead   Stage = "read"
	StageDecode Stage = "decode"
	StageEncode Stage = "encode"
	StageWrite  Stage = "write"
)

// Failure is a recoverable per-file error.
type Failure struct {
	Stage Stage
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Outcome is the result of one Transcode call: Dest on success, Failure
// otherwise.
type Outcome struct {
	Source  string
	Dest    string
	Failure *Failure
}

func (o Outcome) OK() bool {
	return o.Failure == nil
}

type Transcoder interface {
	// Probe checks once, before any file is touched, that the codec works.
	Probe() error
	Transcode(src string) Outcome
}

// MaxMethod is libwebp's slowest, best-compressing method.
const MaxMethod = 6

type WebP struct {
	quality int
	method  int
	ext     string
}

func NewWebP(quality int, ext string) *WebP {
	if ext == "" {
		ext = ".webp"
	}
	return &WebP{quality: quality, method: MaxMethod, ext: ext}
}

// DestPath replaces the extension of src with the target extension.
func (w *WebP) DestPath(src string) string {
	return DestPath(src, w.ext)
}

func DestPath(src, ext string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + ext
}

func (w *WebP) Probe() error {
	opts, err := w.options()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodecUnavailable, err)
	}
	probe := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	probe.Set(0, 0, color.NRGBA{R: 0xff, A: 0xff})
	if err := webp.Encode(io.Discard, probe, opts); err != nil {
		return fmt.Errorf("%w: %v", ErrCodecUnavailable, err)
	}
	return nil
}

func (w *WebP) Transcode(src string) Outcome {
	out := Outcome{Source: src, Dest: w.DestPath(src)}
	fail := func(stage Stage, err error) Outcome {
		out.Dest = ""
		out.Failure = &Failure{Stage: stage, Err: err}
		return out
	}

	info, err := os.Stat(src)
	if err != nil {
		return fail(StageRead, err)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fail(StageRead, err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return fail(StageDecode, err)
	}

	img = Normalize(img)
	if kind, _ := imgutil.DetectHeader(padHeader(data)); kind == imgutil.KindJPEG {
		if orientation := readOrientation(bytes.NewReader(data)); orientation > 1 {
			img = applyOrientation(img, orientation)
		}
	}

	opts, err := w.options()
	if err != nil {
		return fail(StageEncode, err)
	}

	var encoded bytes.Buffer
	if err := webp.Encode(&encoded, img, opts); err != nil {
		return fail(StageEncode, err)
	}

	err = fsutil.WriteAtomic(out.Dest, info.Mode().Perm(), func(wr io.Writer) error {
		_, err := encoded.WriteTo(wr)
		return err
	})
	if err != nil {
		return fail(StageWrite, err)
	}
	return out
}

func (w *WebP) options() (*encoder.Options, error) {
	if w.quality < 0 || w.quality > 100 {
		return nil, fmt.Errorf("quality %d out of range 0-100", w.quality)
	}
	opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(w.quality))
	if err != nil {
		return nil, err
	}
	opts.Method = w.method
	return opts, nil
}

// Normalize keeps RGBA and NRGBA images as they are. Anything else becomes
// NRGBA when the source declares transparency and opaque RGBA otherwise.
func Normalize(img image.Image) image.Image {
	switch img.(type) {
	case *image.RGBA, *image.NRGBA:
		return img
	}
	if DeclaresTransparency(img) {
		return imaging.Clone(img)
	}
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Src)
	return dst
}

// DeclaresTransparency reports whether the image format carries alpha: a
// palette with a non-opaque entry (PNG tRNS) or an alpha-bearing model.
func DeclaresTransparency(img image.Image) bool {
	if p, ok := img.(*image.Paletted); ok {
		for _, c := range p.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
		return false
	}

	switch img.ColorModel() {
	case color.RGBAModel, color.NRGBAModel,
		color.RGBA64Model, color.NRGBA64Model,
		color.AlphaModel, color.Alpha16Model,
		color.NYCbCrAModel:
		return true
	}
	return false
}

func padHeader(data []byte) []byte {
	if len(data) >= imgutil.HeaderSize {
		return data[:imgutil.HeaderSize]
	}
	out := make([]byte, imgutil.HeaderSize)
	copy(out, data)
	return out
}
