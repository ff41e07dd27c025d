// Package transform derives the fixed set of image variants from a source
// file. Decoding re-draws the source into a fresh bitmap, so embedded EXIF
// metadata (orientation, GPS tags) never survives into the re-encoded output.
package transform

import (
	"bytes"
	"context"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/mediaforge/uploadkit/pkg/errors"
)

// Variant names.
const (
	VariantThumbnail = "thumbnail"
	VariantMedium    = "medium"
	VariantLarge     = "large"
	VariantOriginal  = "original"
)

// NormalizedMimeType is the single output encoding for every variant.
const NormalizedMimeType = "image/jpeg"

// NormalizedExt is the file extension matching NormalizedMimeType.
const NormalizedExt = "jpg"

// Long-edge clamps for the derived sizes.
var targetSizes = map[string]int{
	VariantThumbnail: 200,
	VariantMedium:    800,
	VariantLarge:     1920,
}

// JPEG qualities: derived sizes trade harder for bytes than the original.
const (
	derivedQuality  = 85
	originalQuality = 95
)

// VariantNames lists every variant a transform produces, in a fixed order.
var VariantNames = []string{VariantThumbnail, VariantMedium, VariantLarge, VariantOriginal}

// Variant is one derived rendition of a source image. Immutable once
// produced.
type Variant struct {
	Name     string
	Width    int
	Height   int
	Data     []byte
	MimeType string
}

// Variants maps variant name to rendition.
type Variants map[string]*Variant

// ProgressFunc receives percentages in [0,100].
type ProgressFunc func(percent float64)

// Progress checkpoints: decode ends at 20, original at 40, each of the
// three resizes contributes an equal slice of the remaining 60.
const (
	decodeProgress   = 20
	originalProgress = 40
	resizeShare      = (100 - originalProgress) / 3
)

func transform(ctx context.Context, src []byte, onProgress ProgressFunc) (Variants, error) {
	report := func(p float64) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.E(errors.KindCancelled, "transform cancelled", err)
	}

	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		slog.Error("transform_decode_failed", "size", len(src), "error", err)
		return nil, errors.E(errors.KindDecode, "failed to decode image", err)
	}
	bounds := img.Bounds()
	slog.Info("transform_decoded", "width", bounds.Dx(), "height", bounds.Dy(), "size_kb", len(src)/1024)
	report(decodeProgress)

	if err := ctx.Err(); err != nil {
		return nil, errors.E(errors.KindCancelled, "transform cancelled", err)
	}

	// Redraw at native resolution and re-encode. Clone copies the pixels
	// into a fresh NRGBA buffer, which is the metadata-stripping step.
	original, err := encodeVariant(VariantOriginal, imaging.Clone(img), originalQuality)
	if err != nil {
		return nil, err
	}
	report(originalProgress)

	variants := Variants{VariantOriginal: original}

	// The three resizes are independent and run concurrently.
	results := make(chan *Variant, len(targetSizes))
	g, gctx := errgroup.WithContext(ctx)
	for name, size := range targetSizes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return errors.E(errors.KindCancelled, "transform cancelled", err)
			}
			resized := imaging.Fit(img, size, size, imaging.Lanczos)
			v, err := encodeVariant(name, resized, derivedQuality)
			if err != nil {
				return err
			}
			results <- v
			return nil
		})
	}

	done := 0
	collect := make(chan struct{})
	go func() {
		for v := range results {
			variants[v.Name] = v
			done++
			report(float64(originalProgress + done*resizeShare))
		}
		close(collect)
	}()

	err = g.Wait()
	close(results)
	<-collect
	if err != nil {
		return nil, err
	}

	report(100)
	slog.Info("transform_complete",
		"variant_count", len(variants),
		"original_kb", len(original.Data)/1024)
	return variants, nil
}

func encodeVariant(name string, img *image.NRGBA, quality int) (*Variant, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		slog.Error("transform_encode_failed", "variant", name, "error", err)
		return nil, errors.E(errors.KindDecode, "failed to encode "+name, err)
	}

	bounds := img.Bounds()
	return &Variant{
		Name:     name,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Data:     buf.Bytes(),
		MimeType: NormalizedMimeType,
	}, nil
}
