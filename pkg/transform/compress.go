package transform

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/mediaforge/uploadkit/pkg/errors"
)

// Compress produces the single rendition the legacy upload path stores:
// one decode, one clamp to the large long edge, one re-encode. It runs
// synchronously on the caller's goroutine, as the historical implementation
// did.
func Compress(ctx context.Context, src []byte) (*Variant, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.E(errors.KindCancelled, "compress cancelled", err)
	}

	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		slog.Error("compress_decode_failed", "size", len(src), "error", err)
		return nil, errors.E(errors.KindDecode, "failed to decode image", err)
	}

	size := targetSizes[VariantLarge]
	resized := imaging.Fit(img, size, size, imaging.Lanczos)
	return encodeVariant(VariantLarge, resized, derivedQuality)
}
