package flow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mediaforge/uploadkit/pkg/store"
	"github.com/mediaforge/uploadkit/pkg/transform"
)

func testVariants() transform.Variants {
	variants := make(transform.Variants, len(transform.VariantNames))
	for i, name := range transform.VariantNames {
		variants[name] = &transform.Variant{
			Name:     name,
			Width:    100 * (i + 1),
			Height:   50 * (i + 1),
			Data:     []byte("jpeg-bytes-" + name),
			MimeType: transform.NormalizedMimeType,
		}
	}
	return variants
}

// TestStagingRoundTrip stages a variant set and reloads it from disk.
func TestStagingRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staged")
	variants := testVariants()

	if err := stageVariants(dir, variants); err != nil {
		t.Fatalf("stageVariants failed: %v", err)
	}

	manifest, err := loadManifest(dir)
	if err != nil {
		t.Fatalf("loadManifest failed: %v", err)
	}
	if len(manifest) != len(variants) {
		t.Fatalf("expected %d manifest entries, got %d", len(variants), len(manifest))
	}

	loaded, err := loadStaged(dir, manifest, transform.VariantNames)
	if err != nil {
		t.Fatalf("loadStaged failed: %v", err)
	}

	for _, name := range transform.VariantNames {
		got, ok := loaded[name]
		if !ok {
			t.Fatalf("variant %q missing after reload", name)
		}
		want := variants[name]
		if string(got.Data) != string(want.Data) {
			t.Errorf("variant %q: data mismatch", name)
		}
		if got.Width != want.Width || got.Height != want.Height {
			t.Errorf("variant %q: dimensions %dx%d, want %dx%d",
				name, got.Width, got.Height, want.Width, want.Height)
		}
		if got.MimeType != transform.NormalizedMimeType {
			t.Errorf("variant %q: mime type %q", name, got.MimeType)
		}
	}
}

// TestLoadStagedSubset loads only the variants a resumed run still needs.
func TestLoadStagedSubset(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staged")
	if err := stageVariants(dir, testVariants()); err != nil {
		t.Fatalf("stageVariants failed: %v", err)
	}
	manifest, err := loadManifest(dir)
	if err != nil {
		t.Fatalf("loadManifest failed: %v", err)
	}

	rec := &store.Record{
		SessionID:        "sess-1",
		UploadedVariants: []string{transform.VariantThumbnail, transform.VariantMedium},
		TotalVariants:    len(transform.VariantNames),
	}
	remaining := rec.Remaining(transform.VariantNames)

	loaded, err := loadStaged(dir, manifest, remaining)
	if err != nil {
		t.Fatalf("loadStaged failed: %v", err)
	}

	if len(loaded) != 2 {
		t.Fatalf("expected 2 remaining variants, got %d", len(loaded))
	}
	if _, ok := loaded[transform.VariantThumbnail]; ok {
		t.Error("thumbnail already landed, should not be reloaded")
	}
	if _, ok := loaded[transform.VariantLarge]; !ok {
		t.Error("large still pending, should be reloaded")
	}
	if _, ok := loaded[transform.VariantOriginal]; !ok {
		t.Error("original still pending, should be reloaded")
	}
}

// TestDiscardStaged removes the staged files of a run that will never
// complete, so failed runs do not accumulate orphans under the work dir.
func TestDiscardStaged(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staged")
	if err := stageVariants(dir, testVariants()); err != nil {
		t.Fatalf("stageVariants failed: %v", err)
	}

	resp := &UploadResponse{StagedDir: dir}
	discardStaged(resp)

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("staged dir still present after discard: %v", err)
	}
	if resp.StagedDir != "" {
		t.Errorf("StagedDir not cleared: %q", resp.StagedDir)
	}

	// Nil response and empty dir are no-ops.
	discardStaged(nil)
	discardStaged(&UploadResponse{})
}

// TestLoadManifestMissing surfaces a missing staging dir as an error.
func TestLoadManifestMissing(t *testing.T) {
	if _, err := loadManifest(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

// TestResponseAccumulation verifies fields survive across transitions.
func TestResponseAccumulation(t *testing.T) {
	resp := &UploadResponse{
		MimeType:  "image/png",
		Size:      1234,
		StagedDir: "/tmp/staged/abc",
	}

	// Simulate the session and upload states filling their fields.
	resp.SessionID = "corr-42"
	resp.Key = "photo/corr-42/large.jpg"
	resp.URL = "https://cdn.example.com/photo/corr-42/large.jpg"

	if resp.MimeType != "image/png" {
		t.Error("MimeType should be preserved from validate state")
	}
	if resp.StagedDir == "" {
		t.Error("StagedDir should be preserved from transform state")
	}
	if resp.Key == "" || resp.URL == "" {
		t.Error("upload state fields should be set")
	}
}
