package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveAssets(t *testing.T) {
	archive, err := ArchiveAssets([]Asset{
		{Filename: "a.png", Data: []byte("one")},
		{Filename: "b.mp4", Data: []byte("two")},
		{Filename: "a.png", Data: []byte("three")},
	})
	if err != nil {
		t.Fatal(err)
	}

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 3 {
		t.Fatalf("entries = %d, want 3", len(zr.File))
	}

	contents := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		contents[f.Name] = string(data)
	}
	if contents["a.png"] != "one" {
		t.Fatalf("a.png = %q", contents["a.png"])
	}
	if contents["1-a.png"] != "three" {
		t.Fatalf("duplicate entry = %q", contents["1-a.png"])
	}
}

func TestArchiveAssetsEmpty(t *testing.T) {
	if _, err := ArchiveAssets(nil); err == nil {
		t.Fatal("expected error for empty asset list")
	}
}
