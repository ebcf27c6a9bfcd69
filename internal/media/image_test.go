package media

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x % 256), A: 255})
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeDataURL(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	data, mime, err := DecodeDataURL(dataURL)
	if err != nil {
		t.Fatalf("DecodeDataURL: %v", err)
	}
	if mime != "image/png" {
		t.Fatalf("mime = %q, want image/png", mime)
	}
	if !bytes.Equal(data, raw) {
		t.Fatalf("data mismatch: %v", data)
	}
}

func TestDecodeDataURLBareBase64(t *testing.T) {
	raw := []byte("hello")
	data, mime, err := DecodeDataURL(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("DecodeDataURL: %v", err)
	}
	if mime != "" {
		t.Fatalf("mime = %q, want empty", mime)
	}
	if !bytes.Equal(data, raw) {
		t.Fatalf("data mismatch: %v", data)
	}
}

func TestDecodeDataURLRejectsNonBase64Header(t *testing.T) {
	if _, _, err := DecodeDataURL("data:text/plain,hello"); err == nil {
		t.Fatalf("expected error for non-base64 data url")
	}
}

func TestPrepareImageDownscalesPreservingAspect(t *testing.T) {
	data := encodePNG(t, 1600, 800)
	asset, err := PrepareImage("face.png", data, 640, 640)
	if err != nil {
		t.Fatalf("PrepareImage: %v", err)
	}
	if asset.Width != 640 || asset.Height != 320 {
		t.Fatalf("resized to %dx%d, want 640x320", asset.Width, asset.Height)
	}
	if asset.MIME != "image/png" {
		t.Fatalf("mime = %q", asset.MIME)
	}
}

func TestPrepareImagePassesThroughSmallImages(t *testing.T) {
	data := encodePNG(t, 320, 240)
	asset, err := PrepareImage("small.png", data, 640, 640)
	if err != nil {
		t.Fatalf("PrepareImage: %v", err)
	}
	if asset.Width != 320 || asset.Height != 240 {
		t.Fatalf("dimensions = %dx%d", asset.Width, asset.Height)
	}
	if !bytes.Equal(asset.Data, data) {
		t.Fatalf("small image should pass through unchanged")
	}
}

func TestPrepareImageRejectsGarbage(t *testing.T) {
	if _, err := PrepareImage("x.png", []byte("not an image"), 640, 640); err == nil {
		t.Fatalf("expected decode error")
	}
}
