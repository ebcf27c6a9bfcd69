package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
)

// Asset is a decoded media payload ready for upload.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
	Width    int
	Height   int
}

// DecodeDataURL unpacks a base64 data URL ("data:image/png;base64,...") or a
// bare base64 string into raw bytes plus the declared MIME type.
func DecodeDataURL(dataURL string) ([]byte, string, error) {
	dataURL = strings.TrimSpace(dataURL)
	if dataURL == "" {
		return nil, "", errors.New("media: empty data url")
	}
	mime := ""
	payload := dataURL
	if strings.HasPrefix(dataURL, "data:") {
		comma := strings.IndexByte(dataURL, ',')
		if comma < 0 {
			return nil, "", errors.New("media: malformed data url")
		}
		header := dataURL[len("data:"):comma]
		payload = dataURL[comma+1:]
		if !strings.HasSuffix(header, ";base64") {
			return nil, "", errors.New("media: data url is not base64 encoded")
		}
		mime = strings.TrimSuffix(header, ";base64")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("media: decode base64 payload: %w", err)
	}
	return data, mime, nil
}

// PrepareImage decodes an image and downscales it to fit within maxWidth x
// maxHeight, preserving aspect ratio. Images already inside the bounds pass
// through re-encoded only when the format requires it.
func PrepareImage(filename string, data []byte, maxWidth, maxHeight int) (*Asset, error) {
	if maxWidth <= 0 || maxHeight <= 0 {
		return nil, errors.New("media: target bounds must be positive")
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("media: decode image: %w", err)
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if w <= maxWidth && h <= maxHeight {
		return &Asset{Filename: filename, MIME: mimeForFormat(format), Data: data, Width: w, Height: h}, nil
	}

	resized := imaging.Fit(src, maxWidth, maxHeight, imaging.Lanczos)
	out := &bytes.Buffer{}
	switch format {
	case "jpeg":
		err = jpeg.Encode(out, resized, &jpeg.Options{Quality: 90})
	default:
		format = "png"
		err = png.Encode(out, resized)
	}
	if err != nil {
		return nil, fmt.Errorf("media: encode resized image: %w", err)
	}
	rb := resized.Bounds()
	return &Asset{
		Filename: filename,
		MIME:     mimeForFormat(format),
		Data:     out.Bytes(),
		Width:    rb.Dx(),
		Height:   rb.Dy(),
	}, nil
}

func mimeForFormat(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	default:
		return "image/png"
	}
}
