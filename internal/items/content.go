package items

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"unicode/utf8"

	_ "golang.org/x/image/webp"
	"golang.org/x/text/encoding/charmap"
)

// Image is an encoded image ready to be sent inline
type Image struct {
	MIME   string
	Data   []byte
	Width  int
	Height int
}

var formatMIME = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

// LoadImage reads an image and checks that it decodes. The bytes are sent as-is;
// the MIME type comes from the decoded format, not the file extension.
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	mime, ok := formatMIME[format]
	if !ok {
		mime = "image/jpeg"
	}
	return &Image{MIME: mime, Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}

// ReadText reads reference text as UTF-8, falling back to Latin-1 when the
// file is not valid UTF-8. Surrounding whitespace is trimmed.
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return "", fmt.Errorf("decode latin-1 %s: %w", path, err)
		}
		data = decoded
	}
	return string(bytes.TrimSpace(data)), nil
}
