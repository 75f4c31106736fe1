package ticket

import (
	"bytes"
	"encoding/base64"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/samber/oops"

	"github.com/dukerupert/ticketeer/internal/errutil"
)

const (
	DefaultQRSize = 256
	dataURLPrefix = "data:image/png;base64,"
)

// RenderQR encodes content as a QR code and returns it as a PNG data URL.
func RenderQR(content string, size int) (string, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "encode qr").Wrap(err)
	}
	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "scale qr").With("size", size).Wrap(err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "encode png").Wrap(err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
