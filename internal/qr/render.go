package qr

import (
	"github.com/skip2/go-qrcode"
)

// RenderPNG encodes an issued token string as a scannable 256px PNG. The
// core only ever deals in the token string; this adapter exists for the
// ticket download endpoint.
func RenderPNG(token string) ([]byte, error) {
	return qrcode.Encode(token, qrcode.Medium, 256)
}
