package util

import "strings"

// SniffMimeHTTP detects the MIME type of uploaded image bytes by magic number.
func SniffMimeHTTP(b []byte) string {
	// JPEG: FF D8
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return "image/jpeg"
	}
	// PNG
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return "image/png"
	}
	// WEBP: RIFF....WEBP
	if len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WEBP" {
		return "image/webp"
	}
	return "application/octet-stream"
}

// MakeDataURL builds a data: URI for inline image payloads.
func MakeDataURL(mime, b64 string) string {
	return "data:" + mime + ";base64," + b64
}

// IsSupportedImage reports whether the sniffed MIME type is one the
// analysis pipeline accepts.
func IsSupportedImage(mime string) bool {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/png", "image/webp":
		return true
	}
	return false
}
