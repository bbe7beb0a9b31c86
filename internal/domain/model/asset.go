package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SourceHash content-addresses a vendor asset URL. It keys the transfer
// cache and names the durable blob.
func SourceHash(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:])
}

// AssetKey is the blob key for a transferred asset.
func AssetKey(sourceURL, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	h := SourceHash(sourceURL)
	return "generations/" + h[:2] + "/" + h + ext
}
