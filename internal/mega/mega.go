// Package mega implements the minimal client surface this bot needs from
// Mega's public-link API: syntactic link validation, metadata lookup for a
// public file link, and a streamed, decrypting download.
package mega

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// LinkPrefix is the canonical URL prefix for Mega public links.
const LinkPrefix = "https://mega.nz/"

// Custom Mega Errors
var (
	ErrInvalidLink  = errors.New("invalid mega link")
	ErrLinkNotFound = errors.New("file not found or link no longer available")
	ErrAPIError     = errors.New("mega API error")
)

// IsMegaLink reports whether text starts with the Mega public-link prefix.
// This is a syntactic pre-filter only; resolution failures surface later,
// when the link is actually looked up.
func IsMegaLink(text string) bool {
	return strings.HasPrefix(text, LinkPrefix)
}

// nodeKeySize is the raw key length embedded in a public file link.
const nodeKeySize = 32

// ParseFileLink extracts the node handle and the 32-byte node key from a
// public file link. Both the current https://mega.nz/file/<handle>#<key>
// format and the legacy https://mega.nz/#!<handle>!<key> format are
// accepted.
func ParseFileLink(link string) (handle string, nodeKey []byte, err error) {
	if !IsMegaLink(link) {
		return "", nil, fmt.Errorf("%w: %s", ErrInvalidLink, link)
	}

	rest := link[len(LinkPrefix):]
	var rawKey string
	switch {
	case strings.HasPrefix(rest, "file/"):
		parts := strings.SplitN(rest[len("file/"):], "#", 2)
		if len(parts) != 2 {
			return "", nil, fmt.Errorf("%w: missing key fragment", ErrInvalidLink)
		}
		handle, rawKey = parts[0], parts[1]
	case strings.HasPrefix(rest, "#!"):
		parts := strings.SplitN(rest[len("#!"):], "!", 2)
		if len(parts) != 2 {
			return "", nil, fmt.Errorf("%w: missing key segment", ErrInvalidLink)
		}
		handle, rawKey = parts[0], parts[1]
	default:
		// Folder links and anything else are not downloadable file links.
		return "", nil, fmt.Errorf("%w: not a public file link", ErrInvalidLink)
	}

	if len(handle) != 8 {
		return "", nil, fmt.Errorf("%w: bad node handle %q", ErrInvalidLink, handle)
	}

	nodeKey, err = base64urlDecode(rawKey)
	if err != nil || len(nodeKey) != nodeKeySize {
		return "", nil, fmt.Errorf("%w: bad node key", ErrInvalidLink)
	}
	return handle, nodeKey, nil
}

// base64urlDecode decodes Mega's base64 variant: URL-safe alphabet, no
// padding. Legacy links sometimes carry the standard alphabet, so '+' and
// '/' are normalized first.
func base64urlDecode(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	s = strings.ReplaceAll(s, "+", "-")
	s = strings.ReplaceAll(s, "/", "_")
	return base64.RawURLEncoding.DecodeString(s)
}

// unpackNodeKey derives the AES key and CTR nonce from the 32-byte node key.
// The key halves are XORed together; bytes 16..24 seed the stream counter.
func unpackNodeKey(nodeKey []byte) (aesKey, nonce []byte) {
	aesKey = make([]byte, 16)
	for i := 0; i < 16; i++ {
		aesKey[i] = nodeKey[i] ^ nodeKey[i+16]
	}
	nonce = nodeKey[16:24]
	return aesKey, nonce
}

// fileAttrs is the decrypted node attribute block.
type fileAttrs struct {
	Name string `json:"n"`
}

// decryptAttrs decrypts a node attribute block (AES-CBC, zero IV) and
// returns the contained file name. The plaintext is the literal "MEGA"
// marker followed by a JSON object, zero-padded to the block size.
func decryptAttrs(encrypted, aesKey []byte) (string, error) {
	if len(encrypted) == 0 || len(encrypted)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: attribute block not block-aligned", ErrAPIError)
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return "", fmt.Errorf("creating attribute cipher: %w", err)
	}

	plain := make([]byte, len(encrypted))
	iv := make([]byte, aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, encrypted)

	plain = bytes.TrimRight(plain, "\x00")
	if !bytes.HasPrefix(plain, []byte("MEGA")) {
		return "", fmt.Errorf("%w: attribute block failed to decrypt", ErrAPIError)
	}

	var attrs fileAttrs
	if err := json.Unmarshal(plain[4:], &attrs); err != nil {
		return "", fmt.Errorf("%w: malformed attribute JSON: %v", ErrAPIError, err)
	}
	if attrs.Name == "" {
		return "", fmt.Errorf("%w: attribute block has no file name", ErrAPIError)
	}
	return attrs.Name, nil
}

// decryptReader wraps the raw download stream with the AES-CTR decryption
// the public-link format requires. The counter starts at zero because the
// stream is always read from the first byte.
func decryptReader(aesKey, nonce []byte, r io.Reader) (io.Reader, error) {
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("creating stream cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, nonce)
	return &cipher.StreamReader{S: cipher.NewCTR(block, iv), R: r}, nil
}
