package mega

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"mega-relay-bot/internal/helpers"

	log "github.com/sirupsen/logrus"
)

// Custom transport/filesystem errors for the download path.
var (
	ErrHttpStatus  = errors.New("unexpected HTTP status code")
	ErrHttpRequest = errors.New("HTTP request creation/execution error")
	ErrFileSystem  = errors.New("filesystem error")
)

const DefaultAPIBaseURL = "https://g.api.mega.co.nz"

// Mega API error codes that mean the link cannot resolve to a file.
const (
	codeNotFound  = -9  // ENOENT: handle unknown
	codeTakenDown = -16 // ETOOMANY/blocked: link disabled
)

// FileInfo describes a remote file behind a public link.
type FileInfo struct {
	Name string
	Size uint64
}

// Client talks to the Mega public API. Metadata lookups go through a
// bounded-timeout HTTP client; download streaming uses a separate client
// without a request deadline.
type Client struct {
	apiURL       string
	apiClient    *http.Client
	streamClient *http.Client
	seqNo        uint64
}

// NewClient creates a new Mega public-link client. Either HTTP client may
// be nil, in which case defaults are used.
func NewClient(apiClient, streamClient *http.Client) *Client {
	if apiClient == nil {
		apiClient = &http.Client{Timeout: 60 * time.Second}
	}
	if streamClient == nil {
		streamClient = &http.Client{Timeout: 15 * time.Minute}
	}
	return &Client{
		apiURL:       DefaultAPIBaseURL,
		apiClient:    apiClient,
		streamClient: streamClient,
	}
}

// SetAPIBaseURL overrides the API endpoint. Used in tests.
func (c *Client) SetAPIBaseURL(u string) {
	c.apiURL = u
}

// getFileRequest is the "g" API command payload.
type getFileRequest struct {
	Cmd    string `json:"a"`
	Get    int    `json:"g,omitempty"`
	SSL    int    `json:"ssl"`
	Handle string `json:"p"`
}

// getFileResponse is the successful "g" command response.
type getFileResponse struct {
	Size        uint64 `json:"s"`
	Attrs       string `json:"at"`
	DownloadURL string `json:"g"`
}

// apiCall issues a single command against the Mega API and decodes the
// response into out. Negative API result codes are mapped to sentinel
// errors. There is no retry: a failure is terminal for the request.
func (c *Client) apiCall(ctx context.Context, payload interface{}, out interface{}) error {
	seq := atomic.AddUint64(&c.seqNo, 1)
	reqURL := fmt.Sprintf("%s/cs?id=%d", c.apiURL, seq)

	body, err := json.Marshal([]interface{}{payload})
	if err != nil {
		return fmt.Errorf("%w: encoding API payload: %v", ErrHttpRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: creating API request: %v", ErrHttpRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: performing API request: %v", ErrHttpRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: received status %d from mega API", ErrHttpStatus, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading API response body: %w", err)
	}

	// The API answers either with a bare numeric error code, an array
	// containing a numeric error code, or an array with one result object.
	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		return apiError(code)
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil || len(elements) == 0 {
		return fmt.Errorf("%w: malformed response %q", ErrAPIError, string(raw))
	}
	if err := json.Unmarshal(elements[0], &code); err == nil {
		return apiError(code)
	}
	if err := json.Unmarshal(elements[0], out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrAPIError, err)
	}
	return nil
}

// apiError maps a negative Mega API result code onto a sentinel error.
func apiError(code int) error {
	switch code {
	case codeNotFound, codeTakenDown:
		return fmt.Errorf("%w (code %d)", ErrLinkNotFound, code)
	default:
		return fmt.Errorf("%w: code %d", ErrAPIError, code)
	}
}

// GetPublicFileInfo resolves a public file link to its remote name and size.
// Returns ErrInvalidLink for syntactically broken links and ErrLinkNotFound
// when the provider reports the handle unknown or disabled.
func (c *Client) GetPublicFileInfo(ctx context.Context, link string) (FileInfo, error) {
	handle, nodeKey, err := ParseFileLink(link)
	if err != nil {
		return FileInfo{}, err
	}
	aesKey, _ := unpackNodeKey(nodeKey)

	var resp getFileResponse
	payload := getFileRequest{Cmd: "g", Handle: handle}
	if err := c.apiCall(ctx, payload, &resp); err != nil {
		return FileInfo{}, err
	}

	encAttrs, err := base64urlDecode(resp.Attrs)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: undecodable attribute block", ErrAPIError)
	}
	name, err := decryptAttrs(encAttrs, aesKey)
	if err != nil {
		return FileInfo{}, err
	}

	log.Debugf("Resolved public link %s to %q (%s)", handle, name, helpers.BytesToSize(resp.Size))
	return FileInfo{Name: name, Size: resp.Size}, nil
}

// DownloadFromURL streams the file behind a public link into destDir under
// destName and returns the final local path. An existing same-named file is
// overwritten. The stream is written to a temporary file first and renamed
// into place on success; there is no retry and no resumption.
func (c *Client) DownloadFromURL(ctx context.Context, link, destDir, destName string) (string, error) {
	handle, nodeKey, err := ParseFileLink(link)
	if err != nil {
		return "", err
	}
	aesKey, nonce := unpackNodeKey(nodeKey)

	var meta getFileResponse
	payload := getFileRequest{Cmd: "g", Get: 1, Handle: handle}
	if err := c.apiCall(ctx, payload, &meta); err != nil {
		return "", err
	}
	if meta.DownloadURL == "" {
		return "", fmt.Errorf("%w: response carries no download URL", ErrAPIError)
	}

	if destName == "" {
		encAttrs, decErr := base64urlDecode(meta.Attrs)
		if decErr == nil {
			if name, attErr := decryptAttrs(encAttrs, aesKey); attErr == nil {
				destName = name
			}
		}
		if destName == "" {
			destName = handle
		}
	}

	if !helpers.CheckAndMakeDir(destDir) {
		return "", fmt.Errorf("%w: failed to create destination directory %s", ErrFileSystem, destDir)
	}
	finalPath := filepath.Join(destDir, filepath.Base(destName))

	tempFile, err := os.CreateTemp(destDir, filepath.Base(destName)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: creating temporary file in %s: %v", ErrFileSystem, destDir, err)
	}

	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			log.Debugf("Cleaning up temporary file via defer: %s", tempFile.Name())
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s during defer cleanup", tempFile.Name())
			}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.DownloadURL, nil)
	if err != nil {
		_ = tempFile.Close()
		return "", fmt.Errorf("%w: creating download request: %v", ErrHttpRequest, err)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		_ = tempFile.Close()
		return "", fmt.Errorf("%w: performing download request: %v", ErrHttpRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = tempFile.Close()
		return "", fmt.Errorf("%w: received status %d from download server", ErrHttpStatus, resp.StatusCode)
	}

	plaintext, err := decryptReader(aesKey, nonce, resp.Body)
	if err != nil {
		_ = tempFile.Close()
		return "", err
	}

	counter := &helpers.CounterWriter{Writer: tempFile}
	log.Infof("Downloading %s to %s (Size: %s)...", handle, finalPath, helpers.BytesToSize(meta.Size))

	if _, err := io.Copy(counter, plaintext); err != nil {
		_ = tempFile.Close()
		return "", fmt.Errorf("writing to temporary file %s: %w", tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("%w: closing temporary file %s: %v", ErrFileSystem, tempFile.Name(), err)
	}

	if err := os.Rename(tempFile.Name(), finalPath); err != nil {
		return "", fmt.Errorf("%w: renaming temporary file to %s: %v", ErrFileSystem, finalPath, err)
	}
	shouldCleanupTemp = false

	log.Infof("Finished writing %s (%s)", finalPath, helpers.BytesToSize(counter.Total))
	return finalPath, nil
}
