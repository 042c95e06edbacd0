package mega

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mega-relay-bot/internal/helpers"

	log "github.com/sirupsen/logrus"
)

// LoggingTransport wraps an http.RoundTripper to log request and response
// details of Mega API traffic to a file. Download bodies are not dumped.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	writer    *bufio.Writer
	mu        sync.Mutex
}

// NewLoggingTransport creates a new LoggingTransport appending to the given
// log file.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	safeLogFilePath := logFilePath
	if !filepath.IsAbs(logFilePath) {
		safeLogFilePath = helpers.SanitizePath(logFilePath)
	}
	// #nosec G304
	f, err := os.OpenFile(safeLogFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", safeLogFilePath, err)
	}

	if transport == nil {
		transport = http.DefaultTransport
	}
	return &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}, nil
}

// RoundTrip executes a single HTTP transaction, logging details.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	reqDump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		log.WithError(err).Error("Failed to dump API request for logging")
	} else {
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s\n", startTime.Format(time.RFC3339), string(reqDump)))
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.writeLog(fmt.Sprintf("--- Error (%s, after %s) ---\n%v\n\n", time.Now().Format(time.RFC3339), time.Since(startTime), err))
		return nil, err
	}

	respDump, dumpErr := httputil.DumpResponse(resp, true)
	if dumpErr != nil {
		log.WithError(dumpErr).Error("Failed to dump API response for logging")
	} else {
		t.writeLog(fmt.Sprintf("--- Response (%s, after %s) ---\n%s\n\n", time.Now().Format(time.RFC3339), time.Since(startTime), string(respDump)))
	}
	return resp, nil
}

func (t *LoggingTransport) writeLog(entry string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.WriteString(entry); err != nil {
		log.WithError(err).Error("Failed to write API log entry")
		return
	}
	if err := t.writer.Flush(); err != nil {
		log.WithError(err).Error("Failed to flush API log")
	}
}

// Close flushes and closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writer.Flush(); err != nil {
		log.WithError(err).Warn("Failed to flush API log on close")
	}
	return t.logFile.Close()
}
