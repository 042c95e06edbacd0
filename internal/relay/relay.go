// Package relay drives the download-relay-cleanup pipeline: resolve a
// public link, stream the file to local scratch space, upload it back into
// the requesting chat and delete the local copy.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mega-relay-bot/internal/helpers"
	"mega-relay-bot/internal/history"
	"mega-relay-bot/internal/mega"

	log "github.com/sirupsen/logrus"
)

// ErrRelayFailed marks an upload-to-chat failure. The local artifact is
// cleaned up regardless.
var ErrRelayFailed = errors.New("relay to chat failed")

// Storage resolves and fetches files behind public links.
type Storage interface {
	GetPublicFileInfo(ctx context.Context, link string) (mega.FileInfo, error)
	DownloadFromURL(ctx context.Context, link, destDir, destName string) (string, error)
}

// Messenger is the outbound chat surface the pipeline reports through.
type Messenger interface {
	SendMessage(chatID int64, text string) (messageID int, err error)
	EditMessage(chatID int64, messageID int, text string) error
	SendDocument(chatID int64, path, caption string) error
}

// Service orchestrates single and batch relays.
type Service struct {
	storage     Storage
	msg         Messenger
	downloadDir string
	batchDelay  time.Duration
	history     *history.Store // optional, nil disables recording
}

// New creates a relay Service.
func New(storage Storage, msg Messenger, downloadDir string, batchDelay time.Duration, hist *history.Store) *Service {
	return &Service{
		storage:     storage,
		msg:         msg,
		downloadDir: downloadDir,
		batchDelay:  batchDelay,
		history:     hist,
	}
}

// Fetch resolves a link and streams the file into the download directory,
// narrating progress through a single chat message edited in place:
// processing, resolved name/size, completed or failed. Returns the local
// path and the remote descriptor. A failure at any step is terminal for
// this request; there is no retry.
func (s *Service) Fetch(ctx context.Context, link string, chatID int64) (string, mega.FileInfo, error) {
	progressID, err := s.msg.SendMessage(chatID, fmt.Sprintf("🔍 Processing Mega link...\n%s", link))
	if err != nil {
		log.WithError(err).Warn("Failed to send progress message, continuing without one")
	}
	progress := func(text string) {
		if progressID == 0 {
			return
		}
		if err := s.msg.EditMessage(chatID, progressID, text); err != nil {
			log.WithError(err).Warn("Failed to edit progress message")
		}
	}

	info, err := s.storage.GetPublicFileInfo(ctx, link)
	if err != nil {
		if errors.Is(err, mega.ErrInvalidLink) || errors.Is(err, mega.ErrLinkNotFound) {
			progress("❌ Invalid Mega link or file not found")
		} else {
			progress(fmt.Sprintf("❌ Download failed: %v", err))
		}
		log.WithError(err).Warnf("Metadata lookup failed for %s", link)
		return "", mega.FileInfo{}, err
	}

	progress(fmt.Sprintf("📁 File: %s\n📊 Size: %s\n⏬ Starting download...", info.Name, helpers.BytesToSize(info.Size)))

	path, err := s.storage.DownloadFromURL(ctx, link, s.downloadDir, info.Name)
	if err != nil {
		progress(fmt.Sprintf("❌ Download failed: %v", err))
		log.WithError(err).Errorf("Download failed for %s", link)
		return "", mega.FileInfo{}, err
	}

	progress(fmt.Sprintf("✅ Download completed!\n📁 File: %s\n💾 Saved to: %s", info.Name, path))
	return path, info, nil
}

// Relay uploads the local artifact to the chat as a document, then deletes
// it. Deletion happens on every exit path; a deletion failure is logged but
// never escalated.
func (s *Service) Relay(path string, chatID int64) error {
	return s.relayWithCaption(path, chatID, fmt.Sprintf("✅ Download completed: %s", filepath.Base(path)))
}

func (s *Service) relayWithCaption(path string, chatID int64, caption string) error {
	uploadErr := s.msg.SendDocument(chatID, path, caption)

	if removeErr := os.Remove(path); removeErr != nil {
		log.WithError(removeErr).Warnf("Failed to delete local file %s", path)
	} else {
		log.Debugf("Deleted local file %s", path)
	}

	if uploadErr != nil {
		if _, err := s.msg.SendMessage(chatID, fmt.Sprintf("❌ Error sending file: %v", uploadErr)); err != nil {
			log.WithError(err).Warn("Failed to report relay error to chat")
		}
		return fmt.Errorf("%w: %v", ErrRelayFailed, uploadErr)
	}
	return nil
}

// Process runs the full pipeline for one link: fetch, relay, record.
func (s *Service) Process(ctx context.Context, link string, chatID int64) error {
	return s.process(ctx, link, chatID, 0, 0)
}

// process is the shared pipeline body. item/total > 0 mark a batch member,
// which gets a positional document caption instead of the single-download
// one.
func (s *Service) process(ctx context.Context, link string, chatID int64, item, total int) error {
	path, info, err := s.Fetch(ctx, link, chatID)
	if err != nil {
		return err
	}

	checksum := ""
	if sum, hashErr := helpers.Blake3File(path); hashErr != nil {
		log.WithError(hashErr).Warnf("Failed to hash %s", path)
	} else {
		checksum = sum
		log.Debugf("BLAKE3 %s  %s", sum, path)
	}

	caption := fmt.Sprintf("✅ Download completed: %s", filepath.Base(path))
	if total > 0 {
		caption = fmt.Sprintf("✅ %d/%d: %s", item, total, filepath.Base(path))
	}
	if err := s.relayWithCaption(path, chatID, caption); err != nil {
		return err
	}

	if s.history != nil {
		entry := history.Entry{
			Link:     link,
			FileName: info.Name,
			Size:     info.Size,
			ChatID:   chatID,
			Checksum: checksum,
		}
		if err := s.history.Record(entry); err != nil {
			log.WithError(err).Warn("Failed to record transfer history entry")
		}
	}
	return nil
}

// ParseLinks extracts valid public links from list-file content, one per
// line, preserving order and duplicates.
func ParseLinks(r io.Reader) ([]string, error) {
	var links []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && mega.IsMegaLink(line) {
			links = append(links, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading link list: %w", err)
	}
	return links, nil
}

// RunBatch processes links strictly in order. One item's failure does not
// stop the batch, and the fixed delay runs after every item, failed or not,
// to stay under the chat platform's rate limits.
func (s *Service) RunBatch(ctx context.Context, links []string, chatID int64) {
	total := len(links)
	for i, link := range links {
		if _, err := s.msg.SendMessage(chatID, fmt.Sprintf("📥 Downloading %d/%d...", i+1, total)); err != nil {
			log.WithError(err).Warn("Failed to announce batch item")
		}
		if err := s.process(ctx, link, chatID, i+1, total); err != nil {
			log.WithError(err).Warnf("Batch item %d/%d failed", i+1, total)
		}
		select {
		case <-ctx.Done():
			log.Warnf("Batch aborted after item %d/%d: %v", i+1, total, ctx.Err())
			return
		case <-time.After(s.batchDelay):
		}
	}
	if _, err := s.msg.SendMessage(chatID, "✅ Batch download completed!"); err != nil {
		log.WithError(err).Warn("Failed to send batch summary")
	}
}
