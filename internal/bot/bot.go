// Package bot receives chat updates, enforces the user allow-list and
// routes commands, free-text links and uploaded link lists into the relay
// pipeline.
package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mega-relay-bot/internal/helpers"
	"mega-relay-bot/internal/history"
	"mega-relay-bot/internal/mega"
	"mega-relay-bot/internal/relay"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

const historyPageSize = 10

const usageText = `👋 Hi! Send me a Mega.nz public link and I'll fetch the file and send it back to you as a document.

Commands:
/download <link> - download a single Mega link
/history - show recent transfers
/help - show this message

You can also upload a .txt file with one Mega link per line to start a batch download.`

// Bot wires chat updates to the relay pipeline.
type Bot struct {
	api         *tgbotapi.BotAPI
	msg         relay.Messenger
	relay       *relay.Service
	history     *history.Store
	authorized  map[int64]struct{}
	pollTimeout int

	// fetchList streams the content of an uploaded list file. Swappable
	// in tests.
	fetchList func(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// New builds a Bot. allowed is the static allow-list of chat user IDs;
// hist may be nil to disable the /history command.
func New(api *tgbotapi.BotAPI, msg relay.Messenger, svc *relay.Service, hist *history.Store, allowed []int64, pollTimeout int) *Bot {
	authorized := make(map[int64]struct{}, len(allowed))
	for _, id := range allowed {
		authorized[id] = struct{}{}
	}
	b := &Bot{
		api:         api,
		msg:         msg,
		relay:       svc,
		history:     hist,
		authorized:  authorized,
		pollTimeout: pollTimeout,
	}
	b.fetchList = b.fetchTelegramFile
	return b
}

// Authorized reports whether the user is on the allow-list.
func (b *Bot) Authorized(userID int64) bool {
	_, ok := b.authorized[userID]
	return ok
}

// Run polls for updates until the context is cancelled. Updates are handled
// sequentially so batch announcements and progress edits never interleave.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)
	log.Infof("Listening for updates as @%s", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil {
		return
	}
	if !b.Authorized(m.From.ID) {
		log.Warnf("Rejected message from unauthorized user %d (@%s)", m.From.ID, m.From.UserName)
		b.notify(m.Chat.ID, "❌ You are not authorized to use this bot.")
		return
	}

	switch {
	case m.IsCommand():
		b.handleCommand(ctx, m)
	case m.Document != nil:
		b.handleDocument(ctx, m)
	case strings.TrimSpace(m.Text) != "":
		b.handleText(ctx, m)
	}
}

func (b *Bot) handleCommand(ctx context.Context, m *tgbotapi.Message) {
	switch m.Command() {
	case "start", "help":
		b.notify(m.Chat.ID, usageText)
	case "download":
		arg := strings.TrimSpace(m.CommandArguments())
		if arg == "" {
			b.notify(m.Chat.ID, "Usage: /download <mega-link>")
			return
		}
		if !mega.IsMegaLink(arg) {
			b.notify(m.Chat.ID, "Please send a valid Mega.nz public link")
			return
		}
		if err := b.relay.Process(ctx, arg, m.Chat.ID); err != nil {
			log.WithError(err).Warnf("/download failed for %s", arg)
		}
	case "history":
		b.handleHistory(m.Chat.ID)
	default:
		b.notify(m.Chat.ID, "Unknown command. Send /help for usage.")
	}
}

func (b *Bot) handleText(ctx context.Context, m *tgbotapi.Message) {
	text := strings.TrimSpace(m.Text)
	if !mega.IsMegaLink(text) {
		b.notify(m.Chat.ID, "Please send a valid Mega.nz public link")
		return
	}
	if err := b.relay.Process(ctx, text, m.Chat.ID); err != nil {
		log.WithError(err).Warnf("Relay failed for %s", text)
	}
}

func (b *Bot) handleDocument(ctx context.Context, m *tgbotapi.Message) {
	doc := m.Document
	if !isTextListDocument(doc) {
		b.notify(m.Chat.ID, "Please upload a text file (.txt) containing Mega links")
		return
	}

	rc, err := b.fetchList(ctx, doc.FileID)
	if err != nil {
		log.WithError(err).Errorf("Failed to fetch uploaded list file %s", doc.FileName)
		b.notify(m.Chat.ID, "❌ Failed to read the uploaded file")
		return
	}
	defer rc.Close()

	links, err := relay.ParseLinks(rc)
	if err != nil {
		log.WithError(err).Errorf("Failed to parse uploaded list file %s", doc.FileName)
		b.notify(m.Chat.ID, "❌ Failed to read the uploaded file")
		return
	}
	if len(links) == 0 {
		b.notify(m.Chat.ID, "❌ No valid Mega links found in the file")
		return
	}

	b.notify(m.Chat.ID, fmt.Sprintf("Found %d valid links. Starting batch download...", len(links)))
	b.relay.RunBatch(ctx, links, m.Chat.ID)
}

func (b *Bot) handleHistory(chatID int64) {
	if b.history == nil {
		b.notify(chatID, "Transfer history is not enabled.")
		return
	}
	entries, err := b.history.List(historyPageSize)
	if err != nil {
		log.WithError(err).Error("Failed to read transfer history")
		b.notify(chatID, "❌ Failed to read transfer history")
		return
	}
	if len(entries) == 0 {
		b.notify(chatID, "No transfers recorded yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🗂 Recent transfers:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "• %s (%s) at %s\n",
			e.FileName, helpers.BytesToSize(e.Size), e.CompletedAt.Format("2006-01-02 15:04"))
	}
	b.notify(chatID, sb.String())
}

// isTextListDocument accepts plain-text uploads, by declared MIME type or
// by a .txt extension.
func isTextListDocument(doc *tgbotapi.Document) bool {
	if doc.MimeType == "text/plain" {
		return true
	}
	return strings.HasSuffix(strings.ToLower(doc.FileName), ".txt")
}

func (b *Bot) notify(chatID int64, text string) {
	if _, err := b.msg.SendMessage(chatID, text); err != nil {
		log.WithError(err).Warn("Failed to send notice")
	}
}

// fetchTelegramFile resolves a file ID to its download URL and streams it.
func (b *Bot) fetchTelegramFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolving file %s: %w", fileID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building file request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading file %s: %w", fileID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("downloading file %s: unexpected status %s", fileID, resp.Status)
	}
	return resp.Body, nil
}
