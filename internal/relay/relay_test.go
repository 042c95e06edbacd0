package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mega-relay-bot/internal/history"
	"mega-relay-bot/internal/mega"
)

type fakeStorage struct {
	infos       map[string]mega.FileInfo
	infoErr     map[string]error
	downloadErr map[string]error
	content     []byte
}

func (f *fakeStorage) GetPublicFileInfo(_ context.Context, link string) (mega.FileInfo, error) {
	if err := f.infoErr[link]; err != nil {
		return mega.FileInfo{}, err
	}
	info, ok := f.infos[link]
	if !ok {
		return mega.FileInfo{}, mega.ErrLinkNotFound
	}
	return info, nil
}

func (f *fakeStorage) DownloadFromURL(_ context.Context, link, destDir, destName string) (string, error) {
	if err := f.downloadErr[link]; err != nil {
		return "", err
	}
	path := filepath.Join(destDir, destName)
	if err := os.WriteFile(path, f.content, 0600); err != nil {
		return "", err
	}
	return path, nil
}

type sentDocument struct {
	path          string
	caption       string
	existedOnSend bool
}

type fakeMessenger struct {
	messages   []string
	edits      []string
	documents  []sentDocument
	sendDocErr error
	nextID     int
}

func (f *fakeMessenger) SendMessage(_ int64, text string) (int, error) {
	f.messages = append(f.messages, text)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeMessenger) EditMessage(_ int64, _ int, text string) error {
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeMessenger) SendDocument(_ int64, path, caption string) error {
	_, statErr := os.Stat(path)
	f.documents = append(f.documents, sentDocument{
		path:          path,
		caption:       caption,
		existedOnSend: statErr == nil,
	})
	return f.sendDocErr
}

func TestProcessSuccess(t *testing.T) {
	const link = "https://mega.nz/file/AbCd1234#key"
	storage := &fakeStorage{
		infos:   map[string]mega.FileInfo{link: {Name: "report.pdf", Size: 1536}},
		content: []byte("pdf bytes"),
	}
	msg := &fakeMessenger{}
	destDir := t.TempDir()
	svc := New(storage, msg, destDir, time.Millisecond, nil)

	if err := svc.Process(context.Background(), link, 42); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(msg.messages) != 1 || !strings.Contains(msg.messages[0], "Processing Mega link") {
		t.Errorf("progress message not sent: %v", msg.messages)
	}
	if len(msg.edits) != 2 {
		t.Fatalf("got %d progress edits, want 2: %v", len(msg.edits), msg.edits)
	}
	if !strings.Contains(msg.edits[0], "report.pdf") || !strings.Contains(msg.edits[0], "1.50 KB") {
		t.Errorf("info edit = %q, want file name and formatted size", msg.edits[0])
	}
	if !strings.Contains(msg.edits[1], "✅ Download completed!") {
		t.Errorf("final edit = %q, want completion text", msg.edits[1])
	}

	if len(msg.documents) != 1 {
		t.Fatalf("got %d documents, want 1", len(msg.documents))
	}
	doc := msg.documents[0]
	if !doc.existedOnSend {
		t.Error("document was uploaded after the local file was removed")
	}
	if doc.caption != "✅ Download completed: report.pdf" {
		t.Errorf("caption = %q", doc.caption)
	}
	if _, err := os.Stat(doc.path); !os.IsNotExist(err) {
		t.Errorf("local file %s was not deleted after relay", doc.path)
	}
}

func TestProcessLinkNotFound(t *testing.T) {
	const link = "https://mega.nz/file/AbCd1234#key"
	storage := &fakeStorage{
		infoErr: map[string]error{link: fmt.Errorf("%w: taken down", mega.ErrLinkNotFound)},
	}
	msg := &fakeMessenger{}
	destDir := t.TempDir()
	svc := New(storage, msg, destDir, time.Millisecond, nil)

	err := svc.Process(context.Background(), link, 42)
	if !errors.Is(err, mega.ErrLinkNotFound) {
		t.Fatalf("Process() error = %v, want ErrLinkNotFound", err)
	}

	if len(msg.edits) != 1 || msg.edits[0] != "❌ Invalid Mega link or file not found" {
		t.Errorf("edits = %v, want single invalid-link edit", msg.edits)
	}
	if len(msg.documents) != 0 {
		t.Errorf("no document should be sent, got %d", len(msg.documents))
	}
	entries, readErr := os.ReadDir(destDir)
	if readErr != nil {
		t.Fatalf("reading dest dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("dest dir holds %d entries, want none", len(entries))
	}
}

func TestProcessDownloadFailure(t *testing.T) {
	const link = "https://mega.nz/file/AbCd1234#key"
	storage := &fakeStorage{
		infos:       map[string]mega.FileInfo{link: {Name: "big.iso", Size: 10}},
		downloadErr: map[string]error{link: errors.New("connection reset")},
	}
	msg := &fakeMessenger{}
	svc := New(storage, msg, t.TempDir(), time.Millisecond, nil)

	if err := svc.Process(context.Background(), link, 42); err == nil {
		t.Fatal("Process() expected error")
	}
	last := msg.edits[len(msg.edits)-1]
	if !strings.Contains(last, "❌ Download failed:") {
		t.Errorf("final edit = %q, want download-failed text", last)
	}
	if len(msg.documents) != 0 {
		t.Errorf("no document should be sent after a failed download")
	}
}

func TestRelayDeletesFileEvenWhenUploadFails(t *testing.T) {
	destDir := t.TempDir()
	path := filepath.Join(destDir, "doomed.bin")
	if err := os.WriteFile(path, []byte("payload"), 0600); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	msg := &fakeMessenger{sendDocErr: errors.New("413 request entity too large")}
	svc := New(&fakeStorage{}, msg, destDir, time.Millisecond, nil)

	err := svc.Relay(path, 42)
	if !errors.Is(err, ErrRelayFailed) {
		t.Fatalf("Relay() error = %v, want ErrRelayFailed", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("local file must be deleted even when the upload fails")
	}
	found := false
	for _, m := range msg.messages {
		if strings.Contains(m, "❌ Error sending file:") {
			found = true
		}
	}
	if !found {
		t.Errorf("relay failure was not reported to the chat: %v", msg.messages)
	}
}

func TestProcessRecordsHistory(t *testing.T) {
	const link = "https://mega.nz/file/AbCd1234#key"
	store, err := history.Open(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	defer store.Close()

	storage := &fakeStorage{
		infos:   map[string]mega.FileInfo{link: {Name: "kept.bin", Size: 7}},
		content: []byte("payload"),
	}
	svc := New(storage, &fakeMessenger{}, t.TempDir(), time.Millisecond, store)

	if err := svc.Process(context.Background(), link, 77); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	entries, err := store.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d history entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Link != link || e.FileName != "kept.bin" || e.Size != 7 || e.ChatID != 77 {
		t.Errorf("history entry = %+v", e)
	}
	if e.Checksum == "" {
		t.Error("checksum was not recorded")
	}
}

func TestParseLinks(t *testing.T) {
	input := strings.Join([]string{
		"",
		"https://mega.nz/file/AAAAAAAA#keyA",
		"not-a-link",
		"  https://mega.nz/file/BBBBBBBB#keyB  ",
		"https://mega.nz/file/AAAAAAAA#keyA",
	}, "\n")

	links, err := ParseLinks(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseLinks() error = %v", err)
	}
	want := []string{
		"https://mega.nz/file/AAAAAAAA#keyA",
		"https://mega.nz/file/BBBBBBBB#keyB",
		"https://mega.nz/file/AAAAAAAA#keyA",
	}
	if len(links) != len(want) {
		t.Fatalf("ParseLinks() = %v, want %v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("links[%d] = %q, want %q", i, links[i], want[i])
		}
	}
}

func TestRunBatchContinuesPastFailures(t *testing.T) {
	links := []string{
		"https://mega.nz/file/AAAAAAAA#keyA",
		"https://mega.nz/file/BBBBBBBB#keyB",
		"https://mega.nz/file/CCCCCCCC#keyC",
	}
	storage := &fakeStorage{
		infos: map[string]mega.FileInfo{
			links[0]: {Name: "one.bin", Size: 1},
			links[2]: {Name: "three.bin", Size: 3},
		},
		infoErr: map[string]error{links[1]: mega.ErrLinkNotFound},
		content: []byte("x"),
	}
	msg := &fakeMessenger{}
	delay := 20 * time.Millisecond
	svc := New(storage, msg, t.TempDir(), delay, nil)

	start := time.Now()
	svc.RunBatch(context.Background(), links, 42)
	elapsed := time.Since(start)

	// The fixed delay runs after every item, including the failed one.
	if elapsed < 3*delay {
		t.Errorf("batch finished in %v, want at least %v", elapsed, 3*delay)
	}

	var announcements []string
	for _, m := range msg.messages {
		if strings.HasPrefix(m, "📥 Downloading") {
			announcements = append(announcements, m)
		}
	}
	wantAnnounce := []string{"📥 Downloading 1/3...", "📥 Downloading 2/3...", "📥 Downloading 3/3..."}
	if len(announcements) != 3 {
		t.Fatalf("announcements = %v, want %v", announcements, wantAnnounce)
	}
	for i := range wantAnnounce {
		if announcements[i] != wantAnnounce[i] {
			t.Errorf("announcements[%d] = %q, want %q", i, announcements[i], wantAnnounce[i])
		}
	}

	if len(msg.documents) != 2 {
		t.Fatalf("got %d relayed documents, want 2 (failed item skipped)", len(msg.documents))
	}
	// Batch members carry a positional caption, not the single-download one.
	if msg.documents[0].caption != "✅ 1/3: one.bin" {
		t.Errorf("first caption = %q, want %q", msg.documents[0].caption, "✅ 1/3: one.bin")
	}
	if msg.documents[1].caption != "✅ 3/3: three.bin" {
		t.Errorf("second caption = %q, want %q", msg.documents[1].caption, "✅ 3/3: three.bin")
	}
	if msg.messages[len(msg.messages)-1] != "✅ Batch download completed!" {
		t.Errorf("final message = %q, want batch summary", msg.messages[len(msg.messages)-1])
	}
}

func TestRunBatchStopsOnContextCancel(t *testing.T) {
	links := []string{
		"https://mega.nz/file/AAAAAAAA#keyA",
		"https://mega.nz/file/BBBBBBBB#keyB",
	}
	storage := &fakeStorage{
		infos: map[string]mega.FileInfo{
			links[0]: {Name: "one.bin", Size: 1},
			links[1]: {Name: "two.bin", Size: 2},
		},
		content: []byte("x"),
	}
	msg := &fakeMessenger{}
	svc := New(storage, msg, t.TempDir(), time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		svc.RunBatch(ctx, links, 42)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunBatch did not stop after context cancellation")
	}
	if len(msg.documents) != 1 {
		t.Errorf("got %d documents, want 1 before cancellation", len(msg.documents))
	}
	for _, m := range msg.messages {
		if m == "✅ Batch download completed!" {
			t.Error("batch summary must not be sent after cancellation")
		}
	}
}
