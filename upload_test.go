package chatsync_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LuminPulse-AI/chatsync"
)

type uploadSeen struct {
	path     string
	fileName string
	mimeType string
	content  string
}

func newUploadServer(t *testing.T, seen *uploadSeen) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.path = r.URL.Path
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"ok":false,"error":{"code":"INPUT_ERROR","message":"no file"}}`)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		seen.fileName = header.Filename
		seen.mimeType = r.FormValue("mimeType")
		seen.content = string(data)
		_, _ = io.WriteString(w, `{"ok":true,"data":{"file":"https://cdn.example.com/`+header.Filename+`"}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	return path
}

func TestUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("file happy path", func(t *testing.T) {
		var seen uploadSeen
		c := chatsync.NewChatHTTPClient(newUploadServer(t, &seen).URL)
		path := writeTempFile(t, "notes.txt", "Hello from upload test")

		got, err := c.Upload(ctx, cid, chatsync.Attachment{LocalPath: path})
		if err != nil {
			t.Fatalf("Upload error: %v", err)
		}
		if seen.path != "/channels/messaging/general/file" {
			t.Fatalf("path = %q", seen.path)
		}
		if seen.fileName != "notes.txt" || seen.content != "Hello from upload test" {
			t.Fatalf("server saw %+v", seen)
		}
		if got.AssetURL != "https://cdn.example.com/notes.txt" || got.Type != "file" {
			t.Fatalf("attachment = %+v", got)
		}
		if got.UploadState != chatsync.UploadSuccess || got.FileSize != int64(len("Hello from upload test")) {
			t.Fatalf("attachment = %+v", got)
		}
		if !strings.HasPrefix(got.MimeType, "text/plain") {
			t.Fatalf("mime type = %q", got.MimeType)
		}
	})

	t.Run("image goes to the image endpoint", func(t *testing.T) {
		var seen uploadSeen
		c := chatsync.NewChatHTTPClient(newUploadServer(t, &seen).URL)
		path := writeTempFile(t, "cat.webp", "RIFF")

		got, err := c.Upload(ctx, cid, chatsync.Attachment{LocalPath: path})
		if err != nil {
			t.Fatalf("Upload error: %v", err)
		}
		if seen.path != "/channels/messaging/general/image" || seen.mimeType != "image/webp" {
			t.Fatalf("server saw %+v", seen)
		}
		if got.ImageURL == "" || got.Type != "image" {
			t.Fatalf("attachment = %+v", got)
		}
	})

	t.Run("markdown mime detected", func(t *testing.T) {
		var seen uploadSeen
		c := chatsync.NewChatHTTPClient(newUploadServer(t, &seen).URL)
		path := writeTempFile(t, "readme.md", "# Title")

		if _, err := c.Upload(ctx, cid, chatsync.Attachment{LocalPath: path, Name: "README.md"}); err != nil {
			t.Fatalf("Upload error: %v", err)
		}
		if seen.fileName != "README.md" || seen.mimeType != "text/markdown" {
			t.Fatalf("server saw %+v", seen)
		}
	})

	t.Run("missing local path", func(t *testing.T) {
		c := chatsync.NewChatHTTPClient("http://127.0.0.1:0")
		_, err := c.Upload(ctx, cid, chatsync.Attachment{Name: "x.txt"})
		if !errors.Is(err, chatsync.ErrBlankField) {
			t.Fatalf("Upload error = %v, want ErrBlankField", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		c := chatsync.NewChatHTTPClient("http://127.0.0.1:0")
		_, err := c.Upload(ctx, cid, chatsync.Attachment{LocalPath: filepath.Join(t.TempDir(), "gone.txt")})
		if err == nil {
			t.Fatal("expected an error")
		}
	})
}

// TestSendMessageWithAttachment runs an upload through the send pipeline.
func TestSendMessageWithAttachment(t *testing.T) {
	ctx := context.Background()
	var seen uploadSeen
	uploader := chatsync.NewChatHTTPClient(newUploadServer(t, &seen).URL)
	h := newHarness(t, true, chatsync.WithUploader(uploader))
	path := writeTempFile(t, "report.pdf", "%PDF-1.7")

	msg, err := h.client.SendMessage(ctx, cid, chatsync.Message{
		Attachments: []chatsync.Attachment{{LocalPath: path}},
	})
	if err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments = %+v", msg.Attachments)
	}
	a := msg.Attachments[0]
	if a.UploadState != chatsync.UploadSuccess || a.AssetURL != "https://cdn.example.com/report.pdf" {
		t.Fatalf("attachment = %+v", a)
	}
	if msg.SyncStatus != chatsync.SyncCompleted {
		t.Fatalf("sync status = %s, want completed", msg.SyncStatus)
	}

	t.Run("without uploader", func(t *testing.T) {
		h := newHarness(t, true)
		msg, err := h.client.SendMessage(ctx, cid, chatsync.Message{
			Attachments: []chatsync.Attachment{{LocalPath: path}},
		})
		if !errors.Is(err, chatsync.ErrAttachmentUpload) {
			t.Fatalf("SendMessage error = %v, want ErrAttachmentUpload", err)
		}
		if msg.SyncStatus != chatsync.SyncFailedPermanently {
			t.Fatalf("sync status = %s, want failed permanently", msg.SyncStatus)
		}
		if h.api.count("SendMessage") != 0 {
			t.Fatal("expected no send without uploaded attachments")
		}
	})
}
