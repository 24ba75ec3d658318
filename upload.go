package chatsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MaxUploadSize is the largest attachment Upload accepts.
const MaxUploadSize = 50 * 1024 * 1024

type uploadResult struct {
	File     string `json:"file"`
	Thumb    string `json:"thumbUrl,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Upload sends the file at attachment.LocalPath to the channel's file
// endpoint and returns the attachment pointing at the stored copy.
func (c *ChatHTTPClient) Upload(ctx context.Context, cid string, attachment Attachment) (Attachment, error) {
	if attachment.LocalPath == "" {
		return attachment, blankField("upload attachment", "local_path")
	}
	data, err := os.ReadFile(attachment.LocalPath)
	if err != nil {
		return attachment, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > MaxUploadSize {
		return attachment, &APIError{Code: CodeInvalidInput, Message: "file exceeds maximum size of 50 MB"}
	}

	name := attachment.Name
	if name == "" {
		name = filepath.Base(attachment.LocalPath)
	}
	mimeType := attachment.MimeType
	if mimeType == "" {
		mimeType = guessMimeType(name)
	}

	suffix := "/file"
	if strings.HasPrefix(mimeType, "image/") {
		suffix = "/image"
	}
	path, err := channelPath(cid, suffix)
	if err != nil {
		return attachment, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return attachment, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return attachment, fmt.Errorf("failed to write file data: %w", err)
	}
	_ = w.WriteField("mimeType", mimeType)
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return attachment, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return attachment, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return attachment, fmt.Errorf("failed to read upload response: %w", err)
	}
	res, err := unwrap[uploadResult](body, resp.StatusCode)
	if err != nil {
		return attachment, err
	}

	out := attachment
	out.Name = name
	out.MimeType = mimeType
	out.FileSize = int64(len(data))
	if res.Size > 0 {
		out.FileSize = res.Size
	}
	if strings.HasPrefix(mimeType, "image/") {
		out.ImageURL = res.File
		if out.Type == "" {
			out.Type = "image"
		}
	} else {
		out.AssetURL = res.File
		if out.Type == "" {
			out.Type = "file"
		}
	}
	out.UploadState = UploadSuccess
	out.UploadError = ""
	return out, nil
}

// guessMimeType returns the MIME type of a file name from its extension.
func guessMimeType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return "application/octet-stream"
	}
	// Not in every platform's registry.
	fallback := map[string]string{
		".md": "text/markdown", ".yaml": "text/yaml", ".yml": "text/yaml",
		".webp": "image/webp", ".webm": "video/webm", ".heic": "image/heic",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if mediaType, _, err := mime.ParseMediaType(t); err == nil {
			return mediaType
		}
		return t
	}
	return "application/octet-stream"
}
