package interviewrt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// ErrTranscription is matched by every *TranscriptionError.
var ErrTranscription = errors.New("interviewrt: transcription failed")

// TranscriptionError reports a failed batch transcription request.
type TranscriptionError struct {
	Status int
	Body   string
	Cause  error
}

func (e *TranscriptionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("interviewrt: transcription failed: status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("interviewrt: transcription failed: %v", e.Cause)
}

func (e *TranscriptionError) Unwrap() error        { return e.Cause }
func (e *TranscriptionError) Is(target error) bool { return target == ErrTranscription }

// Transcriber uploads recorded audio to a batch transcription endpoint.
// The result is meant to be fed into Manager.SendMessage.
type Transcriber struct {
	URL        string
	Field      string // multipart field name, default "audio"
	Header     http.Header
	HTTPClient *http.Client
}

// NewTranscriber returns a transcriber posting to url.
func NewTranscriber(url string) *Transcriber {
	return &Transcriber{URL: url, Field: "audio"}
}

// Transcribe uploads audio as filename and returns the recognized text.
// The endpoint may answer {"text": ...} or {"success": true, "data": {"text": ...}}.
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if filename == "" {
		filename = "audio.webm"
	}
	field := t.Field
	if field == "" {
		field = "audio"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return "", &TranscriptionError{Cause: err}
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", &TranscriptionError{Cause: fmt.Errorf("read audio: %w", err)}
	}
	if err := mw.Close(); err != nil {
		return "", &TranscriptionError{Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, &body)
	if err != nil {
		return "", &TranscriptionError{Cause: err}
	}
	for k, vals := range t.Header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &TranscriptionError{Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &TranscriptionError{Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &TranscriptionError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return parseTranscription(raw)
}

func parseTranscription(raw []byte) (string, error) {
	var out struct {
		Text *string `json:"text"`
		Data *struct {
			Text string `json:"text"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &TranscriptionError{Cause: fmt.Errorf("decode response: %w", err)}
	}
	switch {
	case out.Text != nil:
		return *out.Text, nil
	case out.Data != nil:
		return out.Data.Text, nil
	}
	return "", &TranscriptionError{Cause: errors.New("response has no text")}
}
