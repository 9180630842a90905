// Package remote implements the authenticated client for the remote object
// store that backs up patient records. The store exposes a Drive-style REST
// surface: name-scoped search, JSON folder creation, and multipart
// create/update for file content. The client's job is find-or-create
// discipline — one remote file per (folder, name) pair — and a clean split
// between auth failures (fail fast, do not blind-retry) and transient
// transport failures (retryable).
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/careops/chartsync/internal/platform/auth"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrAuthRequired marks missing or rejected credentials. Callers must
	// surface it distinctly instead of retrying blindly.
	ErrAuthRequired = errors.New("authentication required")

	ErrFileNotFound = errors.New("remote file not found")
)

// StatusError is a non-2xx response outside the auth family. It is treated
// as transient and eligible for retry.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned status %d: %s", e.Code, e.Body)
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

const (
	kindFolder = "folder"
	kindFile   = "file"
)

type fileResource struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Trashed bool   `json:"trashed"`
}

type fileList struct {
	Files []fileResource `json:"files"`
}

type fileMetadata struct {
	Name        string `json:"name,omitempty"`
	ParentID    string `json:"parentId,omitempty"`
	Kind        string `json:"kind,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	// Encoding is "base64" for binary media parts, empty for text.
	Encoding  string `json:"encoding,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// UpsertResult reports the remote file IDs touched by a composite upload.
type UpsertResult struct {
	JSONFileID   string
	BinaryFileID string
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client talks to the remote object store with bearer-token auth.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenSource
	logger     zerolog.Logger
}

// NewClient creates a Client for the store rooted at baseURL. A nil
// httpClient falls back to a 30-second-timeout default.
func NewClient(baseURL string, tokens auth.TokenSource, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger.With().Str("component", "remote").Logger(),
	}
}

// ResolveFolder finds the folder with the given name, creating it when
// absent. Trashed folders are ignored. Find-then-create is not atomic: two
// devices resolving the same name concurrently can each create a folder and
// the later one wins. Folder creation is rare enough that this race is
// accepted rather than locked away.
func (c *Client) ResolveFolder(ctx context.Context, name string) (string, error) {
	found, err := c.searchByName(ctx, name, kindFolder, "")
	if err != nil {
		return "", err
	}
	if found != "" {
		return found, nil
	}

	c.logger.Info().Str("folder", name).Msg("creating remote folder")

	body, _ := json.Marshal(fileMetadata{Name: name, Kind: kindFolder})
	resp, err := c.do(ctx, http.MethodPost, "/files", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created fileResource
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode create folder response: %w", err)
	}
	return created.ID, nil
}

// FindFile returns the ID of the non-trashed file with the exact name inside
// folderID, or ErrFileNotFound.
func (c *Client) FindFile(ctx context.Context, name, folderID string) (string, error) {
	found, err := c.searchByName(ctx, name, kindFile, folderID)
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", ErrFileNotFound
	}
	return found, nil
}

// UploadText creates a new text file in folderID and returns its ID.
func (c *Client) UploadText(ctx context.Context, name, content, folderID string, createdAt, updatedAt time.Time) (string, error) {
	meta := fileMetadata{
		Name:        name,
		ParentID:    folderID,
		Kind:        kindFile,
		ContentType: "application/json",
		CreatedAt:   createdAt.UTC().Format(time.RFC3339),
		UpdatedAt:   updatedAt.UTC().Format(time.RFC3339),
	}
	return c.uploadMultipart(ctx, http.MethodPost, "/upload/files", meta, content)
}

// UpdateText overwrites the content and modification timestamp of an
// existing text file.
func (c *Client) UpdateText(ctx context.Context, fileID, content string, updatedAt time.Time) error {
	meta := fileMetadata{
		ContentType: "application/json",
		UpdatedAt:   updatedAt.UTC().Format(time.RFC3339),
	}
	_, err := c.uploadMultipart(ctx, http.MethodPatch, "/upload/files/"+url.PathEscape(fileID), meta, content)
	return err
}

// UploadBinary creates a new binary file in folderID and returns its ID.
// The payload travels base64-encoded in the multipart body.
func (c *Client) UploadBinary(ctx context.Context, name string, content []byte, folderID string, createdAt, updatedAt time.Time) (string, error) {
	meta := fileMetadata{
		Name:        name,
		ParentID:    folderID,
		Kind:        kindFile,
		ContentType: "application/pdf",
		Encoding:    "base64",
		CreatedAt:   createdAt.UTC().Format(time.RFC3339),
		UpdatedAt:   updatedAt.UTC().Format(time.RFC3339),
	}
	return c.uploadMultipart(ctx, http.MethodPost, "/upload/files", meta, base64.StdEncoding.EncodeToString(content))
}

// UpdateBinary overwrites the content and modification timestamp of an
// existing binary file.
func (c *Client) UpdateBinary(ctx context.Context, fileID string, content []byte, updatedAt time.Time) error {
	meta := fileMetadata{
		ContentType: "application/pdf",
		Encoding:    "base64",
		UpdatedAt:   updatedAt.UTC().Format(time.RFC3339),
	}
	_, err := c.uploadMultipart(ctx, http.MethodPatch, "/upload/files/"+url.PathEscape(fileID),
		meta, base64.StdEncoding.EncodeToString(content))
	return err
}

// UpsertRecordFiles is the composite unit of work for one record: resolve
// the records folder once, then find-or-create `<recordID>.json` and, when a
// binary artifact is present, `<recordID>_Chart.pdf`. A second call for the
// same record updates the existing files instead of creating duplicates.
func (c *Client) UpsertRecordFiles(ctx context.Context, folderName, recordID, jsonContent string, binaryContent []byte, createdAt, updatedAt time.Time) (UpsertResult, error) {
	var result UpsertResult

	folderID, err := c.ResolveFolder(ctx, folderName)
	if err != nil {
		return result, fmt.Errorf("resolve folder %q: %w", folderName, err)
	}

	jsonName := recordID + ".json"
	jsonID, err := c.FindFile(ctx, jsonName, folderID)
	switch {
	case errors.Is(err, ErrFileNotFound):
		jsonID, err = c.UploadText(ctx, jsonName, jsonContent, folderID, createdAt, updatedAt)
		if err != nil {
			return result, fmt.Errorf("upload %q: %w", jsonName, err)
		}
	case err != nil:
		return result, fmt.Errorf("find %q: %w", jsonName, err)
	default:
		if err := c.UpdateText(ctx, jsonID, jsonContent, updatedAt); err != nil {
			return result, fmt.Errorf("update %q: %w", jsonName, err)
		}
	}
	result.JSONFileID = jsonID

	if len(binaryContent) == 0 {
		return result, nil
	}

	binName := recordID + "_Chart.pdf"
	binID, err := c.FindFile(ctx, binName, folderID)
	switch {
	case errors.Is(err, ErrFileNotFound):
		binID, err = c.UploadBinary(ctx, binName, binaryContent, folderID, createdAt, updatedAt)
		if err != nil {
			return result, fmt.Errorf("upload %q: %w", binName, err)
		}
	case err != nil:
		return result, fmt.Errorf("find %q: %w", binName, err)
	default:
		if err := c.UpdateBinary(ctx, binID, binaryContent, updatedAt); err != nil {
			return result, fmt.Errorf("update %q: %w", binName, err)
		}
	}
	result.BinaryFileID = binID

	return result, nil
}

// ---------------------------------------------------------------------------
// Transport plumbing
// ---------------------------------------------------------------------------

// searchByName returns the ID of the first non-trashed match, or "" when
// nothing matches.
func (c *Client) searchByName(ctx context.Context, name, kind, parentID string) (string, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("kind", kind)
	if parentID != "" {
		q.Set("parentId", parentID)
	}

	resp, err := c.do(ctx, http.MethodGet, "/files?"+q.Encode(), "", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var list fileList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	for _, f := range list.Files {
		if f.Trashed {
			continue
		}
		if f.Name == name {
			return f.ID, nil
		}
	}
	return "", nil
}

func (c *Client) uploadMultipart(ctx context.Context, method, path string, meta fileMetadata, media string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	if err := w.WriteField("metadata", string(metaJSON)); err != nil {
		return "", fmt.Errorf("write metadata part: %w", err)
	}
	if err := w.WriteField("media", media); err != nil {
		return "", fmt.Errorf("write media part: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	resp, err := c.do(ctx, method, path, w.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var file fileResource
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return file.ID, nil
}

// do issues one authenticated request and maps the response through the
// error taxonomy. A missing token fails fast with ErrAuthRequired before any
// bytes hit the wire.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	token, err := c.tokens.AccessToken()
	if err != nil {
		return nil, fmt.Errorf("%w: no access token", ErrAuthRequired)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrAuthRequired, method, path, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: string(msg)}
	}

	return resp, nil
}
