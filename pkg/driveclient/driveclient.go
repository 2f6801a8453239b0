// Package driveclient is the one concrete, non-test satisfier of
// pkg/driveport.Port: a thin adapter over the real Google Drive v3 API.
// Nothing in pkg/engine imports this package; only cmd/drivearchive does,
// keeping the engines client-agnostic.
package driveclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"drivearchive/pkg/driveport"
)

const folderMimeType = "application/vnd.google-apps.folder"

// fileFields is the field mask requested on every metadata-bearing call,
// matching exactly what RemoteItem needs.
const fileFields = "id,name,mimeType,size,modifiedTime,parents"

// Client adapts a *drive.Service to driveport.Port.
type Client struct {
	svc *drive.Service
}

// NewFromServiceAccountJSON builds a Client authenticated via a service
// account key file. The configured remote_backup_root_id et al.
// presuppose a service account with domain-wide delegation over the
// backed-up drive.
func NewFromServiceAccountJSON(ctx context.Context, keyJSON []byte, scopes ...string) (*Client, error) {
	if len(scopes) == 0 {
		scopes = []string{drive.DriveScope}
	}
	creds, err := google.CredentialsFromJSON(ctx, keyJSON, scopes...)
	if err != nil {
		return nil, fmt.Errorf("driveclient: parse credentials: %w", err)
	}
	return newWithTokenSource(ctx, creds.TokenSource)
}

func newWithTokenSource(ctx context.Context, ts oauth2.TokenSource) (*Client, error) {
	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("driveclient: new service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ListChildren lists one page of direct children of folderID.
func (c *Client) ListChildren(ctx context.Context, folderID, pageToken string) (driveport.ChildPage, error) {
	call := c.svc.Files.List().
		Context(ctx).
		Q(fmt.Sprintf("'%s' in parents and trashed = false", escapeQueryValue(folderID))).
		Fields(googleapi.Field("nextPageToken,files(" + fileFields + ")")).
		PageSize(1000)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	res, err := call.Do()
	if err != nil {
		return driveport.ChildPage{}, classifyAPIError(err)
	}

	items := make([]driveport.RemoteItem, 0, len(res.Files))
	for _, f := range res.Files {
		items = append(items, toRemoteItem(f))
	}
	return driveport.ChildPage{Items: items, NextPageToken: res.NextPageToken}, nil
}

// GetMeta fetches metadata for a single item by id.
func (c *Client) GetMeta(ctx context.Context, id string) (driveport.RemoteItem, error) {
	f, err := c.svc.Files.Get(id).Context(ctx).Fields(googleapi.Field(fileFields)).Do()
	if err != nil {
		return driveport.RemoteItem{}, classifyAPIError(err)
	}
	return toRemoteItem(f), nil
}

// DownloadNative streams the item's native bytes into dst.
func (c *Client) DownloadNative(ctx context.Context, id string, dst io.Writer) error {
	resp, err := c.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return classifyAPIError(err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return driveport.Transient(err)
	}
	return nil
}

// Export streams a converted representation of the item in exportMime
// into dst.
func (c *Client) Export(ctx context.Context, id string, exportMime string, dst io.Writer) error {
	resp, err := c.svc.Files.Export(id, exportMime).Context(ctx).Download()
	if err != nil {
		return classifyAPIError(err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return driveport.Transient(err)
	}
	return nil
}

// FindChildFolder looks up a folder named name directly under parentID.
func (c *Client) FindChildFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	q := fmt.Sprintf("'%s' in parents and name = '%s' and mimeType = '%s' and trashed = false",
		escapeQueryValue(parentID), escapeQueryValue(name), folderMimeType)
	res, err := c.svc.Files.List().Context(ctx).Q(q).Fields(googleapi.Field("files(id,name)")).PageSize(1).Do()
	if err != nil {
		return "", false, classifyAPIError(err)
	}
	if len(res.Files) == 0 {
		return "", false, nil
	}
	return res.Files[0].Id, true, nil
}

// CreateFolder creates a folder named name under parentID.
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	f := &drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}
	created, err := c.svc.Files.Create(f).Context(ctx).Fields(googleapi.Field("id")).Do()
	if err != nil {
		return "", classifyAPIError(err)
	}
	return created.Id, nil
}

// Upload creates a file named name under parentID with the given mime
// type, reading its content from src, and returns the confirmed remote
// item once the API call returns.
func (c *Client) Upload(ctx context.Context, parentID, name, mimeType string, src io.Reader) (driveport.RemoteItem, error) {
	f := &drive.File{
		Name:    name,
		Parents: []string{parentID},
	}
	created, err := c.svc.Files.Create(f).
		Context(ctx).
		Media(src, googleapi.ContentType(mimeType)).
		Fields(googleapi.Field(fileFields)).
		Do()
	if err != nil {
		return driveport.RemoteItem{}, classifyAPIError(err)
	}
	return toRemoteItem(created), nil
}

func toRemoteItem(f *drive.File) driveport.RemoteItem {
	item := driveport.RemoteItem{
		ID:        f.Id,
		Name:      f.Name,
		IsFolder:  f.MimeType == folderMimeType,
		SizeBytes: f.Size,
		MimeType:  f.MimeType,
	}
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			item.ModifiedTime = t
			item.HasModTime = true
		}
	}
	return item
}

// escapeQueryValue escapes single quotes for Drive's query-string
// mini-language, the one place raw identifiers are interpolated into a Q().
func escapeQueryValue(v string) string {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' {
			out = append(out, '\\')
		}
		out = append(out, v[i])
	}
	return string(out)
}

// classifyAPIError maps a googleapi.Error's HTTP status onto the
// Transient/Permanent/DiskFull classification pkg/driveport defines:
// 500, 502, 503, and 429 (rate-limit) responses are retried, as is any
// error that is not a googleapi.Error; every other API status is treated
// as permanent.
func classifyAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if e, ok := err.(*googleapi.Error); ok {
		apiErr = e
	}
	if apiErr == nil {
		return driveport.Transient(err)
	}
	switch apiErr.Code {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return driveport.Transient(err)
	case http.StatusNotFound, http.StatusForbidden, http.StatusUnauthorized:
		return driveport.Permanent(err)
	default:
		return driveport.Permanent(err)
	}
}
