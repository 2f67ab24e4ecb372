// Package drive delivers export archives into the requesting user's own
// Google Drive using their stored OAuth credentials.
package drive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrReauthRequired marks upload failures caused by expired or revoked
// credentials. Callers surface it as "log out and log in again" rather than
// a generic failure.
var ErrReauthRequired = errors.New("google drive authentication failed, please log out and log in again")

// Credentials are the owner's stored OAuth tokens.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// TokenUpdateFunc receives refreshed tokens so the caller can persist them.
// Either argument may be empty when that token did not change.
type TokenUpdateFunc func(ctx context.Context, accessToken, refreshToken string)

// UploadResult is the durable reference of a delivered archive.
type UploadResult struct {
	FileID       string
	ViewLink     string
	DownloadLink string
}

// Uploader pushes one local file into the owner's drive.
type Uploader interface {
	UploadFile(ctx context.Context, path, name string, creds Credentials, onTokens TokenUpdateFunc) (*UploadResult, error)
}

// GoogleUploader implements Uploader against the Drive v3 API.
type GoogleUploader struct {
	config *oauth2.Config
	logger *log.Logger
}

func NewGoogleUploader(clientID, clientSecret string, logger *log.Logger) *GoogleUploader {
	return &GoogleUploader{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gdrive.DriveFileScope},
		},
		logger: logger,
	}
}

func (u *GoogleUploader) UploadFile(ctx context.Context, path, name string, creds Credentials, onTokens TokenUpdateFunc) (*UploadResult, error) {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
	}
	if creds.RefreshToken != "" {
		// Stored access tokens carry no expiry, so force the token source
		// to refresh up front instead of failing mid-upload.
		token.Expiry = time.Now().Add(-time.Minute)
	}

	source := u.config.TokenSource(ctx, token)
	fresh, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}
		return nil, fmt.Errorf("refresh drive token: %w", err)
	}
	if onTokens != nil && (fresh.AccessToken != creds.AccessToken || (fresh.RefreshToken != "" && fresh.RefreshToken != creds.RefreshToken)) {
		refreshToken := ""
		if fresh.RefreshToken != creds.RefreshToken {
			refreshToken = fresh.RefreshToken
		}
		onTokens(ctx, fresh.AccessToken, refreshToken)
	}

	service, err := gdrive.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	created, err := service.Files.
		Create(&gdrive.File{Name: name, MimeType: "application/zip"}).
		Media(file, googleapi.ContentType("application/zip")).
		Fields("id, webViewLink, webContentLink").
		Context(ctx).
		Do()
	if err != nil {
		if isAuthError(err) {
			return nil, fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}
		return nil, fmt.Errorf("create drive file: %w", err)
	}

	// Anyone with the link can read, matching the emailed share link.
	_, err = service.Permissions.
		Create(created.Id, &gdrive.Permission{Role: "reader", Type: "anyone"}).
		Context(ctx).
		Do()
	if err != nil {
		if u.logger != nil {
			u.logger.Printf("drive permission grant failed file_id=%s: %v", created.Id, err)
		}
	}

	return &UploadResult{
		FileID:       created.Id,
		ViewLink:     created.WebViewLink,
		DownloadLink: created.WebContentLink,
	}, nil
}

func isAuthError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 401
	}
	var retrieveErr *oauth2.RetrieveError
	return errors.As(err, &retrieveErr)
}
