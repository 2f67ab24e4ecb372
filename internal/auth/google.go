package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gdrive "google.golang.org/api/drive/v3"

	"github.com/retina/retina-export-back/internal/domain"
	"github.com/retina/retina-export-back/internal/repository"
)

const userinfoEndpoint = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleAuthenticator runs the OAuth code flow. The drive.file scope is
// requested up front so the tokens stored at sign-in can later upload
// export archives to the user's Drive.
type GoogleAuthenticator struct {
	config *oauth2.Config
	users  repository.UsersRepository
}

func NewGoogleAuthenticator(clientID, clientSecret, redirectURL string, users repository.UsersRepository) *GoogleAuthenticator {
	return &GoogleAuthenticator{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
				gdrive.DriveFileScope,
			},
		},
		users: users,
	}
}

// AuthURL builds the consent URL. AccessTypeOffline plus forced consent is
// what makes Google hand back a refresh token on every sign-in.
func (g *GoogleAuthenticator) AuthURL(state string) string {
	return g.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

type googleProfile struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Exchange trades the callback code for tokens, fetches the Google
// profile, and upserts the local user record with the fresh credentials.
func (g *GoogleAuthenticator) Exchange(ctx context.Context, code string) (*domain.User, error) {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	profile, err := g.fetchProfile(ctx, token)
	if err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("google profile response missing account id")
	}

	user, err := g.users.UpsertByGoogleID(ctx, &domain.User{
		GoogleID:     profile.ID,
		Email:        profile.Email,
		Name:         profile.Name,
		PhotoURL:     profile.Picture,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert google user: %w", err)
	}
	return user, nil
}

func (g *GoogleAuthenticator) fetchProfile(ctx context.Context, token *oauth2.Token) (*googleProfile, error) {
	client := g.config.Client(ctx, token)
	resp, err := client.Get(userinfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch google profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch google profile: unexpected status %d", resp.StatusCode)
	}

	var profile googleProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode google profile: %w", err)
	}
	return &profile, nil
}
