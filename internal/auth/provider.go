package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"recipe-box/internal/apperr"
	"recipe-box/internal/user"
)

// Provider is an OAuth identity provider.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Identity(ctx context.Context, code string) (user.Identity, error)
}

// ProviderConfig configures an OAuth provider. UserInfoURL returns the
// profile; EmailsURL is only consulted by GitHub when the profile hides
// the address.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	Scopes       []string
	UserInfoURL  string
	EmailsURL    string
}

// OAuthProvider exchanges authorization codes and reads the user profile.
type OAuthProvider struct {
	name        string
	conf        *oauth2.Config
	userInfoURL string
	emailsURL   string
}

// NewProvider creates a provider. name selects how the profile is read
// ("google" or "github").
func NewProvider(name string, cfg ProviderConfig) *OAuthProvider {
	return &OAuthProvider{
		name: name,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       cfg.Scopes,
		},
		userInfoURL: cfg.UserInfoURL,
		emailsURL:   cfg.EmailsURL,
	}
}

func NewGoogle(clientID, clientSecret, redirectURL string) *OAuthProvider {
	return NewProvider("google", ProviderConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"openid", "email", "profile"},
		UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
	})
}

func NewGitHub(clientID, clientSecret, redirectURL string) *OAuthProvider {
	return NewProvider("github", ProviderConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     github.Endpoint,
		Scopes:       []string{"read:user", "user:email"},
		UserInfoURL:  "https://api.github.com/user",
		EmailsURL:    "https://api.github.com/user/emails",
	})
}

func (p *OAuthProvider) Name() string { return p.name }

func (p *OAuthProvider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

// Identity exchanges code for a token and reads who logged in. An HTTP
// client stored in ctx under oauth2.HTTPClient is used for every call.
func (p *OAuthProvider) Identity(ctx context.Context, code string) (user.Identity, error) {
	if code == "" {
		return user.Identity{}, apperr.Validation("missing authorization code")
	}
	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return user.Identity{}, apperr.External(p.name, fmt.Errorf("code exchange failed: %w", err))
	}
	client := p.conf.Client(ctx, tok)

	var id user.Identity
	switch p.name {
	case "github":
		id, err = p.githubIdentity(ctx, client)
	default:
		id, err = p.openIDIdentity(ctx, client)
	}
	if err != nil {
		return user.Identity{}, apperr.External(p.name, err)
	}
	id.Provider = p.name
	return id, nil
}

func (p *OAuthProvider) openIDIdentity(ctx context.Context, client *http.Client) (user.Identity, error) {
	var info struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := getJSON(ctx, client, p.userInfoURL, &info); err != nil {
		return user.Identity{}, err
	}
	if info.EmailVerified != nil && !*info.EmailVerified {
		info.Email = ""
	}
	return user.Identity{
		ProviderUserID: info.Sub,
		Email:          info.Email,
		Name:           info.Name,
		AvatarURL:      info.Picture,
	}, nil
}

func (p *OAuthProvider) githubIdentity(ctx context.Context, client *http.Client) (user.Identity, error) {
	var profile struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, p.userInfoURL, &profile); err != nil {
		return user.Identity{}, err
	}

	email := profile.Email
	if email == "" && p.emailsURL != "" {
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(ctx, client, p.emailsURL, &emails); err != nil {
			return user.Identity{}, err
		}
		for _, e := range emails {
			if e.Verified && (e.Primary || email == "") {
				email = e.Email
			}
		}
	}

	name := profile.Name
	if name == "" {
		name = profile.Login
	}
	var id string
	if profile.ID != 0 {
		id = strconv.FormatInt(profile.ID, 10)
	}
	return user.Identity{
		ProviderUserID: id,
		Email:          email,
		Name:           name,
		AvatarURL:      profile.AvatarURL,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s returned %d: %s", url, resp.StatusCode, body)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(v)
}
