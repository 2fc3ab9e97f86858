package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/zlnvch/webnotes/cache"
	"github.com/zlnvch/webnotes/logger/slogx"
	"github.com/zlnvch/webnotes/models"
	"github.com/zlnvch/webnotes/mq"
	"github.com/zlnvch/webnotes/store"
)

// Provider-specific structs
type gitHubUser struct {
	Login string `json:"login"`
	ID    int    `json:"id"`
	Email string `json:"email"`
}

type googleUser struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Sub           string `json:"sub"`
}

type oauthAPI struct {
	URL     string
	Headers map[string]string
}

var oauthAPIs = map[string]oauthAPI{
	"github": {
		URL: "https://api.github.com/user",
		Headers: map[string]string{
			"X-GitHub-Api-Version": "2022-11-28",
		},
	},
	"google": {
		URL:     "https://openidconnect.googleapis.com/v1/userinfo",
		Headers: map[string]string{},
	},
}

var oauthConfigsTemplate = map[string]*oauth2.Config{
	"github": {
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://github.com/login/oauth/authorize",
			TokenURL: "https://github.com/login/oauth/access_token",
		},
		Scopes: []string{"read:user", "user:email"},
	},
	"google": {
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{"openid", "email", "profile"},
	},
}

func addOauthEndpointsAndScopes(oauthConfigs map[string]*oauth2.Config) (map[string]*oauth2.Config, error) {
	for provider := range oauthConfigs {
		template, ok := oauthConfigsTemplate[provider]
		if !ok {
			return nil, fmt.Errorf("unsupported provider: %s", provider)
		}
		oauthConfigs[provider].Endpoint = template.Endpoint
		oauthConfigs[provider].Scopes = template.Scopes
	}

	return oauthConfigs, nil
}

func (s *Service) HandleOauth(ctx context.Context, provider string, code string) (models.User, error) {
	conf, ok := s.OAuthConfigs[provider]
	if !ok {
		return models.User{}, fmt.Errorf("unsupported provider: %s", provider)
	}
	api, ok := oauthAPIs[provider]
	if !ok {
		return models.User{}, fmt.Errorf("unsupported provider: %s", provider)
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return models.User{}, err
	}

	body, err := fetchProfile(ctx, conf.Client(ctx, tok), api)
	if err != nil {
		return models.User{}, err
	}

	return parseUser(body, provider)
}

func fetchProfile(ctx context.Context, client *http.Client, api oauthAPI) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range api.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile request failed with status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func parseUser(jsonData []byte, provider string) (models.User, error) {
	var u models.User
	u.Provider = provider

	switch provider {
	case "github":
		var gh gitHubUser
		if err := json.Unmarshal(jsonData, &gh); err != nil {
			return models.User{}, err
		}
		if gh.ID == 0 {
			return models.User{}, errors.New("github profile without id")
		}
		u.Username = gh.Login
		u.Email = gh.Email
		u.ProviderId = strconv.Itoa(gh.ID)
	case "google":
		var g googleUser
		if err := json.Unmarshal(jsonData, &g); err != nil {
			return models.User{}, err
		}
		if g.Sub == "" {
			return models.User{}, errors.New("google profile without subject")
		}
		u.Username = g.Name
		// Unverified addresses must not become share targets
		if g.EmailVerified {
			u.Email = g.Email
		}
		u.ProviderId = g.Sub
	default:
		return models.User{}, fmt.Errorf("unsupported provider: %s", provider)
	}

	return u, nil
}

func (s *Service) CreateJWT(id string, provider string, providerId string) (string, error) {
	now := s.Now()
	claims := jwt.MapClaims{
		"id":         id,
		"provider":   provider,
		"providerId": providerId,
		"exp":        now.Add(24 * time.Hour).Unix(),
		"iat":        now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.JWTSecret)
}

func (s *Service) VerifyJWT(tokenString string) (string, string, string, time.Time, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return s.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", "", "", time.Time{}, err
	}

	if !token.Valid {
		return "", "", "", time.Time{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", "", time.Time{}, errors.New("invalid token claims")
	}

	id, ok := claims["id"].(string)
	if !ok {
		return "", "", "", time.Time{}, errors.New("missing id claim")
	}

	provider, ok := claims["provider"].(string)
	if !ok {
		return "", "", "", time.Time{}, errors.New("missing provider claim")
	}

	providerId, ok := claims["providerId"].(string)
	if !ok {
		return "", "", "", time.Time{}, errors.New("missing providerId claim")
	}

	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return "", "", "", time.Time{}, errors.New("missing exp claim")
	}
	expiry := time.Unix(int64(expFloat), 0)

	return id, provider, providerId, expiry, nil
}

func (s *Service) AuthenticateToken(ctx context.Context, token string) (models.User, error) {
	if len(token) == 0 {
		return models.User{}, errors.New("token not provided")
	}

	id, provider, providerId, _, err := s.VerifyJWT(token)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.Store.GetUser(ctx, provider, providerId)
	if err != nil {
		return models.User{}, err
	}
	if user.Id != id {
		// The account was deleted and the login registered again
		return models.User{}, errors.New("token issued for a previous account")
	}

	return user, nil
}

// RequesterFromToken resolves the caller's user id. A missing token is an
// anonymous caller and yields "". A token that fails verification is an error.
func (s *Service) RequesterFromToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", nil
	}

	user, err := s.AuthenticateToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return user.Id, nil
}

func (s *Service) Login(ctx context.Context, provider, code string) (models.User, string, error) {
	user, err := s.HandleOauth(ctx, provider, code)
	if err != nil {
		return models.User{}, "", fmt.Errorf("%w: oauth failed: %v", ErrAuthentication, err)
	}

	createdUser, err := s.Store.CreateUser(ctx, user)
	if errors.Is(err, store.ErrConditionFailed) {
		// The email already belongs to another account; it stays with that one
		slogx.Warn(ctx, "email registered to another account, creating user without it",
			slogx.Provider(user.Provider))
		user.Email = ""
		createdUser, err = s.Store.CreateUser(ctx, user)
	}
	if err != nil {
		return models.User{}, "", fmt.Errorf("create user failed: %w", err)
	}

	token, err := s.CreateJWT(createdUser.Id, createdUser.Provider, createdUser.ProviderId)
	if err != nil {
		return models.User{}, "", fmt.Errorf("token generation failed: %w", err)
	}

	return createdUser, token, nil
}

// DeleteUser removes the account. Its notes and held shares are purged in the
// background by the queue consumer.
func (s *Service) DeleteUser(ctx context.Context, user models.User) error {
	if err := s.Store.DeleteUser(ctx, user); err != nil {
		return err
	}

	// Async side-effects - return to caller as soon as the store operation is done
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.Cache.InvalidateUser(ctx, user.Id); err != nil {
			slogx.Warn(ctx, "invalidate cached user failed", slogx.UserId(user.Id), slogx.Err(err))
		}

		event := models.Event{Type: models.EventUserDeleted, UserId: user.Id}
		if err := cache.PublishEvent(ctx, s.Cache, cache.UserDeletedChannel, event); err != nil {
			slogx.Warn(ctx, "publish user deleted failed", slogx.UserId(user.Id), slogx.Err(err))
		}

		body, err := mq.EncodePurgeUser(mq.PurgeUserMessage{UserId: user.Id, RequestedAt: s.nowMillis()})
		if err != nil {
			slogx.Error(ctx, "encode purge message failed", slogx.UserId(user.Id), slogx.Err(err))
			return
		}
		if err := s.MQ.Send(ctx, body); err != nil {
			slogx.Error(ctx, "enqueue purge failed", slogx.UserId(user.Id), slogx.Err(err))
		}
	}()

	return nil
}
