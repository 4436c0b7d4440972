package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/book-catalog/internal/config"
	"github.com/iliyamo/book-catalog/internal/middleware"
	"github.com/iliyamo/book-catalog/internal/model"
	"github.com/iliyamo/book-catalog/internal/service"
)

// RefreshCookie is the name of the cookie carrying the refresh token.
const RefreshCookie = "refresh_token"

// Authenticator is the part of service.AuthService the handlers use.
type Authenticator interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.User, error)
	Login(ctx context.Context, identifier, password string) (*service.Session, error)
	Refresh(ctx context.Context, raw string) (*service.Session, error)
	Logout(ctx context.Context, raw string) error
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Auth Authenticator
	Cfg  config.AuthConfig
}

func NewAuthHandler(auth Authenticator, cfg config.AuthConfig) *AuthHandler {
	return &AuthHandler{Auth: auth, Cfg: cfg}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginReq struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResp struct {
	AccessToken  string    `json:"accessToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	RefreshToken string    `json:"refreshToken,omitempty"`
}

type meResp struct {
	UserID    uint64     `json:"userId"`
	Email     string     `json:"email"`
	Role      model.Role `json:"role"`
	TokenID   string     `json:"tokenId"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// Register creates a user. No tokens are returned; the client logs in next.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if _, err := h.Auth.Register(ctx, service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	}); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "user registered successfully"})
}

// Login verifies credentials and returns a new token pair. The email wins
// when both email and username are sent.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	identifier := strings.TrimSpace(req.Email)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Username)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	s, err := h.Auth.Login(ctx, identifier, req.Password)
	if err != nil {
		return writeServiceError(c, err)
	}
	return h.writeSession(c, s)
}

// Refresh rotates the refresh token from the body or, failing that, the cookie.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw := h.refreshToken(c)
	if raw == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "refresh token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	s, err := h.Auth.Refresh(ctx, raw)
	if err != nil {
		return writeServiceError(c, err)
	}
	return h.writeSession(c, s)
}

// Logout deletes the presented refresh token and clears the cookie. Unknown
// or missing tokens still succeed.
func (h *AuthHandler) Logout(c echo.Context) error {
	raw := h.refreshToken(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if err := h.Auth.Logout(ctx, raw); err != nil {
		return writeServiceError(c, err)
	}
	h.clearCookie(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// Me returns the identity carried by the access token.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return c.JSON(http.StatusOK, meResp{
		UserID:    id.UserID,
		Email:     id.Email,
		Role:      id.Role,
		TokenID:   id.TokenID,
		ExpiresAt: id.ExpiresAt,
	})
}

func (h *AuthHandler) writeSession(c echo.Context, s *service.Session) error {
	c.SetCookie(&http.Cookie{
		Name:     RefreshCookie,
		Value:    s.RefreshToken,
		Path:     "/auth",
		Expires:  s.RefreshExpiresAt,
		MaxAge:   int(h.Cfg.RefreshTTL / time.Second),
		HttpOnly: true,
		Secure:   h.Cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	resp := tokenResp{AccessToken: s.AccessToken, ExpiresAt: s.AccessExpiresAt}
	if h.Cfg.RefreshTokenInBody {
		resp.RefreshToken = s.RefreshToken
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) clearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     RefreshCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// refreshToken reads the token from a JSON body, falling back to the cookie.
func (h *AuthHandler) refreshToken(c echo.Context) string {
	var req refreshReq
	_ = c.Bind(&req)
	if raw := strings.TrimSpace(req.RefreshToken); raw != "" {
		return raw
	}
	if ck, err := c.Cookie(RefreshCookie); err == nil {
		return strings.TrimSpace(ck.Value)
	}
	return ""
}
