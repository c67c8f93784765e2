package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	authapp "devconsole/internal/auth/app"
	"devconsole/internal/auth/domain"
	"devconsole/internal/auth/sso/wechatwork"
	apperrors "devconsole/internal/errors"
	"devconsole/internal/logging"
)

// AuthHandler serves the OAuth login flow and session endpoints.
type AuthHandler struct {
	service *authapp.Service
	logger  logging.Logger
	secure  bool
}

// NewAuthHandler builds the handler. secure marks cookies Secure.
func NewAuthHandler(service *authapp.Service, secure bool, logger logging.Logger) *AuthHandler {
	return &AuthHandler{service: service, logger: logging.OrNop(logger), secure: secure}
}

type oauthStartResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken    string    `json:"access_token"`
	ExpiresAt      time.Time `json:"expires_at"`
	RefreshExpires time.Time `json:"refresh_expires_at"`
	User           *userDTO  `json:"user,omitempty"`
}

type userDTO struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Status      string `json:"status"`
}

func toUserDTO(user domain.User) *userDTO {
	return &userDTO{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		Status:      string(user.Status),
	}
}

// HandleProviders serves GET /api/auth/providers.
func (h *AuthHandler) HandleProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.service.Providers()})
}

// HandleOAuthStart serves GET /api/auth/:provider/login. With ?redirect=1 the
// browser is sent straight to the provider.
func (h *AuthHandler) HandleOAuthStart(c *gin.Context) {
	provider := domain.ProviderType(c.Param("provider"))
	url, state, err := h.service.StartOAuth(c.Request.Context(), provider)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	if c.Query("redirect") != "" {
		c.Redirect(http.StatusFound, url)
		return
	}
	c.JSON(http.StatusOK, oauthStartResponse{URL: url, State: state})
}

// HandleOAuthCallback serves GET /api/auth/:provider/callback.
func (h *AuthHandler) HandleOAuthCallback(c *gin.Context) {
	provider := domain.ProviderType(c.Param("provider"))
	code := strings.TrimSpace(c.Query("code"))
	state := strings.TrimSpace(c.Query("state"))
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, errorBody("missing code/state"))
		return
	}
	tokens, err := h.service.CompleteOAuth(c.Request.Context(), provider, code, state, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	claims, err := h.service.ParseAccessToken(c.Request.Context(), tokens.AccessToken)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	user, err := h.service.GetUser(c.Request.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	h.setCookies(c, tokens)
	if prefersHTML(c.GetHeader("Accept")) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(loginCompleteHTML))
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:    tokens.AccessToken,
		ExpiresAt:      tokens.AccessExpiry,
		RefreshExpires: tokens.RefreshExpiry,
		User:           toUserDTO(user),
	})
}

// HandleRefresh serves POST /api/auth/refresh. The refresh token comes from
// the body or the refresh cookie.
func (h *AuthHandler) HandleRefresh(c *gin.Context) {
	token := h.refreshToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, errorBody("refresh token required"))
		return
	}
	tokens, err := h.service.RefreshAccessToken(c.Request.Context(), token, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		h.clearCookies(c)
		h.writeDomainError(c, err)
		return
	}
	h.setCookies(c, tokens)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:    tokens.AccessToken,
		ExpiresAt:      tokens.AccessExpiry,
		RefreshExpires: tokens.RefreshExpiry,
	})
}

// HandleLogout serves POST /api/auth/logout. Unknown sessions still clear
// the cookies.
func (h *AuthHandler) HandleLogout(c *gin.Context) {
	if token := h.refreshToken(c); token != "" {
		if err := h.service.Logout(c.Request.Context(), token); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			h.writeDomainError(c, err)
			return
		}
	}
	h.clearCookies(c)
	c.Status(http.StatusNoContent)
}

// HandleMe serves GET /api/auth/me behind AuthMiddleware.
func (h *AuthHandler) HandleMe(c *gin.Context) {
	claims, ok := CurrentClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorBody("authorization required"))
		return
	}
	user, err := h.service.GetUser(c.Request.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserDTO(user))
}

func (h *AuthHandler) refreshToken(c *gin.Context) string {
	var req refreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err == nil && strings.TrimSpace(req.RefreshToken) != "" {
			return strings.TrimSpace(req.RefreshToken)
		}
	}
	if cookie, err := c.Cookie(refreshCookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

func (h *AuthHandler) setCookies(c *gin.Context, tokens domain.TokenPair) {
	h.setCookie(c, accessCookieName, tokens.AccessToken, "/", tokens.AccessExpiry)
	h.setCookie(c, refreshCookieName, tokens.RefreshToken, "/api/auth", tokens.RefreshExpiry)
}

func (h *AuthHandler) clearCookies(c *gin.Context) {
	h.setCookie(c, accessCookieName, "", "/", time.Time{})
	h.setCookie(c, refreshCookieName, "", "/api/auth", time.Time{})
}

func (h *AuthHandler) setCookie(c *gin.Context, name, value, path string, expires time.Time) {
	maxAge := -1
	if value != "" {
		maxAge = max(int(time.Until(expires).Seconds()), 0)
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeDomainError maps service errors to responses. A vendor rejection is
// a bad gateway carrying the vendor's message.
func (h *AuthHandler) writeDomainError(c *gin.Context, err error) {
	var apiErr *wechatwork.APIError
	switch {
	case errors.Is(err, domain.ErrProviderNotConfigured):
		c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, domain.ErrUserDisabled), errors.Is(err, wechatwork.ErrNotCorpMember):
		c.JSON(http.StatusForbidden, errorBody(err.Error()))
	case errors.Is(err, domain.ErrSessionExpired),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, errorBody(err.Error()))
	case errors.Is(err, domain.ErrUserNotFound):
		c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case errors.As(err, &apiErr):
		h.logger.Warn("identity provider rejected %s: %v", apiErr.Step, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": apiErr.Error(), "step": apiErr.Step, "errcode": apiErr.Code})
	case apperrors.IsUpstreamFailure(err):
		h.logger.Warn("identity provider unavailable: %v", err)
		c.JSON(http.StatusBadGateway, errorBody("identity provider unavailable"))
	default:
		h.logger.Error("auth request failed: %v", err)
		c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}

func prefersHTML(accept string) bool {
	for _, part := range strings.Split(strings.ToLower(accept), ",") {
		value := strings.TrimSpace(part)
		if idx := strings.Index(value, ";"); idx >= 0 {
			value = value[:idx]
		}
		if value == "text/html" || value == "application/xhtml+xml" {
			return true
		}
	}
	return false
}

const loginCompleteHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Login complete</title>
  <script>
    window.addEventListener("load", function () {
      try {
        if (window.opener && !window.opener.closed) {
          window.opener.postMessage({ source: "devconsole-auth", status: "success" }, "*");
        }
        window.close();
      } catch (err) {}
    });
  </script>
</head>
<body>
  <p>Login complete. You can close this window.</p>
</body>
</html>`
