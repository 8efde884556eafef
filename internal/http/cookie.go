package http

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"openfx-dash/internal/config"
)

// 7 dias, igual que el TTL del registro persistido.
const tokenCookieMaxAge = 7 * 24 * 60 * 60

// setTokenCookie escribe la cookie del bearer: SameSite estricto, Secure en
// producción y sin HttpOnly, porque el frontend la lee.
func setTokenCookie(c *gin.Context, cfg *config.Config, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cfg.CookieName, token, tokenCookieMaxAge, "/", cfg.CookieDomain, cfg.Production, false)
}

// clearTokenCookies expira la cookie en todos los scopes donde pudo haberse
// escrito: el dominio configurado, el hostname pelado del request y su forma
// con punto. Una cookie escrita bajo configuración inconsistente de dominio
// tiene que poder borrarse igual.
func clearTokenCookies(c *gin.Context, cfg *config.Config) {
	c.SetSameSite(http.SameSiteStrictMode)

	domains := []string{cfg.CookieDomain}
	if host := requestHost(c); host != "" && host != cfg.CookieDomain {
		domains = append(domains, host)
	}
	seen := make(map[string]struct{})
	for _, d := range domains {
		for _, variant := range []string{d, "." + strings.TrimPrefix(d, ".")} {
			if _, ok := seen[variant]; ok {
				continue
			}
			seen[variant] = struct{}{}
			c.SetCookie(cfg.CookieName, "", -1, "/", variant, cfg.Production, false)
		}
	}
}

// tokenFromCookie devuelve el bearer persistido, o vacio si no hay cookie.
func tokenFromCookie(c *gin.Context, name string) string {
	token, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(token)
}

func requestHost(c *gin.Context) string {
	host := c.Request.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}
