package domain

import "strings"

// RouteClass clasifica una ruta para control de acceso.
type RouteClass int

const (
	RoutePublic RouteClass = iota
	RouteVerification
	RouteProtected
)

func (c RouteClass) String() string {
	switch c {
	case RoutePublic:
		return "public"
	case RouteVerification:
		return "verification"
	case RouteProtected:
		return "protected"
	default:
		return "unknown"
	}
}

// Rutas publicas permitidas sin credencial. Todo lo que no este aca
// es protegido: las rutas nuevas quedan protegidas salvo allow-list explicito.
var publicRoutes = map[string]struct{}{
	"/sign-in":         {},
	"/sign-up":         {},
	"/forgot-password": {},
	"/reset-password":  {},
	"/coming-soon":     {},
	"/maintenance":     {},
	"/access-denied":   {},
	"/terms-condition": {},
	"/privacy-policy":  {},
	"/not-found":       {},
}

const verificationPrefix = "/verification"

// ClassifyRoute clasifica un path en publico, verificacion o protegido.
// Pura, sin efectos.
func ClassifyRoute(path string) RouteClass {
	path = normalizePath(path)
	if path == "" || path == "/not-found" {
		return RoutePublic
	}
	if path == verificationPrefix || strings.HasPrefix(path, verificationPrefix+"/") {
		return RouteVerification
	}
	if _, ok := publicRoutes[path]; ok {
		return RoutePublic
	}
	return RouteProtected
}

// IsAuthRoute reporta si el path es el subtipo de ruta publica de
// autenticacion (sign-in/sign-up), el unico que expulsa a usuarios ya logueados.
func IsAuthRoute(path string) bool {
	path = normalizePath(path)
	return path == "/sign-in" || path == "/sign-up"
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
