package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"openfx-dash/internal/domain"
	"openfx-dash/internal/repository"
)

// OutcomeKind es el tipo de resultado de una evaluación del guard.
type OutcomeKind int

const (
	OutcomeRender OutcomeKind = iota
	OutcomeRedirect
	OutcomeWait
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRender:
		return "render"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeWait:
		return "wait"
	default:
		return "unknown"
	}
}

// Outcome es el resultado de evaluar una ruta: renderizar, redirigir o
// esperar. El guard nunca propaga errores; toda falla degrada a uno de estos.
type Outcome struct {
	Kind   OutcomeKind
	Target string
	// ClearCredential indica a la capa HTTP que expire la cookie: el estado
	// persistido resulto invalido y ya fue limpiado del lado del servidor.
	ClearCredential bool
}

// SessionState es el estado del ciclo de vida de la credencial.
type SessionState int

const (
	StateLoggedOut SessionState = iota
	StateAuthenticatedUnverified
	StateAuthenticatedVerified
)

func (s SessionState) String() string {
	switch s {
	case StateAuthenticatedUnverified:
		return "authenticated_unverified"
	case StateAuthenticatedVerified:
		return "authenticated_verified"
	default:
		return "logged_out"
	}
}

const (
	signInPath       = "/sign-in"
	homePath         = "/"
	verificationPath = "/verification/email"
)

type pendingRedirect struct {
	from   string
	target string
}

type evalMemo struct {
	path    string
	credKey string
	outcome Outcome
}

// SessionGuard clasifica ruta y credencial en cada navegación y decide
// render/redirect/wait. Es el único dueño de la credencial: el resto de los
// componentes lee snapshots y solo el flujo OTP muta el flag de verificación,
// a través de MarkEmailVerified.
type SessionGuard struct {
	logger *zap.Logger
	repo   repository.CredentialRepository

	mu        sync.Mutex
	snapshots map[string]domain.Credential
	pending   map[string]pendingRedirect
	memo      map[string]evalMemo
}

// NewSessionGuard crea un guard sobre el repositorio de credenciales dado.
func NewSessionGuard(logger *zap.Logger, repo repository.CredentialRepository) *SessionGuard {
	return &SessionGuard{
		logger:    logger,
		repo:      repo,
		snapshots: make(map[string]domain.Credential),
		pending:   make(map[string]pendingRedirect),
		memo:      make(map[string]evalMemo),
	}
}

// Evaluate corre el algoritmo del guard para un path y el token persistido.
// Es idempotente y segura de re-ejecutar en cada cambio de ruta; la única
// mutación que realiza es limpiar estado persistido invalido.
func (g *SessionGuard) Evaluate(ctx context.Context, path, token string) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	route := domain.ClassifyRoute(path)

	// Un redirect decidido pero no completado nunca debe dejar que el
	// contenido aparezca antes de tiempo.
	if p, ok := g.pending[token]; ok {
		switch path {
		case p.target:
			delete(g.pending, token)
		case p.from:
			return Outcome{Kind: OutcomeWait}
		default:
			delete(g.pending, token)
		}
	}

	cred, valid, cleared := g.resolveCredential(ctx, token)

	credKey := ""
	if valid {
		credKey = cred.SubjectID
		if cred.EmailVerified {
			credKey += "|verified"
		}
	}
	if m, ok := g.memo[token]; ok && m.path == path && m.credKey == credKey && !cleared {
		return m.outcome
	}

	outcome := decide(route, path, cred, valid)
	outcome.ClearCredential = cleared

	// Solo una credencial valida deja rastro en pending/memo: un token ausente
	// o invalido se evalua siempre de cero y no comparte estado entre clientes.
	if valid {
		if outcome.Kind == OutcomeRedirect {
			g.pending[token] = pendingRedirect{from: path, target: outcome.Target}
		}
		g.memo[token] = evalMemo{path: path, credKey: credKey, outcome: outcome}
	}

	if g.logger != nil {
		g.logger.Debug("session guard evaluation",
			zap.String("path", path),
			zap.String("route", route.String()),
			zap.String("outcome", outcome.Kind.String()),
			zap.String("target", outcome.Target),
		)
	}
	return outcome
}

// decide aplica el orden de precedencia; gana la primera regla que matchea.
func decide(route domain.RouteClass, path string, cred domain.Credential, valid bool) Outcome {
	switch {
	case !valid && route == domain.RouteProtected:
		return Outcome{Kind: OutcomeRedirect, Target: signInPath}
	case valid && domain.IsAuthRoute(path):
		return Outcome{Kind: OutcomeRedirect, Target: homePath}
	case valid && !cred.EmailVerified && route != domain.RouteVerification:
		return Outcome{Kind: OutcomeRedirect, Target: verificationPath}
	case valid && cred.EmailVerified && route == domain.RouteVerification:
		return Outcome{Kind: OutcomeRedirect, Target: homePath}
	default:
		return Outcome{Kind: OutcomeRender}
	}
}

// resolveCredential valida estado persistido y reconcilia el snapshot en
// memoria. Cualquier error de lectura o parseo cierra la sesión (fail closed),
// nunca se propaga. Devuelve cleared=true si hubo que limpiar estado invalido.
func (g *SessionGuard) resolveCredential(ctx context.Context, token string) (domain.Credential, bool, bool) {
	if strings.TrimSpace(token) == "" {
		// Sin token no puede sobrevivir ningún snapshot.
		if _, ok := g.snapshots[token]; ok {
			delete(g.snapshots, token)
		}
		return domain.Credential{}, false, false
	}

	rec, found, err := g.repo.Load(ctx, token)
	if err != nil {
		if g.logger != nil {
			g.logger.Warn("credential store read failed", zap.Error(err))
		}
		g.clearLocked(ctx, token)
		return domain.Credential{}, false, true
	}
	if !found {
		// Token sin perfil pareado: invalido, se limpia todo.
		g.clearLocked(ctx, token)
		return domain.Credential{}, false, true
	}

	profile, ok := domain.ParseProfile(rec.Profile)
	if !ok || rec.Token != token || !tokenConsistent(token, profile) {
		g.clearLocked(ctx, token)
		return domain.Credential{}, false, true
	}

	// Estado persistido valido y memoria vacia: adoptar sin ir a la red.
	snap, has := g.snapshots[token]
	if !has {
		snap = domain.NewCredential(token, profile)
		g.snapshots[token] = snap
	}
	return snap, true, false
}

// tokenConsistent chequea forma y consistencia del bearer. El token es opaco
// para el gateway (no tiene la clave de firma del backend), pero igual exige
// forma de JWT, expiración vigente y subject igual al id del perfil.
func tokenConsistent(token string, profile domain.Profile) bool {
	parser := jwt.NewParser()
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt != nil && time.Now().UTC().After(claims.ExpiresAt.Time) {
		return false
	}
	if claims.Subject != "" && claims.Subject != profile.ID {
		return false
	}
	return true
}

// Adopt instala la credencial tras un login exitoso. El registro ya debe
// estar persistido por el caller como unidad token+perfil.
func (g *SessionGuard) Adopt(token string, profile domain.Profile) {
	if strings.TrimSpace(token) == "" || profile.ID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snapshots[token] = domain.NewCredential(token, profile)
	delete(g.memo, token)
	delete(g.pending, token)
}

// MarkEmailVerified es la única mutación de credencial permitida al flujo
// OTP: voltea el flag en el registro persistido y en el snapshot bajo el
// mismo lock, así la próxima evaluación observa ambos o ninguno.
func (g *SessionGuard) MarkEmailVerified(ctx context.Context, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.repo.SetEmailVerified(ctx, token); err != nil {
		return err
	}
	if snap, ok := g.snapshots[token]; ok {
		snap.EmailVerified = true
		snap.Profile.EmailVerified = true
		g.snapshots[token] = snap
	}
	// La mutación supersede cualquier decisión anterior.
	delete(g.memo, token)
	delete(g.pending, token)
	return nil
}

// Logout limpia registro persistido, snapshot y redirects pendientes.
// Idempotente: un segundo logout sobre almacenamiento vacio no falla.
func (g *SessionGuard) Logout(ctx context.Context, token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clearLocked(ctx, token)
}

func (g *SessionGuard) clearLocked(ctx context.Context, token string) {
	if err := g.repo.Clear(ctx, token); err != nil && g.logger != nil {
		g.logger.Warn("credential store clear failed", zap.Error(err))
	}
	delete(g.snapshots, token)
	delete(g.memo, token)
	delete(g.pending, token)
}

// State devuelve el estado de ciclo de vida para el token dado.
func (g *SessionGuard) State(token string) SessionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap, ok := g.snapshots[token]
	if !ok {
		return StateLoggedOut
	}
	if snap.EmailVerified {
		return StateAuthenticatedVerified
	}
	return StateAuthenticatedUnverified
}

// Snapshot devuelve una copia de la credencial en memoria, si existe.
func (g *SessionGuard) Snapshot(token string) (domain.Credential, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap, ok := g.snapshots[token]
	return snap, ok
}
