package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	sessionName    = "officebridge_session"
	oauthStateName = "officebridge_oauth_state"

	sessionLifetime = 7 * 24 * time.Hour
	oauthStateTTL   = 10 * time.Minute
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidSession  = errors.New("invalid session data")
)

// SessionData is the signed-in identity carried by the session cookie.
// CSRFToken is minted on first Set and checked by ValidateCSRF on
// mutating form requests.
type SessionData struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	CSRFToken string `json:"csrf_token"`
}

// SessionManager wraps a cookie store with the two cookies the app
// uses: the login session and the short-lived OAuth state.
type SessionManager struct {
	store *sessions.CookieStore
}

func NewSessionManager(secret string, secure bool) *SessionManager {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionLifetime.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionManager{store: store}
}

// Get decodes the login session. A missing or undecodable cookie, or
// one without a user id, reads as ErrSessionNotFound.
func (sm *SessionManager) Get(r *http.Request) (*SessionData, error) {
	session, err := sm.store.Get(r, sessionName)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	data := &SessionData{
		UserID:    stringValue(session, "user_id"),
		Email:     stringValue(session, "email"),
		Name:      stringValue(session, "name"),
		CSRFToken: stringValue(session, "csrf_token"),
	}
	if data.UserID == "" {
		return nil, ErrSessionNotFound
	}
	return data, nil
}

// Set writes the login session, minting a CSRF token when the caller
// did not carry one over.
func (sm *SessionManager) Set(w http.ResponseWriter, r *http.Request, data *SessionData) error {
	session := sm.sessionFor(r, sessionName)
	if session == nil {
		return ErrInvalidSession
	}

	if data.CSRFToken == "" {
		token, err := randomToken()
		if err != nil {
			return err
		}
		data.CSRFToken = token
	}

	session.Values["user_id"] = data.UserID
	session.Values["email"] = data.Email
	session.Values["name"] = data.Name
	session.Values["csrf_token"] = data.CSRFToken
	return session.Save(r, w)
}

// Clear expires the login session cookie. Clearing an absent session is
// a no-op.
func (sm *SessionManager) Clear(w http.ResponseWriter, r *http.Request) error {
	session, err := sm.store.Get(r, sessionName)
	if err != nil {
		return nil
	}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// SetOAuthState stores the state nonce in its own short-lived cookie so
// the callback can match it against the provider's echo.
func (sm *SessionManager) SetOAuthState(w http.ResponseWriter, r *http.Request, state string) error {
	session := sm.sessionFor(r, oauthStateName)
	if session == nil {
		return ErrInvalidSession
	}
	session.Values["state"] = state
	session.Options.MaxAge = int(oauthStateTTL.Seconds())
	return session.Save(r, w)
}

// GetOAuthState returns the stored state nonce and expires its cookie,
// so each nonce is redeemable once.
func (sm *SessionManager) GetOAuthState(w http.ResponseWriter, r *http.Request) (string, error) {
	session, err := sm.store.Get(r, oauthStateName)
	if err != nil {
		return "", err
	}

	state := stringValue(session, "state")
	if state == "" {
		return "", ErrInvalidSession
	}

	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		return "", err
	}
	return state, nil
}

// GenerateState mints the nonce sent with an authorization redirect.
func GenerateState() (string, error) {
	return randomToken()
}

// sessionFor loads the named session, falling back to a fresh one when
// the incoming cookie does not decode.
func (sm *SessionManager) sessionFor(r *http.Request, name string) *sessions.Session {
	session, err := sm.store.Get(r, name)
	if err == nil {
		return session
	}
	session, err = sm.store.New(r, name)
	if err != nil {
		return nil
	}
	return session
}

func stringValue(session *sessions.Session, key string) string {
	value, _ := session.Values[key].(string)
	return value
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
