package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"github.com/npezzotti/chatterbox/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	userIdClaim    = "user-id"
	expClaim       = "exp"
	tokenCookieKey = "token"
	maxAvatarSize  = 5 << 20
)

var defaultExp = time.Hour * 24

type contextKey string

const userIdKey contextKey = "user-id"

type userRecord struct {
	user         types.User
	passwordHash string
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func hashPassword(passwd string) (string, error) {
	// MinCost keeps tests fast
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.MinCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

// IssueToken signs a token for userId that expires after exp. A negative exp
// yields an already expired token.
func (s *Server) IssueToken(userId string, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    s.now().Add(exp).Unix(),
	})

	return token.SignedString(s.secret)
}

func (s *Server) verifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return "", fmt.Errorf("missing %s claim", userIdClaim)
	}

	return userId, nil
}

// credential reads the token from the Authorization header, falling back
// to the session cookie.
func credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(tokenCookieKey); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := credential(r)
		if tokenString == "" {
			writeError(s.log, w, NewUnauthorizedError("No token provided"))
			return
		}

		userId, err := s.verifyToken(tokenString)
		if err != nil {
			s.log.Println("token verify failed:", err)
			writeError(s.log, w, NewUnauthorizedError("Invalid token"))
			return
		}

		s.mu.Lock()
		_, ok := s.users[userId]
		s.mu.Unlock()
		if !ok {
			writeError(s.log, w, NewUnauthorizedError("User not found"))
			return
		}

		ctx := context.WithValue(r.Context(), userIdKey, userId)
		next(w, r.WithContext(ctx))
	}
}

func userId(ctx context.Context) string {
	id, _ := ctx.Value(userIdKey).(string)
	return id
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// SeedUser registers an account directly.
func (s *Server) SeedUser(username, email, password string) (types.User, error) {
	return s.createUser(registerRequest{Username: username, Email: email, Password: password})
}

func (s *Server) createUser(req registerRequest) (types.User, error) {
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Password) == "" {
		return types.User{}, NewBadRequestError("Please provide all required fields")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return types.User{}, NewBadRequestError("Please provide a valid email")
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		return types.User{}, NewInternalServerError()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(req.Email)
	if _, ok := s.byEmail[email]; ok {
		return types.User{}, NewBadRequestError("User already exists")
	}

	u := types.User{
		Id:           uuid.NewString(),
		Username:     req.Username,
		DisplayName:  req.Username,
		EmailAddress: email,
	}
	s.users[u.Id] = &userRecord{user: u, passwordHash: pwdHash}
	s.byEmail[email] = u.Id
	return u, nil
}

func (s *Server) issueSession(w http.ResponseWriter, status int, u types.User) {
	token, err := s.IssueToken(u.Id, defaultExp)
	if err != nil {
		writeEnvelopeError(s.log, w, NewInternalServerError())
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultExp))
	writeJson(s.log, w, status, envelope{Success: true, Data: u, Token: token})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(s.log, w, NewBadRequestError("Invalid request body"))
		return
	}

	u, err := s.createUser(req)
	if err != nil {
		writeEnvelopeError(s.log, w, asApiError(err))
		return
	}

	s.log.Printf("registered %q", u.Username)
	s.issueSession(w, http.StatusCreated, u)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var lr loginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		writeEnvelopeError(s.log, w, NewBadRequestError("Invalid request body"))
		return
	}

	s.mu.Lock()
	rec, ok := s.users[s.byEmail[strings.ToLower(lr.Email)]]
	s.mu.Unlock()

	if !ok || !verifyPassword(rec.passwordHash, lr.Password) {
		writeEnvelopeError(s.log, w, NewUnauthorizedError("Invalid credentials"))
		return
	}

	s.issueSession(w, http.StatusOK, rec.user)
}

func (s *Server) logout(w http.ResponseWriter, _ *http.Request) {
	// an expired cookie overwrites the session
	http.SetCookie(w, createJwtCookie("", -time.Hour))
	writeJson(s.log, w, http.StatusOK, envelope{Success: true, Message: "Logged out successfully"})
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u := s.users[userId(r.Context())].user
	s.mu.Unlock()

	writeJson(s.log, w, http.StatusOK, envelope{Success: true, Data: u})
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAvatarSize); err != nil {
		writeEnvelopeError(s.log, w, NewBadRequestError("Invalid form data"))
		return
	}

	var avatar string
	if file, header, err := r.FormFile("avatar"); err == nil {
		n, err := io.Copy(io.Discard, file)
		file.Close()
		if err != nil || n > maxAvatarSize {
			writeEnvelopeError(s.log, w, NewBadRequestError("Avatar image must be less than 5MB"))
			return
		}
		avatar = "/uploads/avatars/" + s.newRoomId() + "-" + header.Filename
	}

	var pwdHash string
	if newPassword := r.FormValue("newPassword"); newPassword != "" {
		s.mu.Lock()
		current := s.users[userId(r.Context())].passwordHash
		s.mu.Unlock()

		if !verifyPassword(current, r.FormValue("currentPassword")) {
			writeEnvelopeError(s.log, w, NewBadRequestError("Current password is incorrect"))
			return
		}

		var err error
		if pwdHash, err = hashPassword(newPassword); err != nil {
			writeEnvelopeError(s.log, w, NewInternalServerError())
			return
		}
	}

	s.mu.Lock()
	rec := s.users[userId(r.Context())]
	if name := strings.TrimSpace(r.FormValue("displayName")); name != "" {
		rec.user.DisplayName = name
	}
	if avatar != "" {
		rec.user.Avatar = avatar
	}
	if pwdHash != "" {
		rec.passwordHash = pwdHash
	}
	u := rec.user
	s.mu.Unlock()

	writeJson(s.log, w, http.StatusOK, envelope{Success: true, Data: u})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rec, ok := s.users[r.PathValue("id")]
	s.mu.Unlock()

	if !ok {
		writeError(s.log, w, NewNotFoundError("User not found"))
		return
	}

	u := rec.user
	u.EmailAddress = ""
	writeJson(s.log, w, http.StatusOK, u)
}

func asApiError(err error) *ApiError {
	if e, ok := err.(*ApiError); ok {
		return e
	}
	return NewInternalServerError()
}
