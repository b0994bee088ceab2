package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/taskmaster-app/tmsync/common"
)

// NewHTTPClient returns a client that does not retry, keeping tests with
// failing responses fast.
func NewHTTPClient() *retryablehttp.Client {
	c := common.NewHTTPClient()
	c.RetryMax = 0

	return c
}

type user struct {
	id       int
	username string
	password string
	name     string
}

// Server is an in-memory TaskMaster API.
type Server struct {
	*httptest.Server

	// SignupReturnsToken makes /signup answer like /login instead of with
	// {message, user}.
	SignupReturnsToken bool
	// RotateRefreshTokens issues a new refresh token on every refresh and
	// invalidates the old one.
	RotateRefreshTokens bool
	// MinimalRefresh answers /refresh-token with {token} only.
	MinimalRefresh bool

	mu          sync.Mutex
	nextID      int
	users       map[string]*user
	access      map[string]int
	refresh     map[string]int
	collections map[string]map[int][]map[string]any
	calls       []string
	failStatus  int
	failNext    []failure
	createHook  func(collection string)
}

type failure struct {
	prefix string
	status int
}

func NewServer() *Server {
	s := &Server{
		nextID:      1,
		users:       make(map[string]*user),
		access:      make(map[string]int),
		refresh:     make(map[string]int),
		collections: make(map[string]map[int][]map[string]any),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(common.LoginPath, s.handleLogin)
	mux.HandleFunc(common.SignupPath, s.handleSignup)
	mux.HandleFunc(common.RefreshPath, s.handleRefresh)
	mux.HandleFunc(common.BackupPath, s.authed(s.handleBackup))

	for _, c := range []string{common.TasksPath, common.NotesPath, common.ProjectsPath} {
		mux.HandleFunc(c, s.authed(s.handleCollection))
		mux.HandleFunc(c+"/", s.authed(s.handleCollection))
	}

	s.Server = httptest.NewServer(s.record(mux))

	return s
}

// AddUser registers a user and returns its id.
func (s *Server) AddUser(username, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return strconv.Itoa(s.addUser(username, password, "").id)
}

// Authorize makes token a valid access token for username.
func (s *Server) Authorize(token, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access[token] = s.users[username].id
}

// AuthorizeRefresh makes token a valid refresh token for username.
func (s *Server) AuthorizeRefresh(token, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refresh[token] = s.users[username].id
}

// ExpireAccessTokens invalidates every issued access token.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access = make(map[string]int)
}

// RevokeRefreshTokens invalidates every issued refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refresh = make(map[string]int)
}

// FailWith makes every collection request answer with status. 0 restores
// normal service.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failStatus = status
}

// FailNext makes the next n requests whose "METHOD /path" starts with prefix
// answer with status, whatever their route.
func (s *Server) FailNext(prefix string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < n; i++ {
		s.failNext = append(s.failNext, failure{prefix: prefix, status: status})
	}
}

// OnCreate registers fn to run, outside the server lock, before an item is
// created. Tests use it to hold a create in flight.
func (s *Server) OnCreate(fn func(collection string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.createHook = fn
}

// Seed stores an item for username directly and returns its id.
func (s *Server) Seed(collection, username string, item map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return strconv.Itoa(s.insert(collection, s.users[username].id, item))
}

// Items returns a copy of username's items in collection.
func (s *Server) Items(collection, username string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return nil
	}

	src := s.collections[collection][u.id]
	out := make([]map[string]any, 0, len(src))

	for _, it := range src {
		out = append(out, copyMap(it))
	}

	return out
}

// Calls counts requests whose "METHOD /path" starts with prefix.
func (s *Server) Calls(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int

	for _, c := range s.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}

	return n
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.calls = append(s.calls, call)

		status := 0

		for i, f := range s.failNext {
			if strings.HasPrefix(call, f.prefix) {
				status = f.status
				s.failNext = append(s.failNext[:i], s.failNext[i+1:]...)

				break
			}
		}
		s.mu.Unlock()

		if status != 0 {
			writeError(w, status, "injected failure")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authed(next func(w http.ResponseWriter, r *http.Request, userID int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		fail := s.failStatus
		userID, ok := s.access[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
		s.mu.Unlock()

		if fail != 0 {
			writeError(w, fail, "injected failure")
			return
		}

		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next(w, r, userID)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[in.Username]
	if !ok || u.password != in.Password {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, s.issue(u, true, true))
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if in.Username == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[in.Username]; exists {
		writeError(w, http.StatusBadRequest, "Username already exists")
		return
	}

	u := s.addUser(in.Username, in.Password, in.Name)

	if s.SignupReturnsToken {
		writeJSON(w, http.StatusCreated, s.issue(u, true, true))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User created successfully",
		"user":    userJSON(u),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}

	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Refresh token is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.refresh[in.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	var u *user

	for _, c := range s.users {
		if c.id == userID {
			u = c
		}
	}

	if s.RotateRefreshTokens {
		delete(s.refresh, in.RefreshToken)
	}

	writeJSON(w, http.StatusOK, s.issue(u, s.RotateRefreshTokens, !s.MinimalRefresh))
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request, userID int) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	collection := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.mu.Lock()
			src := s.collections[collection][userID]
			out := make([]map[string]any, 0, len(src))

			for _, it := range src {
				out = append(out, copyMap(it))
			}
			s.mu.Unlock()

			writeJSON(w, http.StatusOK, out)
		case http.MethodPost:
			var in map[string]any
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}

			s.mu.Lock()
			hook := s.createHook
			s.mu.Unlock()

			if hook != nil {
				hook(collection)
			}

			s.mu.Lock()
			id := s.insert(collection, userID, in)
			out := copyMap(s.find(collection, userID, id))
			s.mu.Unlock()

			writeJSON(w, http.StatusCreated, out)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}

		return
	}

	id, err := strconv.Atoi(parts[1])
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(parts) > 2 {
		if collection != "projects" || len(parts) != 3 || parts[2] != "tasks" || r.Method != http.MethodGet {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		out := []map[string]any{}

		for _, task := range s.collections["tasks"][userID] {
			if inProject(task, id) {
				out = append(out, copyMap(task))
			}
		}

		writeJSON(w, http.StatusOK, out)

		return
	}

	it := s.find(collection, userID, id)
	if it == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodPut, http.MethodPatch:
		if (collection == "tasks") != (r.Method == http.MethodPatch) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		var in map[string]any
		if err = json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		for k, v := range in {
			if k == "id" || k == "userId" {
				continue
			}

			it[k] = v
		}

		it["updatedAt"] = s.now()

		writeJSON(w, http.StatusOK, copyMap(it))
	case http.MethodDelete:
		items := s.collections[collection][userID]
		for x := range items {
			if items[x]["id"] == id {
				s.collections[collection][userID] = append(items[:x], items[x+1:]...)
				break
			}
		}

		// tasks outlive their project
		if collection == "projects" {
			for _, task := range s.collections["tasks"][userID] {
				if inProject(task, id) {
					task["projectId"] = nil
				}
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{"message": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request, userID int) {
	var in struct {
		Notes []map[string]any `json:"notes"`
	}

	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var added int

	for _, n := range in.Notes {
		if id, ok := n["id"].(float64); ok && s.find("notes", userID, int(id)) != nil {
			continue
		}

		if s.hasSignature("notes", userID, noteSignature(n)) {
			continue
		}

		delete(n, "id")
		s.insert("notes", userID, n)
		added++
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Backup complete", "added": added})
}

func (s *Server) addUser(username, password, name string) *user {
	u := &user{id: s.nextID, username: username, password: password, name: name}
	s.nextID++
	s.users[username] = u

	return u
}

func (s *Server) issue(u *user, withRefresh, withUser bool) map[string]any {
	token := fmt.Sprintf("access-%d-%d", u.id, s.nextID)
	s.nextID++
	s.access[token] = u.id

	out := map[string]any{"token": token}

	if withRefresh {
		rt := fmt.Sprintf("refresh-%d-%d", u.id, s.nextID)
		s.nextID++
		s.refresh[rt] = u.id
		out["refreshToken"] = rt
	}

	if withUser {
		out["user"] = userJSON(u)
	}

	return out
}

func (s *Server) insert(collection string, userID int, item map[string]any) int {
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[int][]map[string]any)
	}

	it := copyMap(item)
	id := s.nextID
	s.nextID++

	now := s.now()
	it["id"] = id
	it["userId"] = userID

	if _, ok := it["createdAt"]; !ok {
		it["createdAt"] = now
	}

	if _, ok := it["updatedAt"]; !ok {
		it["updatedAt"] = now
	}

	s.collections[collection][userID] = append(s.collections[collection][userID], it)

	return id
}

func (s *Server) find(collection string, userID, id int) map[string]any {
	for _, it := range s.collections[collection][userID] {
		if it["id"] == id {
			return it
		}
	}

	return nil
}

func (s *Server) hasSignature(collection string, userID int, sig string) bool {
	for _, it := range s.collections[collection][userID] {
		if noteSignature(it) == sig {
			return true
		}
	}

	return false
}

func (s *Server) now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func inProject(task map[string]any, projectID int) bool {
	v, ok := task["projectId"]

	return ok && v != nil && fmt.Sprint(v) == strconv.Itoa(projectID)
}

func noteSignature(n map[string]any) string {
	return fmt.Sprintf("%v|%v", n["text"], n["color"])
}

func userJSON(u *user) map[string]any {
	return map[string]any{"id": u.id, "username": u.username, "name": u.name}
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(common.HeaderContentType, common.APIContentType)
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
