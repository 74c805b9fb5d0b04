// Package mirrortest is an in-process double of the mirror service's
// /api surface, faithful to the real contracts: salted-digest login
// with bcrypt verification, opaque bearer tokens, the storage file
// tree, the singleton config with its keep-when-omitted secrets, and
// the sqlite-backed IP blacklist. Tests run the console against this
// server over real HTTP.
package mirrortest

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/leemwood/lemwood-mirror/internal/auth"
)

// Launcher mirrors one upstream source row of the config record.
type Launcher struct {
	Name         string `json:"name"`
	SourceURL    string `json:"source_url"`
	RepoSelector string `json:"repo_selector"`
}

// ConfigRecord is the server's copy of the runtime configuration. It
// carries the same wire shape the service uses; the write-only secrets
// are stored separately and never appear here.
type ConfigRecord struct {
	ServerAddress          string     `json:"server_address,omitempty"`
	ServerPort             int        `json:"server_port"`
	CheckCron              string     `json:"check_cron"`
	StoragePath            string     `json:"storage_path"`
	DownloadURLBase        string     `json:"download_url_base,omitempty"`
	AdminUser              string     `json:"admin_user"`
	ProxyURL               string     `json:"proxy_url"`
	AssetProxyURL          string     `json:"asset_proxy_url"`
	ConcurrentDownloads    int        `json:"concurrent_downloads"`
	DownloadTimeoutMinutes int        `json:"download_timeout_minutes"`
	XgetEnabled            bool       `json:"xget_enabled"`
	XgetDomain             string     `json:"xget_domain"`
	Launchers              []Launcher `json:"launchers"`
}

// Options configure a test server.
type Options struct {
	Username string
	Password string // raw; the server stores bcrypt(digest(password, salt))
	Salt     string
	// FilesRoot is the directory served as the storage tree.
	FilesRoot string
	// DBPath is the sqlite file backing the blacklist.
	DBPath string
}

// Server implements the admin API contracts.
type Server struct {
	mu           sync.Mutex
	username     string
	passwordHash string
	salt         string
	record       ConfigRecord
	githubToken  string
	tokens       map[string]bool
	filesRoot    string
	store        *blacklistStore
	router       chi.Router
}

// New builds a server. Close it to release the blacklist store.
func New(opts Options) (*Server, error) {
	digest := auth.Digest(opts.Password, opts.Salt)
	hash, err := auth.HashPassword(digest)
	if err != nil {
		return nil, err
	}
	store, err := openBlacklistStore(opts.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		username:     opts.Username,
		passwordHash: hash,
		salt:         opts.Salt,
		tokens:       make(map[string]bool),
		filesRoot:    opts.FilesRoot,
		store:        store,
		record: ConfigRecord{
			ServerPort:             8080,
			CheckCron:              "*/10 * * * *",
			StoragePath:            opts.FilesRoot,
			AdminUser:              opts.Username,
			ConcurrentDownloads:    3,
			DownloadTimeoutMinutes: 30,
		},
	}
	s.setupRouter()
	return s, nil
}

func (s *Server) Close() error {
	return s.store.Close()
}

// Router returns the HTTP handler, ready for httptest.NewServer.
func (s *Server) Router() http.Handler {
	return s.router
}

// Record returns a copy of the current config record.
func (s *Server) Record() ConfigRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// GithubToken reports the stored access token, for asserting the
// keep-when-omitted semantics.
func (s *Server) GithubToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.githubToken
}

// CheckPassword reports whether the raw password still matches the
// stored credential.
func (s *Server) CheckPassword(password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return auth.CheckPasswordHash(auth.Digest(password, s.salt), s.passwordHash)
}

// RevokeTokens invalidates every issued token, simulating a restart or
// expiry; the next authenticated call gets a 401.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]bool)
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/auth/info", s.handleAuthInfo)
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Get("/admin/config", s.handleGetConfig)
			r.Post("/admin/config", s.handlePostConfig)
			r.Get("/admin/files", s.handleListFiles)
			r.Post("/admin/files", s.handleUploadFile)
			r.Delete("/admin/files", s.handleDeleteFile)
			r.Get("/admin/files/download", s.handleDownloadFile)
			r.Get("/admin/blacklist", s.handleListBlacklist)
			r.Post("/admin/blacklist", s.handleAddBlacklist)
			r.Delete("/admin/blacklist", s.handleRemoveBlacklist)
		})
	})

	s.router = r
}

// requireToken accepts the raw token from the Authorization header,
// falling back to the admin_token cookie as the service does.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if token == "" {
			if cookie, err := r.Cookie("admin_token"); err == nil {
				token = cookie.Value
			}
		}

		s.mu.Lock()
		valid := token != "" && s.tokens[token]
		s.mu.Unlock()

		if !valid {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAuthInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]string{
		"username": s.username,
		"salt":     s.salt,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Username != s.username || !auth.CheckPasswordHash(req.Password, s.passwordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token := uuid.NewString()
	s.tokens[token] = true
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Secrets are never returned
	json.NewEncoder(w).Encode(s.record)
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfigRecord
		AdminPassword string `json:"admin_password"`
		GithubToken   string `json:"github_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// An omitted secret means "leave unchanged"
	if req.AdminPassword != "" {
		hash, err := auth.HashPassword(req.AdminPassword)
		if err != nil {
			http.Error(w, "Failed to hash password", http.StatusInternalServerError)
			return
		}
		s.passwordHash = hash
	}
	if req.GithubToken != "" {
		s.githubToken = req.GithubToken
	}
	s.record = req.ConfigRecord

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Config updated")
}

// resolve maps a request path into the storage tree, refusing
// traversal outside it.
func (s *Server) resolve(rel string) (string, bool) {
	full := filepath.Join(s.filesRoot, filepath.FromSlash(rel))
	absBase, err := filepath.Abs(s.filesRoot)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(full)
	if err != nil {
		return "", false
	}
	if absPath != absBase && !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", false
	}
	return absPath, true
}

type fileEntry struct {
	Name    string    `json:"name"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	full, ok := s.resolve(r.URL.Query().Get("path"))
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	dirEntries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "Directory not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	entries := make([]fileEntry, 0, len(dirEntries))
	for _, e := range dirEntries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		entries = append(entries, fileEntry{
			Name:    e.Name(),
			IsDir:   e.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	json.NewEncoder(w).Encode(entries)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if rel == "" {
		http.Error(w, "Missing path", http.StatusBadRequest)
		return
	}
	full, ok := s.resolve(rel)
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Failed to get file: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		http.Error(w, "Failed to create directory", http.StatusInternalServerError)
		return
	}
	// Existing files are replaced silently
	dst, err := os.Create(full)
	if err != nil {
		http.Error(w, "Failed to create file: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "File uploaded")
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if rel == "" {
		http.Error(w, "Missing path", http.StatusBadRequest)
		return
	}
	full, ok := s.resolve(rel)
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	absBase, _ := filepath.Abs(s.filesRoot)
	if full == absBase {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if err := os.RemoveAll(full); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if rel == "" {
		http.Error(w, "Missing path", http.StatusBadRequest)
		return
	}
	full, ok := s.resolve(rel)
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(full)+`"`)
	http.ServeFile(w, r, full)
}

func (s *Server) handleListBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []blacklistRow{}
	}
	json.NewEncoder(w).Encode(entries)
}

func (s *Server) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP     string `json:"ip"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if net.ParseIP(req.IP) == nil {
		http.Error(w, "invalid ip address", http.StatusBadRequest)
		return
	}
	if err := s.store.Add(req.IP, req.Reason); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		http.Error(w, "Missing ip parameter", http.StatusBadRequest)
		return
	}
	if err := s.store.Remove(ip); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
