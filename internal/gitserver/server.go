// SPDX-License-Identifier: MPL-2.0

package gitserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/http/cgi"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/invowk/tagprobe/internal/core/serverbase"
	"github.com/invowk/tagprobe/internal/failure"
	"github.com/invowk/tagprobe/internal/procexec"
	"github.com/invowk/tagprobe/pkg/types"

	"github.com/charmbracelet/log"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrRepositoryNotFound is returned for repositories the server does not host.
var ErrRepositoryNotFound = errors.New("repository not found")

type (
	// Config holds the immutable configuration of a Server.
	Config struct {
		// StorageRoot holds the bare repositories. It must exist.
		StorageRoot types.StorageDir
		// Host is the bind address (default: 127.0.0.1).
		Host string
		// Port is the port to listen on (0 = auto-select).
		Port types.ListenPort
		// Policy decides every operation. A Policy with no handlers at all
		// means AcceptAll; a partial one rejects the kinds it leaves out.
		Policy Policy
		// AutoCreate initialises a missing repository on its first ref
		// advertisement instead of answering 404.
		AutoCreate bool
		// GitBinary is the git executable (default: "git" from PATH).
		GitBinary string
		// Env is the base environment of git http-backend. Defaults to a
		// hermetic environment rooted next to StorageRoot.
		Env procexec.Env
		// StartupTimeout bounds Start (default: 5s).
		StartupTimeout time.Duration
		// ShutdownTimeout bounds Stop (default: 5s).
		ShutdownTimeout time.Duration
		// Logger receives server logs (default: stderr).
		Logger *log.Logger
	}

	// Server is an ephemeral git server. It is single-use: once stopped,
	// build a new one.
	Server struct {
		*serverbase.Base

		cfg     Config
		root    string
		gitPath string
		backend *cgi.Handler
		logger  *log.Logger

		srvMu    sync.Mutex
		srv      *http.Server
		listener net.Listener

		createMu sync.Mutex

		eventsMu sync.Mutex
		events   []Record
	}
)

// New validates cfg and builds a server. Nothing is bound until Start.
func New(cfg Config) (*Server, error) {
	if err := cfg.Port.Validate(); err != nil {
		return nil, failure.New(failure.ServerStart, "configure git server", err)
	}
	root, err := cfg.StorageRoot.Resolve()
	if err != nil {
		return nil, failure.New(failure.ServerStart, "configure git server", err)
	}

	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Policy.empty() {
		cfg.Policy = AcceptAll()
	}
	if cfg.GitBinary == "" {
		cfg.GitBinary = "git"
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Env == nil {
		cfg.Env = procexec.Hermetic(filepath.Join(filepath.Dir(root), filepath.Base(root)+"-home"))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{})
	}
	logger = logger.WithPrefix("gitserver")

	gitPath, err := exec.LookPath(cfg.GitBinary)
	if err != nil {
		return nil, failure.New(failure.ServerStart, "locate git", err)
	}

	env := cfg.Env.
		With("GIT_PROJECT_ROOT", root).
		With("GIT_HTTP_EXPORT_ALL", "1").
		WithGitConfig("http.receivepack", "true").
		WithGitConfig("http.uploadpack", "true")

	s := &Server{
		Base:    serverbase.NewBase(),
		cfg:     cfg,
		root:    root,
		gitPath: gitPath,
		logger:  logger,
	}
	s.backend = &cgi.Handler{
		Path:   gitPath,
		Args:   []string{"http-backend"},
		Dir:    root,
		Env:    env.Environ(),
		Stderr: logWriter{logger},
	}
	return s, nil
}

// Start binds the listener and blocks until it accepts connections, the
// bind fails, or the startup timeout passes. Failures are ServerStartFailures
// carrying the underlying error.
func (s *Server) Start(ctx context.Context) error {
	if err := s.TransitionToStarting(ctx); err != nil {
		return failure.New(failure.ServerStart, "start git server", err)
	}

	startupCtx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()

	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port.String())
	var lc net.ListenConfig
	ln, err := lc.Listen(startupCtx, "tcp", addr)
	if err != nil {
		s.TransitionToFailed(fmt.Errorf("listen on %s: %w", addr, err))
		return failure.New(failure.ServerStart, "start git server", s.LastError())
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srvMu.Lock()
	s.listener = ln
	s.srv = srv
	s.srvMu.Unlock()

	s.Go(func() { s.serve(srv, ln) })

	select {
	case <-s.StartedChannel():
		s.logger.Info("git server started", "address", ln.Addr().String(), "root", s.root)
		return nil
	case err := <-s.Err():
		s.TransitionToFailed(err)
		return failure.New(failure.ServerStart, "start git server", err)
	case <-startupCtx.Done():
		_ = ln.Close()
		s.TransitionToFailed(fmt.Errorf("startup timeout: %w", startupCtx.Err()))
		return failure.New(failure.ServerStart, "start git server", s.LastError())
	}
}

func (s *Server) serve(srv *http.Server, ln net.Listener) {
	s.TransitionToRunning()
	err := srv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		s.SendError(fmt.Errorf("serve: %w", err))
	}
}

// Stop closes the listener and waits for in-flight requests. Later
// connection attempts are refused. Extra calls are no-ops.
func (s *Server) Stop() error {
	if !s.TransitionToStopping() {
		s.WaitForShutdown()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var err error
	s.srvMu.Lock()
	if s.srv != nil {
		if shutdownErr := s.srv.Shutdown(ctx); shutdownErr != nil && !errors.Is(shutdownErr, net.ErrClosed) {
			err = fmt.Errorf("shutdown git server: %w", shutdownErr)
		}
	}
	if s.listener != nil {
		_ = s.listener.Close() //nolint:errcheck // already closed by Shutdown in the common case
	}
	s.srvMu.Unlock()

	s.WaitForShutdown()
	s.TransitionToStopped()
	s.logger.Info("git server stopped")
	return err
}

// Addr returns the bound host:port, or "" before Start.
func (s *Server) Addr() string {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() types.ListenPort {
	_, portStr, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return types.ListenPort(port)
}

// URL returns the base URL clients use, http://localhost:<port>.
func (s *Server) URL() string {
	return BaseURL("localhost", s.Port())
}

// BaseURL builds http://<host>:<port>.
func BaseURL(host string, port types.ListenPort) string {
	return "http://" + net.JoinHostPort(host, port.String())
}

// StorageRoot returns the absolute storage directory.
func (s *Server) StorageRoot() string { return s.root }

// RepositoryDir maps owner/name onto its bare repository directory.
func (s *Server) RepositoryDir(owner, name string) (string, error) {
	if err := ValidateRepository(owner, name); err != nil {
		return "", err
	}
	return securejoin.SecureJoin(s.root, filepath.Join(owner, name+".git"))
}

// CreateRepository initialises an empty bare repository for owner/name.
// An existing repository is left untouched.
func (s *Server) CreateRepository(owner, name string) (string, error) {
	dir, err := s.RepositoryDir(owner, name)
	if err != nil {
		return "", err
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", fmt.Errorf("create owner directory: %w", err)
	}
	if _, err := git.PlainInit(dir, true); err != nil {
		return "", fmt.Errorf("init %s/%s: %w", owner, name, err)
	}
	s.logger.Info("repository created", "repo", owner+"/"+name)
	return dir, nil
}

// ResolveTag returns the commit hash tag points at in owner/name, peeling
// annotated tags.
func (s *Server) ResolveTag(owner, name, tag string) (string, error) {
	dir, err := s.RepositoryDir(owner, name)
	if err != nil {
		return "", err
	}
	repo, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", fmt.Errorf("%w: %s/%s", ErrRepositoryNotFound, owner, name)
		}
		return "", err
	}
	ref, err := repo.Reference(plumbing.NewTagReferenceName(tag), true)
	if err != nil {
		return "", fmt.Errorf("resolve tag %s: %w", tag, err)
	}
	hash := ref.Hash()
	if annotated, err := repo.TagObject(hash); err == nil {
		hash = annotated.Target
	}
	return hash.String(), nil
}

// Events returns every policy decision made so far, oldest first.
func (s *Server) Events() []Record {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	return slices.Clone(s.events)
}

// ServeHTTP classifies the request, applies the policy and hands accepted
// requests to git http-backend.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt, err := classify(r)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, ErrInvalidRepository) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	dir, err := s.RepositoryDir(rt.owner, rt.name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events := []Event{{Op: rt.op, Owner: rt.owner, Name: rt.name, Dir: dir}}
	if r.Method == http.MethodPost {
		body, err := bufferBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if rt.service == "git-receive-pack" {
			if events, err = receiveEvents(rt, dir, body, r.Header.Get("Content-Encoding")); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
	}

	for _, ev := range events {
		d := s.cfg.Policy.Decide(r.Context(), ev)
		s.record(ev, d)
		if !d.Accepted {
			s.logger.Warn("rejected", "op", ev.Op, "repo", ev.Repo(), "ref", ev.Ref, "reason", d.Reason)
			http.Error(w, fmt.Sprintf("%s rejected: %s", ev.Op, d.Reason), http.StatusForbidden)
			return
		}
		s.logger.Debug("accepted", "op", ev.Op, "repo", ev.Repo(), "ref", ev.Ref)
	}

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if !s.cfg.AutoCreate || rt.op != OpInfo {
			http.Error(w, fmt.Sprintf("%s: %s/%s", ErrRepositoryNotFound, rt.owner, rt.name), http.StatusNotFound)
			return
		}
		if _, err := s.CreateRepository(rt.owner, rt.name); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	s.backend.ServeHTTP(w, r)
}

func (s *Server) record(ev Event, d Decision) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events = append(s.events, Record{Event: ev, Decision: d})
}

// receiveEvents turns the commands of a receive-pack request into one event
// per ref update. A request without commands still counts as a push.
func receiveEvents(rt route, dir string, body []byte, encoding string) ([]Event, error) {
	updates, err := decodeUpdates(body, encoding)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return []Event{{Op: OpPush, Owner: rt.owner, Name: rt.name, Dir: dir}}, nil
	}
	events := make([]Event, 0, len(updates))
	for _, u := range updates {
		events = append(events, Event{
			Op:      u.kind(),
			Owner:   rt.owner,
			Name:    rt.name,
			Dir:     dir,
			Ref:     u.ref,
			OldHash: u.oldHash,
			NewHash: u.newHash,
		})
	}
	return events, nil
}

// logWriter forwards http-backend stderr to the server logger.
type logWriter struct{ logger *log.Logger }

func (w logWriter) Write(p []byte) (int, error) {
	w.logger.Debug("http-backend", "stderr", string(p))
	return len(p), nil
}

var _ io.Writer = logWriter{}
