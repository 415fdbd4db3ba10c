package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fatih/color"
)

// Server is a local preview server for generated digest output. It serves
// the output directory as static files so feed readers and browsers can be
// pointed at the digests before publishing them anywhere.
type Server struct {
	dir     string
	host    string
	port    int
	httpSrv *http.Server
}

// New creates a preview server over the given output directory.
func New(dir, host string, port int) *Server {
	return &Server{dir: dir, host: host, port: port}
}

// Start prints the available feeds and serves the output directory until
// the server is shut down or fails.
func (s *Server) Start() error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("output directory %s not found, run a digest first: %w", s.dir, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(s.dir)))

	handler := recoveryMiddleware(loggingMiddleware(noCacheMiddleware(mux)))

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.printFeeds()
	slog.Info("Starting preview server", "addr", addr, "dir", s.dir)
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server. Safe to call before Start, e.g. when
// a signal lands during startup.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// printFeeds lists every feed file in the output directory with its local
// URL, for pasting into a feed reader.
func (s *Server) printFeeds() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}

	var feeds []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".json", ".xml", ".atom":
			feeds = append(feeds, e.Name())
		}
	}
	sort.Strings(feeds)

	heading := color.New(color.FgCyan, color.Bold)
	link := color.New(color.FgGreen)

	heading.Printf("\nServing digests from %s\n\n", s.dir)
	for _, name := range feeds {
		link.Printf("  http://%s:%d/%s\n", displayHost(s.host), s.port, name)
	}
	fmt.Println()
}

func displayHost(host string) string {
	if host == "" || host == "0.0.0.0" {
		return "localhost"
	}
	return host
}
