// Package main local web tool for auto-refractor .dat files.
// Double-click it and the browser opens on the page; nothing to install.
package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/ojos-clinic/go-autoref-parser/datfs"
	"github.com/ojos-clinic/go-autoref-parser/internal/config"
	"github.com/ojos-clinic/go-autoref-parser/internal/logger"
)

//go:embed index.html
var indexHTML embed.FS

func main() {
	configPath := pflag.StringP("config", "c", "", "config file (default: autoref.yaml in . or ~/.autoref)")
	noBrowser := pflag.Bool("no-browser", false, "do not open the browser")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewStdLogger("autoref-web ", logger.ParseLevel(cfg.Server.LogLevel))
	if cfg.File != "" {
		log.Info("using config %s", cfg.File)
	}

	linkPath := cfg.Folders.Links
	if linkPath == "" {
		linkPath = datfs.DefaultLinkPath()
	}
	srv := newServer(cfg, log, datfs.NewLinkStore(linkPath))

	listener, err := listen(cfg.Server.Addr)
	if err != nil {
		log.Error("listen: %v", err)
		os.Exit(1)
	}
	url := "http://" + listener.Addr().String()

	server := &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server: %v", err)
		}
	}()

	fmt.Printf("Auto-refractor tool running\n")
	fmt.Printf("Open in your browser: %s\n", url)
	fmt.Printf("Press Ctrl+C to quit\n\n")
	if !*noBrowser {
		openBrowser(url)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown: %v", err)
	}
}

// listen binds addr; a zero port picks one of the usual ports or any free one.
func listen(addr string) (net.Listener, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("server.addr %q: %w", addr, err)
	}
	if port == "" || port == "0" {
		port = strconv.Itoa(findAvailablePort(host))
	}
	return net.Listen("tcp", net.JoinHostPort(host, port))
}

// findAvailablePort tries the usual ports first.
func findAvailablePort(host string) int {
	ports := []int{8080, 8081, 8082, 3000, 3001, 5000}
	for _, port := range ports {
		if isPortAvailable(host, port) {
			return port
		}
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 8080
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func isPortAvailable(host string, port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// openBrowser opens the default browser.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default: // Linux
		cmd = exec.Command("xdg-open", url)
	}
	cmd.Start()
}
