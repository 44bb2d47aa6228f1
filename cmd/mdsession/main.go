// Command mdsession is a minimal example wiring SessionClient and
// MacroEngine together against a live mdsession-protocol server. It is not
// a full CLI (no flag parsing beyond env vars); it exists to show the
// pieces connected end to end.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shiv248/mdsession/internal/transport"
	"github.com/shiv248/mdsession/pkg/logger"
	"github.com/shiv248/mdsession/pkg/macro"
	"github.com/shiv248/mdsession/pkg/session"
	"github.com/shiv248/mdsession/pkg/store"
)

// Config holds the environment-driven settings for one session.
type Config struct {
	ServerURL string
	Document  string
	UserName  string
	StorePath string
}

func loadConfig() Config {
	return Config{
		ServerURL: getEnv("MDSESSION_URL", "ws://localhost:3030/api/socket/"),
		Document:  getEnv("MDSESSION_DOC", "scratch"),
		UserName:  getEnv("MDSESSION_USER", "anonymous"),
		StorePath: getEnv("MDSESSION_STORE", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func main() {
	logger.Init()
	cfg := loadConfig()

	var journal *store.Store
	if cfg.StorePath != "" {
		var err error
		journal, err = store.Open(cfg.StorePath)
		if err != nil {
			logger.Error("mdsession: open store: %v", err)
			os.Exit(1)
		}
		defer journal.Close()
	}

	tr := transport.NewWebSocketTransport(cfg.ServerURL + cfg.Document)
	sess := session.New(tr, session.Config{
		Document: cfg.Document,
		UserName: cfg.UserName,
		Store:    journal,
		RateLimit: session.RateLimitConfig{
			Burst: getEnvInt("MDSESSION_BURST", 20),
		},
	})

	sess.OnChange(func(ev session.ChangeEvent) {
		if ev.Local {
			return
		}
		logger.Debug("mdsession: remote change from client %d", ev.AuthorID)
	})

	engine := macro.New(sess)
	engine.AddTextMacro("TODAY", time.Now().Format("2006-01-02"), true)
	engine.Start()
	defer engine.Stop()

	if err := sess.Connect(); err != nil {
		logger.Error("mdsession: connect: %v", err)
		os.Exit(1)
	}
	defer sess.Close()

	logger.Info("mdsession: joined %q as %q", cfg.Document, cfg.UserName)
	runREPL(sess)
}

// runREPL reads lines of the form "insert <pos> <text>" or "delete <pos>
// <count>" from stdin and applies them, printing the resulting document.
// It exits on EOF or the "quit" command.
func runREPL(sess *session.Session) {
	scanner := bufio.NewScanner(os.Stdin)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		sess.Close()
		os.Exit(0)
	}()

	for scanner.Scan() {
		line := scanner.Text()
		if line == "quit" {
			return
		}
		if err := applyCommand(sess, line); err != nil {
			fmt.Fprintf(os.Stderr, "mdsession: %v\n", err)
			continue
		}
		fmt.Println(sess.Document())
	}
}

func applyCommand(sess *session.Session, line string) error {
	var verb string
	var a, b int
	var text string
	n, _ := fmt.Sscanf(line, "%s %d", &verb, &a)
	if n < 2 {
		return fmt.Errorf("unrecognized command %q", line)
	}
	switch verb {
	case "insert":
		fmt.Sscanf(line, "insert %d %s", &a, &text)
		return sess.Insert(uint64(a), text)
	case "delete":
		fmt.Sscanf(line, "delete %d %d", &a, &b)
		return sess.Delete(uint64(a), uint64(b))
	default:
		return fmt.Errorf("unrecognized command %q", line)
	}
}
