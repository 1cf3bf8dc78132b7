package main

import (
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/kropbot/kropbot/internal/tui/app"
	"github.com/kropbot/kropbot/internal/tui/client"
)

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL of the kropbot server")
	user := flag.String("user", "", "Controller id to vote as (default: a fresh UUID)")
	helpStyle := flag.String("style", "dark", "Help rendering style (dark, light, notty)")
	logFile := flag.String("log", "", "Write client logs to this file (default: discarded)")
	flag.Parse()

	// The alt screen owns the terminal, so logs go to a file or nowhere.
	log.SetOutput(io.Discard)
	if *logFile != "" {
		f, err := tea.LogToFile(*logFile, "kropbot-tui")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
	}

	id := strings.TrimSpace(*user)
	if id == "" {
		id = uuid.NewString()
	}

	ws := client.NewWSClient(*wsURL, id)
	httpClient := client.NewHTTPClient(deriveHTTPBase(*wsURL))

	m := app.New(ws, httpClient, *helpStyle)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// deriveHTTPBase converts ws://host:port/ws → http://host:port
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "http://127.0.0.1:8080"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
