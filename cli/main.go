// Package main provides a simple CLI client for driving the call engine's
// control API: start a session from the terminal, type turns, watch what
// the callee says back.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"
)

// apiError is a non-2xx response from the control API.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// SessionInfo is the summary the control API returns for a session.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	Status    string `json:"status"`
}

// Client talks to the control API with the bearer token applied.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates a client for the control API at base.
func NewClient(base, token string) *Client {
	return &Client{
		base:  strings.TrimSuffix(base, "/"),
		token: token,
		// Voice turns block server side while the callee is listened to.
		http: &http.Client{Timeout: 3 * time.Minute},
	}
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Health checks the engine is reachable before doing anything else.
func (c *Client) Health() error {
	return c.do(http.MethodGet, "/health", nil, nil)
}

// CreateSession starts a new voice or chat session.
func (c *Client) CreateSession(phone, mode, greeting, first string) (*SessionInfo, error) {
	req := map[string]string{
		"phone_number": phone,
		"mode":         mode,
	}
	if greeting != "" {
		req["greeting"] = greeting
	}
	if first != "" {
		req["first_message"] = first
	}

	var info SessionInfo
	if err := c.do(http.MethodPost, "/v1/sessions", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetSession fetches the session summary.
func (c *Client) GetSession(id string) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.do(http.MethodGet, "/v1/sessions/"+id, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SessionJSON fetches the full session document for pretty printing.
func (c *Client) SessionJSON(id string) ([]byte, error) {
	var raw map[string]interface{}
	if err := c.do(http.MethodGet, "/v1/sessions/"+id, nil, &raw); err != nil {
		return nil, err
	}
	return json.MarshalIndent(raw, "", "  ")
}

// TurnResult is what one continue round reports back. Voice turns fill
// Heard and TimedOut; chat turns fill Received and the window fields.
type TurnResult struct {
	Mode        string   `json:"mode"`
	Heard       string   `json:"heard"`
	TimedOut    bool     `json:"timed_out"`
	Received    []string `json:"received"`
	RemainingMS int64    `json:"chat_window_remaining_ms"`
}

// Continue sends one line through whichever pipeline the session is in
// and returns what came back.
func (c *Client) Continue(id, text string, listenMS int) (*TurnResult, error) {
	req := map[string]interface{}{
		"text":              text,
		"listen_timeout_ms": listenMS,
	}
	var resp TurnResult
	if err := c.do(http.MethodPost, "/v1/sessions/"+id+"/continue", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EndSession ends the session, optionally delivering a farewell first.
func (c *Client) EndSession(id, farewell string) error {
	req := map[string]string{}
	if farewell != "" {
		req["farewell"] = farewell
	}
	return c.do(http.MethodPost, "/v1/sessions/"+id+"/end", req, nil)
}

// ListSessions returns every live session.
func (c *Client) ListSessions() ([]SessionInfo, error) {
	var resp struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := c.do(http.MethodGet, "/v1/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "control API address")
	token := flag.String("token", os.Getenv("CONTROL_API_TOKEN"), "bearer token for the control API")
	phone := flag.String("phone", "", "phone number to contact, E.164")
	mode := flag.String("mode", "voice", "session mode: voice or chat")
	greeting := flag.String("greeting", "", "first thing the agent says on pickup")
	sessionID := flag.String("session", "", "attach to an existing session instead of starting one")
	listenMS := flag.Int("listen-ms", 15000, "how long each voice turn waits for an answer")
	flag.Parse()

	log.SetFlags(log.Ltime)

	client := NewClient(*addr, *token)
	if err := client.Health(); err != nil {
		log.Fatalf("Engine not reachable at %s: %v", *addr, err)
	}

	id := *sessionID
	if id == "" {
		if *phone == "" {
			log.Fatal("Either -phone or -session is required")
		}
		info, err := client.CreateSession(*phone, *mode, *greeting, "")
		if err != nil {
			log.Fatalf("Failed to start session: %v", err)
		}
		id = info.SessionID
		fmt.Printf("Session %s started (%s)\n", id, info.Mode)
	} else {
		info, err := client.GetSession(id)
		if err != nil {
			log.Fatalf("Failed to attach: %v", err)
		}
		fmt.Printf("Attached to %s (%s, %s)\n", info.SessionID, info.Mode, info.Status)
	}

	fmt.Println("\nType a line to send it as a turn.")
	fmt.Println("Commands: /status /sessions /end [farewell] /quit")

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		default:
			if !scanner.Scan() {
				return
			}

			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}

			switch {
			case input == "/quit":
				fmt.Println("Bye!")
				return
			case input == "/status":
				data, err := client.SessionJSON(id)
				if err != nil {
					log.Printf("Status failed: %v", err)
					continue
				}
				fmt.Println(string(data))
			case input == "/sessions":
				sessions, err := client.ListSessions()
				if err != nil {
					log.Printf("List failed: %v", err)
					continue
				}
				for _, s := range sessions {
					fmt.Printf("%s  %-5s  %s\n", s.SessionID, s.Mode, s.Status)
				}
			case strings.HasPrefix(input, "/end"):
				farewell := strings.TrimSpace(strings.TrimPrefix(input, "/end"))
				if err := client.EndSession(id, farewell); err != nil {
					log.Printf("End failed: %v", err)
					continue
				}
				fmt.Println("Session ended")
				return
			default:
				if !turn(client, id, input, *listenMS) {
					return
				}
			}
		}
	}
}

// turn sends one line through whichever pipeline the session is in and
// reports whether the conversation can continue.
func turn(client *Client, id, input string, listenMS int) bool {
	res, err := client.Continue(id, input, listenMS)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			switch apiErr.Status {
			case http.StatusNotFound:
				fmt.Println("Session is gone")
				return false
			case http.StatusGone:
				fmt.Println("Call ended")
				return false
			}
		}
		log.Printf("Turn failed: %v", err)
		return true
	}

	if res.Mode == "chat" {
		for _, m := range res.Received {
			fmt.Printf("<< %s\n", m)
		}
		if res.RemainingMS > 0 && res.RemainingMS < int64(time.Hour/time.Millisecond) {
			left := (time.Duration(res.RemainingMS) * time.Millisecond).Round(time.Second)
			fmt.Printf("(chat window closes in %s)\n", left)
		}
		return true
	}

	if res.TimedOut {
		fmt.Println("(no answer before the listen timeout)")
		return true
	}
	fmt.Printf("<< %s\n", res.Heard)
	return true
}
