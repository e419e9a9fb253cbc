// Command ask is a terminal client for the finsight service. It sends one
// question per invocation, renders the streamed step events, and prints the
// final answer to stdout. Pass -session to continue a conversation.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type wireEvent struct {
	Type    string   `json:"type"`
	Step    string   `json:"step"`
	Tickers []string `json:"ticker"`
	Answer  string   `json:"answer"`
	Message string   `json:"message"`
}

func main() {
	var (
		baseURL   = flag.String("url", envOrDefault("FINSIGHT_URL", "http://localhost:8080"), "service base URL")
		sessionID = flag.String("session", "", "session handle to continue a conversation")
		timeout   = flag.Duration("timeout", 2*time.Minute, "overall request timeout")
		quiet     = flag.Bool("quiet", false, "suppress step progress on stderr")
	)
	flag.Parse()

	question := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if question == "" {
		fmt.Fprintln(os.Stderr, "usage: ask [-url URL] [-session ID] [-quiet] question...")
		os.Exit(2)
	}

	body, err := json.Marshal(map[string]string{
		"session_id": *sessionID,
		"message":    question,
	})
	if err != nil {
		fatalf("encode request: %v", err)
	}

	endpoint := strings.TrimRight(*baseURL, "/") + "/ask-session-stream"
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := (&http.Client{Timeout: *timeout}).Do(req)
	if err != nil {
		fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fatalf("service returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	if sid := resp.Header.Get("X-Session-ID"); sid != "" && !*quiet {
		fmt.Fprintf(os.Stderr, "session: %s\n", sid)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt wireEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "status":
			if !*quiet {
				fmt.Fprintf(os.Stderr, "[%s]\n", evt.Step)
			}
		case "data":
			if !*quiet && len(evt.Tickers) > 0 {
				fmt.Fprintf(os.Stderr, "tickers: %s\n", strings.Join(evt.Tickers, ", "))
			}
		case "done":
			fmt.Println(evt.Answer)
			return
		case "error":
			fatalf("pipeline error: %s", evt.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		fatalf("stream read failed: %v", err)
	}
	fatalf("stream ended without an answer")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
