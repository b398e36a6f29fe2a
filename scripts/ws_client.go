// Package main runs a demo client: it subscribes to planning events over the
// websocket, starts an auto-planning job and prints events until the job finishes.
//
//	go run ./scripts/ws_client.go -date 2025-03-03 -orders o-1001,o-1002
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	host := flag.String("host", "localhost:"+port, "coordinator host:port")
	user := flag.String("user", "demo", "requester id (dev auth)")
	date := flag.String("date", time.Now().AddDate(0, 0, 1).Format("2006-01-02"), "planning date")
	orders := flag.String("orders", "o-1001,o-1002,o-1003", "comma separated order ids")
	wait := flag.Duration("wait", 30*time.Second, "how long to wait for the job to finish")
	flag.Parse()

	hdr := http.Header{}
	hdr.Set("X-User-Id", *user)
	hdr.Set("X-Role", "dispatcher")

	u := url.URL{Scheme: "ws", Host: *host, Path: "/v1/auto-planning/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal().Err(err).Msg("dial")
	}
	defer func() { _ = c.Close() }()

	body, _ := json.Marshal(map[string]any{"date": *date, "orderIds": strings.Split(*orders, ",")})
	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/v1/auto-planning", *host), bytes.NewReader(body))
	req.Header = hdr.Clone()
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal().Err(err).Msg("auto-plan request")
	}
	var started map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&started)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatal().Int("status", resp.StatusCode).Interface("body", started).Msg("auto-plan rejected")
	}
	id, _ := started["planningId"].(string)
	log.Info().Str("planning_id", id).Msg("job started")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var ev event
			if err := c.ReadJSON(&ev); err != nil {
				log.Warn().Err(err).Msg("read")
				return
			}
			log.Info().Str("type", ev.Type).Interface("data", ev.Data).Msg("event")
			if ev.Data["planningId"] == id && (ev.Type == "planning.completed" || ev.Type == "planning.failed") {
				return
			}
		}
	}()

	select {
	case <-time.After(*wait):
		log.Warn().Msg("timed out waiting for the job")
	case <-done:
	}
}
