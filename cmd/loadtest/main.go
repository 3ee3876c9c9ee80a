// Loadtest drives the server with many concurrent conversations: each pair
// of websocket clients joins one conversation, one side sends messages and
// both count the events they get back.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	baseURL  = flag.String("base", "http://localhost:8080", "server base URL")
	wsURL    = flag.String("ws", "ws://localhost:8080/ws", "websocket URL")
	pairs    = flag.Int("pairs", 50, "concurrent conversation pairs")
	msgCount = flag.Int("messages", 10, "messages per conversation")
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var received atomic.Int64

func main() {
	flag.Parse()
	log.Printf("starting load test: %d pairs, %d messages each", *pairs, *msgCount)

	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}
	wg.Wait()

	log.Printf("load test complete, %d events received", received.Load())
}

func runPair(pairID int) {
	convID := createConversation(fmt.Sprintf("loadtest-user-%d", pairID))
	if convID == "" {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go runClient(&wsWg, convID, true)
	go runClient(&wsWg, convID, false)
	wsWg.Wait()
}

func createConversation(userID string) string {
	body, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(*baseURL+"/conversations", "application/json", bytes.NewReader(body))
	if err != nil || resp.StatusCode != http.StatusCreated {
		log.Printf("create conversation failed: %v", err)
		return ""
	}
	defer resp.Body.Close()

	var conv struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		log.Printf("decode conversation failed: %v", err)
		return ""
	}
	return conv.ID
}

func runClient(wg *sync.WaitGroup, convID string, sender bool) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(*wsURL, nil)
	if err != nil {
		log.Printf("ws connect failed: %v", err)
		return
	}
	defer conn.Close()

	send := func(event string, data any) error {
		raw, _ := json.Marshal(data)
		return conn.WriteJSON(envelope{Event: event, Data: raw})
	}

	if err := send("join_conversation", map[string]string{"conversationId": convID}); err != nil {
		log.Printf("join failed: %v", err)
		return
	}

	// Drain incoming events in the background.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			received.Add(1)
		}
	}()

	if sender {
		for i := 0; i < *msgCount; i++ {
			err := send("send_message", map[string]string{
				"conversationId": convID,
				"content":        fmt.Sprintf("loadtest message %d", i),
			})
			if err != nil {
				log.Printf("send failed: %v", err)
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	// Leave time for replies to arrive before tearing down.
	select {
	case <-done:
	case <-time.After(10 * time.Second):
	}
}
