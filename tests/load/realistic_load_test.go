package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"parley/internal/core/domain"

	"github.com/gorilla/websocket"
)

type LoadTestClient struct {
	userID         domain.UserID
	conversationID domain.ConversationID
	wsConn         *websocket.Conn
}

func NewLoadTestClient(userID domain.UserID, conversationID domain.ConversationID) *LoadTestClient {
	return &LoadTestClient{
		userID:         userID,
		conversationID: conversationID,
	}
}

func (c *LoadTestClient) Connect(relayURL string) error {
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?user_id=%s", relayURL, c.userID), nil)
	if err != nil {
		return err
	}
	c.wsConn = conn

	// Drain presence traffic so the server's send queue never fills
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *LoadTestClient) sendTyping(event string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"conversationId": c.conversationID,
	})
	if err != nil {
		return err
	}
	return c.wsConn.WriteJSON(map[string]interface{}{
		"event":   event,
		"payload": json.RawMessage(payload),
	})
}

func (c *LoadTestClient) TypeBurst() error {
	if err := c.sendTyping("typing:start"); err != nil {
		return err
	}
	time.Sleep(time.Duration(500+rand.Intn(2500)) * time.Millisecond)
	return c.sendTyping("typing:stop")
}

func RunRealisticLoadTest() {
	const (
		numUsers         = 50
		numConversations = 10
		relayURL         = "ws://localhost:8080/ws"
		testDuration     = 5 * time.Minute
	)

	var wg sync.WaitGroup
	clients := make([]*LoadTestClient, 0)

	for i := 0; i < numUsers; i++ {
		client := NewLoadTestClient(
			domain.UserID(fmt.Sprintf("load-user-%d", i)),
			domain.ConversationID(fmt.Sprintf("load-conv-%d", i%numConversations)),
		)
		clients = append(clients, client)
	}

	// Connect all clients
	for _, client := range clients {
		wg.Add(1)
		go func(c *LoadTestClient) {
			defer wg.Done()

			if err := c.Connect(relayURL); err != nil {
				log.Printf("Failed to connect client %s: %v", c.userID, err)
				return
			}

			log.Printf("Client %s connected", c.userID)
		}(client)
	}

	wg.Wait()
	log.Printf("All clients connected. Running test for %v", testDuration)

	stop := make(chan struct{})
	time.AfterFunc(testDuration, func() { close(stop) })
	for _, client := range clients {
		wg.Add(1)
		go func(c *LoadTestClient) {
			defer wg.Done()

			if c.wsConn == nil {
				return
			}
			for {
				select {
				case <-stop:
					return
				default:
					if err := c.TypeBurst(); err != nil {
						log.Printf("Client %s typing failed: %v", c.userID, err)
						return
					}
					time.Sleep(time.Duration(1000+rand.Intn(4000)) * time.Millisecond)
				}
			}
		}(client)
	}

	wg.Wait()
	log.Println("Load test completed")
}

func main() {
	RunRealisticLoadTest()
}
