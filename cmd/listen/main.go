package main

import (
	"bytes"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
)

// listen logs in and prints every envelope pushed to the user's socket.
func main() {
	addr := flag.String("addr", "localhost:8080", "Server host:port")
	login := flag.String("login", "admin", "Login name")
	password := flag.String("password", "password", "Password")
	admin := flag.Bool("admin", false, "Open the admin-only socket")
	flag.Parse()

	token, err := loginToken(*addr, *login, *password)
	if err != nil {
		log.Fatal(err)
	}

	path := "/ws/events"
	if *admin {
		path = "/ws/admin"
	}
	u := url.URL{Scheme: "ws", Host: *addr, Path: path}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), http.Header{"Authorization": []string{"Bearer " + token}})
	if err != nil {
		log.Fatal("dial: ", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}()

	header := color.New(color.BgBlack, color.FgGreen).Render(fmt.Sprintf(" listening on %s as %s ", path, *login))
	fmt.Println(header)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				color.Yellow.Printf("closed %d %s\n", closeErr.Code, closeErr.Text)
				return
			}
			log.Fatal("read: ", err)
		}
		var envelope domain.EventEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			color.Red.Printf("undecodable frame: %s\n", payload)
			continue
		}
		printEnvelope(envelope)
	}
}

func printEnvelope(e domain.EventEnvelope) {
	style := color.Cyan
	switch {
	case strings.HasPrefix(e.Type, "message-"):
		style = color.Green
	case strings.HasPrefix(e.Type, "user-"):
		style = color.Magenta
	}
	fmt.Printf("%s %s %s\n", e.Timestamp.Local().Format("15:04:05"), style.Sprint(e.Type), e.Payload)
}

func loginToken(addr, login, password string) (string, error) {
	body, err := json.Marshal(chat.LoginQuery{LoginName: login, Password: password})
	if err != nil {
		return "", err
	}
	resp, err := http.Post("http://"+addr+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	var out chat.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("login response: %w", err)
	}
	if !out.Success {
		return "", fmt.Errorf("login refused for %s", login)
	}
	return out.Token, nil
}
