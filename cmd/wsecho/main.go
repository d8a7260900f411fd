// Package main is a minimal command-line WebSocket echo client built
// on gowsc: it connects to a server, relays stdin lines as outbound
// text messages, and prints whatever comes back.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrelws/gowsc"
)

func main() {
	url := flag.String("url", "ws://localhost:9001/echo", "WebSocket URL to connect to")
	pingInterval := flag.Duration("ping", 20*time.Second, "ping interval, 0 to disable")
	connectTimeout := flag.Duration("connect-timeout", 5*time.Second, "dial+handshake timeout")
	flag.Parse()

	opts := gowsc.NewOptions()
	if err := opts.SetURL(*url); err != nil {
		log.Fatalf("wsecho: %v", err)
	}
	opts.SetPingInterval(*pingInterval)
	opts.SetConnectionTimeout(*connectTimeout)

	conn, err := gowsc.NewConn(opts)
	if err != nil {
		log.Fatalf("wsecho: %v", err)
	}

	conn.SetOpenCallback(func() {
		log.Printf("connected to %s", *url)
	})
	conn.SetCloseCallback(func(code gowsc.CloseCode, reason string) {
		log.Printf("closed: %d %s", code, reason)
	})
	conn.SetErrorCallback(func(code int, message string) {
		log.Printf("error %d: %s", code, message)
	})
	conn.SetMessageCallback(func(text string) {
		fmt.Printf("< %s\n", text)
	})
	conn.SetBinaryCallback(func(data []byte) {
		fmt.Printf("< [%d binary bytes]\n", len(data))
	})

	conn.Connect()
	defer conn.Disconnect()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		conn.Disconnect()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if !conn.SendText(scanner.Text()) {
			log.Printf("wsecho: send queue full or connection closing, dropped message")
		}
	}

	conn.Wait()
}
