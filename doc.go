// Package gowsc implements an asynchronous RFC 6455 WebSocket client
// with permessage-deflate (RFC 7692) and TLS support.
//
// A Conn owns exactly one background loop goroutine for its entire
// lifetime: Connect starts it, Disconnect asks it to close
// gracefully, and every public method is safe to call from any
// goroutine; every one except Wait is also safe to call from inside a
// registered callback.
//
//	opts := gowsc.NewOptions()
//	opts.SetURL("wss://example.com/ws")
//	conn, err := gowsc.NewConn(opts)
//	if err != nil {
//		log.Fatal(err)
//	}
//	conn.SetMessageCallback(func(text string) { fmt.Println(text) })
//	conn.Connect()
//	conn.SendText("hello")
//	defer conn.Disconnect()
package gowsc
