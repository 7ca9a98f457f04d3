package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	flags "github.com/jessevdk/go-flags"
	"github.com/tidwall/gjson"
)

type flagOptions struct {
	Port        int `long:"port" description:"port to listen on" default:"9001"`
	RunDuration int `long:"run-duration" description:"Duration in seconds to run the peer (debug feature)"`
}

var upgrader = websocket.Upgrader{}

// echo answers every text frame with the same text. Commands are echoed
// too, after a short description of what they ask for.
func echo(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("Upgrade failed: %v\n", err)
		return
	}
	defer conn.Close()

	fmt.Printf("Host connected from %s\n", r.RemoteAddr)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			fmt.Printf("Host disconnected: %v\n", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		describe(string(data))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			fmt.Printf("Write failed: %v\n", err)
			return
		}
	}
}

func describe(text string) {
	verb, body, found := strings.Cut(text, " ")
	if !found || !gjson.Valid(body) {
		fmt.Printf("Text: %s\n", text)
		return
	}
	switch verb {
	case "observe":
		fmt.Printf("Observe: main app %s, sub apps %s\n", gjson.Get(body, "main_app"), gjson.Get(body, "sub_apps"))
	case "run_app":
		fmt.Printf("Run app: %s %s\n", gjson.Get(body, "app"), gjson.Get(body, "args"))
	default:
		fmt.Printf("Command %s: %s\n", verb, body)
	}
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running Relayecho, opts: %+v...\n", opts)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", echo)
	server := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", opts.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Listen failed: %v\n", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	fmt.Printf("Relayecho is listening on ws://%s/ws\n", server.Addr)

	select {
	case receivedSignal := <-sig:
		fmt.Printf("Relayecho received signal: %v\n", receivedSignal)
	case <-ctx.Done():
		fmt.Printf("Relayecho timed out\n")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	fmt.Printf("Relayecho stopped\n")
}
