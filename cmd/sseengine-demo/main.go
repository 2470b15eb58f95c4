package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/sio-stream/sse-go/sseengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		configPath = pflag.StringP("config", "c", "", "path to a YAML config file (optional)")
		url        = pflag.StringP("url", "u", "", "SSE endpoint to connect to (required)")
		debug      = pflag.BoolP("debug", "d", false, "enable debug logging")
	)
	pflag.Parse()

	if *url == "" {
		fmt.Fprintln(os.Stderr, "sseengine-demo: --url is required")
		pflag.Usage()
		os.Exit(2)
	}

	cfg := sseengine.DefaultConfig()
	if *configPath != "" {
		loaded, err := sseengine.LoadConfigFile(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if *debug {
		cfg.Debug = true
	}

	engine := sseengine.NewEngine(cfg, nil)
	httpClient := &http.Client{}
	if err := engine.Init(httpClient); err != nil {
		log.Fatalf("engine init failed: %v", err)
	}
	defer engine.Close()

	printer := &sseengine.Subscriber{
		Name: "demo-printer",
		Watches: []sseengine.WatchSpec{
			{EventType: "text", Priority: 0},
		},
		Callback: func(chain *sseengine.Chain, resp sseengine.Response) sseengine.Response {
			fmt.Printf("[%s] %s\n", resp.Event.SessionLogID, resp.Event.Result)
			resp.RemoveCache = true
			return resp
		},
	}
	if _, err := engine.Subscribe(printer, false); err != nil {
		log.Fatalf("subscribe failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *url, nil)
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	log.Println("connecting; press Ctrl+C to stop")
	if _, err := httpClient.Do(req); err != nil {
		log.Fatalf("request failed: %v", err)
	}

	<-ctx.Done()
	log.Println("shutting down")
}
