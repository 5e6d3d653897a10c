// Command railbot runs the railway query chat bot.
//
// The bot receives chat events from a messaging gateway (an HTTP webhook
// or a NATS subject pair), routes group messages through the query filter
// chain, and replies through the same gateway.
//
// Usage:
//
//	railbot [options]
//
// Options:
//
//	-config PATH        Bot configuration file (default: config.json, env: RAILBOT_CONFIG)
//	-transport T        Event transport: http or nats (default: http)
//	-listen ADDR        Webhook listen address (default: :8080, env: RAILBOT_LISTEN)
//	-api URL            Messaging HTTP API base (default: http://localhost:5700, env: RAILBOT_API)
//	-nats-url URL       NATS server URL (default: nats://localhost:4222, env: NATS_URL)
//	-nats-events SUBJ   Inbound event subject (default: railbot.events)
//	-nats-replies SUBJ  Outbound reply subject (default: railbot.replies)
//	-storage BACKEND    Query log backend: sqlite, postgres, clickhouse or empty (env: RAILBOT_STORAGE)
//	-dsn DSN            Query log DSN / file path (env: RAILBOT_DSN)
//	-captcha-cmd CMD    Shell command solving tracking CAPTCHAs: image on
//	                    stdin, answer on stdout (env: RAILBOT_CAPTCHA_CMD)
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"railbot/internal/admin"
	"railbot/internal/category"
	"railbot/internal/config"
	"railbot/internal/dispatch"
	"railbot/internal/emu"
	"railbot/internal/flight"
	"railbot/internal/gateway"
	"railbot/internal/kb"
	"railbot/internal/ratelimit"
	"railbot/internal/state"
	"railbot/internal/storage"
	"railbot/internal/track"
	"railbot/internal/train12306"
	"railbot/internal/wiki"
)

func main() {
	configPath := flag.String("config", envOrDefault("RAILBOT_CONFIG", "config.json"), "Bot configuration file")
	transport := flag.String("transport", envOrDefault("RAILBOT_TRANSPORT", "http"), "Event transport: http or nats")
	listen := flag.String("listen", envOrDefault("RAILBOT_LISTEN", ":8080"), "Webhook listen address")
	apiBase := flag.String("api", envOrDefault("RAILBOT_API", "http://localhost:5700"), "Messaging HTTP API base")
	natsURL := flag.String("nats-url", envOrDefault("NATS_URL", "nats://localhost:4222"), "NATS server URL")
	natsEvents := flag.String("nats-events", envOrDefault("NATS_EVENTS", "railbot.events"), "Inbound event subject")
	natsReplies := flag.String("nats-replies", envOrDefault("NATS_REPLIES", "railbot.replies"), "Outbound reply subject")
	backend := flag.String("storage", envOrDefault("RAILBOT_STORAGE", ""), "Query log backend")
	dsn := flag.String("dsn", envOrDefault("RAILBOT_DSN", ""), "Query log DSN or file path")
	captchaCmd := flag.String("captcha-cmd", envOrDefault("RAILBOT_CAPTCHA_CMD", ""), "CAPTCHA solver command")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	knowledge, ranges, err := kb.Load(cfg.Paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading knowledge base: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.Open(ctx, *backend, *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening query log: %v\n", err)
		os.Exit(1)
	}

	runtime := state.New(cfg.DisabledGroups, ratelimit.DefaultBucket())

	engine := &dispatch.Engine{
		Config:     cfg,
		State:      runtime,
		KB:         knowledge,
		Classifier: category.NewClassifier(ranges),
		Store:      store,
		Trains:     train12306.New(),
		Registry:   flight.NewWinsky(),
		Shanghai:   emu.NewShanghai(knowledge),
		Beijing:    emu.NewBeijing(knowledge),
	}

	if sites := buildWikiSites(cfg.WikiSites); len(sites) > 0 {
		engine.Wiki = &wiki.Client{Sites: sites}
	}
	if cfg.FlightAware != nil {
		engine.Flight = flight.New(cfg.FlightAware.Username, cfg.FlightAware.Password, knowledge.Airports)
	}
	if *captchaCmd != "" {
		engine.Solver = commandSolver(*captchaCmd)
		tracker, err := track.New(ctx, track.DefaultBase)
		if err != nil {
			log.Printf("tracking gateway unavailable: %v", err)
		} else if err := tracker.Authenticate(ctx, engine.Solver); err != nil {
			log.Printf("tracking gateway authentication failed: %v", err)
		} else {
			engine.Tracker = tracker
		}
	}

	switch *transport {
	case "http":
		gw := gateway.NewHTTP(*apiBase)
		engine.Gateway = gw
		engine.Admin = &admin.Commands{Config: cfg, State: runtime, Gateway: gw}
		server := gateway.NewWebhookServer(engine.Handle)
		go func() {
			if err := server.ListenAndServe(*listen); err != nil {
				log.Printf("webhook server: %v", err)
				stop()
			}
		}()
		<-ctx.Done()

	case "nats":
		gw, err := gateway.NewNATS(*natsURL, *natsEvents, *natsReplies)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to NATS: %v\n", err)
			os.Exit(1)
		}
		defer gw.Close()
		engine.Gateway = gw
		engine.Admin = &admin.Commands{Config: cfg, State: runtime, Gateway: gw}
		if err := gw.Subscribe(ctx, engine.Handle); err != nil {
			log.Printf("nats subscription: %v", err)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown transport: %s\n", *transport)
		os.Exit(2)
	}

	log.Println("Committing changes...")
	if err := knowledge.SaveSnapshots(cfg.KnownModels, cfg.KnownTraces); err != nil {
		log.Printf("save snapshots: %v", err)
	}
	if err := store.Close(); err != nil {
		log.Printf("close query log: %v", err)
	}
	log.Println("Goodbye.")
}

func buildWikiSites(entries config.WikiSites) []*wiki.Site {
	var sites []*wiki.Site
	for _, entry := range entries {
		site, err := wiki.NewSite(entry.Host, entry.ScriptPattern)
		if err != nil {
			log.Printf("skipping wiki site %s: %v", entry.Host, err)
			continue
		}
		sites = append(sites, site)
	}
	return sites
}

// commandSolver shells out to an external OCR command with the CAPTCHA
// image on stdin and reads the answer from stdout.
func commandSolver(command string) track.CaptchaSolver {
	return func(image []byte) (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Stdin = bytes.NewReader(image)
		out, err := cmd.Output()
		if err != nil {
			return "", fmt.Errorf("captcha solver: %w", err)
		}
		return strings.TrimSpace(string(out)), nil
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
