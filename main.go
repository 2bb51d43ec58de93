package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fabfab/palms-chat/api"
	"github.com/fabfab/palms-chat/config"
	"github.com/fabfab/palms-chat/content"
	"github.com/fabfab/palms-chat/leads"
	"github.com/fabfab/palms-chat/logger"
	"github.com/fabfab/palms-chat/metrics"
	"github.com/fabfab/palms-chat/observability"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()
	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, log, os.Args[2:])
	case "chat":
		chatCmd(cfg, log, os.Args[2:])
	case "fetch":
		fetchCmd(cfg, log, os.Args[2:])
	case "leads":
		leadsCmd(cfg, log, os.Args[2:])
	default:
		log.Error("unknown command", "command", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func serveCmd(cfg config.Config, log *logger.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	port := flags.String("port", cfg.Port, "port to listen on")
	if err := flags.Parse(args); err != nil {
		log.Fatal("parse serve flags", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing := observability.InitOTel(ctx, log, cfg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("shutdown tracing", "error", err)
		}
	}()

	m := metrics.New()
	d := newDeps(cfg, log, m)
	defer d.close()

	store := d.contentStore()
	retriever, kb, err := d.retriever(ctx, store)
	if err != nil {
		log.Fatal("retriever setup", "error", err)
	}
	svc, err := d.chatService(ctx, retriever)
	if err != nil {
		log.Fatal("chat service setup", "error", err)
	}
	leadStore, err := d.leadStore(ctx)
	if err != nil {
		log.Fatal("lead store setup", "error", err)
	}
	analyticsStore, err := d.analyticsStore(ctx)
	if err != nil {
		log.Fatal("analytics store setup", "error", err)
	}

	apiDeps := api.Deps{
		Chat:      svc,
		Leads:     leadStore,
		Analytics: analyticsStore,
		Metrics:   m,
		Logger:    log,
	}
	if kb != nil {
		if err := kb.Watch(ctx); err != nil {
			log.Warn("knowledge base hot reload disabled", "error", err)
		}
	} else {
		apiDeps.Content = store
		// Warm the cache so the first visitor does not wait on the fetch.
		go func() {
			if _, err := store.Refresh(ctx); err != nil {
				log.Warn("initial content fetch failed", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              ":" + *port,
		Handler:           api.New(cfg, apiDeps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", httpServer.Addr, "retriever", cfg.Retrieval.Retriever, "llm_provider", cfg.LLM.Provider)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", "error", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown", "error", err)
	}
	log.Info("http server stopped")
}

func chatCmd(cfg config.Config, log *logger.Logger, args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	question := flags.String("question", "", "question to ask the assistant")
	if err := flags.Parse(args); err != nil {
		log.Fatal("parse chat flags", "error", err)
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Print("Enter your question: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*question = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			log.Fatal("read question", "error", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d := newDeps(cfg, log, nil)
	defer d.close()

	retriever, _, err := d.retriever(ctx, d.contentStore())
	if err != nil {
		log.Fatal("retriever setup", "error", err)
	}
	svc, err := d.chatService(ctx, retriever)
	if err != nil {
		log.Fatal("chat service setup", "error", err)
	}

	result := svc.Chat(ctx, *question)
	fmt.Println(result.Response)
	fmt.Println()
	fmt.Printf("intent: %s\n", result.Intent)
	fmt.Printf("show_demo_popup: %t  show_options: %t  show_info_form: %t\n", result.ShowDemoPopup, result.ShowOptions, result.ShowInfoForm)
}

func fetchCmd(cfg config.Config, log *logger.Logger, args []string) {
	flags := flag.NewFlagSet("fetch", flag.ExitOnError)
	verbose := flags.Bool("v", false, "list every document title")
	if err := flags.Parse(args); err != nil {
		log.Fatal("parse fetch flags", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := newDeps(cfg, log, nil).contentStore()
	snap, err := store.Refresh(ctx)
	if err != nil {
		log.Fatal("content fetch failed", "error", err)
	}
	printSnapshot(os.Stdout, snap, *verbose)
}

func printSnapshot(w io.Writer, snap content.Snapshot, verbose bool) {
	perSource := make(map[string]int)
	order := make([]string, 0)
	for _, doc := range snap.Documents {
		if _, seen := perSource[doc.Source]; !seen {
			order = append(order, doc.Source)
		}
		perSource[doc.Source]++
	}

	fmt.Fprintf(w, "Fetched %d documents at %s\n", len(snap.Documents), snap.FetchedAt.Format(time.RFC3339))
	for _, source := range order {
		fmt.Fprintf(w, "  %s: %d\n", source, perSource[source])
	}
	if !verbose {
		return
	}
	for _, doc := range snap.Documents {
		fmt.Fprintf(w, "  - %s (%d chars)\n", doc.ID, len([]rune(doc.Text)))
	}
}

func leadsCmd(cfg config.Config, log *logger.Logger, args []string) {
	flags := flag.NewFlagSet("leads", flag.ExitOnError)
	export := flags.String("export", "-", "write leads as CSV to this file (- for stdout)")
	if err := flags.Parse(args); err != nil {
		log.Fatal("parse leads flags", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d := newDeps(cfg, log, nil)
	defer d.close()

	store, err := d.leadStore(ctx)
	if err != nil {
		log.Fatal("lead store setup", "error", err)
	}
	if err := exportLeads(ctx, store, *export); err != nil {
		log.Fatal("export leads", "error", err)
	}
}

func exportLeads(ctx context.Context, store leads.Store, path string) error {
	all, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list leads: %w", err)
	}

	if path == "" || path == "-" {
		return leads.WriteCSV(os.Stdout, all)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := leads.WriteCSV(f, all); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printUsage() {
	fmt.Println("Usage: palms-chat <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the HTTP API (use --port to override PORT)")
	fmt.Println("  chat     Ask the assistant a single question from the terminal")
	fmt.Println("  fetch    Refresh website content and print what was cached")
	fmt.Println("  leads    Export captured leads as CSV (use --export to choose a file)")
}
