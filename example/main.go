package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Morditux/attrsession"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := attrsession.LoadEnvConfig()
	if err != nil {
		return err
	}

	store, err := attrsession.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}

	mgr, err := attrsession.NewManager(cfg.Config(store, logger))
	if err != nil {
		store.Close()
		return err
	}
	defer mgr.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		sess := attrsession.MustFromContext(r.Context())

		count, _ := sess.GetInt64("count")
		count++
		sess.Set("count", count)

		fmt.Fprintf(w, "Hello! You have visited this page %d times.", count)
	})

	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		sess := attrsession.MustFromContext(r.Context())
		sess.Set("user", r.FormValue("user"))
		if err := mgr.Regenerate(w, r, sess); err != nil {
			http.Error(w, "login failed", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "Logged in!")
	})

	mux.HandleFunc("POST /logout", func(w http.ResponseWriter, r *http.Request) {
		sess := attrsession.MustFromContext(r.Context())
		if err := mgr.Destroy(w, r, sess); err != nil {
			logger.Warn("session destroy failed", slog.Any("error", err))
		}
		fmt.Fprint(w, "Logged out!")
	})

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		for name, v := range mgr.Stats() {
			fmt.Fprintf(w, "%s %d\n", name, v)
		}
	})

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           mgr.Middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("server starting", slog.String("addr", srv.Addr), slog.String("backend", cfg.Backend))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
