package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chattabot/agent/internal/agent/delivery"
	"github.com/chattabot/agent/internal/agent/model"
	errx "github.com/chattabot/agent/internal/core/error"
	logx "github.com/chattabot/agent/pkg/logger"
)

type asker interface {
	Ask(ctx context.Context, in model.QueryInput) (model.Answer, error)
}

func newMux(driver asker, sender delivery.Sender) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /answer", answerHandler(driver))
	mux.HandleFunc("POST /sms", smsHandler(driver, sender))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func answerHandler(driver asker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		in := model.QueryInput{Question: q.Get("question"), SessionID: q.Get("session")}
		if strings.TrimSpace(in.Question) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
			return
		}
		ans, err := driver.Ask(r.Context(), in)
		ans.Question = in.Question
		if err != nil {
			logx.Error().Err(err).Str("session_id", in.SessionID).Msg("Ask failed")
			writeJSON(w, errx.StatusOf(err), ans)
			return
		}
		writeJSON(w, http.StatusOK, ans)
	}
}

type smsReply struct {
	Question string           `json:"question"`
	Answer   string           `json:"answer"`
	Outcome  model.Outcome    `json:"outcome,omitempty"`
	Delivery delivery.Receipt `json:"delivery"`
}

// smsHandler answers an inbound SMS webhook and sends the reply back to the sender's number.
func smsHandler(driver asker, sender delivery.Sender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid form"})
			return
		}
		from, body := r.PostForm.Get("From"), r.PostForm.Get("Body")
		if from == "" || strings.TrimSpace(body) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "From and Body are required"})
			return
		}

		ans, err := driver.Ask(r.Context(), model.QueryInput{Question: body, SessionID: from})
		if err != nil {
			logx.Error().Err(err).Str("from", from).Msg("Ask failed")
		}
		receipt := sender.Send(r.Context(), from, ans.Text)
		writeJSON(w, http.StatusOK, smsReply{Question: body, Answer: receipt.Body, Outcome: ans.Outcome, Delivery: receipt})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Warn().Err(err).Msg("Failed to write response")
	}
}

// serve runs the HTTP server and the checkpoint sweeper until ctx is done.
func serve(ctx context.Context, a *app, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(a.driver, a.sender),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logx.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.RunSweeper(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		logx.Info().Msg("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
