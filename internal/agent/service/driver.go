// Package service answers one question per call: it loads the session's history, runs the
// orchestration graph under a deadline and records the exchange.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chattabot/agent/internal/agent/graph"
	"github.com/chattabot/agent/internal/agent/graph/conversations"
	"github.com/chattabot/agent/internal/agent/model"
	errx "github.com/chattabot/agent/internal/core/error"
	logx "github.com/chattabot/agent/pkg/logger"
)

const defaultSaveTimeout = 5 * time.Second

// ThreadDeleter removes a thread's checkpoints.
type ThreadDeleter interface {
	DeleteThread(ctx context.Context, threadID string) error
}

type Config struct {
	MaxExecutionTime      time.Duration
	RecursionLimit        int
	ForgetShortMemory     bool
	TrimIntermediateSteps bool
	ThreadPrefix          string
	Namespace             string
	// SaveTimeout bounds the history append, which runs detached from the run deadline.
	SaveTimeout time.Duration
}

// ConfigFromAgent maps the environment's agent settings onto a driver Config.
func ConfigFromAgent(a model.AgentConfig, namespace string) Config {
	return Config{
		MaxExecutionTime:      a.MaxExecutionTime,
		RecursionLimit:        a.RecursionLimit,
		ForgetShortMemory:     a.ForgetShortMemory,
		TrimIntermediateSteps: a.TrimIntermediateSteps,
		ThreadPrefix:          a.ThreadPrefix,
		Namespace:             namespace,
	}
}

type Driver struct {
	runner   graph.Runner
	messages *conversations.MessagesManager
	threads  ThreadDeleter
	cfg      Config
	locks    *keyedMutex
}

func NewDriver(runner graph.Runner, messages *conversations.MessagesManager, threads ThreadDeleter, cfg Config) *Driver {
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = defaultSaveTimeout
	}
	if cfg.RecursionLimit <= 0 {
		cfg.RecursionLimit = model.DefaultRecursionLimit
	}
	return &Driver{runner: runner, messages: messages, threads: threads, cfg: cfg, locks: newKeyedMutex()}
}

// ThreadID is the checkpoint thread of a session.
func (d *Driver) ThreadID(sessionID string) string {
	if d.cfg.ThreadPrefix == "" {
		return sessionID
	}
	return d.cfg.ThreadPrefix + "_" + sessionID
}

func (d *Driver) runConfig(sessionID string) model.RunConfig {
	forget := d.cfg.ForgetShortMemory
	return model.RunConfig{
		ThreadID:              d.ThreadID(sessionID),
		Namespace:             d.cfg.Namespace,
		Forget:                &forget,
		TrimIntermediateSteps: d.cfg.TrimIntermediateSteps,
		RecursionLimit:        d.cfg.RecursionLimit,
	}
}

type runResult struct {
	state   *model.State
	history int
	err     error
}

// Ask answers one question. It always returns an answer text; the error is non-nil only when the
// input is malformed or a checkpoint could not be written.
func (d *Driver) Ask(ctx context.Context, in model.QueryInput) (model.Answer, error) {
	ans, err := d.ask(ctx, in)
	ans.Question = in.Question
	return ans, err
}

func (d *Driver) ask(ctx context.Context, in model.QueryInput) (model.Answer, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return model.Answer{Text: model.OtherErrorMessage, Outcome: model.OutcomeFailed},
			errx.New(errors.New("session id is required"), http.StatusBadRequest, "session id is required")
	}

	cfg := d.runConfig(sessionID)
	log := logx.Component("driver").With().Str("session_id", sessionID).Str("thread_id", cfg.ThreadID).Logger()

	// the deadline covers the wait for the session lock too
	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if d.cfg.MaxExecutionTime > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.cfg.MaxExecutionTime)
	}
	defer cancel()

	start := time.Now()
	unlock, err := d.locks.Lock(runCtx, sessionID)
	if err != nil {
		if in.Question == model.DeleteHistoryCommand {
			return model.Answer{Text: model.OtherErrorMessage, ThreadID: cfg.ThreadID, Outcome: model.OutcomeFailed}, nil
		}
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("Session is busy")
		answer, runErr := d.outcome(runCtx, cfg, runResult{err: err})
		answer.ThreadID = cfg.ThreadID
		d.saveExchange(ctx, sessionID, in.Question, answer.Text)
		return answer, runErr
	}

	if in.Question == model.DeleteHistoryCommand {
		defer unlock()
		return d.deleteHistory(ctx, sessionID, cfg.ThreadID)
	}

	res, finished := d.run(runCtx, sessionID, in.Question, cfg)
	answer, runErr := d.outcome(runCtx, cfg, res)
	answer.ThreadID = cfg.ThreadID

	log.Info().
		Str("outcome", string(answer.Outcome)).
		Dur("elapsed", time.Since(start)).
		Int("history", res.history).
		Msg("Question answered")

	d.saveExchange(ctx, sessionID, in.Question, answer.Text)

	// a run abandoned at the deadline keeps the session until the runner returns
	select {
	case <-finished:
		unlock()
	default:
		go func() {
			<-finished
			unlock()
		}()
	}
	return answer, runErr
}

func (d *Driver) saveExchange(ctx context.Context, sessionID, question, answer string) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.SaveTimeout)
	defer cancel()
	if err := d.messages.SaveExchange(saveCtx, sessionID, question, answer); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("Failed to append exchange to chat history")
	}
}

// run loads the history and invokes the graph under runCtx. The returned channel closes once the
// runner has returned, which may be after run itself gave up on the deadline.
func (d *Driver) run(runCtx context.Context, sessionID, question string, cfg model.RunConfig) (runResult, <-chan struct{}) {
	done := make(chan runResult, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{err: fmt.Errorf("run panic: %v", r)}
			}
		}()
		history := d.messages.LoadContext(runCtx, sessionID)
		state, err := d.runner.Invoke(runCtx, model.RunInput{Input: question, ChatHistory: history}, cfg)
		done <- runResult{state: state, history: len(history), err: err}
	}()

	select {
	case res := <-done:
		return res, finished
	case <-runCtx.Done():
		return runResult{err: runCtx.Err()}, finished
	}
}

func (d *Driver) outcome(runCtx context.Context, cfg model.RunConfig, res runResult) (model.Answer, error) {
	log := logx.Component("driver").With().Str("thread_id", cfg.ThreadID).Logger()
	err := res.err

	switch {
	case err == nil:
		if res.state == nil || res.state.Response == nil {
			log.Error().Msg("Run ended without a response")
			return model.Answer{Text: model.OtherErrorMessage, Outcome: model.OutcomeFailed}, nil
		}
		if res.state.Error != nil {
			log.Warn().Str("error", *res.state.Error).Msg("Run answered after a degraded step")
		}
		return model.Answer{Text: res.state.Answer(), Outcome: model.OutcomeAnswered}, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded):
		log.Warn().Err(err).Dur("limit", d.cfg.MaxExecutionTime).Msg("Run exceeded the execution deadline")
		return model.Answer{Text: model.RecursionMaxExecutionTimeMessage, Outcome: model.OutcomeDeadline}, nil
	case errors.Is(err, graph.ErrRecursionLimit):
		log.Warn().Err(err).Int("limit", cfg.Limit()).Msg("Run hit the recursion limit")
		return model.Answer{Text: model.RecursionErrorMessage, Outcome: model.OutcomeRecursionLimit}, nil
	case errx.IsCheckpointWrite(err):
		log.Error().Err(err).Msg("Checkpoint write failed")
		return model.Answer{Text: model.OtherErrorMessage, Outcome: model.OutcomeFailed}, err
	default:
		log.Error().Err(err).Msg("Run failed")
		return model.Answer{Text: model.OtherErrorMessage, Outcome: model.OutcomeFailed}, nil
	}
}

func (d *Driver) deleteHistory(ctx context.Context, sessionID, threadID string) (model.Answer, error) {
	if err := d.messages.Clear(ctx, sessionID); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("Failed to delete chat history")
		return model.Answer{Text: model.OtherErrorMessage, ThreadID: threadID, Outcome: model.OutcomeFailed}, err
	}
	if d.threads != nil {
		if err := d.threads.DeleteThread(ctx, threadID); err != nil {
			logx.Warn().Err(err).Str("thread_id", threadID).Msg("Failed to delete checkpoints")
		}
	}
	logx.Info().Str("session_id", sessionID).Msg("Chat history deleted")
	return model.Answer{Text: model.HistoryDeletedReply, ThreadID: threadID, Outcome: model.OutcomeHistoryDeleted}, nil
}

// History returns the session's stored chat history.
func (d *Driver) History(ctx context.Context, sessionID string) ([]*model.HistoryMessage, error) {
	msgs, err := d.messages.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, &model.HistoryMessage{Role: string(m.Role), Content: m.Content})
	}
	return out, nil
}

// Checkpoints walks the session thread's checkpoints, newest first.
func (d *Driver) Checkpoints(ctx context.Context, sessionID string, limit int) ([]graph.HistoryEntry, error) {
	return d.runner.History(ctx, d.runConfig(sessionID), limit)
}

// Resume finishes an interrupted run of the session and returns its answer.
func (d *Driver) Resume(ctx context.Context, sessionID string) (model.Answer, error) {
	cfg := d.runConfig(sessionID)
	unlock, err := d.locks.Lock(ctx, sessionID)
	if err != nil {
		return model.Answer{ThreadID: cfg.ThreadID, Outcome: model.OutcomeFailed}, err
	}
	defer unlock()

	state, err := d.runner.Resume(ctx, cfg)
	if err != nil {
		return model.Answer{ThreadID: cfg.ThreadID, Outcome: model.OutcomeFailed}, err
	}
	return model.Answer{Text: state.Answer(), ThreadID: cfg.ThreadID, Outcome: model.OutcomeAnswered}, nil
}
