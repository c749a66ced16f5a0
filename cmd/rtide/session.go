package main

import (
	"github.com/criyle/go-rtide/ide"
	"github.com/criyle/go-rtide/language"
	"github.com/criyle/go-rtide/session"
	"go.uber.org/zap"
)

// sessionFactory builds new sessions sharing the executor and language table.
// The run cycles of every session, evicted ones included, belong to runs.
type sessionFactory struct {
	executor  ide.Executor
	languages *language.Table
	observer  func(ide.RunReport)
	runs      *ide.RunGroup
}

func (f *sessionFactory) New() (*session.Session, error) {
	id, err := session.NewID()
	if err != nil {
		return nil, err
	}
	l := logger.With(zap.String("session", id))
	return &session.Session{
		ID: id,
		Orchestrator: ide.NewOrchestrator(ide.Config{
			Store:       ide.NewStore(ide.NewState(f.languages)),
			Executor:    f.executor,
			Languages:   f.languages,
			Logger:      l,
			SessionID:   id,
			RunObserver: f.observer,
			Runs:        f.runs,
			Notifier: ide.NotifierFunc(func(runID, message string) {
				l.Info("Run refused by service", zap.String("runId", runID), zap.String("message", message))
			}),
		}),
	}, nil
}
