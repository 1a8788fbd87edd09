package session

import (
	"context"
	"time"

	"github.com/wfunc/econgames/models"
)

// Metrics receives lifecycle events. monitor.Monitor implements it.
type Metrics interface {
	SessionCreated(gameID string)
	SessionDeleted()
	GameStarted(gameID string)
	RoundEvaluated(gameID string)
	EvaluationAborted(gameID string)
	VersionConflict()
	ObserveMutation(op string, d time.Duration)
}

// Archiver stores one record per completed match. services.RecordService implements it.
type Archiver interface {
	Archive(ctx context.Context, rec *models.GameRecord) error
}

type nopMetrics struct{}

func (nopMetrics) SessionCreated(string) {}
func (nopMetrics) SessionDeleted() {}
func (nopMetrics) GameStarted(string) {}
func (nopMetrics) RoundEvaluated(string) {}
func (nopMetrics) EvaluationAborted(string) {}
func (nopMetrics) VersionConflict() {}
func (nopMetrics) ObserveMutation(string, time.Duration) {}
