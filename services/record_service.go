// services/record_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/models"
	"github.com/wfunc/econgames/persistence"
)

// RecordService archives completed matches and aggregates player statistics.
type RecordService struct {
	store persistence.Store
}

func NewRecordService(store persistence.Store) *RecordService {
	return &RecordService{store: store}
}

// Archive 保存一局已完成的对局记录
func (s *RecordService) Archive(ctx context.Context, rec *models.GameRecord) error {
	if rec == nil || len(rec.Players) == 0 {
		return fmt.Errorf("archive: empty game record")
	}
	if err := s.store.SaveGameRecord(ctx, rec); err != nil {
		return fmt.Errorf("archive %s record for session %s: %w", rec.GameID, rec.SessionID, err)
	}
	logger.Log.Debugf("Archived %s match of session %s (%s)", rec.GameID, rec.SessionID, strings.Join(rec.Players, ", "))
	return nil
}

// PlayerStats 获取玩家统计信息
func (s *RecordService) PlayerStats(ctx context.Context, playerID string) (*models.PlayerStats, error) {
	if strings.TrimSpace(playerID) == "" {
		return nil, fmt.Errorf("player stats: player id is required")
	}
	recs, err := s.store.ListGameRecords(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("player stats for %s: %w", playerID, err)
	}
	stats := &models.PlayerStats{PlayerID: playerID}
	for _, rec := range recs {
		outcome, ok := rec.Outcomes[playerID]
		if !ok {
			continue
		}
		stats.TotalGames++
		stats.TotalScore += rec.Scores[playerID]
		switch outcome {
		case "win":
			stats.Wins++
		case "loss":
			stats.Losses++
		default:
			stats.Draws++
		}
	}
	return stats, nil
}

// History returns playerID's archived matches, newest last.
func (s *RecordService) History(ctx context.Context, playerID string) ([]*models.GameRecord, error) {
	return s.store.ListGameRecords(ctx, playerID)
}
