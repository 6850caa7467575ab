package game

import "mafia_web/internal/models"

// 自動轉換表，END 可由任何非終止階段進入
var transitions = map[models.Phase]models.Phase{
	models.PhaseLobby:        models.PhaseStarting,
	models.PhaseStarting:     models.PhaseNight,
	models.PhaseNight:        models.PhaseDay,
	models.PhaseDay:          models.PhaseVoting,
	models.PhaseVoting:       models.PhaseVotingResult,
	models.PhaseVotingResult: models.PhaseNight,
}

// NextPhase 回傳 from 的下一個階段，終止或未知階段回傳 false
func NextPhase(from models.Phase) (models.Phase, bool) {
	to, ok := transitions[from]
	return to, ok
}

// CanTransition 檢查 from -> to 是否為合法的邊
func CanTransition(from, to models.Phase) bool {
	if from == models.PhaseEnd {
		return false
	}
	if to == models.PhaseEnd {
		return from.Valid()
	}
	next, ok := transitions[from]
	return ok && next == to
}
