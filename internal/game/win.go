package game

import "mafia_web/internal/models"

// CheckWinCondition 計算存活的 AI 與村民數量並判定勝方。
// AI 全滅時村民勝；存活 AI 不少於存活村民時 AI 勝；尚未分配 AI 席位時沒有結果。
func CheckWinCondition(players []models.Player) models.Faction {
	var aiSeats, aliveAI, aliveVillagers int
	for _, p := range players {
		if p.Role == models.RoleAIMafia {
			aiSeats++
		}
		if !p.IsAlive {
			continue
		}
		switch p.Role {
		case models.RoleAIMafia:
			aliveAI++
		case models.RoleVillager:
			aliveVillagers++
		}
	}

	if aiSeats == 0 {
		return models.FactionNone
	}
	if aliveAI == 0 {
		return models.FactionVillagers
	}
	if aliveAI >= aliveVillagers {
		return models.FactionAIMafia
	}
	return models.FactionNone
}
