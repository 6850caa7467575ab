// Package game 包含與房間狀態無關的純規則：角色分配、計票、勝負判定與階段轉換表。
package game

import (
	"errors"
	"fmt"

	"mafia_web/internal/models"
)

var (
	ErrPlayerCount   = errors.New("player count outside allowed range")
	ErrRolesAssigned = errors.New("roles already assigned")
)

// AIPlayerIDPrefix AI 席位 ID 的前綴，依序編號為 ai_mafia_1..N
const AIPlayerIDPrefix = "ai_mafia_"

// AssignRoles 將大廳中的人類玩家設為村民，並在其後附加 settings.AICount 個 AI 黑手黨席位。
// 回傳新的玩家列表與 AI 席位 ID，不修改輸入。
func AssignRoles(humans []models.Player, settings models.Settings) ([]models.Player, []string, error) {
	total := len(humans) + settings.AICount
	if total < settings.MinPlayers || total > settings.MaxPlayers {
		return nil, nil, fmt.Errorf("%w: %d humans + %d AI, need %d-%d",
			ErrPlayerCount, len(humans), settings.AICount, settings.MinPlayers, settings.MaxPlayers)
	}

	taken := make(map[string]bool, total)
	players := make([]models.Player, 0, total)
	for _, h := range humans {
		if h.Role != models.RoleUnassigned {
			return nil, nil, fmt.Errorf("%w: %s is %s", ErrRolesAssigned, h.ID, h.Role)
		}
		h.Role = models.RoleVillager
		players = append(players, h)
		taken[h.ID] = true
	}

	aiIDs := make([]string, 0, settings.AICount)
	for i := 1; i <= settings.AICount; i++ {
		id := fmt.Sprintf("%s%d", AIPlayerIDPrefix, i)
		// 人類玩家恰好用了同樣的 ID 時加上後綴
		for n := 2; taken[id]; n++ {
			id = fmt.Sprintf("%s%d_%d", AIPlayerIDPrefix, i, n)
		}
		taken[id] = true
		aiIDs = append(aiIDs, id)
		players = append(players, models.Player{
			ID:      id,
			Role:    models.RoleAIMafia,
			IsAlive: true,
			IsReady: true,
			IsAI:    true,
		})
	}

	return players, aiIDs, nil
}
