package game

import (
	"sort"

	"mafia_web/internal/models"
)

// Tally 一輪投票的計票結果
type Tally struct {
	Counts     map[string]int `json:"counts"`
	Eliminated []string       `json:"eliminated"` // 最多一人
	Tie        bool           `json:"tie"`        // 最高票有多人並列
}

// TallyVotes 以相對多數決計票，不需要過半數。
// 投票者或目標已死亡的票不計入；最高票並列時淘汰 ID 字典序最小者；沒有任何票時不淘汰。
func TallyVotes(votes map[string]string, alive []models.Player) Tally {
	isAlive := make(map[string]bool, len(alive))
	for _, p := range alive {
		isAlive[p.ID] = true
	}

	counts := make(map[string]int)
	for voter, target := range votes {
		if !isAlive[voter] || !isAlive[target] {
			continue
		}
		counts[target]++
	}

	result := Tally{Counts: counts}
	if len(counts) == 0 {
		return result
	}

	top := 0
	var leaders []string
	for target, n := range counts {
		switch {
		case n > top:
			top = n
			leaders = []string{target}
		case n == top:
			leaders = append(leaders, target)
		}
	}
	sort.Strings(leaders)

	result.Tie = len(leaders) > 1
	result.Eliminated = []string{leaders[0]}
	return result
}

// ApplyVoteCounts 依計票結果更新每位玩家的 Votes 欄位
func ApplyVoteCounts(players []models.Player, counts map[string]int) {
	for i := range players {
		players[i].Votes = counts[players[i].ID]
	}
}
