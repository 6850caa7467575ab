package models

import (
	"errors"
	"time"
)

// Phase 定義房間目前所處的遊戲階段
type Phase string

const (
	PhaseLobby        Phase = "LOBBY"
	PhaseStarting     Phase = "STARTING"
	PhaseDay          Phase = "DAY"
	PhaseNight        Phase = "NIGHT"
	PhaseVoting       Phase = "VOTING"
	PhaseVotingResult Phase = "VOTING_RESULT"
	PhaseDeath        Phase = "DEATH" // 保留給客戶端相容，狀態機不會進入
	PhaseEnd          Phase = "END"
)

// Valid 檢查是否為已知階段
func (p Phase) Valid() bool {
	switch p {
	case PhaseLobby, PhaseStarting, PhaseDay, PhaseNight, PhaseVoting, PhaseVotingResult, PhaseDeath, PhaseEnd:
		return true
	}
	return false
}

// Settings 房間建立時決定的遊戲參數，之後不可變更
type Settings struct {
	MinPlayers     int `json:"minPlayers"`
	MaxPlayers     int `json:"maxPlayers"`
	AICount        int `json:"aiCount"`
	DayDuration    int `json:"dayDuration"`    // 秒
	NightDuration  int `json:"nightDuration"`  // 秒
	VotingDuration int `json:"votingDuration"` // 秒
}

// DefaultSettings 與原始大廳設定一致的預設值
func DefaultSettings() Settings {
	return Settings{
		MinPlayers:     5,
		MaxPlayers:     10,
		AICount:        1,
		DayDuration:    10,
		NightDuration:  10,
		VotingDuration: 10,
	}
}

// Validate 檢查設定是否可以開局
func (s Settings) Validate() error {
	switch {
	case s.AICount < 1:
		return errors.New("aiCount must be at least 1")
	case s.MinPlayers < 2:
		return errors.New("minPlayers must be at least 2")
	case s.MaxPlayers < s.MinPlayers:
		return errors.New("maxPlayers must not be less than minPlayers")
	case s.AICount >= s.MaxPlayers:
		return errors.New("aiCount must leave room for human players")
	case s.DayDuration <= 0 || s.NightDuration <= 0 || s.VotingDuration <= 0:
		return errors.New("phase durations must be positive")
	}
	return nil
}

// HumanCapacity 大廳最多可容納的人類玩家數
func (s Settings) HumanCapacity() int {
	return s.MaxPlayers - s.AICount
}

// GameState 一個房間的完整遊戲狀態，由該房間的 GameManager 獨佔擁有
type GameState struct {
	RoomID         string            `json:"roomId"`
	Phase          Phase             `json:"phase"`
	Round          int               `json:"round"`
	Players        []Player          `json:"players"`
	AIPlayerIDs    []string          `json:"aiPlayerIds"`
	Votes          map[string]string `json:"votes"` // voterID -> targetID，只在 VOTING 階段有效
	Settings       Settings          `json:"settings"`
	PhaseStartedAt time.Time         `json:"phaseStartedAt"`
	PhaseDeadline  time.Time         `json:"phaseDeadline"` // 沒有計時器的階段為零值
	Winner         Faction           `json:"winner,omitempty"`
	LastVoteCounts map[string]int    `json:"lastVoteCounts,omitempty"` // 上一次投票結算的得票數
	MessageSeq     int64             `json:"messageSeq"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// NewGameState 創建一個位於大廳階段的新房間
func NewGameState(roomID string, settings Settings, now time.Time) *GameState {
	return &GameState{
		RoomID:         roomID,
		Phase:          PhaseLobby,
		Players:        []Player{},
		AIPlayerIDs:    []string{},
		Votes:          map[string]string{},
		Settings:       settings,
		PhaseStartedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone 深拷貝，GameManager 以寫入副本的方式提交變更
func (s *GameState) Clone() *GameState {
	c := *s
	c.Players = append([]Player(nil), s.Players...)
	c.AIPlayerIDs = append([]string(nil), s.AIPlayerIDs...)
	c.Votes = make(map[string]string, len(s.Votes))
	for voter, target := range s.Votes {
		c.Votes[voter] = target
	}
	if s.LastVoteCounts != nil {
		c.LastVoteCounts = make(map[string]int, len(s.LastVoteCounts))
		for id, n := range s.LastVoteCounts {
			c.LastVoteCounts[id] = n
		}
	}
	return &c
}

// Player 依 ID 查找玩家，回傳索引
func (s *GameState) Player(id string) (*Player, int) {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i], i
		}
	}
	return nil, -1
}

// IsAI 判斷 ID 是否為 AI 席位
func (s *GameState) IsAI(id string) bool {
	for _, aiID := range s.AIPlayerIDs {
		if aiID == id {
			return true
		}
	}
	return false
}

// AlivePlayers 回傳所有存活玩家
func (s *GameState) AlivePlayers() []Player {
	alive := make([]Player, 0, len(s.Players))
	for _, p := range s.Players {
		if p.IsAlive {
			alive = append(alive, p)
		}
	}
	return alive
}

// Humans 回傳所有非 AI 玩家
func (s *GameState) Humans() []Player {
	humans := make([]Player, 0, len(s.Players))
	for _, p := range s.Players {
		if !p.IsAI {
			humans = append(humans, p)
		}
	}
	return humans
}

// AliveHumanCount 存活的非 AI 玩家數量
func (s *GameState) AliveHumanCount() int {
	n := 0
	for _, p := range s.Players {
		if p.IsAlive && !p.IsAI {
			n++
		}
	}
	return n
}

// Active 房間是否處於需要計時器的進行中狀態
func (s *GameState) Active() bool {
	return s.Phase != PhaseLobby && s.Phase != PhaseEnd
}
