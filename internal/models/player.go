package models

// Role 定義玩家在遊戲中的角色
type Role string

const (
	RoleUnassigned Role = "UNASSIGNED" // 大廳階段尚未分配
	RoleVillager   Role = "VILLAGER"   // 人類村民
	RoleAIMafia    Role = "AI_MAFIA"   // AI 黑手黨席位
)

// Faction 表示勝負判定時的陣營
type Faction string

const (
	FactionNone      Faction = ""
	FactionVillagers Faction = "VILLAGERS"
	FactionAIMafia   Faction = "AI_MAFIA"
)

// Player 表示房間內的一個席位
type Player struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	IsAlive bool   `json:"isAlive"`
	IsReady bool   `json:"isReady"`
	IsAI    bool   `json:"isAI"`
	Votes   int    `json:"votes"` // 本輪投票中收到的票數，僅供顯示
}

// NewPlayer 創建一個剛加入大廳的人類玩家
func NewPlayer(id string) Player {
	return Player{
		ID:      id,
		Role:    RoleUnassigned,
		IsAlive: true,
	}
}

// Faction 回傳玩家所屬陣營
func (p Player) Faction() Faction {
	if p.Role == RoleAIMafia {
		return FactionAIMafia
	}
	return FactionVillagers
}
