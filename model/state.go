package model

// ElectionState 单行记录。ResetGen 在清空选票时自增，EditGen 在职位、候选人、投票人变更时自增，
// 两者都与对应的写操作在同一事务中更新，缓存键由它们推导。
type ElectionState struct {
	ID       uint  `gorm:"primaryKey;autoIncrement:false"`
	ResetGen int64 `gorm:"not null;default:0"`
	EditGen  int64 `gorm:"not null;default:0"`
}
