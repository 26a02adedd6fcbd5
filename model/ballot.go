package model

import "time"

// BallotReceipt 每个投票人最多一条，与选票在同一事务中写入。
// VoterID 上的唯一索引保证并发提交只有一个成功。
type BallotReceipt struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	VoterID    uint      `gorm:"uniqueIndex;not null" json:"voter_id"`
	Voter      *Voter    `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Selections int       `gorm:"not null" json:"selections"`
	CreatedAt  time.Time `json:"created_at"`
}

// Vote 单条选择，创建后不再修改，只能在整体重置时删除
type Vote struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	VoterID     uint       `gorm:"not null;index" json:"voter_id"`
	Voter       *Voter     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CandidateID uint       `gorm:"not null;index" json:"candidate_id"`
	Candidate   *Candidate `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	PositionID  uint       `gorm:"not null;index" json:"position_id"`
	Position    *Position  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt   time.Time  `json:"timestamp"`
}
