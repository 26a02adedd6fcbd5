package model

import (
	"regexp"
	"strings"
	"time"
)

// Position 选举职位，MaxVote 为每个投票人在该职位下最多可选的候选人数
type Position struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Description string    `gorm:"size:50;not null" json:"description"`
	MaxVote     int       `gorm:"not null" json:"max_vote"`
	Priority    int       `gorm:"not null;index" json:"priority"` // 升序展示
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug 由描述生成，例如 "Vice President" -> "vice_president"
func (p Position) Slug() string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(p.Description), "_"), "_")
}
