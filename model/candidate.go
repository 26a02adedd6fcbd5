package model

import "time"

// Candidate 候选人，属于唯一的职位；删除职位时级联删除
type Candidate struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	PositionID     uint      `gorm:"not null;index" json:"position_id"`
	Position       *Position `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CandidateCode  string    `gorm:"size:15;uniqueIndex" json:"candidate_code"`
	Firstname      string    `gorm:"size:30;not null" json:"firstname"`
	Lastname       string    `gorm:"size:30;not null" json:"lastname"`
	Platform       string    `gorm:"type:text" json:"platform,omitempty"`
	IdentityType   string    `gorm:"size:20" json:"identity_type"`
	IdentityNumber string    `gorm:"size:50" json:"identity_number,omitempty"`
	Gender         string    `gorm:"size:10" json:"gender"`
	Address        string    `gorm:"type:text" json:"address,omitempty"`
	PartyType      string    `gorm:"size:20" json:"party_type"`
	PartyName      string    `gorm:"size:100" json:"party_name,omitempty"`
	IsApproved     bool      `gorm:"not null" json:"is_approved"` // 只有审核通过的候选人出现在选票上
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c Candidate) FullName() string {
	return c.Firstname + " " + c.Lastname
}
