package model

import "time"

// Voter 投票人，身份已在建档前核验
type Voter struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	VotersID       string     `gorm:"size:15;uniqueIndex;not null" json:"voters_id"`
	PasswordHash   string     `gorm:"size:60;not null" json:"-"` // bcrypt，不返回给客户端
	Firstname      string     `gorm:"size:30;not null" json:"firstname"`
	Middlename     string     `gorm:"size:30" json:"middlename,omitempty"`
	Lastname       string     `gorm:"size:30;not null" json:"lastname"`
	Gender         string     `gorm:"size:10" json:"gender"`
	IdentityType   string     `gorm:"size:20" json:"identity_type"`
	IdentityNumber string     `gorm:"size:255;uniqueIndex;not null" json:"identity_number"`
	DOB            *time.Time `json:"dob,omitempty"`
	Age            int        `json:"age"`
	Address        string     `gorm:"type:text" json:"address"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (v Voter) FullName() string {
	return v.Firstname + " " + v.Lastname
}
