package model

// Title 选举标题，表中最多一行
type Title struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Header string `gorm:"size:100;not null" json:"header"`
}
