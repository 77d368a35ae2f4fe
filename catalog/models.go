package catalog

import "time"

// NoReference 未关联参考图时的 reference_image 取值
const NoReference int64 = -1

// Image 图像目录条目。Src 为相对存储根目录的 slash 路径。
type Image struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Src            string    `gorm:"size:512;not null;uniqueIndex" json:"src"`
	Alt            string    `gorm:"type:text" json:"alt"`
	Width          int       `gorm:"not null;default:0" json:"width"`
	Height         int       `gorm:"not null;default:0" json:"height"`
	IsUpload       bool      `gorm:"not null;default:false;index" json:"isUpload"`
	Time           time.Time `gorm:"column:time;not null;index" json:"time"`
	ReferenceImage int64     `gorm:"not null;default:-1" json:"referenceImage"`
}

// TableName 表名
func (Image) TableName() string { return "images" }

// History prompt 历史
type History struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Prompt         string    `gorm:"type:text;not null" json:"prompt"`
	ReferenceImage int64     `gorm:"not null;default:-1" json:"referenceImage"`
	Time           time.Time `gorm:"column:time;not null;index" json:"time"`
}

// TableName 表名
func (History) TableName() string { return "history" }
