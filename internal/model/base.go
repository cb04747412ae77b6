package model

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel 自增主键 + 时间戳 + 软删除。幻灯片和测验题在同步时硬删除，见 LessonRepository。
// swagger:model
type BaseModel struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
