package model

type StatsCounter struct {
	Dimension string `gorm:"column:dimension;type:text;primaryKey"`
	Key       string `gorm:"column:key;type:text;primaryKey"`
	Count     int64  `gorm:"column:count;not null;default:0"`
}

func (StatsCounter) TableName() string {
	return "stats_counters"
}
