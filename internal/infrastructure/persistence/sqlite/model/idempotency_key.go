package model

type IdempotencyKey struct {
	Key        string `gorm:"column:key;type:text;primaryKey"`
	Operation  string `gorm:"column:operation;type:text;not null"`
	ResultJSON string `gorm:"column:result_json;type:text;not null"`
	CreatedAt  string `gorm:"column:created_at;type:text;not null"`
}

func (IdempotencyKey) TableName() string {
	return "idempotency_keys"
}
