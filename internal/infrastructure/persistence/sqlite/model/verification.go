package model

type Verification struct {
	VerificationID  uint64 `gorm:"column:verification_id;primaryKey;autoIncrement"`
	ObituaryID      string `gorm:"column:obituary_id;type:text;not null;uniqueIndex:idx_verifications_voter,priority:1"`
	VerifierAddress string `gorm:"column:verifier_address;type:text;not null;uniqueIndex:idx_verifications_voter,priority:2"`
	Action          string `gorm:"column:action;type:text;not null"`
	Comment         string `gorm:"column:comment;type:text;not null"`
	RiskLevel       string `gorm:"column:risk_level;type:text;not null;default:''"`
	CreatedAt       string `gorm:"column:created_at;type:text;not null"`
}

func (Verification) TableName() string {
	return "verifications"
}
