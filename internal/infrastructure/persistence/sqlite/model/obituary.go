package model

// Obituary rows. idx_obituaries_live allows one live record, neither
// rejected nor superseded, per contract and chain.
type Obituary struct {
	ObituaryID           string  `gorm:"column:obituary_id;type:text;primaryKey"`
	ContractAddress      string  `gorm:"column:contract_address;type:text;not null;index:idx_obituaries_contract,priority:1;uniqueIndex:idx_obituaries_live,priority:1,where:verification_status <> 'rejected' AND superseded_by IS NULL"`
	ChainID              int64   `gorm:"column:chain_id;not null;index:idx_obituaries_contract,priority:2;uniqueIndex:idx_obituaries_live,priority:2,where:verification_status <> 'rejected' AND superseded_by IS NULL"`
	ContractName         string  `gorm:"column:contract_name;type:text;not null;default:''"`
	Reason               string  `gorm:"column:reason;type:text;not null;index"`
	RiskLevel            string  `gorm:"column:risk_level;type:text;not null"`
	Description          string  `gorm:"column:description;type:text;not null"`
	EvidenceJSON         string  `gorm:"column:evidence_json;type:text;not null"`
	TagsJSON             string  `gorm:"column:tags_json;type:text;not null"`
	ReportedBy           string  `gorm:"column:reported_by;type:text;not null"`
	ReportedAt           string  `gorm:"column:reported_at;type:text;not null;index"`
	VerificationStatus   string  `gorm:"column:verification_status;type:text;not null;index"`
	VerificationCount    int     `gorm:"column:verification_count;not null;default:0"`
	AlternativesJSON     string  `gorm:"column:alternatives_json;type:text;not null"`
	ProofAttachmentsJSON string  `gorm:"column:proof_attachments_json;type:text;not null"`
	BlockNumber          *uint64 `gorm:"column:block_number"`
	TransactionHash      string  `gorm:"column:transaction_hash;type:text;not null;default:''"`
	MetadataJSON         string  `gorm:"column:metadata_json;type:text;not null"`
	Supersedes           *string `gorm:"column:supersedes;type:text"`
	SupersededBy         *string `gorm:"column:superseded_by;type:text"`
	UpdatedAt            string  `gorm:"column:updated_at;type:text;not null"`

	// Revision grows with every committed write so other processes can
	// catch up in commit order.
	Revision int64 `gorm:"column:revision;not null;default:0;index"`
}

func (Obituary) TableName() string {
	return "obituaries"
}
