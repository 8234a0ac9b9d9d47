package repository

import (
	"encoding/json"
	"time"

	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/infrastructure/persistence/sqlite/model"
)

// timeLayout is fixed width so that text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, raw)
	}
	if err != nil {
		return time.Time{}, errs.Wrapf(err, "parse timestamp %q", raw)
	}
	return t.UTC(), nil
}

type metadataJSON struct {
	GasUsed         string  `json:"gasUsed,omitempty"`
	ExploitAmount   string  `json:"exploitAmount,omitempty"`
	AffectedUsers   int64   `json:"affectedUsers,omitempty"`
	AIGenerated     bool    `json:"aiGenerated,omitempty"`
	SimilarityScore float64 `json:"similarityScore,omitempty"`
}

func toObituaryRow(o domainobituary.Obituary) (model.Obituary, error) {
	evidence, err := marshalList(o.Evidence)
	if err != nil {
		return model.Obituary{}, errs.Wrap(err, "encode evidence")
	}
	tags, err := marshalList(o.Tags)
	if err != nil {
		return model.Obituary{}, errs.Wrap(err, "encode tags")
	}
	alternatives, err := marshalList(o.Alternatives)
	if err != nil {
		return model.Obituary{}, errs.Wrap(err, "encode alternatives")
	}
	attachments, err := marshalList(o.ProofAttachments)
	if err != nil {
		return model.Obituary{}, errs.Wrap(err, "encode proof attachments")
	}
	meta, err := json.Marshal(metadataJSON(o.Metadata))
	if err != nil {
		return model.Obituary{}, errs.Wrap(err, "encode metadata")
	}

	return model.Obituary{
		ObituaryID:           o.ID,
		ContractAddress:      o.ContractAddress,
		ChainID:              o.ChainID,
		ContractName:         o.ContractName,
		Reason:               string(o.Reason),
		RiskLevel:            string(o.RiskLevel),
		Description:          o.Description,
		EvidenceJSON:         evidence,
		TagsJSON:             tags,
		ReportedBy:           o.ReportedBy,
		ReportedAt:           formatTime(o.ReportedAt),
		VerificationStatus:   string(o.VerificationStatus),
		VerificationCount:    o.VerificationCount,
		AlternativesJSON:     alternatives,
		ProofAttachmentsJSON: attachments,
		BlockNumber:          o.BlockNumber,
		TransactionHash:      o.TransactionHash,
		MetadataJSON:         string(meta),
		Supersedes:           optionalString(o.Supersedes),
		SupersededBy:         optionalString(o.SupersededBy),
		UpdatedAt:            formatTime(o.UpdatedAt),
	}, nil
}

func mapObituary(row model.Obituary) (domainobituary.Obituary, error) {
	reportedAt, err := parseTime(row.ReportedAt)
	if err != nil {
		return domainobituary.Obituary{}, err
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return domainobituary.Obituary{}, err
	}

	out := domainobituary.Obituary{
		ID:                 row.ObituaryID,
		ContractAddress:    row.ContractAddress,
		ContractName:       row.ContractName,
		ChainID:            row.ChainID,
		Reason:             domainobituary.Reason(row.Reason),
		RiskLevel:          domainobituary.RiskLevel(row.RiskLevel),
		Description:        row.Description,
		ReportedBy:         row.ReportedBy,
		ReportedAt:         reportedAt,
		VerificationStatus: domainobituary.Status(row.VerificationStatus),
		VerificationCount:  row.VerificationCount,
		BlockNumber:        row.BlockNumber,
		TransactionHash:    row.TransactionHash,
		Supersedes:         derefString(row.Supersedes),
		SupersededBy:       derefString(row.SupersededBy),
		UpdatedAt:          updatedAt,
	}

	if out.Evidence, err = unmarshalList(row.EvidenceJSON); err != nil {
		return domainobituary.Obituary{}, errs.Wrap(err, "decode evidence")
	}
	if out.Tags, err = unmarshalList(row.TagsJSON); err != nil {
		return domainobituary.Obituary{}, errs.Wrap(err, "decode tags")
	}
	if out.Alternatives, err = unmarshalList(row.AlternativesJSON); err != nil {
		return domainobituary.Obituary{}, errs.Wrap(err, "decode alternatives")
	}
	if out.ProofAttachments, err = unmarshalList(row.ProofAttachmentsJSON); err != nil {
		return domainobituary.Obituary{}, errs.Wrap(err, "decode proof attachments")
	}

	var meta metadataJSON
	if row.MetadataJSON != "" {
		if err := json.Unmarshal([]byte(row.MetadataJSON), &meta); err != nil {
			return domainobituary.Obituary{}, errs.Wrap(err, "decode metadata")
		}
	}
	out.Metadata = domainobituary.Metadata(meta)
	return out, nil
}

func toVerificationRow(v domainobituary.Verification) model.Verification {
	return model.Verification{
		ObituaryID:      v.ObituaryID,
		VerifierAddress: v.VerifierAddress,
		Action:          string(v.Action),
		Comment:         v.Comment,
		RiskLevel:       string(v.RiskLevel),
		CreatedAt:       formatTime(v.Timestamp),
	}
}

func mapVerification(row model.Verification) (domainobituary.Verification, error) {
	ts, err := parseTime(row.CreatedAt)
	if err != nil {
		return domainobituary.Verification{}, err
	}
	return domainobituary.Verification{
		ObituaryID:      row.ObituaryID,
		VerifierAddress: row.VerifierAddress,
		Action:          domainobituary.Action(row.Action),
		Comment:         row.Comment,
		RiskLevel:       domainobituary.RiskLevel(row.RiskLevel),
		Timestamp:       ts,
	}, nil
}

func marshalList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalList(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
