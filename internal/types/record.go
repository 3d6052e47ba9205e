package types

// Source records which tier produced a phone number.
type Source string

const (
	SourceDirect  Source = "direct"
	SourceAPI     Source = "api"
	SourceBrowser Source = "browser"
	SourceFailed  Source = "failed"
)

// UnresolvedPhone is stored in place of a phone when every tier failed.
const UnresolvedPhone = "unresolved"

// Record is the ledger entry for one listing ID.
type Record struct {
	Phone             string   `json:"phone"`
	NotFormattedPhone string   `json:"notFormattedPhone"`
	Source            Source   `json:"source"`
	SiteBlockID       *BlockID `json:"siteBlockId,omitempty"`
}

// FailedRecord returns the record stored for a listing nobody could resolve.
func FailedRecord(blockID *BlockID) Record {
	return Record{
		Phone:             UnresolvedPhone,
		NotFormattedPhone: UnresolvedPhone,
		Source:            SourceFailed,
		SiteBlockID:       blockID,
	}
}

// Resolved reports whether the record carries a real phone number.
func (r Record) Resolved() bool {
	return r.Phone != "" && r.Phone != UnresolvedPhone
}

// Entry pairs a listing ID with its record.
type Entry struct {
	ID     string `json:"id"`
	Record Record `json:"record"`
}
