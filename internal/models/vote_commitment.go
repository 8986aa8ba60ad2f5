package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// VoteCommitment is one voter's sealed vote on a price request.
// Seq is the commit order and doubles as the request's ordered voter list.
type VoteCommitment struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	RequestID string `gorm:"type:varchar(66);not null;uniqueIndex:ux_vote_commitments_request_voter,priority:1;uniqueIndex:ux_vote_commitments_request_seq,priority:1"`
	Voter     string `gorm:"type:varchar(128);not null;uniqueIndex:ux_vote_commitments_request_voter,priority:2;index"`
	Seq       int    `gorm:"not null;uniqueIndex:ux_vote_commitments_request_seq,priority:2"`

	CommitHash   string          `gorm:"type:varchar(66);not null"`
	StakedAmount decimal.Decimal `gorm:"type:numeric(78,0);not null"`

	Revealed      bool             `gorm:"not null;default:false"`
	RevealedPrice *decimal.Decimal `gorm:"type:numeric(40,0)"`

	CommittedAt time.Time  `gorm:"type:timestamptz;not null"`
	RevealedAt  *time.Time `gorm:"type:timestamptz"`
	UpdatedAt   time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (VoteCommitment) TableName() string {
	return "vote_commitments"
}
