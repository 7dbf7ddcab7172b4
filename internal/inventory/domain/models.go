package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type UnitStatus string

const (
	UnitStatusAvailable  UnitStatus = "available"
	UnitStatusReserved   UnitStatus = "reserved"
	UnitStatusSold       UnitStatus = "sold"
	UnitStatusService    UnitStatus = "service"
	UnitStatusLost       UnitStatus = "lost"
	UnitStatusReturn     UnitStatus = "return"
	UnitStatusComingSoon UnitStatus = "coming_soon"
)

type SoldChannel string

const (
	SoldChannelPOS       SoldChannel = "pos"
	SoldChannelWebsite   SoldChannel = "website"
	SoldChannelTokopedia SoldChannel = "ecommerce_tokopedia"
	SoldChannelShopee    SoldChannel = "ecommerce_shopee"
)

// SoldChannels lists channels in reporting order.
var SoldChannels = []SoldChannel{SoldChannelPOS, SoldChannelWebsite, SoldChannelTokopedia, SoldChannelShopee}

type StockUnit struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	BranchID        snowflake.ID    `gorm:"not null" json:"branch_id"`
	IMEI            string          `gorm:"column:imei;not null" json:"imei"`
	ProductLabel    string          `json:"product_label"`
	SellingPrice    decimal.Decimal `gorm:"type:numeric(18,2)" json:"selling_price"`
	CostPrice       decimal.Decimal `gorm:"type:numeric(18,2)" json:"cost_price"`
	Status          UnitStatus      `gorm:"not null" json:"status"`
	SoldChannel     *SoldChannel    `json:"sold_channel,omitempty"`
	SoldReferenceID *string         `json:"sold_reference_id,omitempty"`
	SoldAt          *time.Time      `json:"sold_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (StockUnit) TableName() string { return "stock_units" }

// UnitState is a status and, for sold units, the channel it was sold through.
type UnitState struct {
	Status  UnitStatus
	Channel SoldChannel
}

// Matches reports whether unit is currently in this state.
func (s UnitState) Matches(unit StockUnit) bool {
	if unit.Status != s.Status {
		return false
	}
	if s.Status != UnitStatusSold {
		return true
	}
	return unit.SoldChannel != nil && *unit.SoldChannel == s.Channel
}

// ResolutionChange is the only status write the reconciliation engine performs.
// Channel and reference are applied only when Status is sold. When Expected is
// non-empty the unit must currently be in one of those states.
type ResolutionChange struct {
	UnitID      snowflake.ID
	Status      UnitStatus
	Channel     SoldChannel
	ReferenceID string
	At          time.Time
	Expected    []UnitState
}
