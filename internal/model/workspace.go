package model

import "time"

// Edition selects the feature set of a workspace.
type Edition string

const (
	EditionSyndicator Edition = "SYNDICATOR"
	EditionFund       Edition = "FUND"
)

// Features lists the workspace capabilities toggled by edition.
type Features struct {
	Deals         bool `json:"deals"`
	BOE           bool `json:"boe"`
	ICPacketBasic bool `json:"ic_packet_basic"`
	PortfolioView bool `json:"portfolio_view"`
	FundMode      bool `json:"fund_mode"`
	FundAdmin     bool `json:"fund_admin"`
	FundReporting bool `json:"fund_reporting"`
}

// Capabilities wraps the feature flags as returned by the API.
type Capabilities struct {
	Features Features `json:"features"`
}

// CapabilitiesFor returns the feature set granted by an edition.
func CapabilitiesFor(e Edition) Capabilities {
	f := Features{
		Deals:         true,
		BOE:           true,
		ICPacketBasic: true,
		PortfolioView: true,
	}
	if e == EditionFund {
		f.FundMode = true
		f.FundAdmin = true
		f.FundReporting = true
	}
	return Capabilities{Features: f}
}

// Workspace is a tenant that owns deals.
type Workspace struct {
	ID                     string       `json:"id"`
	Name                   string       `json:"name"`
	Edition                Edition      `json:"edition"`
	Capabilities           Capabilities `json:"capabilities"`
	IsAdmin                bool         `json:"is_admin"`
	EditionUpdatedAt       *time.Time   `json:"edition_updated_at"`
	EditionUpdatedByUserID *string      `json:"edition_updated_by_user_id"`
	CreatedBy              string       `json:"created_by"`
	CreatedAt              time.Time    `json:"created_at"`
}

// SummaryOverride is the override block of a deal workspace summary.
type SummaryOverride struct {
	Status *string    `json:"status"`
	Reason *string    `json:"reason"`
	By     *string    `json:"by"`
	At     *time.Time `json:"at"`
}

// ToOverride converts the summary block to an Override, or nil when no
// override is set.
func (s *SummaryOverride) ToOverride() *Override {
	if s == nil || s.Status == nil {
		return nil
	}
	st, ok := ParseOverrideStatus(*s.Status)
	if !ok {
		return nil
	}
	o := &Override{Status: st, At: s.At}
	if s.Reason != nil {
		o.Comment = *s.Reason
	}
	if s.By != nil {
		o.By = *s.By
	}
	return o
}

// DealWorkspaceSummary is the per-deal workspace overview.
type DealWorkspaceSummary struct {
	DealID              string           `json:"deal_id"`
	WorkspaceID         string           `json:"workspace_id"`
	DealName            string           `json:"deal_name"`
	Address             *string          `json:"address"`
	GateStatus          string           `json:"gate_status"`
	GateStatusEffective string           `json:"gate_status_effective"`
	ICScore             *int             `json:"ic_score"`
	RecommendedMaxBid   *float64         `json:"recommended_max_bid"`
	BindingConstraint   *string          `json:"binding_constraint"`
	LatestRunID         *string          `json:"latest_run_id"`
	LatestRunCreatedAt  *time.Time       `json:"latest_run_created_at"`
	DecisionSummary     *DecisionSummary `json:"decision_summary"`
	Override            *SummaryOverride `json:"override"`
	Capabilities        Capabilities     `json:"capabilities"`
}
