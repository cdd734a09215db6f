// Package aml implements deterministic AML and sanctions screening rules.
//
// These rules are independent of any model signal: sanctions, PEP, reporting
// thresholds, and velocity checks compute risk overrides that the decision
// orchestrator applies with max semantics, so a single strong compliance hit
// dominates an otherwise clean transaction. Screening tables are injected via
// a ListSource and are read-only after construction, so screening needs no
// locking; the STR filing queue is the only mutable state in the package.
package aml

import (
	"strings"
)

// ListType identifies a sanctions list.
type ListType string

const (
	ListOFAC ListType = "ofac" // US Office of Foreign Assets Control
	ListUN   ListType = "un"   // UN Security Council
	ListEU   ListType = "eu"   // EU consolidated list
	ListUK   ListType = "uk"   // UK consolidated list
	ListHMT  ListType = "hmt"  // UK HM Treasury
)

// PEPLevel classifies how close a match is to a politically exposed person.
type PEPLevel string

const (
	PEPDirect         PEPLevel = "direct"
	PEPFamily         PEPLevel = "family"
	PEPCloseAssociate PEPLevel = "close_associate"
)

// Score returns the risk contribution for a PEP level.
func (l PEPLevel) Score() float64 {
	switch l {
	case PEPDirect:
		return 0.95
	case PEPFamily:
		return 0.7
	case PEPCloseAssociate:
		return 0.5
	default:
		return 0
	}
}

// Code returns the reason code for a PEP level.
func (l PEPLevel) Code() string {
	switch l {
	case PEPDirect:
		return "PEP_DIRECT"
	case PEPFamily:
		return "PEP_FAMILY"
	case PEPCloseAssociate:
		return "PEP_CLOSE_ASSOCIATE"
	default:
		return "PEP_UNKNOWN"
	}
}

// SanctionsEntry is one (name, list) pair from the screening data source.
type SanctionsEntry struct {
	Name string
	List ListType
}

// PEPEntry is one (name, level) pair from the screening data source.
type PEPEntry struct {
	Name  string
	Level PEPLevel
}

// ListSource supplies sanctions and PEP screening data. Implementations are
// swappable without code changes; entries are snapshotted at engine
// construction and never re-read.
type ListSource interface {
	SanctionsEntries() []SanctionsEntry
	PEPEntries() []PEPEntry
}

// SanctionsHit is a transient screening result. Hits are referenced in the
// decision that triggered them and never persisted as entities.
type SanctionsHit struct {
	List          ListType `json:"list"`
	MatchStrength float64  `json:"matchStrength"`
	EntityName    string   `json:"entityName"`
	Reason        string   `json:"reason"`
}

// PEPMatch is a transient PEP screening result.
type PEPMatch struct {
	Level         PEPLevel `json:"level"`
	EntityName    string   `json:"entityName"`
	MatchStrength float64  `json:"matchStrength"`
}

// StaticListSource is a fixed in-memory ListSource for development and tests.
// Production deployments inject a source backed by a real list feed.
type StaticListSource struct {
	Sanctions []SanctionsEntry
	PEPs      []PEPEntry
}

func (s *StaticListSource) SanctionsEntries() []SanctionsEntry { return s.Sanctions }
func (s *StaticListSource) PEPEntries() []PEPEntry             { return s.PEPs }

// DefaultListSource returns the built-in demo screening lists.
func DefaultListSource() *StaticListSource {
	return &StaticListSource{
		Sanctions: []SanctionsEntry{
			{Name: "North Korea Entity 1", List: ListOFAC},
			{Name: "Iran Bank X", List: ListOFAC},
			{Name: "UN Sanctioned Individual", List: ListUN},
			{Name: "EU Listed Person", List: ListEU},
		},
		PEPs: []PEPEntry{
			{Name: "Vladimir Putin", Level: PEPDirect},
			{Name: "Xi Jinping", Level: PEPDirect},
			{Name: "Putin Family Member", Level: PEPFamily},
		},
	}
}

// pepSeverity orders PEP levels for deterministic multi-match resolution.
func pepSeverity(l PEPLevel) int {
	switch l {
	case PEPDirect:
		return 3
	case PEPFamily:
		return 2
	case PEPCloseAssociate:
		return 1
	default:
		return 0
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
