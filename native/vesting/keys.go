// Package vesting implements linear token release: a single-beneficiary
// contract and a pool contract with per-member allocations.
package vesting

import (
	"fmt"

	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
)

const (
	ProgramName     = "vesting"
	PoolProgramName = "vesting_pool"
)

const (
	MethodOptInAsset          = "opt_in_asset"
	MethodFund                = "fund"
	MethodStart               = "start"
	MethodClaim               = "claim"
	MethodWithdrawBeforeStart = "withdraw_before_start"
	MethodSetBeneficiary      = "set_beneficiary"
	MethodUpdateAdmin         = "update_admin"
	MethodAddMember           = "add_member"
	MethodRemoveMember        = "remove_member"
	MethodChangeMember        = "change_member"
)

const (
	keyAdmin          = "admin"
	keyBeneficiary    = "beneficiary"
	keyAsset          = "asset_id"
	keyTotalLocked    = "total_locked"
	keyTotalClaimed   = "total_claimed"
	keyTotalAllocated = "total_allocated"
	keyStartTime      = "start_time"
	keyDuration       = "duration"
	keyMembers        = "member_count"
)

// MemberRecordSize is the byte length of a pool member sub-record.
const MemberRecordSize = 16

// Vested returns floor(total × min(elapsed, duration) / duration) for a
// schedule started at start. Nothing vests before start or when start is zero.
func Vested(total, start, duration, now uint64) (uint64, error) {
	if start == 0 || now <= start {
		return 0, nil
	}
	if duration == 0 {
		return total, nil
	}
	elapsed := now - start
	if elapsed > duration {
		elapsed = duration
	}
	return common.MulDiv(total, elapsed, duration)
}

// State is the decoded global state of either contract. Beneficiary is zero
// for pools and TotalAllocated is zero for single contracts.
type State struct {
	Admin          crypto.Address
	Beneficiary    crypto.Address
	AssetID        uint64
	TotalLocked    uint64
	TotalClaimed   uint64
	TotalAllocated uint64
	StartTime      uint64
	Duration       uint64
	Members        uint64
}

func (s State) Started() bool { return s.StartTime != 0 }

func DecodeState(m types.StateMap) State {
	return State{
		Admin:          m.Address(keyAdmin),
		Beneficiary:    m.Address(keyBeneficiary),
		AssetID:        m.Uint(keyAsset),
		TotalLocked:    m.Uint(keyTotalLocked),
		TotalClaimed:   m.Uint(keyTotalClaimed),
		TotalAllocated: m.Uint(keyTotalAllocated),
		StartTime:      m.Uint(keyStartTime),
		Duration:       m.Uint(keyDuration),
		Members:        m.Uint(keyMembers),
	}
}

// Member is a pool allocation.
type Member struct {
	Allocated uint64
	Claimed   uint64
}

func (m Member) Encode() []byte {
	out := make([]byte, MemberRecordSize)
	common.PutUint64(out, 0, m.Allocated)
	common.PutUint64(out, 8, m.Claimed)
	return out
}

func DecodeMember(raw []byte) (Member, error) {
	if len(raw) != MemberRecordSize {
		return Member{}, fmt.Errorf("member record is %d bytes, want %d", len(raw), MemberRecordSize)
	}
	return Member{Allocated: common.GetUint64(raw, 0), Claimed: common.GetUint64(raw, 8)}, nil
}

// MemberBox is the sub-record name holding addr's allocation.
func MemberBox(addr crypto.Address) []byte { return addr.Bytes() }
