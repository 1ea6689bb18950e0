package presale

import (
	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
)

const ProgramName = "presale"

const (
	MethodOptInAssets     = "opt_in_assets"
	MethodStartRound      = "start_round"
	MethodToggleRound     = "toggle_round"
	MethodUpdate          = "update"
	MethodPurchase        = "purchase"
	MethodClaim           = "claim"
	MethodPermanentUnlock = "permanent_unlock"
	MethodWithdrawConfio  = "withdraw_confio"
	MethodWithdrawCUSD    = "withdraw_cusd"
	MethodUpdateSponsor   = "update_sponsor"
	MethodUpdateAdmin     = "update_admin"
	MethodEmergencyPause  = "emergency_pause"
	MethodUnpause         = "unpause"
)

// Parameter names accepted by update.
const (
	ParamPrice = "price"
	ParamCap   = "cap"
	ParamMin   = "min"
	ParamMax   = "max"
)

const (
	keyAdmin         = "admin"
	keySponsor       = "sponsor"
	keyConfio        = "confio_asset_id"
	keyCUSD          = "cusd_asset_id"
	keyPrice         = "price"
	keyRoundCap      = "round_cap"
	keyMinBuy        = "min_buy"
	keyMaxPerAddr    = "max_per_addr"
	keyRoundID       = "round_id"
	keyRoundRaised   = "round_raised"
	keyActive        = "active"
	keyLocked        = "locked"
	keyUnlockedAt    = "unlocked_at"
	keyPaused        = "is_paused"
	keyTotalSold     = "total_sold"
	keyTotalClaimed  = "total_claimed"
	keyTotalRaised   = "total_raised"
	keyParticipants  = "participants_cumulative"
	localBought      = "user_bought"
	localClaimed     = "claimed"
	localRoundID     = "round_id"
	localRoundBought = "round_bought"
)

// TokenScale converts between micro-tokens and micro-USD prices.
const TokenScale uint64 = 1_000_000

// State is the decoded global state of a presale.
type State struct {
	Admin        crypto.Address
	Sponsor      crypto.Address
	ConfioID     uint64
	CUSDID       uint64
	Price        uint64
	RoundCap     uint64
	MinBuy       uint64
	MaxPerAddr   uint64
	RoundID      uint64
	RoundRaised  uint64
	Active       bool
	Locked       bool
	UnlockedAt   uint64
	Paused       bool
	TotalSold    uint64
	TotalClaimed uint64
	TotalRaised  uint64

	// ParticipantsCumulative counts distinct buyers across all rounds.
	ParticipantsCumulative uint64
}

// Outstanding is the token amount sold but not yet claimed.
func (s State) Outstanding() uint64 { return s.TotalSold - s.TotalClaimed }

// RequiredInventory is the token balance the app must hold to open a round
// with the given cap and price.
func (s State) RequiredInventory(roundCap, price uint64) (uint64, error) {
	tokens, err := common.MulDiv(roundCap, TokenScale, price)
	if err != nil {
		return 0, err
	}
	return common.Add(s.Outstanding(), tokens)
}

func DecodeState(m types.StateMap) State {
	return State{
		Admin:        m.Address(keyAdmin),
		Sponsor:      m.Address(keySponsor),
		ConfioID:     m.Uint(keyConfio),
		CUSDID:       m.Uint(keyCUSD),
		Price:        m.Uint(keyPrice),
		RoundCap:     m.Uint(keyRoundCap),
		MinBuy:       m.Uint(keyMinBuy),
		MaxPerAddr:   m.Uint(keyMaxPerAddr),
		RoundID:      m.Uint(keyRoundID),
		RoundRaised:  m.Uint(keyRoundRaised),
		Active:       m.Uint(keyActive) != 0,
		Locked:       m.Uint(keyLocked) != 0,
		UnlockedAt:   m.Uint(keyUnlockedAt),
		Paused:       m.Uint(keyPaused) != 0,
		TotalSold:    m.Uint(keyTotalSold),
		TotalClaimed: m.Uint(keyTotalClaimed),
		TotalRaised:  m.Uint(keyTotalRaised),

		ParticipantsCumulative: m.Uint(keyParticipants),
	}
}

// Buyer is the decoded local state of a participant.
type Buyer struct {
	Bought      uint64
	Claimed     uint64
	RoundID     uint64
	RoundBought uint64
}

// Claimable is the entitlement not yet withdrawn.
func (b Buyer) Claimable() uint64 { return b.Bought - b.Claimed }

func DecodeBuyer(m types.StateMap) Buyer {
	return Buyer{
		Bought:      m.Uint(localBought),
		Claimed:     m.Uint(localClaimed),
		RoundID:     m.Uint(localRoundID),
		RoundBought: m.Uint(localRoundBought),
	}
}
