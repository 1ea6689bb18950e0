package stablecoin

import (
	"confio/core/types"
	"confio/crypto"
)

// ProgramName registers the controller with the ledger.
const ProgramName = "stablecoin"

// Method selectors.
const (
	MethodSetupAssets        = "setup_assets"
	MethodPause              = "pause"
	MethodUnpause            = "unpause"
	MethodAddVault           = "add_vault"
	MethodRemoveVault        = "remove_vault"
	MethodFreeze             = "freeze"
	MethodUnfreeze           = "unfreeze"
	MethodMintAdmin          = "mint_admin"
	MethodBurnAdmin          = "burn_admin"
	MethodMintWithCollateral = "mint_with_collateral"
	MethodBurnForCollateral  = "burn_for_collateral"
	MethodTransferCUSD       = "transfer_cusd"
	MethodWithdrawUSDC       = "withdraw_usdc"
	MethodUpdateAdmin        = "update_admin"
	MethodUpdateSponsor      = "update_sponsor"
	MethodUpdateRatio        = "update_collateral_ratio"
	MethodRefreshReserve     = "refresh_reserve"
	MethodVerifyPolicy       = "verify_policy_target"
)

// Global state keys.
const (
	keyAdmin            = "admin"
	keySponsor          = "sponsor"
	keyReserve          = "reserve_addr"
	keyCUSD             = "cusd_asset_id"
	keyCollateral       = "collateral_asset_id"
	keyPaused           = "is_paused"
	keyRatio            = "collateral_ratio"
	keyCollateralLocked = "total_collateral_locked"
	keyCollateralBacked = "collateral_backed_supply"
	keyTreasuryBacked   = "treasury_backed_supply"
	keyTotalMinted      = "total_minted"
	keyTotalBurned      = "total_burned"
	localFrozen         = "is_frozen"
	localVault          = "is_vault"
)

const (
	// RatioScale is the parts-per-million denominator of collateral_ratio.
	RatioScale uint64 = 1_000_000
	// MaxRatio caps collateral_ratio at 200%.
	MaxRatio uint64 = 2 * RatioScale
	// SetupFunding is the minimum payment that must precede setup_assets.
	SetupFunding uint64 = 600_000
	// LiquidityFloorBps is the share of circulating supply that must stay in
	// collateral after a treasury withdrawal.
	LiquidityFloorBps uint64 = 3_000
	// AssetDecimals is required of both the stablecoin and the collateral.
	AssetDecimals uint32 = 6
)

// State is the decoded global state of a controller.
type State struct {
	Admin                  crypto.Address
	Sponsor                crypto.Address
	Reserve                crypto.Address
	CUSDAssetID            uint64
	CollateralAssetID      uint64
	Paused                 bool
	CollateralRatio        uint64
	TotalCollateralLocked  uint64
	CollateralBackedSupply uint64
	TreasuryBackedSupply   uint64
	TotalMinted            uint64
	TotalBurned            uint64
}

// Circulating is the supply backed either by collateral or by reserves.
func (s State) Circulating() uint64 { return s.CollateralBackedSupply + s.TreasuryBackedSupply }

// DecodeState reads a controller's global state.
func DecodeState(m types.StateMap) State {
	return State{
		Admin:                  m.Address(keyAdmin),
		Sponsor:                m.Address(keySponsor),
		Reserve:                m.Address(keyReserve),
		CUSDAssetID:            m.Uint(keyCUSD),
		CollateralAssetID:      m.Uint(keyCollateral),
		Paused:                 m.Uint(keyPaused) != 0,
		CollateralRatio:        m.Uint(keyRatio),
		TotalCollateralLocked:  m.Uint(keyCollateralLocked),
		CollateralBackedSupply: m.Uint(keyCollateralBacked),
		TreasuryBackedSupply:   m.Uint(keyTreasuryBacked),
		TotalMinted:            m.Uint(keyTotalMinted),
		TotalBurned:            m.Uint(keyTotalBurned),
	}
}

// AccountFlags is the decoded local state of an opted-in account.
type AccountFlags struct {
	Frozen bool
	Vault  bool
}

// DecodeAccountFlags reads an account's local state.
func DecodeAccountFlags(m types.StateMap) AccountFlags {
	return AccountFlags{Frozen: m.Uint(localFrozen) != 0, Vault: m.Uint(localVault) != 0}
}
