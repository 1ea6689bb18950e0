package txc

import (
	"sort"

	"confio/native/payroll"
	"confio/native/presale"
	"confio/native/rewards"
	"confio/native/stablecoin"
	"confio/native/vesting"
)

// Shape is the group layout one contract method expects around its call.
type Shape struct {
	// Payment requires a payment sibling before the call.
	Payment bool
	// Transfer requires an asset transfer sibling before the call.
	Transfer bool
	// TransferToApp requires the transfer to be addressed to the
	// application.
	TransferToApp bool
	// Sponsorable allows a sponsor fee payment at the head of the group.
	// Methods that pin an exact group size are never sponsorable.
	Sponsorable bool
	Accounts    int
	Assets      int
	Boxes       int
	// Inner is the most inner transactions the call emits.
	Inner int
}

func action(program, method string) string { return program + "." + method }

var (
	plain      = Shape{}
	deposit    = Shape{Transfer: true, TransferToApp: true}
	sponsored  = Shape{Transfer: true, TransferToApp: true, Sponsorable: true}
	oneAccount = Shape{Accounts: 1}
	payout     = Shape{Assets: 1, Inner: 1}
)

func with(s Shape, fn func(*Shape)) Shape {
	fn(&s)
	return s
}

var shapes = map[string]Shape{
	action(stablecoin.ProgramName, stablecoin.MethodSetupAssets):        {Payment: true, Assets: 2, Inner: 2},
	action(stablecoin.ProgramName, stablecoin.MethodPause):              plain,
	action(stablecoin.ProgramName, stablecoin.MethodUnpause):            plain,
	action(stablecoin.ProgramName, stablecoin.MethodAddVault):           oneAccount,
	action(stablecoin.ProgramName, stablecoin.MethodRemoveVault):        oneAccount,
	action(stablecoin.ProgramName, stablecoin.MethodFreeze):             {Accounts: 1, Assets: 1, Inner: 1},
	action(stablecoin.ProgramName, stablecoin.MethodUnfreeze):           {Accounts: 1, Assets: 1, Inner: 1},
	action(stablecoin.ProgramName, stablecoin.MethodMintAdmin):          {Accounts: 1, Assets: 1, Inner: 1},
	action(stablecoin.ProgramName, stablecoin.MethodBurnAdmin):          with(deposit, func(s *Shape) { s.Assets, s.Inner = 1, 1 }),
	action(stablecoin.ProgramName, stablecoin.MethodMintWithCollateral): with(sponsored, func(s *Shape) { s.Assets, s.Inner = 2, 1 }),
	action(stablecoin.ProgramName, stablecoin.MethodBurnForCollateral):  with(sponsored, func(s *Shape) { s.Assets, s.Inner = 2, 2 }),
	action(stablecoin.ProgramName, stablecoin.MethodTransferCUSD):       {Transfer: true, Accounts: 1},
	action(stablecoin.ProgramName, stablecoin.MethodWithdrawUSDC):       {Accounts: 1, Assets: 1, Inner: 1},
	action(stablecoin.ProgramName, stablecoin.MethodUpdateAdmin):        plain,
	action(stablecoin.ProgramName, stablecoin.MethodUpdateSponsor):      plain,
	action(stablecoin.ProgramName, stablecoin.MethodUpdateRatio):        plain,
	action(stablecoin.ProgramName, stablecoin.MethodRefreshReserve):     {Assets: 1},
	action(stablecoin.ProgramName, stablecoin.MethodVerifyPolicy):       {Assets: 1},

	action(presale.ProgramName, presale.MethodOptInAssets):     {Assets: 2, Inner: 2},
	action(presale.ProgramName, presale.MethodStartRound):      {Assets: 1},
	action(presale.ProgramName, presale.MethodToggleRound):     {Assets: 1},
	action(presale.ProgramName, presale.MethodUpdate):          plain,
	action(presale.ProgramName, presale.MethodPurchase):        with(sponsored, func(s *Shape) { s.Assets = 1 }),
	action(presale.ProgramName, presale.MethodClaim):           with(payout, func(s *Shape) { s.Sponsorable = true }),
	action(presale.ProgramName, presale.MethodPermanentUnlock): plain,
	action(presale.ProgramName, presale.MethodWithdrawConfio):  payout,
	action(presale.ProgramName, presale.MethodWithdrawCUSD):    payout,
	action(presale.ProgramName, presale.MethodUpdateSponsor):   plain,
	action(presale.ProgramName, presale.MethodUpdateAdmin):     plain,
	action(presale.ProgramName, presale.MethodEmergencyPause):  plain,
	action(presale.ProgramName, presale.MethodUnpause):         plain,

	action(rewards.ProgramName, rewards.MethodBootstrap):     payout,
	action(rewards.ProgramName, rewards.MethodFund):          with(sponsored, func(s *Shape) { s.Assets = 1 }),
	action(rewards.ProgramName, rewards.MethodMarkEligible):  {Accounts: 1, Assets: 1, Boxes: 1},
	action(rewards.ProgramName, rewards.MethodClaim):         {Sponsorable: true, Assets: 1, Boxes: 1, Inner: 1},
	action(rewards.ProgramName, rewards.MethodRevoke):        {Accounts: 1, Boxes: 1},
	action(rewards.ProgramName, rewards.MethodWithdraw):      payout,
	action(rewards.ProgramName, rewards.MethodPause):         plain,
	action(rewards.ProgramName, rewards.MethodUnpause):       plain,
	action(rewards.ProgramName, rewards.MethodUpdateAdmin):   plain,
	action(rewards.ProgramName, rewards.MethodUpdateSponsor): plain,

	action(vesting.ProgramName, vesting.MethodOptInAsset):          payout,
	action(vesting.ProgramName, vesting.MethodFund):                deposit,
	action(vesting.ProgramName, vesting.MethodStart):               plain,
	action(vesting.ProgramName, vesting.MethodClaim):               with(payout, func(s *Shape) { s.Sponsorable = true }),
	action(vesting.ProgramName, vesting.MethodWithdrawBeforeStart): payout,
	action(vesting.ProgramName, vesting.MethodSetBeneficiary):      plain,
	action(vesting.ProgramName, vesting.MethodUpdateAdmin):         plain,

	action(vesting.PoolProgramName, vesting.MethodOptInAsset):          payout,
	action(vesting.PoolProgramName, vesting.MethodFund):                deposit,
	action(vesting.PoolProgramName, vesting.MethodAddMember):           {Boxes: 1},
	action(vesting.PoolProgramName, vesting.MethodRemoveMember):        {Boxes: 1},
	action(vesting.PoolProgramName, vesting.MethodChangeMember):        {Boxes: 2},
	action(vesting.PoolProgramName, vesting.MethodStart):               plain,
	action(vesting.PoolProgramName, vesting.MethodClaim):               {Sponsorable: true, Assets: 1, Boxes: 1, Inner: 1},
	action(vesting.PoolProgramName, vesting.MethodWithdrawBeforeStart): payout,
	action(vesting.PoolProgramName, vesting.MethodUpdateAdmin):         plain,

	action(payroll.ProgramName, payroll.MethodSetupAsset):      payout,
	action(payroll.ProgramName, payroll.MethodSetFeeRecipient): plain,
	action(payroll.ProgramName, payroll.MethodPause):           plain,
	action(payroll.ProgramName, payroll.MethodUnpause):         plain,
	action(payroll.ProgramName, payroll.MethodUpdateAdmin):     plain,
	action(payroll.ProgramName, payroll.MethodDeposit):         with(deposit, func(s *Shape) { s.Boxes = 1 }),
	action(payroll.ProgramName, payroll.MethodSetDelegates):    {Accounts: 1},
	action(payroll.ProgramName, payroll.MethodPayout):          {Sponsorable: true, Accounts: 2, Assets: 1, Boxes: 3, Inner: 2},
	action(payroll.ProgramName, payroll.MethodWithdrawVault):   {Assets: 1, Boxes: 1, Inner: 1},
}

// ShapeOf returns the declared shape of program.method.
func ShapeOf(program, method string) (Shape, bool) {
	s, ok := shapes[action(program, method)]
	return s, ok
}

// Actions lists every composable "<program>.<method>" in sorted order.
func Actions() []string {
	out := make([]string, 0, len(shapes))
	for name := range shapes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
