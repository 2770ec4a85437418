package sequencer

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashstrat/dao-deployer/internal/bootstrap/contracts"
	"github.com/hashstrat/dao-deployer/internal/ledger"
	"github.com/hashstrat/dao-deployer/internal/ledger/ledgertest"
)

var hstParams = TokenParams{
	Name:     "HashStrat DAO Token",
	Symbol:   "HST",
	Decimals: 18,
	Supply:   big.NewInt(1_000_000),
}

func TestTokenParams_BaseUnits(t *testing.T) {
	want, ok := new(big.Int).SetString("1000000000000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, want, hstParams.BaseUnits())

	p := TokenParams{Decimals: 0, Supply: big.NewInt(5)}
	assert.Equal(t, big.NewInt(5), p.BaseUnits())
}

func TestDeployTokenAndFarm(t *testing.T) {
	ctx := context.Background()
	fake := ledgertest.NewFake()
	seq := New(fake, nil)

	farm, err := seq.DeployTokenAndFarm(ctx, hstParams)
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, farm)

	assert.Equal(t, []string{
		"deploy:" + contracts.Token,
		"deploy:" + contracts.Farm,
		contracts.Token + "." + contracts.MethodTransfer,
		contracts.Farm + "." + contracts.MethodAddRewardPeriods,
	}, fake.Calls())

	periods, err := fake.ReadState(ctx, farm, contracts.Farm, contracts.MethodRewardPeriodsCount)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(ledgertest.DefaultRewardPeriods), periods[0])
}

func TestTransferSupply_ConservesSupply(t *testing.T) {
	ctx := context.Background()
	fake := ledgertest.NewFake()
	seq := New(fake, nil)

	token, err := seq.DeployToken(ctx, hstParams)
	require.NoError(t, err)
	farm, err := seq.DeployFarm(ctx, token.Address)
	require.NoError(t, err)

	step, err := seq.TransferSupply(ctx, token.Address, farm.Address)
	require.NoError(t, err)
	assert.Equal(t, contracts.MethodTransfer, step.Method)

	farmBalance, err := fake.ReadState(ctx, token.Address, contracts.Token, contracts.MethodBalanceOf, farm.Address)
	require.NoError(t, err)
	deployerBalance, err := fake.ReadState(ctx, token.Address, contracts.Token, contracts.MethodBalanceOf, fake.Deployer())
	require.NoError(t, err)

	assert.Equal(t, hstParams.BaseUnits(), farmBalance[0])
	assert.Equal(t, 0, deployerBalance[0].(*big.Int).Sign())
}

func TestTransferSupply_MismatchDetected(t *testing.T) {
	ctx := context.Background()
	fake := ledgertest.NewFake()
	seq := New(fake, nil)

	token, err := seq.DeployToken(ctx, hstParams)
	require.NoError(t, err)
	farm, err := seq.DeployFarm(ctx, token.Address)
	require.NoError(t, err)

	fake.Mint(token.Address, farm.Address, big.NewInt(1))

	_, err = seq.TransferSupply(ctx, token.Address, farm.Address)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSupplyMismatch)
}

func TestTransferSupply_Reverted(t *testing.T) {
	ctx := context.Background()
	fake := ledgertest.NewFake()
	seq := New(fake, nil)

	token, err := seq.DeployToken(ctx, hstParams)
	require.NoError(t, err)
	farm, err := seq.DeployFarm(ctx, token.Address)
	require.NoError(t, err)

	fake.RevertOnChain(contracts.Token, contracts.MethodTransfer)

	_, err = seq.TransferSupply(ctx, token.Address, farm.Address)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrReverted)
	assert.Contains(t, err.Error(), "transfer supply")
}

func TestSequencer_StopsOnFirstFailure(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *ledgertest.Fake)
		wantCalls []string
		wantErr   string
	}{
		{
			name:      "token deploy reverts",
			setup:     func(f *ledgertest.Fake) { f.RevertOnChain(contracts.Token, "") },
			wantCalls: []string{"deploy:" + contracts.Token},
			wantErr:   "deploy token",
		},
		{
			name:    "farm deploy rejected",
			setup:   func(f *ledgertest.Fake) { f.FailSubmit(contracts.Farm, "", errors.New("insufficient funds")) },
			wantErr: "deploy farm",
			wantCalls: []string{
				"deploy:" + contracts.Token,
			},
		},
		{
			name:    "reward periods revert",
			setup:   func(f *ledgertest.Fake) { f.RevertOnChain(contracts.Farm, contracts.MethodAddRewardPeriods) },
			wantErr: "initialize rewards",
			wantCalls: []string{
				"deploy:" + contracts.Token,
				"deploy:" + contracts.Farm,
				contracts.Token + "." + contracts.MethodTransfer,
				contracts.Farm + "." + contracts.MethodAddRewardPeriods,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := ledgertest.NewFake()
			tt.setup(fake)

			_, err := New(fake, nil).DeployTokenAndFarm(context.Background(), hstParams)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.wantCalls, fake.Calls())
		})
	}
}

func TestDeployToken_RejectsEmptySupply(t *testing.T) {
	fake := ledgertest.NewFake()
	_, err := New(fake, nil).DeployToken(context.Background(), TokenParams{Name: "x", Symbol: "X", Decimals: 18})
	require.Error(t, err)
	assert.Empty(t, fake.Calls())
}

func TestDeployGovernance(t *testing.T) {
	fake := ledgertest.NewFake()
	usdc := common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")

	gov, err := New(fake, nil).DeployGovernance(context.Background(), usdc)
	require.NoError(t, err)
	assert.Equal(t, contracts.Governance, gov.Name)
	assert.NotZero(t, gov.BlockNumber)

	deposit, ok := fake.Governance(gov.Address)
	require.True(t, ok)
	assert.Equal(t, usdc, deposit)
}

func TestSupplyTransferredAndRewardPeriods(t *testing.T) {
	ctx := context.Background()
	fake := ledgertest.NewFake()
	seq := New(fake, nil)

	token, err := seq.DeployToken(ctx, hstParams)
	require.NoError(t, err)
	farm, err := seq.DeployFarm(ctx, token.Address)
	require.NoError(t, err)

	done, err := seq.SupplyTransferred(ctx, token.Address, farm.Address)
	require.NoError(t, err)
	assert.False(t, done)
	periods, err := seq.RewardPeriods(ctx, farm.Address)
	require.NoError(t, err)
	assert.Zero(t, periods)

	_, err = seq.TransferSupply(ctx, token.Address, farm.Address)
	require.NoError(t, err)
	_, _, err = seq.InitializeRewards(ctx, farm.Address)
	require.NoError(t, err)

	done, err = seq.SupplyTransferred(ctx, token.Address, farm.Address)
	require.NoError(t, err)
	assert.True(t, done)
	periods, err = seq.RewardPeriods(ctx, farm.Address)
	require.NoError(t, err)
	assert.Equal(t, int64(ledgertest.DefaultRewardPeriods), periods)
}
