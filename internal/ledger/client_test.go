package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

const farmArtifactJSON = `{
  "contractName": "HashStratDAOTokenFarm",
  "abi": [
    {"type": "constructor", "inputs": [{"name": "token", "type": "address"}]},
    {"type": "function", "name": "addLPToken", "stateMutability": "nonpayable",
     "inputs": [{"name": "lpToken", "type": "address"}], "outputs": []},
    {"type": "function", "name": "getLPTokens", "stateMutability": "view",
     "inputs": [], "outputs": [{"name": "", "type": "address[]"}]}
  ],
  "bytecode": "0x6080604052"
}`

// MockBackend is a mock implementation of Backend.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Receipt), args.Error(1)
}

func (m *MockBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	args := m.Called(ctx, account, blockNumber)
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	args := m.Called(ctx, call, blockNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	args := m.Called(ctx, call)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockBackend) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockBackend) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	return args.Get(0).(*big.Int), args.Error(1)
}

func newTestClient(t *testing.T, backend Backend, gasPrice *big.Int) (*Client, *LocalSigner) {
	t.Helper()

	signer, err := NewLocalSigner(testKey, 31337)
	require.NoError(t, err)

	art, err := ParseArtifact([]byte(farmArtifactJSON))
	require.NoError(t, err)

	c := NewClient(backend, ClientConfig{
		Signer:    signer,
		Artifacts: NewArtifacts(map[string]*ContractArtifact{"HashStratDAOTokenFarm": art}),
		GasPrice:  gasPrice,
	})
	return c, signer
}

func TestClient_DeployContract(t *testing.T) {
	ctx := context.Background()
	backend := new(MockBackend)
	c, signer := newTestClient(t, backend, big.NewInt(50_000_000_000))

	token := common.HexToAddress("0x2223Ad393d666Eb26422d1f7b33A6947BFc2eaCa")

	backend.On("EstimateGas", ctx, mock.Anything).Return(uint64(1_000_000), nil)
	backend.On("PendingNonceAt", ctx, signer.Address()).Return(uint64(7), nil).Once()
	backend.On("SendTransaction", ctx, mock.Anything).Return(nil)

	addr, tx, err := c.DeployContract(ctx, "HashStratDAOTokenFarm", token)
	require.NoError(t, err)

	assert.Equal(t, crypto.CreateAddress(signer.Address(), 7), addr)
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Nil(t, tx.To())
	assert.Equal(t, uint64(1_200_000), tx.Gas())
	assert.Equal(t, big.NewInt(50_000_000_000), tx.GasPrice())
	// bytecode followed by the abi-encoded constructor argument
	assert.Len(t, tx.Data(), 5+32)
	assert.Equal(t, token.Bytes(), tx.Data()[5+12:])

	backend.AssertExpectations(t)
}

func TestClient_NonceSequencing(t *testing.T) {
	ctx := context.Background()
	farm := common.HexToAddress("0x130e249DA0B90378eB07845217d6bB832E16f038")

	t.Run("consecutive submissions use consecutive nonces", func(t *testing.T) {
		backend := new(MockBackend)
		c, signer := newTestClient(t, backend, big.NewInt(1))

		backend.On("EstimateGas", ctx, mock.Anything).Return(uint64(50_000), nil)
		backend.On("PendingNonceAt", ctx, signer.Address()).Return(uint64(3), nil).Once()
		backend.On("SendTransaction", ctx, mock.Anything).Return(nil)

		var nonces []uint64
		for i := 0; i < 3; i++ {
			tx, err := c.SendTransaction(ctx, farm, "HashStratDAOTokenFarm", "addLPToken", common.BigToAddress(big.NewInt(int64(i+1))))
			require.NoError(t, err)
			nonces = append(nonces, tx.Nonce())
		}

		assert.Equal(t, []uint64{3, 4, 5}, nonces)
		backend.AssertNumberOfCalls(t, "PendingNonceAt", 1)
	})

	t.Run("failed send reloads nonce", func(t *testing.T) {
		backend := new(MockBackend)
		c, signer := newTestClient(t, backend, big.NewInt(1))

		backend.On("EstimateGas", ctx, mock.Anything).Return(uint64(50_000), nil)
		backend.On("PendingNonceAt", ctx, signer.Address()).Return(uint64(9), nil)
		backend.On("SendTransaction", ctx, mock.Anything).Return(errors.New("connection reset")).Once()
		backend.On("SendTransaction", ctx, mock.Anything).Return(nil)

		_, err := c.SendTransaction(ctx, farm, "HashStratDAOTokenFarm", "addLPToken", common.Address{1})
		require.Error(t, err)
		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, "addLPToken", callErr.Method)

		tx, err := c.SendTransaction(ctx, farm, "HashStratDAOTokenFarm", "addLPToken", common.Address{1})
		require.NoError(t, err)
		assert.Equal(t, uint64(9), tx.Nonce())
		backend.AssertNumberOfCalls(t, "PendingNonceAt", 2)
	})

	t.Run("call estimate failure is an error", func(t *testing.T) {
		backend := new(MockBackend)
		c, _ := newTestClient(t, backend, big.NewInt(1))

		backend.On("EstimateGas", ctx, mock.Anything).Return(uint64(0), errors.New("execution reverted"))

		_, err := c.SendTransaction(ctx, farm, "HashStratDAOTokenFarm", "addLPToken", common.Address{1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "estimate gas")
		backend.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
	})
}

func TestClient_GasPriceBoost(t *testing.T) {
	ctx := context.Background()
	backend := new(MockBackend)
	c, _ := newTestClient(t, backend, nil)
	c.cfg.GasPriceBoostPercent = 50

	backend.On("SuggestGasPrice", ctx).Return(big.NewInt(100), nil)

	price, err := c.gasPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(150), price)
}

func TestClient_ReadState(t *testing.T) {
	ctx := context.Background()
	backend := new(MockBackend)
	c, _ := newTestClient(t, backend, big.NewInt(1))

	farm := common.HexToAddress("0x130e249DA0B90378eB07845217d6bB832E16f038")
	registered := []common.Address{
		common.HexToAddress("0x6dB28fA2325E9Fa4A2Ed24120FC89D8849Ec6596"),
		common.HexToAddress("0x7851086E8A77940067B22540a9661Fe7D716b9FB"),
	}

	art, err := c.artifacts.Get("HashStratDAOTokenFarm")
	require.NoError(t, err)
	encoded, err := art.ABI().Methods["getLPTokens"].Outputs.Pack(registered)
	require.NoError(t, err)

	backend.On("CallContract", ctx, mock.MatchedBy(func(call ethereum.CallMsg) bool {
		return call.To != nil && *call.To == farm
	}), (*big.Int)(nil)).Return(encoded, nil)

	values, err := c.ReadState(ctx, farm, "HashStratDAOTokenFarm", "getLPTokens")
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, registered, values[0])
}

func TestClient_AwaitConfirmation(t *testing.T) {
	ctx := context.Background()
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)})

	t.Run("successful receipt", func(t *testing.T) {
		backend := new(MockBackend)
		c, _ := newTestClient(t, backend, big.NewInt(1))

		backend.On("TransactionReceipt", mock.Anything, tx.Hash()).Return(&types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(31843771),
		}, nil)

		receipt, err := c.AwaitConfirmation(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, uint64(31843771), receipt.BlockNumber.Uint64())
	})

	t.Run("reverted receipt", func(t *testing.T) {
		backend := new(MockBackend)
		c, _ := newTestClient(t, backend, big.NewInt(1))

		backend.On("TransactionReceipt", mock.Anything, tx.Hash()).Return(&types.Receipt{
			Status:      types.ReceiptStatusFailed,
			BlockNumber: big.NewInt(12),
			GasUsed:     30000,
		}, nil)

		_, err := c.AwaitConfirmation(ctx, tx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrReverted)

		var revErr *RevertedError
		require.ErrorAs(t, err, &revErr)
		assert.Equal(t, uint64(12), revErr.BlockNumber)
	})

	t.Run("context cancelled while waiting", func(t *testing.T) {
		backend := new(MockBackend)
		c, _ := newTestClient(t, backend, big.NewInt(1))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		backend.On("TransactionReceipt", mock.Anything, tx.Hash()).Return(nil, ethereum.NotFound)

		_, err := c.AwaitConfirmation(cctx, tx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
