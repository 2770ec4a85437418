package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	n, err := Default().Network("polygon")
	require.NoError(t, err)

	entries := n.Entries()
	require.Len(t, entries, 9)
	assert.Equal(t, "index01", entries[0].ID)
	assert.Equal(t, "pool06", entries[8].ID)

	require.NotNil(t, n.DepositToken)
	assert.Equal(t, common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"), *n.DepositToken)

	lps := n.LPTokens()
	require.Len(t, lps, 9)
	assert.Equal(t, common.HexToAddress("0x6dB28fA2325E9Fa4A2Ed24120FC89D8849Ec6596"), lps[0])

	// index pools have no strategy
	assert.Nil(t, entries[0].Strategy)
	require.NotNil(t, entries[3].Strategy)
	assert.Equal(t, common.HexToAddress("0x6aa3D1CB02a20cff58B402852FD5e8666f9AD4bd"), *entries[3].Strategy)
}

func TestNetwork_Unknown(t *testing.T) {
	_, err := Default().Network("kovan")
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestLPTokens_DeduplicatesCaseInsensitively(t *testing.T) {
	r, err := Parse([]byte(`
networks:
  local:
    pools:
      a:
        pool_lp: "0x6dB28fA2325E9Fa4A2Ed24120FC89D8849Ec6596"
      b:
        pool_lp: "0x6db28fa2325e9fa4a2ed24120fc89d8849ec6596"
      c:
        pool_lp: "0x7851086E8A77940067B22540a9661Fe7D716b9FB"
`))
	require.NoError(t, err)

	n, err := r.Network("local")
	require.NoError(t, err)
	assert.Nil(t, n.DepositToken)
	assert.Equal(t, []common.Address{
		common.HexToAddress("0x6dB28fA2325E9Fa4A2Ed24120FC89D8849Ec6596"),
		common.HexToAddress("0x7851086E8A77940067B22540a9661Fe7D716b9FB"),
	}, n.LPTokens())
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing pool_lp",
			yaml: `
networks:
  polygon:
    pools:
      pool01:
        pool: "0x7b8b3fc7563689546217cFa1cfCEC2541077170f"
`,
			wantErr: "pool_lp is required",
		},
		{
			name: "bad strategy",
			yaml: `
networks:
  polygon:
    pools:
      pool01:
        pool_lp: "0x2EbF538B3E0F556621cc33AB5799b8eF089b2D8C"
        strategy: "0x1234"
`,
			wantErr: "pool01.strategy",
		},
		{
			name: "bad deposit token",
			yaml: `
networks:
  polygon:
    deposit_token: usdc
`,
			wantErr: "deposit_token",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidEntry)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("networks: ["))
		assert.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
networks:
  hardhat:
    pools:
      index01:
        pool_lp: "0x5A832F1C84E1365ea52897B3463CA4FECFf2D4eE"
  polygon:
    pools: {}
`), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"hardhat", "polygon"}, r.Networks())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
