package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/paygate/types"
)

const contract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paygate.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_base_url = "http://relay.local:4000"
contract_address = "`+contract+`"
upload_fee = "0.002"
confirm_timeout = "90s"

[relay]
listen_addr = ":8080"
verify_payments = true
`), 0o600))

	t.Setenv("PAYGATE_UPLOAD_FEE", "0.001")
	t.Setenv("PAYGATE_RELAY_CACHE_SIZE", "64")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://relay.local:4000", cfg.APIBaseURL)
	assert.Equal(t, contract, cfg.ContractAddress)
	assert.Equal(t, "0.001", cfg.UploadFee)
	assert.Equal(t, uint64(31), cfg.ChainID)
	assert.Equal(t, 90*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, ":8080", cfg.Relay.ListenAddr)
	assert.True(t, cfg.Relay.VerifyPayments)
	assert.Equal(t, 64, cfg.Relay.CacheSize)
	assert.Equal(t, int64(types.MaxFileSize), cfg.Relay.MaxFileSize)

	fee, err := FeeWei(cfg)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000", fee.String())

	addr, err := ContractAddress(cfg)
	require.NoError(t, err)
	assert.Equal(t, contract, addr.Hex())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.ErrorIs(t, err, types.ErrorConfigurationError)
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing contract":  `upload_fee = "0.001"`,
		"bad address":       `contract_address = "0x1234"`,
		"zero fee":          `contract_address = "` + contract + `"` + "\n" + `upload_fee = "0"`,
		"bad fee":           `contract_address = "` + contract + `"` + "\n" + `upload_fee = "one"`,
		"bad level":         `contract_address = "` + contract + `"` + "\n" + `log_level = "loud"`,
		"s3 without bucket": `contract_address = "` + contract + `"` + "\n[relay]\nstore = \"s3\"",
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig(data)
			require.Error(t, err)
			assert.Equal(t, types.ErrConfigurationError, types.CodeOf(err))
		})
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(`contract_address = "` + contract + `"`)
	require.NoError(t, err)
	assert.Equal(t, "0.001", cfg.UploadFee)
	assert.Equal(t, "memory", cfg.Relay.Store)
	assert.Equal(t, 3*time.Minute, cfg.ConfirmTimeout)
}
