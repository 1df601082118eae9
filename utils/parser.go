package utils

import (
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/vitwit/paygate/types"
)

// EnvPrefix prefixes every environment override, e.g. PAYGATE_UPLOAD_FEE.
const EnvPrefix = "PAYGATE"

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// LoadConfig builds the configuration from defaults, an optional TOML file and
// PAYGATE_* environment variables, in that order, then validates it.
func LoadConfig(path string) (*types.Config, error) {
	cfg := types.DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, types.NewError(types.ErrConfigurationError,
				fmt.Sprintf("config file %s not readable", path), err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, types.NewError(types.ErrConfigurationError,
				fmt.Sprintf("failed to parse config file %s", path), err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, types.NewError(types.ErrConfigurationError, "failed to read environment", err)
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig decodes TOML text on top of the defaults and validates it.
func ParseConfig(data string) (*types.Config, error) {
	cfg := types.DefaultConfig()
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, types.NewError(types.ErrConfigurationError, "failed to parse config", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig checks struct tags and that the fee is a positive amount.
func ValidateConfig(cfg *types.Config) error {
	if cfg == nil {
		return types.NewError(types.ErrConfigurationError, "configuration missing", nil)
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return types.NewError(types.ErrConfigurationError,
				fmt.Sprintf("invalid configuration field %s (%s)", verrs[0].Namespace(), verrs[0].Tag()), err)
		}
		return types.NewError(types.ErrConfigurationError, "validation failed", err)
	}

	fee, err := FeeWei(cfg)
	if err != nil {
		return err
	}
	if fee.Sign() <= 0 {
		return types.NewError(types.ErrConfigurationError, "upload fee must be greater than zero", nil)
	}
	return nil
}

// FeeWei converts the configured upload fee to the chain's smallest unit.
func FeeWei(cfg *types.Config) (*big.Int, error) {
	if cfg == nil || cfg.UploadFee == "" {
		return nil, types.NewError(types.ErrConfigurationError, "upload fee not configured", nil)
	}
	network := types.LookupNetwork(cfg.ChainID)
	fee, err := ParseAmountWithDecimals(cfg.UploadFee, network.Decimals)
	if err != nil {
		return nil, types.NewError(types.ErrConfigurationError, "invalid upload fee", err)
	}
	return fee, nil
}

// ContractAddress returns the configured ledger address.
func ContractAddress(cfg *types.Config) (common.Address, error) {
	addr, err := ValidateAddress(cfg.ContractAddress)
	if err != nil {
		return common.Address{}, types.NewError(types.ErrConfigurationError, "invalid contract address", err)
	}
	return addr, nil
}
