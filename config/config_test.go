package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
)

func validConfig() Config {
	c := DefaultConfig
	c.Submitter.RPCURL = "https://rpc.example.com"
	c.Submitter.ContractAddress = "0x1111111111111111111111111111111111111111"
	c.Submitter.PrivateKey = "1111111111111111111111111111111111111111111111111111111111111111"
	c.Security.SecretKey = "this-is-a-32-character-secret!!!"
	return c
}

func TestValidate_AcceptsDefaultsWithRequiredFieldsFilled(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())
}

func TestValidate_RejectsOutOfRangeMinDifficulty(t *testing.T) {
	c := validConfig()
	c.Miner.MinDifficulty = 11
	err := c.Validate()
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindConfigInvalid, kind)
}

func TestValidate_RejectsShortSecretKey(t *testing.T) {
	c := validConfig()
	c.Security.SecretKey = "too-short"
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsMalformedContractAddress(t *testing.T) {
	c := validConfig()
	c.Submitter.ContractAddress = "not-hex"
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsBatchSizeBelowMin(t *testing.T) {
	c := validConfig()
	c.Submitter.MinBatchSize = 20
	c.Submitter.BatchSize = 10
	assert.Error(t, c.Validate())
}

func TestIsPOAChain(t *testing.T) {
	c := validConfig()
	c.Submitter.ChainID = 56
	assert.True(t, c.Submitter.IsPOAChain())
	c.Submitter.ChainID = 1
	assert.False(t, c.Submitter.IsPOAChain())
}
