package nodecfg

import (
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("SAFECORE_SAFES", "0x5afe000000000000000000000000000000000001, 0x5afe000000000000000000000000000000000002")
	t.Setenv("SAFECORE_DATADIR", "/tmp/safecore")
	t.Setenv("SAFECORE_MAX_RECORD_SIZE", "64KB")
	t.Setenv("SAFECORE_RECEIPT_TIMEOUT", "30s")
	t.Setenv("SAFECORE_RPC_URL", "http://localhost:8545")

	c, err := Load("SAFECORE_")
	require.NoError(t, err)
	require.Equal(t, AddressList{
		common.HexToAddress("0x5afe000000000000000000000000000000000001"),
		common.HexToAddress("0x5afe000000000000000000000000000000000002"),
	}, c.Safes)
	require.Equal(t, "/tmp/safecore", c.Store.Dir)
	require.Equal(t, 64*datasize.KB, c.Store.MaxRecordSize)
	require.Equal(t, 30*time.Second, c.Executor.ReceiptTimeout)
	require.Equal(t, uint(3), c.Executor.SubmitAttempts)
	require.Equal(t, "http://localhost:8545", c.RPC.URL)
	require.Equal(t, "safecore", c.Name)
	require.Equal(t, 30*time.Second, c.HTTP.ReadTimeout)
}

func TestLoadRejectsBadAddress(t *testing.T) {
	t.Setenv("SAFECORE_SAFES", "0x1234")
	_, err := Load("SAFECORE_")
	require.Error(t, err)
}
