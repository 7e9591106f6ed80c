package params

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/go-faster/errors"
)

var (
	ErrUnknownVersion = errors.New("unknown safe contract version")
)

// HashMethod selects the EIP-712 encoding scheme of a contract version.
type HashMethod uint8

const (
	// HashLegacy 域分隔符中不包含 chainId (< 1.3.0)
	HashLegacy HashMethod = iota
	// HashCurrent 域分隔符包含 chainId (>= 1.3.0)
	HashCurrent
)

func (m HashMethod) String() string {
	switch m {
	case HashLegacy:
		return "legacy"
	case HashCurrent:
		return "current"
	default:
		return fmt.Sprintf("HashMethod(%d)", uint8(m))
	}
}

// NonceSource tells where the transaction nonce of a wallet is read from.
type NonceSource uint8

const (
	NonceFromContract NonceSource = iota // nonce() getter of the wallet contract
)

// Capabilities is the fixed feature record of one wallet contract version.
// Every feature-gated code path consults this record instead of comparing
// version strings.
type Capabilities struct {
	Version string

	SupportsGuards          bool
	SupportsModules         bool
	SupportsFallbackHandler bool
	SupportsEthSign         bool
	SafeTxGasOptional       bool

	HashMethod   HashMethod
	GasFieldName string // "dataGas" before 1.1.0, "baseGas" afterwards
	NonceSource  NonceSource

	// L2 is set for the "+L2" build of a version, which emits extra events
	L2 bool

	Deployments Deployments
}

var capabilityTable = map[string]Capabilities{
	"1.0.0": {
		Version:         "1.0.0",
		SupportsModules: true,
		HashMethod:      HashLegacy,
		GasFieldName:    "dataGas",
		NonceSource:     NonceFromContract,
		Deployments:     deploymentsV111,
	},
	"1.1.1": {
		Version:                 "1.1.1",
		SupportsModules:         true,
		SupportsFallbackHandler: true,
		SupportsEthSign:         true,
		HashMethod:              HashLegacy,
		GasFieldName:            "baseGas",
		NonceSource:             NonceFromContract,
		Deployments:             deploymentsV111,
	},
	"1.2.0": {
		Version:                 "1.2.0",
		SupportsModules:         true,
		SupportsFallbackHandler: true,
		SupportsEthSign:         true,
		HashMethod:              HashLegacy,
		GasFieldName:            "baseGas",
		NonceSource:             NonceFromContract,
		Deployments:             deploymentsV111,
	},
	"1.3.0": {
		Version:                 "1.3.0",
		SupportsGuards:          true,
		SupportsModules:         true,
		SupportsFallbackHandler: true,
		SupportsEthSign:         true,
		SafeTxGasOptional:       true,
		HashMethod:              HashCurrent,
		GasFieldName:            "baseGas",
		NonceSource:             NonceFromContract,
		Deployments:             deploymentsV130,
	},
}

// Lookup returns the capability record of the given contract version.
// Versions may carry a leading "v" and build metadata ("1.3.0+L2"); anything
// outside the table is rejected with ErrUnknownVersion.
func Lookup(version string) (*Capabilities, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, errors.Wrapf(ErrUnknownVersion, "parse %q: %v", version, err)
	}
	if v.Prerelease() != "" {
		return nil, errors.Wrapf(ErrUnknownVersion, "%q", version)
	}
	key := fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
	caps, ok := capabilityTable[key]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownVersion, "%q", version)
	}
	caps.L2 = v.Metadata() == "L2"
	return &caps, nil
}

// KnownVersions lists the versions of the table in ascending order.
func KnownVersions() []string {
	return []string{"1.0.0", "1.1.1", "1.2.0", "1.3.0"}
}
