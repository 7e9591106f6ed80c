package nodecfg

import (
	"reflect"
	"strings"
	"time"

	"github.com/SipengXie/safecore/core"
	"github.com/SipengXie/safecore/executor"
	"github.com/SipengXie/safecore/ledger/ethrpc"
	"github.com/SipengXie/safecore/store"
	"github.com/caarlos0/env/v6"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
)

// AddressList is a comma separated list of wallet addresses.
type AddressList []common.Address

func parseAddressList(v string) (interface{}, error) {
	var list AddressList
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		addr, err := core.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		list = append(list, addr)
	}
	return list, nil
}

// HTTPConfig is the signature intake endpoint. An empty Addr disables it.
type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

var DefaultHTTPConfig = HTTPConfig{
	ReadTimeout:  30 * time.Second,
	WriteTimeout: 30 * time.Second,
	IdleTimeout:  120 * time.Second,
}

type Config struct {
	Name     string      `env:"NODE_NAME" envDefault:"safecore"`
	LogLevel string      `env:"LOG_LEVEL" envDefault:"info"`
	Safes    AddressList `env:"SAFES"`

	// 提交交易使用的外部账户私钥，只用于支付 gas，不是 owner 私钥
	SubmitterKey string `env:"SUBMITTER_KEY"`

	HTTP     HTTPConfig
	RPC      ethrpc.Config
	Store    store.Config
	Executor executor.Config
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Name:     "safecore",
		LogLevel: "info",
		HTTP:     DefaultHTTPConfig,
		RPC:      ethrpc.DefaultConfig,
		Store:    store.DefaultConfig,
		Executor: executor.DefaultConfig,
	}
}

// Load reads the configuration from the environment. Every variable is
// looked up with prefix prepended.
func Load(prefix string) (*Config, error) {
	var c Config
	err := env.ParseWithFuncs(&c, map[reflect.Type]env.ParserFunc{
		reflect.TypeOf(AddressList{}): parseAddressList,
	}, env.Options{Prefix: prefix})
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return &c, nil
}
