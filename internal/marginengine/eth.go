package marginengine

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
	"github.com/voltz-protocol/lp-optimiser/internal/logger"
)

// The VAMMVars struct is static, so its tuple encodes exactly like three flat outputs.
const marginEngineABI = `[
	{"type":"function","name":"vamm","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"address"}]}
]`

const vammABI = `[
	{"type":"function","name":"vammVars","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"feeProtocol","type":"uint8"}]},
	{"type":"function","name":"liquidity","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint128"}]}
]`

var (
	parsedMarginEngineABI = mustParseABI(marginEngineABI)
	parsedVAMMABI         = mustParseABI(vammABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid built-in ABI: %v", err))
	}
	return parsed
}

// Caller is the subset of ethclient.Client used for reads.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// EthReader reads a Voltz margin engine and its VAMM over JSON-RPC.
type EthReader struct {
	caller       Caller
	marginEngine common.Address
	logger       zerolog.Logger

	mu   sync.Mutex
	vamm *common.Address
}

// NewEthReader returns a reader for the margin engine at addr. The VAMM address is resolved
// on first use and cached.
func NewEthReader(caller Caller, addr common.Address) *EthReader {
	return &EthReader{
		caller:       caller,
		marginEngine: addr,
		logger:       logger.GetForComponent("margin_engine").With().Str("marginEngine", addr.Hex()).Logger(),
	}
}

// VAMM returns the VAMM address behind the margin engine.
func (r *EthReader) VAMM(ctx context.Context) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vamm != nil {
		return *r.vamm, nil
	}

	out, err := r.call(ctx, parsedMarginEngineABI, r.marginEngine, "vamm")
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("vamm(): unexpected return type %T", out[0])
	}
	r.vamm = &addr
	r.logger.Debug().Str("vamm", addr.Hex()).Msg("Resolved VAMM")
	return addr, nil
}

// SqrtPriceX96 returns the current VAMM sqrt price and tick.
func (r *EthReader) SqrtPriceX96(ctx context.Context) (sdkmath.Int, int32, error) {
	vamm, err := r.VAMM(ctx)
	if err != nil {
		return sdkmath.Int{}, 0, err
	}
	out, err := r.call(ctx, parsedVAMMABI, vamm, "vammVars")
	if err != nil {
		return sdkmath.Int{}, 0, err
	}
	sqrtPrice, ok := out[0].(*big.Int)
	if !ok {
		return sdkmath.Int{}, 0, fmt.Errorf("vammVars(): unexpected sqrtPriceX96 type %T", out[0])
	}
	tick, ok := out[1].(*big.Int)
	if !ok {
		return sdkmath.Int{}, 0, fmt.Errorf("vammVars(): unexpected tick type %T", out[1])
	}
	return sdkmath.NewIntFromBigInt(sqrtPrice), int32(tick.Int64()), nil
}

// CurrentRate returns the VAMM fixed rate in percent-Wad.
func (r *EthReader) CurrentRate(ctx context.Context) (sdkmath.Int, error) {
	sqrtPrice, tick, err := r.SqrtPriceX96(ctx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	rate, err := fixedpoint.SqrtPriceX96ToRate(sqrtPrice)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("converting sqrt price %s: %w", sqrtPrice, err)
	}
	r.logger.Trace().Int32("tick", tick).Str("rate", fixedpoint.FormatWad(rate)).Msg("Read fixed rate")
	return rate, nil
}

// CurrentLiquidity returns the VAMM in-range liquidity.
func (r *EthReader) CurrentLiquidity(ctx context.Context) (sdkmath.Int, error) {
	vamm, err := r.VAMM(ctx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	out, err := r.call(ctx, parsedVAMMABI, vamm, "liquidity")
	if err != nil {
		return sdkmath.Int{}, err
	}
	liquidity, ok := out[0].(*big.Int)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("liquidity(): unexpected return type %T", out[0])
	}
	return sdkmath.NewIntFromBigInt(liquidity), nil
}

func (r *EthReader) call(ctx context.Context, contract abi.ABI, to common.Address, method string) ([]interface{}, error) {
	data, err := contract.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s(): %w", method, err)
	}
	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s() on %s: %w", method, to.Hex(), err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s() from %s: %w", method, to.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s() on %s returned nothing", method, to.Hex())
	}
	return out, nil
}
