package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/settlement"
)

const erc20ABI = `[
  {"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const routerABI = `[
  {"name":"swapExactTokensForTokens","type":"function","inputs":[
    {"name":"amountIn","type":"uint256"},
    {"name":"amountOutMin","type":"uint256"},
    {"name":"path","type":"address[]"},
    {"name":"to","type":"address"},
    {"name":"deadline","type":"uint256"}
  ],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

// weiPerEther 假定所有资产都使用 18 位精度。
var weiPerEther = decimal.New(1, 18)

// Config describes how to construct an EVM compatible settlement client.
type Config struct {
	Name        string
	RPCURL      string
	ChainID     int64
	OperatorKey string
	NativeAsset string
	Tokens      map[string]string
	Routers     map[string]string
	Notes       string
}

// Client implements the settlement.Client interface for EVM compatible chains.
type Client struct {
	name        string
	notes       string
	rpcClient   *gethrpc.Client
	eth         *ethclient.Client
	chainID     *big.Int
	operator    *ecdsa.PrivateKey
	nativeAsset string
	tokens      map[string]common.Address
	routers     map[string]common.Address
	erc20       abi.ABI
	router      abi.ABI
	mu          sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 EVM RPC 地址")
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.OperatorKey), "0x")
	if keyHex == "" {
		return nil, errors.New("未配置结算操作账户私钥")
	}
	operator, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("解析操作账户私钥失败: %w", err)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(settlement.CodeChainUnavailable, err, "连接 EVM 节点失败")
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, xerrors.Wrap(settlement.CodeChainUnavailable, err, "查询链 ID 失败")
		}
	}

	erc20Parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("解析 ERC20 ABI 失败: %w", err)
	}
	routerParsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("解析路由 ABI 失败: %w", err)
	}

	tokens := make(map[string]common.Address, len(cfg.Tokens))
	for symbol, addr := range cfg.Tokens {
		tokens[strings.ToUpper(symbol)] = common.HexToAddress(addr)
	}
	routers := make(map[string]common.Address, len(cfg.Routers))
	for protocol, addr := range cfg.Routers {
		routers[strings.ToLower(protocol)] = common.HexToAddress(addr)
	}

	nativeAsset := strings.ToUpper(strings.TrimSpace(cfg.NativeAsset))
	if nativeAsset == "" {
		nativeAsset = "ETH"
	}

	return &Client{
		name:        cfg.Name,
		notes:       cfg.Notes,
		rpcClient:   rpcClient,
		eth:         eth,
		chainID:     chainID,
		operator:    operator,
		nativeAsset: nativeAsset,
		tokens:      tokens,
		routers:     routers,
		erc20:       erc20Parsed,
		router:      routerParsed,
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// DeployWallet provisions a fresh wallet and anchors it on chain with a
// zero-value transaction from the operator account.
func (c *Client) DeployWallet(ctx context.Context, userID string) (settlement.WalletReceipt, error) {
	if c == nil || c.eth == nil {
		return settlement.WalletReceipt{}, errors.New("未初始化的 EVM 客户端")
	}
	walletKey, err := crypto.GenerateKey()
	if err != nil {
		return settlement.WalletReceipt{}, xerrors.Wrap(xerrors.CodeSettlementFailure, err, "生成钱包密钥失败")
	}
	address := crypto.PubkeyToAddress(walletKey.PublicKey)

	txHash, err := c.sendTransaction(ctx, address, big.NewInt(0), nil)
	if err != nil {
		return settlement.WalletReceipt{}, err
	}
	return settlement.WalletReceipt{Address: address.Hex(), TxHash: txHash}, nil
}

// SubmitTransfer settles a value transfer. Native assets move as plain value
// transactions, configured tokens as ERC20 transfer calls.
func (c *Client) SubmitTransfer(ctx context.Context, req settlement.TransferRequest) (settlement.Receipt, error) {
	if c == nil || c.eth == nil {
		return settlement.Receipt{}, errors.New("未初始化的 EVM 客户端")
	}
	to := common.HexToAddress(req.To)
	amount := weiFromDecimal(req.Amount)

	asset := strings.ToUpper(strings.TrimSpace(req.Asset))
	if asset == c.nativeAsset {
		txHash, err := c.sendTransaction(ctx, to, amount, nil)
		if err != nil {
			return settlement.Receipt{}, err
		}
		return settlement.Receipt{TxHash: txHash}, nil
	}

	tokenAddr, ok := c.tokens[asset]
	if !ok {
		return settlement.Receipt{}, xerrors.New(xerrors.CodeSettlementFailure,
			fmt.Sprintf("链 %s 未配置资产 %s 的合约地址", c.name, asset))
	}
	input, err := c.erc20.Pack("transfer", to, amount)
	if err != nil {
		return settlement.Receipt{}, xerrors.Wrap(xerrors.CodeSettlementFailure, err, "编码 ERC20 转账失败")
	}
	txHash, err := c.sendTransaction(ctx, tokenAddr, big.NewInt(0), input)
	if err != nil {
		return settlement.Receipt{}, err
	}
	return settlement.Receipt{TxHash: txHash}, nil
}

// SubmitSwap routes an asset swap through the configured DEX router.
func (c *Client) SubmitSwap(ctx context.Context, req settlement.SwapRequest) (settlement.Receipt, error) {
	if c == nil || c.eth == nil {
		return settlement.Receipt{}, errors.New("未初始化的 EVM 客户端")
	}
	routerAddr, ok := c.routers[strings.ToLower(req.Protocol)]
	if !ok {
		return settlement.Receipt{}, xerrors.New(xerrors.CodeSettlementFailure,
			fmt.Sprintf("链 %s 未配置协议 %s 的路由地址", c.name, req.Protocol))
	}
	fromToken, ok := c.assetAddress(req.FromAsset)
	if !ok {
		return settlement.Receipt{}, xerrors.New(xerrors.CodeSettlementFailure,
			fmt.Sprintf("链 %s 未配置资产 %s 的合约地址", c.name, req.FromAsset))
	}
	toToken, ok := c.assetAddress(req.ToAsset)
	if !ok {
		return settlement.Receipt{}, xerrors.New(xerrors.CodeSettlementFailure,
			fmt.Sprintf("链 %s 未配置资产 %s 的合约地址", c.name, req.ToAsset))
	}

	amountIn := weiFromDecimal(req.Amount)
	// 滑点保护：minOut = amountIn * (100 - slippage) / 100。
	hundred := decimal.NewFromInt(100)
	minOut := weiFromDecimal(req.Amount.Mul(hundred.Sub(req.SlippagePct)).Div(hundred))
	deadline := big.NewInt(time.Now().Add(10 * time.Minute).Unix())
	owner := common.HexToAddress(req.Owner)

	input, err := c.router.Pack("swapExactTokensForTokens",
		amountIn, minOut, []common.Address{fromToken, toToken}, owner, deadline)
	if err != nil {
		return settlement.Receipt{}, xerrors.Wrap(xerrors.CodeSettlementFailure, err, "编码兑换调用失败")
	}
	txHash, err := c.sendTransaction(ctx, routerAddr, big.NewInt(0), input)
	if err != nil {
		return settlement.Receipt{}, err
	}
	return settlement.Receipt{TxHash: txHash}, nil
}

// BalanceOf reads the current balance of one asset.
func (c *Client) BalanceOf(ctx context.Context, address, asset string) (decimal.Decimal, error) {
	if c == nil || c.eth == nil {
		return decimal.Zero, errors.New("未初始化的 EVM 客户端")
	}
	owner := common.HexToAddress(address)
	asset = strings.ToUpper(strings.TrimSpace(asset))

	if asset == c.nativeAsset {
		wei, err := c.eth.BalanceAt(ctx, owner, nil)
		if err != nil {
			return decimal.Zero, xerrors.Wrap(settlement.CodeChainUnavailable, err, "查询余额失败")
		}
		return decimalFromWei(wei), nil
	}

	tokenAddr, ok := c.tokens[asset]
	if !ok {
		return decimal.Zero, xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("链 %s 未配置资产 %s", c.name, asset), xerrors.WithField("asset"))
	}
	input, err := c.erc20.Pack("balanceOf", owner)
	if err != nil {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeSettlementFailure, err, "编码余额查询失败")
	}
	output, err := c.eth.CallContract(ctx, callMsg(tokenAddr, input), nil)
	if err != nil {
		return decimal.Zero, xerrors.Wrap(settlement.CodeChainUnavailable, err, "查询代币余额失败")
	}
	values, err := c.erc20.Unpack("balanceOf", output)
	if err != nil || len(values) != 1 {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeSettlementFailure, err, "解析代币余额失败")
	}
	wei, ok := values[0].(*big.Int)
	if !ok {
		return decimal.Zero, xerrors.New(xerrors.CodeSettlementFailure, "代币余额类型异常")
	}
	return decimalFromWei(wei), nil
}

// Balances reads the native asset plus every configured token.
func (c *Client) Balances(ctx context.Context, address string) ([]settlement.Balance, error) {
	assets := make([]string, 0, len(c.tokens)+1)
	assets = append(assets, c.nativeAsset)
	for symbol := range c.tokens {
		assets = append(assets, symbol)
	}

	balances := make([]settlement.Balance, 0, len(assets))
	for _, asset := range assets {
		amount, err := c.BalanceOf(ctx, address, asset)
		if err != nil {
			return nil, err
		}
		balances = append(balances, settlement.Balance{Asset: asset, Amount: amount})
	}
	return balances, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (settlement.ChainSnapshot, error) {
	if c == nil || c.eth == nil {
		return settlement.ChainSnapshot{}, errors.New("未初始化的 EVM 客户端")
	}
	blockNumber, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return settlement.ChainSnapshot{}, xerrors.Wrap(settlement.CodeChainUnavailable, err, "获取最新区块高度失败")
	}
	return settlement.ChainSnapshot{
		ChainID:     "0x" + c.chainID.Text(16),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// sendTransaction 串行地完成取 nonce、签名与广播。nonce 获取与 gas 估价
// 失败发生在提交之前，可以安全重试；广播失败按终态处理。
func (c *Client) sendTransaction(ctx context.Context, to common.Address, value *big.Int, input []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := crypto.PubkeyToAddress(c.operator.PublicKey)
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", xerrors.Wrap(settlement.CodeChainUnavailable, err, "查询交易计数失败")
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", xerrors.Wrap(settlement.CodeChainUnavailable, err, "查询 gas 价格失败")
	}

	gasLimit := uint64(21000)
	if len(input) > 0 {
		gasLimit = 200000
	}
	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(c.chainID), c.operator)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeSettlementFailure, err, "签名交易失败")
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", xerrors.Wrap(xerrors.CodeSettlementFailure, err, "广播交易失败")
	}
	return signed.Hash().Hex(), nil
}

func (c *Client) assetAddress(asset string) (common.Address, bool) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == c.nativeAsset {
		// 原生资产在路由中以约定的包装地址参与。
		if wrapped, ok := c.tokens["W"+asset]; ok {
			return wrapped, true
		}
	}
	addr, ok := c.tokens[asset]
	return addr, ok
}

func callMsg(to common.Address, input []byte) gethcore.CallMsg {
	return gethcore.CallMsg{To: &to, Data: input}
}

func weiFromDecimal(amount decimal.Decimal) *big.Int {
	return amount.Mul(weiPerEther).BigInt()
}

func decimalFromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerEther)
}
