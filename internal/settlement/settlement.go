package settlement

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// TransferRequest describes a value transfer to settle on chain.
type TransferRequest struct {
	From   string
	To     string
	Asset  string
	Amount decimal.Decimal
}

// SwapRequest describes an asset swap routed through a DEX protocol.
type SwapRequest struct {
	Owner       string
	FromAsset   string
	ToAsset     string
	Amount      decimal.Decimal
	Protocol    string
	SlippagePct decimal.Decimal
}

// Receipt carries the on-chain reference of a submitted settlement.
type Receipt struct {
	TxHash string
}

// WalletReceipt captures the outcome of a wallet deployment.
type WalletReceipt struct {
	Address string
	TxHash  string
}

// Balance pairs an asset symbol with its current holding.
type Balance struct {
	Asset  string
	Amount decimal.Decimal
}

// Client defines the interface every chain implementation must provide so the
// worker layer can settle actions against different networks uniformly.
// Submit methods return once the transaction is accepted by the node; they do
// not wait for finality.
type Client interface {
	DeployWallet(ctx context.Context, userID string) (WalletReceipt, error)
	SubmitTransfer(ctx context.Context, req TransferRequest) (Receipt, error)
	SubmitSwap(ctx context.Context, req SwapRequest) (Receipt, error)
	BalanceOf(ctx context.Context, address, asset string) (decimal.Decimal, error)
	Balances(ctx context.Context, address string) ([]Balance, error)
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
