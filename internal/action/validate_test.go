package action

import (
	"testing"

	xerrors "SettleFlow-Chain/internal/errors"
)

func newValidator() *Validator {
	return NewValidator([]string{"Base", "Ethereum"})
}

func TestValidateTransferDefaults(t *testing.T) {
	act, err := newValidator().Validate(map[string]any{
		"kind":   "transfer",
		"amount": "0.5",
		"to":     "@mom",
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if act.Kind != KindTransfer || act.Transfer == nil {
		t.Fatalf("unexpected action: %+v", act)
	}
	if act.Transfer.Asset != "ETH" || act.Transfer.Chain != "Base" {
		t.Fatalf("defaults = %s/%s, want ETH/Base", act.Transfer.Asset, act.Transfer.Chain)
	}
	if act.Transfer.To != "@mom" {
		t.Fatalf("to = %s, want alias marker preserved", act.Transfer.To)
	}
}

func TestValidateRejectsNonPositiveAmount(t *testing.T) {
	for _, amount := range []string{"0", "-1", "abc", ""} {
		_, err := newValidator().Validate(map[string]any{
			"kind":   "transfer",
			"amount": amount,
			"to":     "0xto",
		})
		if xerrors.CodeOf(err) != xerrors.CodeValidation {
			t.Fatalf("amount %q: code = %v, want VALIDATION", amount, xerrors.CodeOf(err))
		}
	}
}

func TestValidateRejectsSameAssetSwap(t *testing.T) {
	_, err := newValidator().Validate(map[string]any{
		"kind":       "swap",
		"from_asset": "eth",
		"to_asset":   "ETH",
		"amount":     "1",
	})
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("code = %v, want VALIDATION", xerrors.CodeOf(err))
	}
}

func TestValidateSwapDefaults(t *testing.T) {
	act, err := newValidator().Validate(map[string]any{
		"kind":       "swap",
		"from_asset": "eth",
		"to_asset":   "usdc",
		"amount":     "1.25",
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	swap := act.Swap
	if swap.FromAsset != "ETH" || swap.ToAsset != "USDC" {
		t.Fatalf("assets = %s/%s, want uppercased", swap.FromAsset, swap.ToAsset)
	}
	if swap.Protocol != "uniswap" {
		t.Fatalf("protocol = %s, want uniswap", swap.Protocol)
	}
	if swap.SlippagePct.String() != "0.5" {
		t.Fatalf("slippage = %s, want 0.5", swap.SlippagePct)
	}
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	_, err := newValidator().Validate(map[string]any{"kind": "freeze_account"})
	if xerrors.CodeOf(err) != xerrors.CodeUnknownAction {
		t.Fatalf("code = %v, want UNKNOWN_ACTION", xerrors.CodeOf(err))
	}
}

func TestValidateRejectsUnknownChain(t *testing.T) {
	_, err := newValidator().Validate(map[string]any{
		"kind":   "balance_check",
		"chain":  "Solana",
		"asset":  "SOL",
		"amount": "1",
	})
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("code = %v, want VALIDATION", xerrors.CodeOf(err))
	}
}

func TestValidateAcceptsActionAlias(t *testing.T) {
	// 外部解析器可能用 action 字段而不是 kind。
	act, err := newValidator().Validate(map[string]any{
		"action":   "signup",
		"username": "alice",
		"password": "pw",
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if act.Kind != KindSignup {
		t.Fatalf("kind = %s, want signup", act.Kind)
	}
}
