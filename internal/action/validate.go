package action

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "SettleFlow-Chain/internal/errors"
)

// 缺省值与枚举集合。
const (
	DefaultChain = "Base"
	DefaultAsset = "ETH"
)

var (
	supportedProtocols = map[string]struct{}{
		"uniswap":   {},
		"aerodrome": {},
		"sushiswap": {},
	}
	supportedViews = map[string]struct{}{
		"summary":  {},
		"detailed": {},
	}
)

// Validator 将外部解析器产出的原始对象规整为类型化 Action。
// 校验是纯函数式的：不产生任何副作用，必须在任何 handler 执行、
// 任何任务入队之前完成。
type Validator struct {
	chains map[string]struct{}
}

// NewValidator 构造校验器。chains 为链注册表中受支持的链名。
func NewValidator(chains []string) *Validator {
	set := make(map[string]struct{}, len(chains))
	for _, name := range chains {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	if len(set) == 0 {
		set[DefaultChain] = struct{}{}
	}
	return &Validator{chains: set}
}

// Validate 根据 kind/action 判别字段将原始输入转换为 Action。
// 任何缺失、非法或越界的字段都会返回携带字段名的校验错误。
func (v *Validator) Validate(raw map[string]any) (*Action, error) {
	if raw == nil {
		return nil, invalid("", "动作输入为空")
	}

	kindText, ok := stringField(raw, "kind")
	if !ok {
		kindText, ok = stringField(raw, "action")
	}
	if !ok || kindText == "" {
		return nil, invalid("kind", "缺少动作类型")
	}
	kind := Kind(strings.ToLower(kindText))
	if !IsValidKind(kind) {
		return nil, xerrors.New(xerrors.CodeUnknownAction,
			fmt.Sprintf("不支持的动作类型: %s", kindText), xerrors.WithField("kind"))
	}

	switch kind {
	case KindSignup:
		return v.validateSignup(raw)
	case KindSignin:
		return v.validateSignin(raw)
	case KindCreateAlias:
		return v.validateCreateAlias(raw)
	case KindResolveAlias:
		return v.validateResolveAlias(raw)
	case KindTransfer:
		return v.validateTransfer(raw)
	case KindSwap:
		return v.validateSwap(raw)
	case KindBalanceCheck:
		return v.validateBalanceCheck(raw)
	case KindPortfolio:
		return v.validatePortfolio(raw)
	}
	return nil, xerrors.New(xerrors.CodeUnknownAction, fmt.Sprintf("不支持的动作类型: %s", kindText))
}

func (v *Validator) validateSignup(raw map[string]any) (*Action, error) {
	username, err := requiredString(raw, "username")
	if err != nil {
		return nil, err
	}
	password, err := requiredString(raw, "password")
	if err != nil {
		return nil, err
	}
	return &Action{Kind: KindSignup, Signup: &Signup{Username: username, Password: password}}, nil
}

func (v *Validator) validateSignin(raw map[string]any) (*Action, error) {
	username, err := requiredString(raw, "username")
	if err != nil {
		return nil, err
	}
	password, err := requiredString(raw, "password")
	if err != nil {
		return nil, err
	}
	return &Action{Kind: KindSignin, Signin: &Signin{Username: username, Password: password}}, nil
}

func (v *Validator) validateCreateAlias(raw map[string]any) (*Action, error) {
	label, err := requiredString(raw, "label")
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(label, AliasMarker) {
		label = strings.TrimPrefix(label, AliasMarker)
	}
	if label == "" {
		return nil, invalid("label", "别名不能为空")
	}
	address, err := requiredString(raw, "address")
	if err != nil {
		return nil, err
	}
	chain, err := v.chainField(raw)
	if err != nil {
		return nil, err
	}
	return &Action{Kind: KindCreateAlias, CreateAlias: &CreateAlias{
		Label:   label,
		Address: address,
		Chain:   chain,
	}}, nil
}

func (v *Validator) validateResolveAlias(raw map[string]any) (*Action, error) {
	label, err := requiredString(raw, "label")
	if err != nil {
		return nil, err
	}
	label = strings.TrimPrefix(label, AliasMarker)
	if label == "" {
		return nil, invalid("label", "别名不能为空")
	}
	chain, err := v.chainField(raw)
	if err != nil {
		return nil, err
	}
	return &Action{Kind: KindResolveAlias, ResolveAlias: &ResolveAlias{Label: label, Chain: chain}}, nil
}

func (v *Validator) validateTransfer(raw map[string]any) (*Action, error) {
	amount, err := amountField(raw, "amount")
	if err != nil {
		return nil, err
	}
	to, err := requiredString(raw, "to")
	if err != nil {
		return nil, err
	}
	asset := assetField(raw, "asset")
	chain, err := v.chainField(raw)
	if err != nil {
		return nil, err
	}
	return &Action{Kind: KindTransfer, Transfer: &Transfer{
		Asset:  asset,
		Amount: amount,
		To:     to,
		Chain:  chain,
	}}, nil
}

func (v *Validator) validateSwap(raw map[string]any) (*Action, error) {
	fromAsset, err := requiredString(raw, "from_asset")
	if err != nil {
		return nil, err
	}
	toAsset, err := requiredString(raw, "to_asset")
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(fromAsset, toAsset) {
		return nil, invalid("to_asset", "兑换的两种资产不能相同")
	}
	amount, err := amountField(raw, "amount")
	if err != nil {
		return nil, err
	}
	protocol := "uniswap"
	if text, ok := stringField(raw, "protocol"); ok && text != "" {
		protocol = strings.ToLower(text)
	}
	if _, ok := supportedProtocols[protocol]; !ok {
		return nil, invalid("protocol", fmt.Sprintf("不支持的兑换协议: %s", protocol))
	}
	slippage := decimal.NewFromFloat(0.5)
	if text, ok := stringField(raw, "slippage"); ok && text != "" {
		parsed, err := decimal.NewFromString(text)
		if err != nil {
			return nil, invalid("slippage", "滑点必须是十进制数字")
		}
		if parsed.IsNegative() || parsed.GreaterThan(decimal.NewFromInt(50)) {
			return nil, invalid("slippage", "滑点超出允许范围 [0, 50]")
		}
		slippage = parsed
	}
	chain, err := v.chainField(raw)
	if err != nil {
		return nil, err
	}
	return &Action{Kind: KindSwap, Swap: &Swap{
		FromAsset:   strings.ToUpper(fromAsset),
		ToAsset:     strings.ToUpper(toAsset),
		Amount:      amount,
		Protocol:    protocol,
		SlippagePct: slippage,
		Chain:       chain,
	}}, nil
}

func (v *Validator) validateBalanceCheck(raw map[string]any) (*Action, error) {
	asset := assetField(raw, "asset")
	chain, err := v.chainField(raw)
	if err != nil {
		return nil, err
	}
	address, _ := stringField(raw, "address")
	return &Action{Kind: KindBalanceCheck, BalanceCheck: &BalanceCheck{
		Asset:   asset,
		Chain:   chain,
		Address: address,
	}}, nil
}

func (v *Validator) validatePortfolio(raw map[string]any) (*Action, error) {
	view := "summary"
	if text, ok := stringField(raw, "view"); ok && text != "" {
		view = strings.ToLower(text)
	}
	if _, ok := supportedViews[view]; !ok {
		return nil, invalid("view", fmt.Sprintf("不支持的视图: %s", view))
	}
	chain, err := v.chainField(raw)
	if err != nil {
		return nil, err
	}
	return &Action{Kind: KindPortfolio, Portfolio: &Portfolio{View: view, Chain: chain}}, nil
}

// chainField 读取 chain 字段，缺省替换为 DefaultChain，并校验枚举成员。
func (v *Validator) chainField(raw map[string]any) (string, error) {
	chain, ok := stringField(raw, "chain")
	if !ok || chain == "" {
		chain = DefaultChain
	}
	if _, ok := v.chains[chain]; !ok {
		return "", invalid("chain", fmt.Sprintf("不支持的链: %s", chain))
	}
	return chain, nil
}

func assetField(raw map[string]any, key string) string {
	asset, ok := stringField(raw, key)
	if !ok || asset == "" {
		return DefaultAsset
	}
	return strings.ToUpper(asset)
}

// amountField 校验十进制字符串金额必须为正数。
func amountField(raw map[string]any, key string) (decimal.Decimal, error) {
	text, ok := stringField(raw, key)
	if !ok || text == "" {
		return decimal.Zero, invalid(key, "缺少金额")
	}
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, invalid(key, "金额必须是十进制数字")
	}
	if !amount.IsPositive() {
		return decimal.Zero, invalid(key, "金额必须大于零")
	}
	return amount, nil
}

func requiredString(raw map[string]any, key string) (string, error) {
	value, ok := stringField(raw, key)
	if !ok || value == "" {
		return "", invalid(key, fmt.Sprintf("缺少必填字段 %s", key))
	}
	return value, nil
}

func stringField(raw map[string]any, key string) (string, bool) {
	value, ok := raw[key]
	if !ok {
		return "", false
	}
	text, ok := value.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(text), true
}

func invalid(field, message string) error {
	opts := []xerrors.Option{}
	if field != "" {
		opts = append(opts, xerrors.WithField(field))
	}
	return xerrors.New(xerrors.CodeValidation, message, opts...)
}
