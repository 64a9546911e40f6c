package job

import (
	"encoding/json"

	xerrors "SettleFlow-Chain/internal/errors"
)

// ProvisioningPayload 携带钱包开通作业的执行参数。
type ProvisioningPayload struct {
	Chain string `json:"chain"`
}

// TransferPayload 携带转账作业的执行参数。金额使用十进制字符串，
// 避免在序列化过程中引入浮点误差。
type TransferPayload struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	To     string `json:"to"`
	Chain  string `json:"chain"`
}

// SwapPayload 携带兑换作业的执行参数。
type SwapPayload struct {
	FromAsset   string `json:"from_asset"`
	ToAsset     string `json:"to_asset"`
	Amount      string `json:"amount"`
	Protocol    string `json:"protocol"`
	SlippagePct string `json:"slippage_pct"`
	Chain       string `json:"chain"`
}

// EncodePayload 将载荷编码为 JSON。
func EncodePayload(payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "编码作业载荷失败")
	}
	return raw, nil
}

// DecodePayload 将作业载荷解码到目标结构。
func DecodePayload(j *Job, target any) error {
	if j == nil || len(j.Payload) == 0 {
		return xerrors.New(xerrors.CodeValidation, "作业载荷为空")
	}
	if err := json.Unmarshal(j.Payload, target); err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "解析作业载荷失败")
	}
	return nil
}
