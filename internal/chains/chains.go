package chains

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definitions models the structure of configs/chains.yaml.
type Definitions struct {
	Chains map[string]Definition `yaml:"chains"`
}

// Definition describes a single chain endpoint definition.
type Definition struct {
	ChainID     int64             `yaml:"chain_id"`
	RPCURL      string            `yaml:"rpc_url"`
	NativeAsset string            `yaml:"native_asset"`
	Tokens      map[string]string `yaml:"tokens"`
	Routers     map[string]string `yaml:"routers"`
	Description string            `yaml:"description"`
}

// Load parses the YAML file containing chain metadata. An empty path yields
// the built-in default registry so the daemon can start without a file.
func Load(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return defaultDefinitions(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if len(defs.Chains) == 0 {
		return defaultDefinitions(), nil
	}
	return defs, nil
}

// Names 返回注册表中的链名，按字典序排序。
func (d Definitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup 返回指定链的定义。
func (d Definitions) Lookup(name string) (Definition, bool) {
	def, ok := d.Chains[name]
	return def, ok
}

func defaultDefinitions() Definitions {
	return Definitions{Chains: map[string]Definition{
		"Base": {
			ChainID:     8453,
			NativeAsset: "ETH",
			Description: "Base mainnet",
		},
	}}
}
