package swarm

// Models 是对外公布的可用模型目录。
// 执行后端未配置对应模型时会回退到默认模型。
var Models = []string{
	"claude-opus-4-1",
	"claude-opus-4-0",
	"claude-sonnet-4-5",
	"claude-sonnet-4-0",
	"claude-3-7-sonnet-latest",
	"claude-3-5-haiku-latest",
}
